// Package lambda provides shared types, initialization and handlers for the
// Lambda entry points.
package lambda

import "github.com/4dn-dcic/foursight-sub000/pkg/types"

// ScheduledCheck is one entry of a schedule payload.
type ScheduledCheck struct {
	Check  string       `json:"check"`
	Kwargs types.Kwargs `json:"kwargs,omitempty"`
}

// ScheduleRequest is the input to the scheduler Lambda, usually the constant
// input of an EventBridge rule.
type ScheduleRequest struct {
	Schedule string           `json:"schedule,omitempty"`
	Checks   []ScheduledCheck `json:"checks"`
	// Primary marks every run of the group as the primary result.
	Primary bool `json:"primary,omitempty"`
}

// ScheduleResponse is the output of the scheduler Lambda.
type ScheduleResponse struct {
	UUID   string `json:"uuid"`
	Queued int    `json:"queued"`
}

// RunnerRequest is the input to the check-runner Lambda. Source is
// "propagate" for self-invocations and "schedule" when kicked by the scheduler.
type RunnerRequest struct {
	Source string `json:"source,omitempty"`
}

// RunnerResponse is the output of the check-runner Lambda.
type RunnerResponse struct {
	Handled bool   `json:"handled"`
	Name    string `json:"name,omitempty"`
	Status  string `json:"status,omitempty"`
	UUID    string `json:"uuid,omitempty"`
	Error   string `json:"error,omitempty"`
}
