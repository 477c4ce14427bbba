package types

import (
	"encoding/json"
	"fmt"
)

// Envelope is the canonical stored form of one check or action run. Kind
// selects which of the two JSON shapes is written; fields that do not belong
// to the variant are ignored on encode.
type Envelope struct {
	Kind        Kind
	Name        string
	Description interface{}
	Status      string
	UUID        string
	Summary     interface{}
	Kwargs      Kwargs

	// Check variant.
	BriefOutput   interface{}
	FullOutput    interface{}
	AdminOutput   interface{}
	FFLink        string
	Action        string
	AllowAction   bool
	ActionMessage interface{}
	Runnable      bool

	// Action variant.
	Output interface{}
}

type checkWire struct {
	Name          string      `json:"name"`
	Description   interface{} `json:"description"`
	Status        string      `json:"status"`
	UUID          string      `json:"uuid"`
	Summary       interface{} `json:"summary"`
	BriefOutput   interface{} `json:"brief_output"`
	FullOutput    interface{} `json:"full_output"`
	AdminOutput   interface{} `json:"admin_output"`
	FFLink        *string     `json:"ff_link"`
	Action        *string     `json:"action"`
	AllowAction   bool        `json:"allow_action"`
	ActionMessage interface{} `json:"action_message"`
	Runnable      bool        `json:"runnable"`
	Kwargs        Kwargs      `json:"kwargs"`
}

type actionWire struct {
	Name        string      `json:"name"`
	Description interface{} `json:"description"`
	Status      string      `json:"status"`
	UUID        string      `json:"uuid"`
	Output      interface{} `json:"output"`
	Kwargs      Kwargs      `json:"kwargs"`
}

// anyWire is the union of both shapes, used for decoding.
type anyWire struct {
	Name          string      `json:"name"`
	Description   interface{} `json:"description"`
	Status        string      `json:"status"`
	UUID          string      `json:"uuid"`
	Summary       interface{} `json:"summary"`
	BriefOutput   interface{} `json:"brief_output"`
	FullOutput    interface{} `json:"full_output"`
	AdminOutput   interface{} `json:"admin_output"`
	FFLink        *string     `json:"ff_link"`
	Action        *string     `json:"action"`
	AllowAction   *bool       `json:"allow_action"`
	ActionMessage interface{} `json:"action_message"`
	Runnable      *bool       `json:"runnable"`
	Output        interface{} `json:"output"`
	Kwargs        Kwargs      `json:"kwargs"`
}

// MarshalJSON writes the check or action shape depending on Kind.
func (e Envelope) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindCheck:
		return json.Marshal(checkWire{
			Name:          e.Name,
			Description:   e.Description,
			Status:        e.Status,
			UUID:          e.UUID,
			Summary:       e.Summary,
			BriefOutput:   e.BriefOutput,
			FullOutput:    e.FullOutput,
			AdminOutput:   e.AdminOutput,
			FFLink:        nullable(e.FFLink),
			Action:        nullable(e.Action),
			AllowAction:   e.AllowAction,
			ActionMessage: e.ActionMessage,
			Runnable:      e.Runnable,
			Kwargs:        e.Kwargs,
		})
	case KindAction:
		return json.Marshal(actionWire{
			Name:        e.Name,
			Description: e.Description,
			Status:      e.Status,
			UUID:        e.UUID,
			Output:      e.Output,
			Kwargs:      e.Kwargs,
		})
	default:
		return nil, fmt.Errorf("envelope %q has unknown kind %q", e.Name, e.Kind)
	}
}

// UnmarshalJSON decodes either shape. Payloads carrying the check-only
// allow_action or runnable flags decode as checks, everything else as actions.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w anyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = Envelope{
		Name:        w.Name,
		Description: w.Description,
		Status:      w.Status,
		UUID:        w.UUID,
		Kwargs:      w.Kwargs,
	}

	if w.AllowAction == nil && w.Runnable == nil {
		e.Kind = KindAction
		e.Output = w.Output
		return nil
	}

	e.Kind = KindCheck
	e.Summary = w.Summary
	e.BriefOutput = w.BriefOutput
	e.FullOutput = w.FullOutput
	e.AdminOutput = w.AdminOutput
	e.ActionMessage = w.ActionMessage
	if w.FFLink != nil {
		e.FFLink = *w.FFLink
	}
	if w.Action != nil {
		e.Action = *w.Action
	}
	if w.AllowAction != nil {
		e.AllowAction = *w.AllowAction
	}
	if w.Runnable != nil {
		e.Runnable = *w.Runnable
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// HistoryEntry is one row of a paginated result history.
type HistoryEntry struct {
	Status  string      `json:"status"`
	Summary interface{} `json:"summary"`
	Kwargs  Kwargs      `json:"kwargs"`
}

// RunEvent announces a finished run to downstream consumers.
type RunEvent struct {
	CheckString string `json:"check_string"`
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Status      string `json:"status"`
	UUID        string `json:"uuid"`
	Primary     bool   `json:"primary"`
	RunID       string `json:"run_id,omitempty"`
}
