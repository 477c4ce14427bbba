package lambda

import (
	"context"
	"errors"
	"fmt"

	"github.com/4dn-dcic/foursight-sub000/internal/queue"
	"github.com/4dn-dcic/foursight-sub000/internal/runner"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// HandleRunner runs one queued invocation. Dispatch errors are reported in
// the response rather than failing the invocation, so Lambda does not retry
// a message that can never succeed.
func (d *Deps) HandleRunner(ctx context.Context, req RunnerRequest) (RunnerResponse, error) {
	env, err := d.Worker.PullAndInvoke(ctx)
	var de *runner.DispatchError
	switch {
	case errors.As(err, &de):
		d.Logger.Warn("dispatch error", "source", req.Source, "check", de.CheckString, "error", de.Message)
		return RunnerResponse{Handled: true, Error: de.Message}, nil
	case err != nil:
		return RunnerResponse{}, err
	case env == nil:
		return RunnerResponse{}, nil
	}
	return RunnerResponse{Handled: true, Name: env.Name, Status: env.Status, UUID: env.UUID}, nil
}

// HandleSchedule queues a scheduled group under one uuid and starts a runner.
func (d *Deps) HandleSchedule(ctx context.Context, req ScheduleRequest) (ScheduleResponse, error) {
	if len(req.Checks) == 0 {
		return ScheduleResponse{}, fmt.Errorf("schedule %q has no checks", req.Schedule)
	}
	entries := make([]queue.Entry, 0, len(req.Checks))
	for _, c := range req.Checks {
		if c.Check == "" {
			return ScheduleResponse{}, fmt.Errorf("schedule %q: entry without check", req.Schedule)
		}
		kw := c.Kwargs.Clone()
		if req.Primary {
			kw[types.KwargPrimary] = true
		}
		entries = append(entries, queue.Entry{CheckString: c.Check, Kwargs: kw})
	}

	uuid, err := d.Queue.EnqueueBatch(ctx, entries)
	if err != nil {
		return ScheduleResponse{}, err
	}
	d.Logger.Info("queued schedule", "schedule", req.Schedule, "checks", len(entries), "uuid", uuid)

	if d.Propagator != nil {
		if err := d.Propagator.Propagate(ctx); err != nil {
			d.Logger.Error("starting check runner", "error", err)
		}
	}
	return ScheduleResponse{UUID: uuid, Queued: len(entries)}, nil
}
