// Package runner dispatches "module/function" strings to registered checks
// and actions and turns every outcome, including failures inside the body,
// into a stored result.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/4dn-dcic/foursight-sub000/internal/connection"
	"github.com/4dn-dcic/foursight-sub000/internal/metrics"
	"github.com/4dn-dcic/foursight-sub000/internal/registry"
	"github.com/4dn-dcic/foursight-sub000/internal/result"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

const instrumentationName = "github.com/4dn-dcic/foursight-sub000/internal/runner"

// Descriptions stored on runs whose body failed.
const (
	checkFailedDescription  = "Check failed to run. See full output."
	actionFailedDescription = "Action failed to run. See output."
)

// DispatchError reports a check string that could not be resolved to a
// registered check or action. It is returned, never panicked, so a bad
// schedule entry cannot take down the worker.
type DispatchError struct {
	CheckString string
	Message     string
}

func (e *DispatchError) Error() string { return e.Message }

// FollowUp is an action a check nominated for queueing.
type FollowUp struct {
	CheckString string
	Kwargs      types.Kwargs
}

// Outcome is the full result of one dispatch.
type Outcome struct {
	// Envelope is the formatted run; nil when Skipped.
	Envelope *types.Envelope
	Kind     types.Kind
	// Skipped is set for an action whose check run already has an action record.
	Skipped  bool
	FollowUp *FollowUp
}

// Runner executes registered checks and actions.
type Runner struct {
	registry *registry.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a Runner over reg.
func New(reg *registry.Registry, opts ...Option) *Runner {
	r := &Runner{
		registry: reg,
		logger:   slog.Default(),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, o := range opts {
		o(r)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if r.runs, err = meter.Int64Counter("foursight.runs",
		metric.WithDescription("Check and action runs by kind and status")); err != nil {
		r.logger.Warn("creating run counter", "error", err)
	}
	if r.duration, err = meter.Float64Histogram("foursight.run.duration",
		metric.WithDescription("Check and action body duration"), metric.WithUnit("s")); err != nil {
		r.logger.Warn("creating duration histogram", "error", err)
	}
	return r
}

// Registry returns the dispatch table.
func (r *Runner) Registry() *registry.Registry { return r.registry }

// RunCheckOrAction runs checkString with kwargs and returns the formatted run.
// Dispatch failures come back as *DispatchError. A duplicate action returns
// (nil, nil).
func (r *Runner) RunCheckOrAction(ctx context.Context, conn *connection.Connection, checkString string, kwargs types.Kwargs) (*types.Envelope, error) {
	out, err := r.Run(ctx, conn, checkString, kwargs)
	if err != nil {
		return nil, err
	}
	return out.Envelope, nil
}

// Resolve validates checkString and returns its descriptor.
func (r *Runner) Resolve(checkString string) (registry.Descriptor, error) {
	parts := strings.Split(checkString, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return registry.Descriptor{}, &DispatchError{
			CheckString: checkString,
			Message:     fmt.Sprintf("ERROR. Check string must be of form module/check_name. Got: %s", checkString),
		}
	}
	module, function := parts[0], parts[1]
	if !r.registry.HasModule(module) {
		return registry.Descriptor{}, &DispatchError{
			CheckString: checkString,
			Message:     fmt.Sprintf("ERROR. Check module is not valid. Got: %s", module),
		}
	}
	d, ok := r.registry.Lookup(module, function)
	if !ok {
		return registry.Descriptor{}, &DispatchError{
			CheckString: checkString,
			Message:     fmt.Sprintf("ERROR. Check name is not valid. Got: %s in module %s", function, module),
		}
	}
	if d.Kind != types.KindCheck && d.Kind != types.KindAction {
		return registry.Descriptor{}, &DispatchError{
			CheckString: checkString,
			Message:     fmt.Sprintf("ERROR. Check function must be a check or action. Got: %s", checkString),
		}
	}
	return d, nil
}

// Run is RunCheckOrAction with the follow-up and skip details.
func (r *Runner) Run(ctx context.Context, conn *connection.Connection, checkString string, kwargs types.Kwargs) (*Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "runner.run", trace.WithAttributes(
		attribute.String("foursight.check_string", checkString),
	))
	defer span.End()

	d, err := r.Resolve(checkString)
	if err != nil {
		metrics.DispatchErrors.Add(1)
		r.logger.Warn("dispatch failed", "check", checkString, "error", err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("foursight.kind", string(d.Kind)))

	kwargs = d.ApplyDefaults(kwargs)
	if err := result.NormalizeKwargsUUID(kwargs); err != nil {
		de := &DispatchError{CheckString: checkString, Message: "ERROR. " + err.Error()}
		metrics.DispatchErrors.Add(1)
		r.logger.Warn("dispatch failed", "check", checkString, "error", err)
		span.SetStatus(codes.Error, de.Message)
		return nil, de
	}

	var out *Outcome
	switch d.Kind {
	case types.KindCheck:
		out, err = r.runCheck(ctx, conn, d, kwargs)
	default:
		out, err = r.runAction(ctx, conn, d, kwargs)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if out.Envelope != nil {
		span.SetAttributes(
			attribute.String("foursight.uuid", out.Envelope.UUID),
			attribute.String("foursight.status", out.Envelope.Status),
		)
		r.record(ctx, d.Kind, out.Envelope.Status)
	}
	return out, nil
}

func (r *Runner) runCheck(ctx context.Context, conn *connection.Connection, d registry.Descriptor, kwargs types.Kwargs) (*Outcome, error) {
	metrics.ChecksRun.Add(1)
	check := result.NewCheck(conn.Store, d.Function)
	check.Kwargs = kwargs

	start := time.Now()
	failure := invoke(func() error { return d.Check(ctx, conn, check) })
	r.observe(ctx, d.Kind, time.Since(start))

	if failure == "" {
		env, err := check.StoreResult(ctx)
		if err == nil {
			return &Outcome{Envelope: env, Kind: types.KindCheck, FollowUp: followUp(d, env, kwargs)}, nil
		}
		failure = err.Error()
	}

	metrics.RunErrors.Add(1)
	r.logger.Error("check failed", "check", d.Key(), "error", firstLine(failure))

	errCheck := result.NewCheck(conn.Store, d.Function)
	errCheck.Status = types.CheckError
	errCheck.Description = checkFailedDescription
	errCheck.FullOutput = failure
	errCheck.Kwargs = check.Kwargs
	env, err := errCheck.StoreResult(ctx)
	if err != nil {
		return nil, fmt.Errorf("storing failed check %s: %w", d.Key(), err)
	}
	return &Outcome{Envelope: env, Kind: types.KindCheck}, nil
}

func (r *Runner) runAction(ctx context.Context, conn *connection.Connection, d registry.Descriptor, kwargs types.Kwargs) (*Outcome, error) {
	action := result.NewAction(conn.Store, d.Function)
	action.Kwargs = kwargs
	if kwargs.UUID() == "" {
		kwargs[types.KwargUUID] = result.NewUUID(time.Now())
	}

	checkName := kwargs.String(types.KwargCheckName)
	calledBy := kwargs.String(types.KwargCalledBy)
	// Dry runs leave no record, so a later real run is not skipped.
	if checkName != "" && calledBy != "" && !kwargs.DoNotStore() {
		rec, _ := json.Marshal(result.ActionRecord{Action: d.Function, ActionUUID: kwargs.UUID()})
		if !conn.Store.PutIfAbsent(ctx, result.ActionRecordKey(checkName, calledBy), rec) {
			metrics.ActionsSkipped.Add(1)
			r.logger.Info("action already ran for check run, skipping",
				"action", d.Key(), "check_name", checkName, "called_by", calledBy)
			return &Outcome{Kind: types.KindAction, Skipped: true}, nil
		}
	}

	metrics.ActionsRun.Add(1)
	start := time.Now()
	failure := invoke(func() error { return d.Action(ctx, conn, action) })
	r.observe(ctx, d.Kind, time.Since(start))

	if failure == "" {
		env, err := action.StoreResult(ctx)
		if err == nil {
			return &Outcome{Envelope: env, Kind: types.KindAction}, nil
		}
		failure = err.Error()
	}

	metrics.RunErrors.Add(1)
	r.logger.Error("action failed", "action", d.Key(), "error", firstLine(failure))

	errAction := result.NewAction(conn.Store, d.Function)
	errAction.Status = types.ActionFail
	errAction.Description = actionFailedDescription
	errAction.Output = failure
	errAction.Kwargs = action.Kwargs
	env, err := errAction.StoreResult(ctx)
	if err != nil {
		return nil, fmt.Errorf("storing failed action %s: %w", d.Key(), err)
	}
	return &Outcome{Envelope: env, Kind: types.KindAction}, nil
}

// invoke calls fn and returns a non-empty failure text when it returned an
// error or panicked. Panics carry their stack.
func invoke(fn func() error) (failure string) {
	defer func() {
		if p := recover(); p != nil {
			failure = fmt.Sprintf("panic: %v\n\n%s", p, debug.Stack())
		}
	}()
	if err := fn(); err != nil {
		return err.Error()
	}
	return ""
}

// followUp returns the action a stored check nominated, when the caller asked
// for actions to be queued and the check allowed it.
func followUp(d registry.Descriptor, env *types.Envelope, kwargs types.Kwargs) *FollowUp {
	if env.Action == "" || !env.AllowAction || !kwargs.Bool(types.KwargQueueAction) {
		return nil
	}
	return &FollowUp{
		CheckString: d.Module + "/" + env.Action,
		Kwargs: types.Kwargs{
			types.KwargCheckName: env.Name,
			types.KwargCalledBy:  env.UUID,
		},
	}
}

func (r *Runner) record(ctx context.Context, kind types.Kind, status string) {
	if r.runs == nil {
		return
	}
	r.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("status", status),
	))
}

func (r *Runner) observe(ctx context.Context, kind types.Kind, d time.Duration) {
	if r.duration == nil {
		return
	}
	r.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", string(kind))))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
