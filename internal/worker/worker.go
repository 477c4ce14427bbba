// Package worker pulls queued invocations and runs them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/4dn-dcic/foursight-sub000/internal/connection"
	"github.com/4dn-dcic/foursight-sub000/internal/metrics"
	"github.com/4dn-dcic/foursight-sub000/internal/queue"
	"github.com/4dn-dcic/foursight-sub000/internal/runner"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// Propagator starts another worker invocation while work remains.
type Propagator interface {
	Propagate(ctx context.Context) error
}

// Publisher announces finished runs.
type Publisher interface {
	PublishRunEvent(ctx context.Context, ev types.RunEvent) error
}

// Worker takes one message at a time off the queue and runs it.
type Worker struct {
	queue       *queue.Queue
	runner      *runner.Runner
	conn        *connection.Connection
	propagator  Propagator
	publisher   Publisher
	logger      *slog.Logger
	waitSeconds int32
}

// Option configures a Worker.
type Option func(*Worker)

// WithPropagator sets the self-propagation hook.
func WithPropagator(p Propagator) Option {
	return func(w *Worker) { w.propagator = p }
}

// WithPublisher sets the run event publisher.
func WithPublisher(p Publisher) Option {
	return func(w *Worker) { w.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithWaitSeconds sets the long-poll wait for each receive.
func WithWaitSeconds(s int32) Option {
	return func(w *Worker) { w.waitSeconds = s }
}

// New creates a Worker.
func New(q *queue.Queue, r *runner.Runner, conn *connection.Connection, opts ...Option) *Worker {
	w := &Worker{queue: q, runner: r, conn: conn, logger: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	return w
}

// PullAndInvoke runs at most one queued invocation. It returns (nil, nil)
// when the queue was empty, the message was malformed or the action was a
// duplicate. Dispatch failures are returned as *runner.DispatchError after
// the message has been removed.
func (w *Worker) PullAndInvoke(ctx context.Context) (*types.Envelope, error) {
	env, _, err := w.pull(ctx)
	return env, err
}

// Drain runs queued invocations until the queue is empty and returns how
// many messages were handled. Dispatch failures do not stop it.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		_, handled, err := w.pull(ctx)
		var de *runner.DispatchError
		if err != nil && !errors.As(err, &de) {
			return n, err
		}
		if !handled {
			return n, nil
		}
		n++
	}
}

func (w *Worker) pull(ctx context.Context) (*types.Envelope, bool, error) {
	rec, err := w.queue.Receive(ctx, w.waitSeconds)
	if errors.Is(err, queue.ErrMalformed) && rec != nil {
		w.logger.Error("dropping malformed message", "message_id", rec.MessageID, "error", err)
		if derr := w.queue.Delete(ctx, rec.Receipt); derr != nil {
			return nil, true, derr
		}
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	metrics.MessagesProcessed.Add(1)

	// Delete before running: a run that crashes is not retried.
	if err := w.queue.Delete(ctx, rec.Receipt); err != nil {
		return nil, true, err
	}
	w.propagate(ctx)

	kwargs := rec.Kwargs.Clone()
	kwargs[types.KwargRunInfo] = rec.RunInfo().Map()

	logger := w.logger.With("check", rec.Check, "run_id", rec.RunID)
	out, err := w.runner.Run(ctx, w.conn, rec.Check, kwargs)
	if err != nil {
		logger.Error("run failed", "error", err)
		return nil, true, err
	}
	if out.Skipped {
		return nil, true, nil
	}

	if out.FollowUp != nil {
		uuid, err := w.queue.Enqueue(ctx, out.FollowUp.CheckString, out.FollowUp.Kwargs)
		if err != nil {
			logger.Error("queueing follow-up action failed", "action", out.FollowUp.CheckString, "error", err)
		} else {
			logger.Info("queued follow-up action", "action", out.FollowUp.CheckString, "uuid", uuid)
		}
	}

	w.publish(ctx, rec, out.Envelope)
	logger.Info("run complete", "name", out.Envelope.Name, "status", out.Envelope.Status, "uuid", out.Envelope.UUID)
	return out.Envelope, true, nil
}

func (w *Worker) propagate(ctx context.Context) {
	if w.propagator == nil {
		return
	}
	waiting, _, err := w.queue.Counts(ctx)
	if err != nil {
		w.logger.Warn("reading queue depth", "error", err)
		return
	}
	if waiting == 0 {
		return
	}
	if err := w.propagator.Propagate(ctx); err != nil {
		w.logger.Error("propagating worker", "error", err)
		return
	}
	metrics.Propagations.Add(1)
}

func (w *Worker) publish(ctx context.Context, rec *queue.Received, env *types.Envelope) {
	if w.publisher == nil {
		return
	}
	ev := types.RunEvent{
		CheckString: rec.Check,
		Name:        env.Name,
		Kind:        env.Kind,
		Status:      env.Status,
		UUID:        env.UUID,
		Primary:     env.Kwargs.Primary(),
		RunID:       rec.RunID,
	}
	if err := w.publisher.PublishRunEvent(ctx, ev); err != nil {
		w.logger.Warn("publishing run event", "uuid", env.UUID, "error", err)
		return
	}
	metrics.RunEventsPublished.Add(1)
}

// LambdaAPI is the subset of the Lambda client used for propagation.
type LambdaAPI interface {
	Invoke(ctx context.Context, input *lambda.InvokeInput, opts ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaPropagator asynchronously invokes the worker function again.
type LambdaPropagator struct {
	client       LambdaAPI
	functionName string
}

// NewLambdaPropagator creates a propagator for functionName.
func NewLambdaPropagator(client LambdaAPI, functionName string) (*LambdaPropagator, error) {
	if functionName == "" {
		return nil, fmt.Errorf("runner function name required")
	}
	return &LambdaPropagator{client: client, functionName: functionName}, nil
}

// Propagate fires an Event invocation and does not wait for it.
func (p *LambdaPropagator) Propagate(ctx context.Context) error {
	_, err := p.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(p.functionName),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        []byte(`{"source":"propagate"}`),
	})
	if err != nil {
		return fmt.Errorf("invoking %s: %w", p.functionName, err)
	}
	return nil
}
