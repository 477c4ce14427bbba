package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/4dn-dcic/foursight-sub000/internal/app"
	"github.com/4dn-dcic/foursight-sub000/internal/config"
	"github.com/4dn-dcic/foursight-sub000/internal/worker"
)

// Deps holds shared dependencies for Lambda handlers.
type Deps struct {
	*app.Deps
	Worker     *worker.Worker
	Propagator worker.Propagator
	Publisher  worker.Publisher
}

// Init creates shared dependencies from environment variables.
// See config.FromEnv for the variables read; QUEUE_URL is required here.
func Init(ctx context.Context) (*Deps, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.Queue.URL == "" {
		return nil, fmt.Errorf("QUEUE_URL environment variable required")
	}

	base, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	d := &Deps{Deps: base}

	if fn := cfg.Queue.RunnerFunctionName; fn != "" {
		prop, err := worker.NewLambdaPropagator(awslambda.NewFromConfig(*base.AWS), fn)
		if err != nil {
			return nil, err
		}
		d.Propagator = prop
	}
	if bus := cfg.Events.BusName; bus != "" {
		pub, err := NewEventPublisher(eventbridge.NewFromConfig(*base.AWS), bus)
		if err != nil {
			return nil, err
		}
		d.Publisher = pub
	}
	d.Worker = newWorker(d)
	return d, nil
}

func newWorker(d *Deps) *worker.Worker {
	opts := []worker.Option{worker.WithLogger(d.Logger)}
	if d.Propagator != nil {
		opts = append(opts, worker.WithPropagator(d.Propagator))
	}
	if d.Publisher != nil {
		opts = append(opts, worker.WithPublisher(d.Publisher))
	}
	return worker.New(d.Queue, d.Runner, d.Conn, opts...)
}
