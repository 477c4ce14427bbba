// check-runner Lambda pulls one queued check or action, runs it and, while
// work remains, invokes itself again.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	intlambda "github.com/4dn-dcic/foursight-sub000/internal/lambda"
	"github.com/4dn-dcic/foursight-sub000/internal/telemetry"
)

var (
	deps     *intlambda.Deps
	depsOnce sync.Once
	depsErr  error
)

func getDeps() (*intlambda.Deps, error) {
	depsOnce.Do(func() {
		deps, depsErr = intlambda.Init(context.Background())
	})
	return deps, depsErr
}

func handler(ctx context.Context, req intlambda.RunnerRequest) (intlambda.RunnerResponse, error) {
	d, err := getDeps()
	if err != nil {
		return intlambda.RunnerResponse{}, err
	}
	return d.HandleRunner(ctx, req)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	shutdown, err := telemetry.Setup(context.Background(), "foursight-check-runner", os.Getenv("FOURSIGHT_ENV"))
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}
	awslambda.Start(handler)
}
