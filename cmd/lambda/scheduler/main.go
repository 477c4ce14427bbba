// scheduler Lambda receives a schedule payload from an EventBridge rule,
// queues its checks under one run uuid and starts the check runner.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	intlambda "github.com/4dn-dcic/foursight-sub000/internal/lambda"
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

func handler(ctx context.Context, req intlambda.ScheduleRequest) (intlambda.ScheduleResponse, error) {
	d, err := getDeps()
	if err != nil {
		return intlambda.ScheduleResponse{}, err
	}
	return d.HandleSchedule(ctx, req)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
