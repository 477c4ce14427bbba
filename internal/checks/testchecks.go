package checks

import (
	"context"

	"github.com/4dn-dcic/foursight-sub000/internal/connection"
	"github.com/4dn-dcic/foursight-sub000/internal/registry"
	"github.com/4dn-dcic/foursight-sub000/internal/result"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// TestModule holds fixed-outcome checks for exercising a deployment.
const TestModule = "test_checks"

func registerTest(reg *registry.Registry) error {
	for _, err := range []error{
		reg.RegisterCheck(TestModule, "always_pass", AlwaysPass, registry.WithDescription("Always passes")),
		reg.RegisterCheck(TestModule, "always_warn", alwaysWarn, registry.WithDescription("Always warns and offers noop_action")),
		reg.RegisterCheck(TestModule, "divide_by_zero", divideByZero, registry.WithDescription("Always fails inside its body")),
		reg.RegisterAction(TestModule, "noop_action", noopAction, registry.WithDescription("Does nothing")),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// AlwaysPass is a check that always passes.
func AlwaysPass(_ context.Context, _ *connection.Connection, check *result.Check) error {
	check.Status = types.CheckPass
	check.Summary = "Always passes"
	check.Description = "This check always passes."
	return nil
}

func alwaysWarn(_ context.Context, _ *connection.Connection, check *result.Check) error {
	check.Status = types.CheckWarn
	check.Summary = "Always warns"
	check.Action = "noop_action"
	check.AllowAction = true
	check.ActionMessage = "Will do nothing."
	return nil
}

var zero = 0

func divideByZero(_ context.Context, _ *connection.Connection, check *result.Check) error {
	check.FullOutput = 1 / zero
	check.Status = types.CheckPass
	return nil
}

func noopAction(_ context.Context, _ *connection.Connection, action *result.Action) error {
	action.Status = types.ActionDone
	action.Output = "Nothing was done."
	return nil
}
