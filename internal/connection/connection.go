// Package connection defines the per-invocation handle passed to every check
// and action.
package connection

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/4dn-dcic/foursight-sub000/internal/portal"
	"github.com/4dn-dcic/foursight-sub000/internal/result"
	"github.com/4dn-dcic/foursight-sub000/internal/store"
)

// LogsAPI is the CloudWatch Logs subset checks may query.
type LogsAPI interface {
	FilterLogEvents(ctx context.Context, input *cloudwatchlogs.FilterLogEventsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// WorkflowsAPI is the Step Functions subset checks may query.
type WorkflowsAPI interface {
	ListExecutions(ctx context.Context, input *sfn.ListExecutionsInput, opts ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error)
}

// Connection carries everything a check or action may talk to. Optional
// clients are nil when the deployment does not configure them.
type Connection struct {
	Environment string
	Store       *store.Store
	Portal      *portal.Client
	Logs        LogsAPI
	Workflows   WorkflowsAPI

	// Names lists every registered check and action name, for checks that
	// inspect the whole results namespace.
	Names []string
}

// New creates a Connection over s.
func New(env string, s *store.Store) *Connection {
	return &Connection{Environment: env, Store: s}
}

// CheckResult returns a fresh, unstored run of the check name, useful for
// reading another check's history.
func (c *Connection) CheckResult(name string) *result.Check {
	return result.NewCheck(c.Store, name)
}

// ActionResult returns a fresh, unstored run of the action name.
func (c *Connection) ActionResult(name string) *result.Action {
	return result.NewAction(c.Store, name)
}

// Results returns a reader over the stored runs of name.
func (c *Connection) Results(name string) *result.Reader {
	return result.NewReader(c.Store, name)
}
