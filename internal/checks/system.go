package checks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"github.com/4dn-dcic/foursight-sub000/internal/connection"
	"github.com/4dn-dcic/foursight-sub000/internal/registry"
	"github.com/4dn-dcic/foursight-sub000/internal/result"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// SystemModule groups checks about Foursight itself and its collaborators.
const SystemModule = "system_checks"

const (
	defaultStaleDays      = 30
	defaultLogPattern     = "?ERROR ?Traceback"
	defaultLogHours       = 24
	defaultLogLimit       = 50
	defaultWorkflowHours  = 6
	defaultRunnerLogGroup = "/aws/lambda/foursight-check-runner"
	purgeStaleResultsName = "purge_stale_results"
	staleResultsCheckName = "stale_results"
	portalHealthCheckName = "portal_health"
	storeStatusCheckName  = "results_store_status"
	runnerLogErrorsName   = "runner_log_errors"
	stuckWorkflowsName    = "stuck_workflows"
)

var now = time.Now

func registerSystem(reg *registry.Registry) error {
	regs := []error{
		reg.RegisterCheck(SystemModule, storeStatusCheckName, resultsStoreStatus,
			registry.WithDescription("Object count and size of the results store")),
		reg.RegisterCheck(SystemModule, portalHealthCheckName, portalHealth,
			registry.WithDescription("Portal /health endpoint")),
		reg.RegisterCheck(SystemModule, staleResultsCheckName, staleResults,
			registry.WithDescription("Non-primary results older than the retention window"),
			registry.WithDefaults(types.Kwargs{"days": defaultStaleDays})),
		reg.RegisterAction(SystemModule, purgeStaleResultsName, purgeStaleResults,
			registry.WithDescription("Delete non-primary results older than the retention window")),
		reg.RegisterCheck(SystemModule, runnerLogErrorsName, runnerLogErrors,
			registry.WithDescription("Errors logged by the check runner"),
			registry.WithDefaults(types.Kwargs{
				"log_group": defaultRunnerLogGroup,
				"pattern":   defaultLogPattern,
				"hours":     defaultLogHours,
				"limit":     defaultLogLimit,
			})),
		reg.RegisterCheck(SystemModule, stuckWorkflowsName, stuckWorkflows,
			registry.WithDescription("Step Functions executions running longer than expected"),
			registry.WithDefaults(types.Kwargs{"hours": defaultWorkflowHours})),
	}
	for _, err := range regs {
		if err != nil {
			return err
		}
	}
	return nil
}

func resultsStoreStatus(ctx context.Context, conn *connection.Connection, check *result.Check) error {
	backend := conn.Store.Backend().Name()
	if err := conn.Store.Ping(ctx); err != nil {
		check.Status = types.CheckFail
		check.Summary = "Results store unreachable"
		check.Description = fmt.Sprintf("The %s results store did not respond.", backend)
		check.FullOutput = err.Error()
		return nil
	}
	count := conn.Store.Count(ctx)
	size := conn.Store.SizeBytes(ctx)
	check.Status = types.CheckPass
	check.Summary = fmt.Sprintf("%d objects, %d bytes", count, size)
	check.Description = fmt.Sprintf("The %s results store holds %d objects.", backend, count)
	check.BriefOutput = map[string]interface{}{
		"backend":    backend,
		"count":      count,
		"size_bytes": size,
	}
	return nil
}

func portalHealth(ctx context.Context, conn *connection.Connection, check *result.Check) error {
	if conn.Portal == nil {
		check.Status = types.CheckIgnore
		check.Summary = "Portal not configured"
		return nil
	}
	check.FFLink = conn.Portal.BaseURL() + "/health"
	health, err := conn.Portal.Health(ctx)
	if err != nil {
		check.Status = types.CheckFail
		check.Summary = "Portal health request failed"
		check.FullOutput = err.Error()
		return nil
	}
	check.Status = types.CheckPass
	check.Summary = "Portal is healthy"
	check.FullOutput = health
	brief := map[string]interface{}{}
	for _, k := range []string{"namespace", "database", "elasticsearch", "project_version"} {
		if v, ok := health[k]; ok {
			brief[k] = v
		}
	}
	check.BriefOutput = brief
	return nil
}

type staleParams struct {
	Days int `mapstructure:"days"`
}

func (p staleParams) cutoff() time.Time {
	days := p.Days
	if days <= 0 {
		days = defaultStaleDays
	}
	return now().UTC().AddDate(0, 0, -days)
}

// staleResults counts, per registered name, the non-primary runs older than
// the retention window and nominates the purge action when there are any.
func staleResults(ctx context.Context, conn *connection.Connection, check *result.Check) error {
	var p staleParams
	if err := registry.DecodeKwargs(check.Kwargs, &p); err != nil {
		return err
	}
	cutoff := p.cutoff()

	counts := map[string]int{}
	total := 0
	for _, name := range conn.Names {
		n, err := conn.Results(name).DeleteResults(ctx, result.DeleteOptions{PriorDate: cutoff, DryRun: true})
		if err != nil {
			return err
		}
		if n > 0 {
			counts[name] = n
			total += n
		}
	}

	check.BriefOutput = counts
	check.FullOutput = map[string]interface{}{"cutoff": cutoff.Format(result.UUIDLayout), "counts": counts}
	if total == 0 {
		check.Status = types.CheckPass
		check.Summary = "No stale results"
		return nil
	}
	check.Status = types.CheckWarn
	check.Summary = fmt.Sprintf("%d stale results", total)
	check.Description = fmt.Sprintf("%d results in %d namespaces are older than %s.", total, len(counts), cutoff.Format(time.DateOnly))
	check.Action = purgeStaleResultsName
	check.AllowAction = true
	check.ActionMessage = fmt.Sprintf("Will delete %d non-primary results older than %s.", total, cutoff.Format(time.DateOnly))
	return nil
}

// purgeStaleResults deletes what staleResults found. The retention window
// comes from the action's own kwargs, then from the check run that called it.
func purgeStaleResults(ctx context.Context, conn *connection.Connection, action *result.Action) error {
	var p staleParams
	if err := registry.DecodeKwargs(action.Kwargs, &p); err != nil {
		return err
	}
	if p.Days <= 0 {
		if check := action.GetAssociatedCheck(ctx); check != nil {
			if err := registry.DecodeKwargs(check.Kwargs, &p); err != nil {
				return err
			}
		}
	}
	cutoff := p.cutoff()

	deleted := map[string]int{}
	var failed []string
	for _, name := range conn.Names {
		n, err := conn.Results(name).DeleteResults(ctx, result.DeleteOptions{PriorDate: cutoff})
		if err != nil {
			failed = append(failed, err.Error())
			continue
		}
		if n > 0 {
			deleted[name] = n
		}
	}

	out := map[string]interface{}{"deleted": deleted}
	if len(failed) > 0 {
		out["errors"] = failed
		action.Status = types.ActionFail
	} else {
		action.Status = types.ActionDone
	}
	action.Output = out
	return nil
}

type logParams struct {
	LogGroup string `mapstructure:"log_group"`
	Pattern  string `mapstructure:"pattern"`
	Hours    int    `mapstructure:"hours"`
	Limit    int    `mapstructure:"limit"`
}

// runnerLogErrors scans the check runner's CloudWatch log group for error lines.
func runnerLogErrors(ctx context.Context, conn *connection.Connection, check *result.Check) error {
	if conn.Logs == nil {
		check.Status = types.CheckIgnore
		check.Summary = "CloudWatch Logs not configured"
		return nil
	}
	var p logParams
	if err := registry.DecodeKwargs(check.Kwargs, &p); err != nil {
		return err
	}
	if p.Limit <= 0 {
		p.Limit = defaultLogLimit
	}
	since := now().Add(-time.Duration(p.Hours) * time.Hour)

	pager := cloudwatchlogs.NewFilterLogEventsPaginator(conn.Logs, &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:  aws.String(p.LogGroup),
		FilterPattern: aws.String(p.Pattern),
		StartTime:     aws.Int64(since.UnixMilli()),
	})
	var lines []map[string]interface{}
	for pager.HasMorePages() && len(lines) < p.Limit {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("filtering %s: %w", p.LogGroup, err)
		}
		for _, ev := range page.Events {
			if len(lines) == p.Limit {
				break
			}
			lines = append(lines, map[string]interface{}{
				"timestamp": time.UnixMilli(aws.ToInt64(ev.Timestamp)).UTC().Format(time.RFC3339),
				"stream":    aws.ToString(ev.LogStreamName),
				"message":   aws.ToString(ev.Message),
			})
		}
	}

	check.FullOutput = lines
	check.BriefOutput = len(lines)
	if len(lines) == 0 {
		check.Status = types.CheckPass
		check.Summary = "No runner errors"
		return nil
	}
	check.Status = types.CheckWarn
	check.Summary = fmt.Sprintf("%d runner errors in the last %dh", len(lines), p.Hours)
	return nil
}

type workflowParams struct {
	StateMachineARN string `mapstructure:"state_machine_arn"`
	Hours           int    `mapstructure:"hours"`
}

// stuckWorkflows lists executions of a state machine that have been running
// longer than the configured number of hours.
func stuckWorkflows(ctx context.Context, conn *connection.Connection, check *result.Check) error {
	var p workflowParams
	if err := registry.DecodeKwargs(check.Kwargs, &p); err != nil {
		return err
	}
	if conn.Workflows == nil || p.StateMachineARN == "" {
		check.Status = types.CheckIgnore
		check.Summary = "No state machine configured"
		return nil
	}
	cutoff := now().Add(-time.Duration(p.Hours) * time.Hour)

	pager := sfn.NewListExecutionsPaginator(conn.Workflows, &sfn.ListExecutionsInput{
		StateMachineArn: aws.String(p.StateMachineARN),
		StatusFilter:    sfntypes.ExecutionStatusRunning,
	})
	var stuck []map[string]interface{}
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing executions of %s: %w", p.StateMachineARN, err)
		}
		for _, ex := range page.Executions {
			started := aws.ToTime(ex.StartDate)
			if started.IsZero() || !started.Before(cutoff) {
				continue
			}
			stuck = append(stuck, map[string]interface{}{
				"name":       aws.ToString(ex.Name),
				"arn":        aws.ToString(ex.ExecutionArn),
				"start_date": started.UTC().Format(time.RFC3339),
			})
		}
	}
	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i]["start_date"].(string) < stuck[j]["start_date"].(string)
	})

	check.FullOutput = stuck
	check.BriefOutput = len(stuck)
	if len(stuck) == 0 {
		check.Status = types.CheckPass
		check.Summary = "No stuck executions"
		return nil
	}
	check.Status = types.CheckWarn
	check.Summary = fmt.Sprintf("%d executions running longer than %dh", len(stuck), p.Hours)
	return nil
}
