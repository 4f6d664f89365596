// Package flightplan runs plans line by line on servers, branching on each
// command's exit code.
package flightplan

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/logging"
	"flightplan/internal/metrics"
	"flightplan/internal/runner"
	"flightplan/internal/template"
	"flightplan/internal/types"
	"flightplan/internal/util"
	"flightplan/internal/variables"

	"github.com/google/uuid"
)

const msgConditionFailed = "Plan line condition check failed."

// Store is the persistence the engine needs.
type Store interface {
	GetPlanByID(id int64) (*types.Plan, error)
	GetCommandByID(id int64) (*types.Command, error)
	GetPlanLog(id int64) (*types.PlanLog, error)
	StartPlanLog(log *types.PlanLog, exclusive bool) error
	SetPlanLineExecuted(planLogID, lineID int64) error
	FinishPlanLog(log *types.PlanLog) error
	RecordCommandLog(log *types.CommandLog) error
	SetVariableValues(serverID int64, values map[string]string) error
}

// CommandRunner runs one command on one server, see runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, server *types.Server, command *types.Command, opts runner.Options) (*types.CommandLog, error)
}

// Options apply to every log written by one execution.
type Options struct {
	RunID string
	Label string
}

type Engine struct {
	store       Store
	runner      CommandRunner
	resolver    *variables.Resolver
	maxParallel int
}

// New creates an engine. When r is a *runner.Runner the engine also serves
// its commands with action "plan".
func New(store Store, r CommandRunner, resolver *variables.Resolver, maxParallel int) *Engine {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	e := &Engine{store: store, runner: r, resolver: resolver, maxParallel: maxParallel}
	if rr, ok := r.(*runner.Runner); ok {
		rr.SetPlanRunner(e)
	}
	return e
}

// SetMaxParallel bounds how many servers ExecuteMany and RunCommand serve at once.
func (e *Engine) SetMaxParallel(n int) {
	if n > 0 {
		e.maxParallel = n
	}
}

// Execute runs plan on server and returns the finished plan log. A run
// refused by the parallel-run guard returns an unsaved log with status
// ANOTHER_PLAN_RUNNING together with the CONCURRENCY_REFUSAL error. Other
// errors are storage failures.
func (e *Engine) Execute(ctx context.Context, server *types.Server, plan *types.Plan, opts Options) (*types.PlanLog, error) {
	return e.execute(ctx, server, plan, opts, 0)
}

func (e *Engine) execute(ctx context.Context, server *types.Server, plan *types.Plan, opts Options, parentID int64) (*types.PlanLog, error) {
	plan.SortLines()
	log := &types.PlanLog{
		ServerID:        server.ID,
		PlanID:          plan.ID,
		ParentPlanLogID: parentID,
		RunID:           opts.RunID,
		Label:           opts.Label,
	}

	logger := logging.WithFields(map[string]interface{}{
		"server": server.Reference,
		"plan":   plan.Reference,
		"run_id": opts.RunID,
	})

	if err := e.store.StartPlanLog(log, !plan.AllowParallelRun); err != nil {
		if !apperrors.Is(err, apperrors.ErrCodeConcurrency) {
			return nil, err
		}
		log.PlanStatus = types.StatusAnotherPlanRunning
		log.IsRunning = false
		metrics.RecordConcurrencyRefusal("plan")
		logger.Warn("plan refused", map[string]interface{}{"reason": err.Error()})
		return log, err
	}
	logger = logger.WithFields(map[string]interface{}{"plan_log_id": log.ID})
	logger.Info("plan started", map[string]interface{}{"lines": len(plan.Lines)})

	if len(plan.Lines) == 0 {
		log.PlanStatus = types.StatusPlanIsEmpty
		return log, e.finish(log, plan, logger)
	}

	idx := 0
	for {
		line := &plan.Lines[idx]
		if err := e.store.SetPlanLineExecuted(log.ID, line.ID); err != nil {
			return e.abort(log, plan, logger, err)
		}
		log.PlanLineExecutedID = line.ID

		exitCode, terminal, err := e.runLine(ctx, server, line, log, opts, logger)
		if err != nil {
			return e.abort(log, plan, logger, err)
		}
		if terminal {
			log.PlanStatus = exitCode
			return log, e.finish(log, plan, logger)
		}

		d := Decide(plan, log, exitCode)
		if d.Matched != nil && len(d.Matched.VariableValues) > 0 {
			if err := e.store.SetVariableValues(server.ID, d.Matched.VariableValues); err != nil {
				return e.abort(log, plan, logger, err)
			}
		}
		logger.Debug("line finished", map[string]interface{}{
			"sequence":  line.Sequence,
			"exit_code": exitCode,
			"action":    string(d.Action),
		})

		if d.Finished() {
			log.PlanStatus = d.ExitCode
			return log, e.finish(log, plan, logger)
		}
		idx = d.Next
	}
}

// abort finishes log after a storage failure and returns err.
func (e *Engine) abort(log *types.PlanLog, plan *types.Plan, logger *logging.Logger, err error) (*types.PlanLog, error) {
	log.PlanStatus = types.StatusExecutionError
	if ferr := e.finish(log, plan, logger); ferr != nil {
		logger.Error("failed to finish plan log", map[string]interface{}{"error": ferr.Error()})
	}
	return log, err
}

func (e *Engine) finish(log *types.PlanLog, plan *types.Plan, logger *logging.Logger) error {
	if err := e.store.FinishPlanLog(log); err != nil {
		return err
	}
	metrics.RecordPlanRun(plan.Reference, types.StatusClass(log.PlanStatus), log.Duration)
	fields := map[string]interface{}{"status": log.PlanStatus, "duration": log.Duration}
	if log.PlanStatus == types.StatusOK {
		logger.Info("plan finished", fields)
	} else {
		logger.Warn("plan finished with error", fields)
	}
	return nil
}

// runLine executes one line and returns the exit code used for the
// transition. terminal reports a line that ends the plan with exitCode
// without branching. Only storage failures are returned as errors.
func (e *Engine) runLine(ctx context.Context, server *types.Server, line *types.PlanLine, planLog *types.PlanLog, opts Options, logger *logging.Logger) (int, bool, error) {
	command, err := e.store.GetCommandByID(line.CommandID)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrCodeNotFound) {
			return 0, false, err
		}
		cerr := apperrors.ConfigurationError(fmt.Sprintf("plan line %d has no command", line.Sequence))
		logger.Error("plan line has no command", map[string]interface{}{"sequence": line.Sequence})
		missing := &types.CommandLog{
			ServerID:  server.ID,
			CommandID: line.CommandID,
			PlanLogID: planLog.ID,
			RunID:     opts.RunID,
			Label:     opts.Label,
			Path:      line.Path,
			Condition: line.Condition,
			Status:    types.StatusPlanLineNotAssigned,
			Error:     cerr.Error(),
		}
		if rerr := e.store.RecordCommandLog(missing); rerr != nil {
			return 0, false, rerr
		}
		return types.StatusPlanLineNotAssigned, true, nil
	}

	if strings.TrimSpace(line.Condition) != "" {
		ok, err := e.checkCondition(server, line.Condition)
		if err != nil || !ok {
			skipped := &types.CommandLog{
				ServerID:  server.ID,
				CommandID: command.ID,
				PlanLogID: planLog.ID,
				RunID:     opts.RunID,
				Label:     opts.Label,
				Path:      line.Path,
				Code:      command.Code,
				Condition: line.Condition,
				Status:    types.StatusConditionCheckFailed,
				Error:     msgConditionFailed,
				IsSkipped: true,
			}
			exitCode := 0
			if err != nil {
				skipped.IsSkipped = false
				skipped.Status = types.StatusExecutionError
				if apperrors.Is(err, apperrors.ErrCodeTemplate) {
					skipped.Status = types.StatusTemplateRenderFailed
				}
				skipped.Error = err.Error()
				exitCode = skipped.Status
			}
			if rerr := e.store.RecordCommandLog(skipped); rerr != nil {
				return 0, false, rerr
			}
			return exitCode, false, nil
		}
	}

	sudo := types.SudoNone
	ro := runner.Options{
		Path:      line.Path,
		Sudo:      &sudo,
		PlanLogID: planLog.ID,
		RunID:     opts.RunID,
		Label:     opts.Label,
	}
	if line.UseSudo {
		ro.Sudo = nil
	}
	cmdLog, err := e.runner.Run(ctx, server, command, ro)
	if cmdLog == nil {
		return 0, false, err
	}
	return cmdLog.Status, false, nil
}

// checkCondition renders condition in literal mode and evaluates it.
func (e *Engine) checkCondition(server *types.Server, condition string) (bool, error) {
	bindings := map[string]interface{}{}
	if names := template.ExtractNames(condition); len(names) > 0 {
		values, err := e.resolver.ResolveRecursive(server.ID, names)
		if err != nil {
			return false, err
		}
		bindings = variables.Bindings(values)
	}
	rendered, err := template.Render(condition, bindings, true)
	if err != nil {
		return false, err
	}
	return EvalCondition(rendered)
}

// RunNested runs the plan of a command with action "plan" as a child of the
// plan log parent belongs to. A plan that is already one of its ancestors
// is not started and yields NESTED_PLAN_RECURSION.
func (e *Engine) RunNested(ctx context.Context, server *types.Server, planID int64, parent *types.CommandLog) (*types.PlanLog, error) {
	for id := parent.PlanLogID; id != 0; {
		ancestor, err := e.store.GetPlanLog(id)
		if err != nil {
			return nil, err
		}
		if ancestor.PlanID == planID {
			refused := &types.PlanLog{
				ServerID:        server.ID,
				PlanID:          planID,
				ParentPlanLogID: parent.PlanLogID,
				PlanStatus:      types.StatusNestedPlanRecursion,
			}
			return refused, apperrors.ConfigurationError(fmt.Sprintf("plan %d is already running as an ancestor", planID))
		}
		id = ancestor.ParentPlanLogID
	}

	plan, err := e.store.GetPlanByID(planID)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, server, plan, Options{RunID: parent.RunID, Label: parent.Label}, parent.PlanLogID)
}

// NewRunID returns an identifier shared by the logs of one invocation.
func NewRunID() string {
	return uuid.NewString()
}

// ExecuteMany runs plan on every server concurrently, at most maxParallel
// at a time. Results are in server order; a refused or failed run leaves
// its log in place and the first storage error is returned.
func (e *Engine) ExecuteMany(ctx context.Context, servers []*types.Server, plan *types.Plan, opts Options) ([]*types.PlanLog, error) {
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	results := make([]*types.PlanLog, len(servers))
	var mu sync.Mutex
	tasks := make([]util.ConcurrentTask, len(servers))
	for i, srv := range servers {
		i, srv := i, srv
		// Each server gets its own copy since Execute sorts lines in place.
		p := clonePlan(plan)
		tasks[i] = func() error {
			log, err := e.Execute(ctx, srv, p, opts)
			mu.Lock()
			results[i] = log
			mu.Unlock()
			if apperrors.Is(err, apperrors.ErrCodeConcurrency) {
				return nil
			}
			return err
		}
	}
	err := util.RunConcurrentWithContext(ctx, tasks, e.maxParallel)
	return results, err
}

// RunCommand runs command on every server concurrently.
func (e *Engine) RunCommand(ctx context.Context, servers []*types.Server, command *types.Command, opts runner.Options) ([]*types.CommandLog, error) {
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	results := make([]*types.CommandLog, len(servers))
	var mu sync.Mutex
	tasks := make([]util.ConcurrentTask, len(servers))
	for i, srv := range servers {
		i, srv := i, srv
		tasks[i] = func() error {
			log, err := e.runner.Run(ctx, srv, command, opts)
			mu.Lock()
			results[i] = log
			mu.Unlock()
			if log != nil {
				return nil
			}
			return err
		}
	}
	err := util.RunConcurrentWithContext(ctx, tasks, e.maxParallel)
	return results, err
}

func clonePlan(p *types.Plan) *types.Plan {
	c := *p
	c.Lines = make([]types.PlanLine, len(p.Lines))
	for i, l := range p.Lines {
		l.Actions = append([]types.PlanLineAction(nil), l.Actions...)
		c.Lines[i] = l
	}
	return &c
}
