// Package runner executes a single command on a single server and records
// the outcome as a command log.
package runner

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/logging"
	"flightplan/internal/metrics"
	"flightplan/internal/secrets"
	"flightplan/internal/sshclient"
	"flightplan/internal/template"
	"flightplan/internal/types"
	"flightplan/internal/variables"
)

const (
	msgAnotherCommandRunning = "Another instance of the command is already running"
	msgNoRunner              = "No runner found for command action"
)

// LogStore persists command logs.
type LogStore interface {
	StartCommandLog(log *types.CommandLog, exclusive bool) error
	FinishCommandLog(log *types.CommandLog) error
	RecordCommandLog(log *types.CommandLog) error
}

// PlanRunner runs the plan referenced by a command with action "plan". The
// returned plan log is finished; its status becomes the command status.
type PlanRunner interface {
	RunNested(ctx context.Context, server *types.Server, planID int64, parent *types.CommandLog) (*types.PlanLog, error)
}

// Options override command defaults for one run.
type Options struct {
	Path      string          // replaces the command path when set
	Sudo      *types.SudoMode // nil uses the server mode
	PlanLogID int64
	RunID     string
	Label     string
	// Bindings are merged over resolved variables.
	Bindings map[string]interface{}
	// FailFast returns connection and execution errors to the caller in
	// addition to recording them.
	FailFast bool
}

type Runner struct {
	store          LogStore
	resolver       *variables.Resolver
	parser         *secrets.Parser
	dialer         Dialer
	plans          PlanRunner
	commandTimeout time.Duration
}

func New(store LogStore, resolver *variables.Resolver, parser *secrets.Parser, dialer Dialer) *Runner {
	return &Runner{store: store, resolver: resolver, parser: parser, dialer: dialer}
}

// SetPlanRunner enables commands with action "plan".
func (r *Runner) SetPlanRunner(p PlanRunner) {
	r.plans = p
}

// SetCommandTimeout bounds connect plus execution of each run. Zero disables it.
func (r *Runner) SetCommandTimeout(d time.Duration) {
	r.commandTimeout = d
}

// Run executes command on server and returns the finished log. The log is
// nil only when it could not be stored. Template errors are returned along
// with the failed log; connection and execution errors only with FailFast.
func (r *Runner) Run(ctx context.Context, server *types.Server, command *types.Command, opts Options) (*types.CommandLog, error) {
	path := command.Path
	if opts.Path != "" {
		path = opts.Path
	}
	log := &types.CommandLog{
		ServerID:  server.ID,
		CommandID: command.ID,
		PlanLogID: opts.PlanLogID,
		RunID:     opts.RunID,
		Label:     opts.Label,
		Path:      path,
		Code:      command.Code,
		UseSudo:   server.ResolveSudo(opts.Sudo),
	}

	if err := r.store.StartCommandLog(log, !command.AllowParallelRun); err != nil {
		if !apperrors.Is(err, apperrors.ErrCodeConcurrency) {
			return nil, err
		}
		return r.refuse(log, command, err)
	}

	logger := logging.WithFields(map[string]interface{}{
		"server":  server.Reference,
		"command": command.Reference,
		"log_id":  log.ID,
		"run_id":  log.RunID,
	})
	logger.Info("command started", nil)

	var runErr error
	switch action := command.Action; action {
	case types.ActionSSHCommand, "":
		runErr = r.runSSH(ctx, server, command, opts, log)
	case types.ActionPlan:
		runErr = r.runPlan(ctx, server, command, log)
	default:
		log.Status = types.StatusNoCommandRunnerFound
		log.Error = fmt.Sprintf("%s: %q", msgNoRunner, action)
	}

	if err := r.store.FinishCommandLog(log); err != nil {
		return nil, err
	}
	metrics.RecordCommandRun(command.Reference, types.StatusClass(log.Status), log.Duration)

	fields := map[string]interface{}{"status": log.Status, "duration": log.Duration}
	if log.Status == types.StatusOK {
		logger.Info("command finished", fields)
	} else {
		fields["error"] = log.Error
		logger.Warn("command failed", fields)
	}

	if runErr != nil {
		if apperrors.Is(runErr, apperrors.ErrCodeTemplate) || opts.FailFast {
			return log, runErr
		}
	}
	return log, nil
}

// refuse records a finished log for a run blocked by the parallel-run guard.
func (r *Runner) refuse(log *types.CommandLog, command *types.Command, cause error) (*types.CommandLog, error) {
	log.Status = types.StatusAnotherCommandRunning
	log.Error = msgAnotherCommandRunning
	if err := r.store.RecordCommandLog(log); err != nil {
		return nil, err
	}
	metrics.RecordConcurrencyRefusal("command")
	logging.WithFields(map[string]interface{}{
		"server_id": log.ServerID,
		"command":   command.Reference,
	}).Warn("command refused", map[string]interface{}{"reason": msgAnotherCommandRunning})
	return log, cause
}

// render resolves the variables used by code and path and renders both.
func (r *Runner) render(server *types.Server, code, path string, extra map[string]interface{}) (string, string, error) {
	names := template.ExtractNames(code + "\n" + path)
	bindings := map[string]interface{}{}
	if len(names) > 0 {
		values, err := r.resolver.ResolveRecursive(server.ID, names)
		if err != nil {
			return "", "", err
		}
		bindings = variables.Bindings(values)
	}
	for k, v := range extra {
		bindings[k] = v
	}

	renderedCode, err := template.Render(code, bindings, false)
	if err != nil {
		return "", "", err
	}
	renderedPath, err := template.Render(path, bindings, false)
	if err != nil {
		return "", "", err
	}
	return renderedCode, renderedPath, nil
}

func (r *Runner) runSSH(ctx context.Context, server *types.Server, command *types.Command, opts Options, log *types.CommandLog) error {
	code, path, err := r.render(server, command.Code, log.Path, opts.Bindings)
	if err != nil {
		log.Status = types.StatusTemplateRenderFailed
		log.Error = err.Error()
		return err
	}
	// Stored before secrets are substituted.
	log.Code = code
	log.Path = path

	sc := secrets.NewContext(server.ID, server.Partner)
	code = r.parser.Parse(ctx, code, sc)
	code = sshclient.WrapInterpreter(command.Interpreter, code)
	prepared := sshclient.PrepareCommand(code, path, log.UseSudo)

	if r.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.commandTimeout)
		defer cancel()
	}

	conn, err := r.dialer.Dial(ctx, server)
	if err != nil {
		log.Status = types.StatusConnectionFailed
		log.Error = err.Error()
		return err
	}
	defer conn.Close()

	res, err := sshclient.Execute(ctx, conn, prepared, server.SSHPassword)
	if err != nil {
		log.Status = types.StatusExecutionError
		if stderrors.Is(err, context.DeadlineExceeded) {
			log.Status = types.StatusConnectionFailed
		}
		log.Error = sc.Spoil(err.Error())
		return err
	}
	log.Status = res.Status
	log.Response = sc.Spoil(res.Response)
	log.Error = sc.Spoil(res.Error)
	return nil
}

func (r *Runner) runPlan(ctx context.Context, server *types.Server, command *types.Command, log *types.CommandLog) error {
	if r.plans == nil || command.PlanID == 0 {
		log.Status = types.StatusNoCommandRunnerFound
		log.Error = fmt.Sprintf("%s: command %q has no plan", msgNoRunner, command.Reference)
		return nil
	}
	planLog, err := r.plans.RunNested(ctx, server, command.PlanID, log)
	if planLog != nil {
		log.TriggeredPlanLogID = planLog.ID
		log.Status = planLog.PlanStatus
	}
	if err != nil {
		if planLog == nil {
			log.Status = types.StatusExecutionError
		}
		log.Error = err.Error()
		return err
	}
	return nil
}

// TestConnection runs "uname -a" on server without writing a log.
func (r *Runner) TestConnection(ctx context.Context, server *types.Server) (string, error) {
	conn, err := r.dialer.Dial(ctx, server)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	status, out, errOut, err := conn.Run(ctx, "uname -a", "")
	if err != nil {
		return "", apperrors.ExecutionError(err)
	}
	if status != 0 {
		return out, apperrors.New(apperrors.ErrCodeExecution, fmt.Sprintf("uname -a exited with %d: %s", status, errOut))
	}
	return out, nil
}
