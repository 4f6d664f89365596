package types

// Status codes reported in command and plan logs in addition to remote exit codes.
const (
	// StatusOK is the exit code of a successful command or plan.
	StatusOK = 0

	// StatusPlanIsEmpty is returned when a plan without lines is started.
	StatusPlanIsEmpty = -1

	// StatusExecutionError is recorded when remote execution raised an error
	// instead of returning an exit code.
	StatusExecutionError = -1

	// StatusAnotherCommandRunning is returned when a command that does not
	// allow parallel runs is already running on the same server.
	StatusAnotherCommandRunning = -5

	// StatusNoCommandRunnerFound is returned for an unknown command action.
	StatusNoCommandRunnerFound = -6

	// StatusAnotherPlanRunning is returned when a plan that does not allow
	// parallel runs is already running on the same server.
	StatusAnotherPlanRunning = -7

	// StatusConditionCheckFailed is recorded on a command log whose plan line
	// was skipped because its condition evaluated to false.
	StatusConditionCheckFailed = -9

	// StatusPlanNotAssigned is returned when a transition is requested for a
	// command log without a plan log.
	StatusPlanNotAssigned = -10

	// StatusPlanLineNotAssigned is returned when the plan log has no
	// currently executing line.
	StatusPlanLineNotAssigned = -11

	// StatusFileCreationFailed is returned when a file could not be created
	// on the server.
	StatusFileCreationFailed = -12

	// StatusTemplateRenderFailed is recorded when command code or path
	// references an undefined variable.
	StatusTemplateRenderFailed = -13

	// StatusConnectionFailed is recorded when the SSH connection could not
	// be established.
	StatusConnectionFailed = -14

	// StatusNestedPlanRecursion is recorded when a nested plan would start
	// one of its own ancestors.
	StatusNestedPlanRecursion = -15

	// StatusSudoPasswordMissing is returned by the remote client when sudo
	// with password is requested but the server has no password.
	StatusSudoPasswordMissing = 255
)

// StatusClass groups a status code into a small label set used by metrics.
func StatusClass(status int) string {
	switch {
	case status == StatusOK:
		return "success"
	case status == StatusAnotherCommandRunning || status == StatusAnotherPlanRunning:
		return "refused"
	case status < 0:
		return "internal"
	default:
		return "failed"
	}
}
