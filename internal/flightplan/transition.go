package flightplan

import (
	"flightplan/internal/types"
)

// Decision is the outcome of evaluating a finished line.
type Decision struct {
	Action   types.ActionKind
	ExitCode int
	// Next is the index of the line to run next, or -1 when the plan ends.
	Next int
	// Matched is the action that decided, nil when a default applied.
	Matched *types.PlanLineAction
}

// Finished reports whether the plan stops after this decision.
func (d Decision) Finished() bool {
	return d.Next < 0
}

func exit(code int) Decision {
	return Decision{Action: types.ExitWithCommandCode, ExitCode: code, Next: -1}
}

// Decide computes the transition for a plan log whose current line finished
// with exitCode. A plan log without a plan, or without an executing line
// that belongs to plan, finishes with PLAN_NOT_ASSIGNED or PLAN_LINE_NOT_ASSIGNED.
func Decide(plan *types.Plan, planLog *types.PlanLog, exitCode int) Decision {
	if plan == nil || planLog == nil || planLog.PlanID == 0 {
		return exit(types.StatusPlanNotAssigned)
	}
	idx := -1
	if planLog.PlanLineExecutedID != 0 {
		idx = plan.LineIndex(planLog.PlanLineExecutedID)
	}
	if idx < 0 {
		return exit(types.StatusPlanLineNotAssigned)
	}
	return NextAction(plan, idx, exitCode)
}

// NextAction applies the actions of line lineIdx to exitCode. The first
// matching action wins; without a match a zero exit runs the next line and
// anything else falls back to the plan's on-error action. On the last line
// "run next" becomes "exit with command code". Lines and actions must be sorted.
func NextAction(plan *types.Plan, lineIdx int, exitCode int) Decision {
	line := &plan.Lines[lineIdx]
	d := Decision{ExitCode: exitCode}

	for i := range line.Actions {
		a := &line.Actions[i]
		if a.Matches(exitCode) {
			d.Action = a.Action
			d.Matched = a
			if a.Action == types.ExitWithCustomCode {
				d.ExitCode = a.CustomExitCode
			}
			break
		}
	}

	if d.Matched == nil {
		switch {
		case exitCode == 0:
			d.Action = types.RunNextLine
		case plan.OnErrorAction == "":
			d.Action = types.ExitWithCommandCode
		default:
			d.Action = plan.OnErrorAction
		}
		if d.Action == types.ExitWithCustomCode {
			d.ExitCode = plan.CustomExitCode
		}
	}

	if d.Action == types.RunNextLine {
		if lineIdx+1 < len(plan.Lines) {
			d.Next = lineIdx + 1
			return d
		}
		d.Action = types.ExitWithCommandCode
	}
	d.Next = -1
	return d
}
