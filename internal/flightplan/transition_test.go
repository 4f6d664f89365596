package flightplan

import (
	"testing"

	"flightplan/internal/types"
)

func twoLinePlan() *types.Plan {
	return &types.Plan{
		ID:            1,
		OnErrorAction: types.ExitWithCommandCode,
		Lines: []types.PlanLine{
			{ID: 10, Sequence: 1},
			{ID: 20, Sequence: 2},
		},
	}
}

func TestNextActionDefaultSuccessRunsNextLine(t *testing.T) {
	d := NextAction(twoLinePlan(), 0, 0)
	if d.Action != types.RunNextLine || d.Next != 1 || d.Finished() {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestNextActionCustomCodeOverridesExitCode(t *testing.T) {
	p := twoLinePlan()
	p.Lines[0].Actions = []types.PlanLineAction{
		{Sequence: 1, Operator: types.OpGreater, Value: "0", Action: types.ExitWithCustomCode, CustomExitCode: 255},
	}
	d := NextAction(p, 0, 8)
	if d.Action != types.ExitWithCustomCode || d.ExitCode != 255 || !d.Finished() {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.Matched == nil || d.Matched.CustomExitCode != 255 {
		t.Errorf("matched action not reported: %+v", d.Matched)
	}
}

func TestNextActionLastLineForcesExit(t *testing.T) {
	p := twoLinePlan()
	p.Lines[1].Actions = []types.PlanLineAction{
		{Sequence: 1, Operator: types.OpEqual, Value: "3", Action: types.RunNextLine},
	}
	for _, code := range []int{0, 3} {
		d := NextAction(p, 1, code)
		if d.Action != types.ExitWithCommandCode || d.ExitCode != code || !d.Finished() {
			t.Errorf("exit %d: unexpected decision %+v", code, d)
		}
	}
}

func TestNextActionFirstMatchWins(t *testing.T) {
	p := twoLinePlan()
	p.Lines[0].Actions = []types.PlanLineAction{
		{Sequence: 1, Operator: types.OpNotEqual, Value: "0", Action: types.RunNextLine},
		{Sequence: 2, Operator: types.OpEqual, Value: "2", Action: types.ExitWithCustomCode, CustomExitCode: 9},
	}
	d := NextAction(p, 0, 2)
	if d.Action != types.RunNextLine || d.Next != 1 || d.ExitCode != 2 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestNextActionErrorDefaults(t *testing.T) {
	tests := []struct {
		name     string
		onError  types.ActionKind
		custom   int
		wantAct  types.ActionKind
		wantCode int
		wantNext int
	}{
		{"exit with command code", types.ExitWithCommandCode, 0, types.ExitWithCommandCode, 5, -1},
		{"unset means exit", "", 0, types.ExitWithCommandCode, 5, -1},
		{"custom code", types.ExitWithCustomCode, 42, types.ExitWithCustomCode, 42, -1},
		{"continue on error", types.RunNextLine, 0, types.RunNextLine, 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := twoLinePlan()
			p.OnErrorAction = tt.onError
			p.CustomExitCode = tt.custom
			d := NextAction(p, 0, 5)
			if d.Action != tt.wantAct || d.ExitCode != tt.wantCode || d.Next != tt.wantNext {
				t.Errorf("got %+v", d)
			}
		})
	}
}

func TestNextActionIgnoresBadValues(t *testing.T) {
	p := twoLinePlan()
	p.Lines[0].Actions = []types.PlanLineAction{
		{Sequence: 1, Operator: types.OpEqual, Value: "zero", Action: types.ExitWithCustomCode, CustomExitCode: 1},
		{Sequence: 2, Operator: "~=", Value: "0", Action: types.ExitWithCustomCode, CustomExitCode: 1},
	}
	d := NextAction(p, 0, 0)
	if d.Matched != nil || d.Action != types.RunNextLine {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecideGuards(t *testing.T) {
	p := twoLinePlan()

	if d := Decide(nil, &types.PlanLog{PlanID: 1, PlanLineExecutedID: 10}, 0); d.ExitCode != types.StatusPlanNotAssigned || !d.Finished() {
		t.Errorf("missing plan: %+v", d)
	}
	if d := Decide(p, &types.PlanLog{PlanLineExecutedID: 10}, 0); d.ExitCode != types.StatusPlanNotAssigned {
		t.Errorf("plan log without plan: %+v", d)
	}
	if d := Decide(p, &types.PlanLog{PlanID: 1}, 0); d.ExitCode != types.StatusPlanLineNotAssigned || !d.Finished() {
		t.Errorf("missing line: %+v", d)
	}
	if d := Decide(p, &types.PlanLog{PlanID: 1, PlanLineExecutedID: 77}, 0); d.ExitCode != types.StatusPlanLineNotAssigned {
		t.Errorf("foreign line: %+v", d)
	}
	if d := Decide(p, &types.PlanLog{PlanID: 1, PlanLineExecutedID: 10}, 0); d.Next != 1 {
		t.Errorf("valid plan log: %+v", d)
	}
}

func TestEvalCondition(t *testing.T) {
	tests := []struct {
		cond    string
		want    bool
		wantErr bool
	}{
		{"", true, false},
		{`"17.0" == "17.0"`, true, false},
		{`"16.0" == "17.0"`, false, false},
		{`"prod" in ["prod", "stage"] and not False`, true, false},
		{`True`, true, false},
		{`1 +`, false, true},
		{`"text"`, false, true},
	}
	for _, tt := range tests {
		got, err := EvalCondition(tt.cond)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v", tt.cond, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q = %v, want %v", tt.cond, got, tt.want)
		}
	}
}
