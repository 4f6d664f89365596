package store

import (
	"database/sql"
	"fmt"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/types"
)

// UpsertPlan saves a plan by reference and replaces all of its lines and
// actions. Line command ids are resolved from CommandRef when unset.
func (s *Store) UpsertPlan(plan *types.Plan) error {
	onError := plan.OnErrorAction
	if onError == "" {
		onError = types.ExitWithCommandCode
	}
	return s.withTx(func(tx *sql.Tx) error {
		err := tx.QueryRow(`INSERT INTO plans(reference, name, allow_parallel_run, on_error_action, custom_exit_code)
			VALUES(?,?,?,?,?)
			ON CONFLICT(reference) DO UPDATE SET
				name=excluded.name, allow_parallel_run=excluded.allow_parallel_run,
				on_error_action=excluded.on_error_action, custom_exit_code=excluded.custom_exit_code
			RETURNING id`,
			plan.Reference, plan.Name, boolToInt(plan.AllowParallelRun), string(onError), plan.CustomExitCode,
		).Scan(&plan.ID)
		if err != nil {
			return storageErr("save plan "+plan.Reference, err)
		}

		if _, err := tx.Exec(`DELETE FROM plan_lines WHERE plan_id = ?`, plan.ID); err != nil {
			return storageErr("clear plan lines", err)
		}

		for i := range plan.Lines {
			line := &plan.Lines[i]
			line.PlanID = plan.ID
			if line.CommandID == 0 {
				if err := tx.QueryRow(`SELECT id FROM commands WHERE reference = ?`, line.CommandRef).Scan(&line.CommandID); err != nil {
					if err == sql.ErrNoRows {
						return apperrors.NotFound("command", line.CommandRef)
					}
					return storageErr("resolve command "+line.CommandRef, err)
				}
			}
			res, err := tx.Exec(`INSERT INTO plan_lines(plan_id, sequence, command_id, path, condition, use_sudo) VALUES(?,?,?,?,?,?)`,
				plan.ID, line.Sequence, line.CommandID, line.Path, line.Condition, boolToInt(line.UseSudo))
			if err != nil {
				return storageErr("save plan line", err)
			}
			if line.ID, err = res.LastInsertId(); err != nil {
				return storageErr("save plan line", err)
			}

			for j := range line.Actions {
				if err := insertAction(tx, line.ID, &line.Actions[j]); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func insertAction(tx *sql.Tx, lineID int64, a *types.PlanLineAction) error {
	a.LineID = lineID
	res, err := tx.Exec(`INSERT INTO plan_line_actions(line_id, sequence, operator, value, action, custom_exit_code) VALUES(?,?,?,?,?,?)`,
		lineID, a.Sequence, string(a.Operator), a.Value, string(a.Action), a.CustomExitCode)
	if err != nil {
		return storageErr("save plan line action", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return storageErr("save plan line action", err)
	}
	for name, value := range a.VariableValues {
		varID, err := ensureVariable(tx, name)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO plan_line_action_values(action_id, variable_id, value) VALUES(?,?,?)`, a.ID, varID, value); err != nil {
			return storageErr("save action variable value", err)
		}
	}
	return nil
}

// GetPlan loads a plan with its lines and actions, sorted for execution.
func (s *Store) GetPlan(ref string) (*types.Plan, error) {
	return s.loadPlan(`reference = ?`, ref, ref)
}

func (s *Store) GetPlanByID(id int64) (*types.Plan, error) {
	return s.loadPlan(`id = ?`, id, fmt.Sprint(id))
}

func (s *Store) loadPlan(where string, arg interface{}, label string) (*types.Plan, error) {
	var plan types.Plan
	var parallel int
	var onError string
	err := s.db.QueryRow(`SELECT id, reference, name, allow_parallel_run, on_error_action, custom_exit_code FROM plans WHERE `+where, arg).
		Scan(&plan.ID, &plan.Reference, &plan.Name, &parallel, &onError, &plan.CustomExitCode)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("plan", label)
	}
	if err != nil {
		return nil, storageErr("load plan "+label, err)
	}
	plan.AllowParallelRun = intToBool(parallel)
	plan.OnErrorAction = types.ActionKind(onError)

	rows, err := s.db.Query(`SELECT l.id, l.sequence, l.command_id, c.reference, l.path, l.condition, l.use_sudo
		FROM plan_lines l JOIN commands c ON c.id = l.command_id
		WHERE l.plan_id = ?`, plan.ID)
	if err != nil {
		return nil, storageErr("load plan lines", err)
	}
	lineIdx := map[int64]int{}
	for rows.Next() {
		line := types.PlanLine{PlanID: plan.ID}
		var sudo int
		if err := rows.Scan(&line.ID, &line.Sequence, &line.CommandID, &line.CommandRef, &line.Path, &line.Condition, &sudo); err != nil {
			rows.Close()
			return nil, storageErr("scan plan line", err)
		}
		line.UseSudo = intToBool(sudo)
		lineIdx[line.ID] = len(plan.Lines)
		plan.Lines = append(plan.Lines, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("load plan lines", err)
	}

	if err := s.loadActions(&plan, lineIdx); err != nil {
		return nil, err
	}
	plan.SortLines()
	return &plan, nil
}

func (s *Store) loadActions(plan *types.Plan, lineIdx map[int64]int) error {
	rows, err := s.db.Query(`SELECT a.id, a.line_id, a.sequence, a.operator, a.value, a.action, a.custom_exit_code
		FROM plan_line_actions a JOIN plan_lines l ON l.id = a.line_id
		WHERE l.plan_id = ?`, plan.ID)
	if err != nil {
		return storageErr("load plan line actions", err)
	}
	type pos struct{ line, action int }
	actionPos := map[int64]pos{}
	for rows.Next() {
		var a types.PlanLineAction
		var op, kind string
		if err := rows.Scan(&a.ID, &a.LineID, &a.Sequence, &op, &a.Value, &kind, &a.CustomExitCode); err != nil {
			rows.Close()
			return storageErr("scan plan line action", err)
		}
		a.Operator = types.Operator(op)
		a.Action = types.ActionKind(kind)
		li := lineIdx[a.LineID]
		actionPos[a.ID] = pos{li, len(plan.Lines[li].Actions)}
		plan.Lines[li].Actions = append(plan.Lines[li].Actions, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storageErr("load plan line actions", err)
	}

	vrows, err := s.db.Query(`SELECT av.action_id, v.name, av.value
		FROM plan_line_action_values av
		JOIN variables v ON v.id = av.variable_id
		JOIN plan_line_actions a ON a.id = av.action_id
		JOIN plan_lines l ON l.id = a.line_id
		WHERE l.plan_id = ?`, plan.ID)
	if err != nil {
		return storageErr("load action variable values", err)
	}
	defer vrows.Close()
	for vrows.Next() {
		var actionID int64
		var name, value string
		if err := vrows.Scan(&actionID, &name, &value); err != nil {
			return storageErr("scan action variable value", err)
		}
		p := actionPos[actionID]
		a := &plan.Lines[p.line].Actions[p.action]
		if a.VariableValues == nil {
			a.VariableValues = map[string]string{}
		}
		a.VariableValues[name] = value
	}
	return vrows.Err()
}

func (s *Store) ListPlans() ([]types.Plan, error) {
	rows, err := s.db.Query(`SELECT reference FROM plans ORDER BY reference`)
	if err != nil {
		return nil, storageErr("list plans", err)
	}
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return nil, storageErr("scan plan", err)
		}
		refs = append(refs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("list plans", err)
	}

	out := make([]types.Plan, 0, len(refs))
	for _, ref := range refs {
		p, err := s.GetPlan(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}
