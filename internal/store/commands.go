package store

import (
	"database/sql"
	"fmt"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/types"
)

const commandSelect = `SELECT c.id, c.reference, c.name, c.action, c.code, c.path, c.interpreter,
	c.allow_parallel_run, COALESCE(c.plan_id, 0), COALESCE(p.reference, '')
	FROM commands c LEFT JOIN plans p ON p.id = c.plan_id`

// UpsertCommand inserts or updates a command by reference and sets cmd.ID.
func (s *Store) UpsertCommand(cmd *types.Command) error {
	action := cmd.Action
	if action == "" {
		action = types.ActionSSHCommand
	}
	err := s.db.QueryRow(`INSERT INTO commands(reference, name, action, code, path, interpreter, allow_parallel_run, plan_id)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(reference) DO UPDATE SET
			name=excluded.name, action=excluded.action, code=excluded.code, path=excluded.path,
			interpreter=excluded.interpreter, allow_parallel_run=excluded.allow_parallel_run, plan_id=excluded.plan_id
		RETURNING id`,
		cmd.Reference, cmd.Name, string(action), cmd.Code, cmd.Path, cmd.Interpreter,
		boolToInt(cmd.AllowParallelRun), nullID(cmd.PlanID),
	).Scan(&cmd.ID)
	if err != nil {
		return storageErr("save command "+cmd.Reference, err)
	}
	return nil
}

func scanCommand(row scanner) (*types.Command, error) {
	var cmd types.Command
	var action string
	var parallel int
	if err := row.Scan(&cmd.ID, &cmd.Reference, &cmd.Name, &action, &cmd.Code, &cmd.Path, &cmd.Interpreter,
		&parallel, &cmd.PlanID, &cmd.PlanRef); err != nil {
		return nil, err
	}
	cmd.Action = types.CommandAction(action)
	cmd.AllowParallelRun = intToBool(parallel)
	return &cmd, nil
}

func (s *Store) GetCommand(ref string) (*types.Command, error) {
	cmd, err := scanCommand(s.db.QueryRow(commandSelect+` WHERE c.reference = ?`, ref))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("command", ref)
	}
	if err != nil {
		return nil, storageErr("load command "+ref, err)
	}
	return cmd, nil
}

func (s *Store) GetCommandByID(id int64) (*types.Command, error) {
	cmd, err := scanCommand(s.db.QueryRow(commandSelect+` WHERE c.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("command", fmt.Sprint(id))
	}
	if err != nil {
		return nil, storageErr("load command", err)
	}
	return cmd, nil
}

func (s *Store) ListCommands() ([]types.Command, error) {
	rows, err := s.db.Query(commandSelect + ` ORDER BY c.reference`)
	if err != nil {
		return nil, storageErr("list commands", err)
	}
	defer rows.Close()

	var out []types.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, storageErr("scan command", err)
		}
		out = append(out, *cmd)
	}
	return out, rows.Err()
}
