package store

import (
	"database/sql"
	"strings"

	"flightplan/internal/types"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

func ensureVariable(q queryer, name string) (int64, error) {
	var id int64
	err := q.QueryRow(`INSERT INTO variables(name) VALUES(?)
		ON CONFLICT(name) DO UPDATE SET name=excluded.name
		RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, storageErr("save variable "+name, err)
	}
	return id, nil
}

// SetVariableValue upserts the value of name for serverID (0 = global).
func (s *Store) SetVariableValue(name string, serverID int64, value string) error {
	return s.withTx(func(tx *sql.Tx) error {
		return setValue(tx, name, serverID, value)
	})
}

// SetVariableValues upserts several values for one server in a single transaction.
func (s *Store) SetVariableValues(serverID int64, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		for name, value := range values {
			if err := setValue(tx, name, serverID, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func setValue(tx *sql.Tx, name string, serverID int64, value string) error {
	varID, err := ensureVariable(tx, name)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO variable_values(variable_id, server_id, value) VALUES(?,?,?)
		ON CONFLICT(variable_id, server_id) DO UPDATE SET value=excluded.value`, varID, serverID, value)
	if err != nil {
		return storageErr("save value of "+name, err)
	}
	return nil
}

// UnsetVariableValue removes the value of name for serverID. Removing a
// value that does not exist is not an error.
func (s *Store) UnsetVariableValue(name string, serverID int64) error {
	_, err := s.db.Exec(`DELETE FROM variable_values
		WHERE server_id = ? AND variable_id = (SELECT id FROM variables WHERE name = ?)`, serverID, name)
	if err != nil {
		return storageErr("remove value of "+name, err)
	}
	return nil
}

// GetVariableValue returns the value stored for exactly (name, serverID), without fallback.
func (s *Store) GetVariableValue(name string, serverID int64) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT vv.value FROM variable_values vv JOIN variables v ON v.id = vv.variable_id
		WHERE v.name = ? AND vv.server_id = ?`, name, serverID).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("load value of "+name, err)
	}
	return value, true, nil
}

// ValuesFor loads, in one query, every value of the named variables that is
// either global or bound to one of serverIDs.
func (s *Store) ValuesFor(serverIDs []int64, names []string) ([]types.VariableValue, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(names)+len(serverIDs)+1)
	for _, n := range names {
		args = append(args, n)
	}
	args = append(args, int64(0))
	for _, id := range serverIDs {
		args = append(args, id)
	}
	query := `SELECT vv.id, vv.variable_id, v.name, vv.server_id, vv.value
		FROM variable_values vv JOIN variables v ON v.id = vv.variable_id
		WHERE v.name IN (` + placeholders(len(names)) + `)
		AND vv.server_id IN (` + placeholders(len(serverIDs)+1) + `)`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storageErr("load variable values", err)
	}
	defer rows.Close()

	var out []types.VariableValue
	for rows.Next() {
		var vv types.VariableValue
		if err := rows.Scan(&vv.ID, &vv.VariableID, &vv.Name, &vv.ServerID, &vv.Value); err != nil {
			return nil, storageErr("scan variable value", err)
		}
		out = append(out, vv)
	}
	return out, rows.Err()
}

func (s *Store) ListVariables() ([]types.Variable, error) {
	rows, err := s.db.Query(`SELECT id, name FROM variables ORDER BY name`)
	if err != nil {
		return nil, storageErr("list variables", err)
	}
	defer rows.Close()
	var out []types.Variable
	for rows.Next() {
		var v types.Variable
		if err := rows.Scan(&v.ID, &v.Name); err != nil {
			return nil, storageErr("scan variable", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
