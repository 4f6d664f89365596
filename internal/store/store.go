// Package store persists servers, commands, plans, variables, keys and
// execution logs in SQLite.
package store

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	apperrors "flightplan/internal/errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS servers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reference TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	ipv4 TEXT NOT NULL DEFAULT '',
	ipv6 TEXT NOT NULL DEFAULT '',
	ssh_port TEXT NOT NULL DEFAULT '22',
	ssh_username TEXT NOT NULL DEFAULT '',
	ssh_password TEXT NOT NULL DEFAULT '',
	ssh_key_id INTEGER,
	ssh_auth_mode TEXT NOT NULL DEFAULT 'p',
	use_sudo TEXT NOT NULL DEFAULT '',
	partner TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS commands (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reference TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	action TEXT NOT NULL DEFAULT 'ssh_command',
	code TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	interpreter TEXT NOT NULL DEFAULT '',
	allow_parallel_run INTEGER NOT NULL DEFAULT 0,
	plan_id INTEGER
);

CREATE TABLE IF NOT EXISTS plans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reference TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	allow_parallel_run INTEGER NOT NULL DEFAULT 0,
	on_error_action TEXT NOT NULL DEFAULT 'e',
	custom_exit_code INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS plan_lines (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id INTEGER NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	sequence INTEGER NOT NULL DEFAULT 0,
	command_id INTEGER NOT NULL REFERENCES commands(id),
	path TEXT NOT NULL DEFAULT '',
	condition TEXT NOT NULL DEFAULT '',
	use_sudo INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS plan_line_actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	line_id INTEGER NOT NULL REFERENCES plan_lines(id) ON DELETE CASCADE,
	sequence INTEGER NOT NULL DEFAULT 0,
	operator TEXT NOT NULL,
	value TEXT NOT NULL,
	action TEXT NOT NULL,
	custom_exit_code INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS plan_line_action_values (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	action_id INTEGER NOT NULL REFERENCES plan_line_actions(id) ON DELETE CASCADE,
	variable_id INTEGER NOT NULL REFERENCES variables(id),
	value TEXT NOT NULL DEFAULT '',
	UNIQUE(action_id, variable_id)
);

CREATE TABLE IF NOT EXISTS variables (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS variable_values (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	variable_id INTEGER NOT NULL REFERENCES variables(id) ON DELETE CASCADE,
	server_id INTEGER NOT NULL DEFAULT 0,
	value TEXT NOT NULL DEFAULT '',
	UNIQUE(variable_id, server_id)
);

CREATE TABLE IF NOT EXISTS keys (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	reference TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 's',
	secret_value TEXT NOT NULL DEFAULT '',
	server_id INTEGER,
	partner TEXT,
	note TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS keys_reference_scope
	ON keys(reference, COALESCE(server_id, 0), COALESCE(partner, ''));
CREATE UNIQUE INDEX IF NOT EXISTS keys_secret_value_scope
	ON keys(secret_value, COALESCE(server_id, 0), COALESCE(partner, '')) WHERE type = 's';

CREATE TABLE IF NOT EXISTS plan_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	server_id INTEGER NOT NULL,
	plan_id INTEGER NOT NULL,
	parent_plan_log_id INTEGER,
	run_id TEXT NOT NULL DEFAULT '',
	label TEXT NOT NULL DEFAULT '',
	is_running INTEGER NOT NULL DEFAULT 1,
	exclusive INTEGER NOT NULL DEFAULT 0,
	start_date INTEGER NOT NULL,
	finish_date INTEGER,
	duration REAL NOT NULL DEFAULT 0,
	plan_line_executed_id INTEGER,
	plan_status INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS plan_logs_single_running
	ON plan_logs(server_id, plan_id) WHERE is_running = 1 AND exclusive = 1;

CREATE TABLE IF NOT EXISTS command_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	server_id INTEGER NOT NULL,
	command_id INTEGER NOT NULL,
	plan_log_id INTEGER,
	triggered_plan_log_id INTEGER,
	run_id TEXT NOT NULL DEFAULT '',
	label TEXT NOT NULL DEFAULT '',
	is_running INTEGER NOT NULL DEFAULT 1,
	exclusive INTEGER NOT NULL DEFAULT 0,
	start_date INTEGER NOT NULL,
	finish_date INTEGER,
	duration REAL NOT NULL DEFAULT 0,
	path TEXT NOT NULL DEFAULT '',
	code TEXT NOT NULL DEFAULT '',
	use_sudo TEXT NOT NULL DEFAULT '',
	status INTEGER NOT NULL DEFAULT 0,
	response TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	condition TEXT NOT NULL DEFAULT '',
	is_skipped INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS command_logs_single_running
	ON command_logs(server_id, command_id) WHERE is_running = 1 AND exclusive = 1;
CREATE INDEX IF NOT EXISTS command_logs_plan_log ON command_logs(plan_log_id);
`

// Store wraps the SQLite database. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorage, "failed to open database", err)
	}
	// A single connection serializes writers, which is what makes the
	// conditional log inserts atomic across goroutines.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, apperrors.Wrap(apperrors.ErrCodeStorage, "failed to configure database", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrCodeStorage, "failed to apply schema", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func storageErr(op string, err error) error {
	return apperrors.Wrap(apperrors.ErrCodeStorage, "failed to "+op, err)
}

// isUniqueViolation reports whether err comes from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if stderrors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}

// nullID maps the zero id to NULL.
func nullID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func fromUnixNano(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// withTx runs fn inside a transaction and commits when it returns nil.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}
