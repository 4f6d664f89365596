package store

import (
	"database/sql"
	"fmt"
	"time"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/types"
)

// LogFilter narrows log listings. Zero fields are ignored.
type LogFilter struct {
	ServerID  int64
	PlanLogID int64
	RunID     string
	Limit     int
}

func (f LogFilter) where(planLogColumn bool) (string, []interface{}) {
	clause := `1 = 1`
	var args []interface{}
	if f.ServerID != 0 {
		clause += ` AND server_id = ?`
		args = append(args, f.ServerID)
	}
	if f.PlanLogID != 0 && planLogColumn {
		clause += ` AND plan_log_id = ?`
		args = append(args, f.PlanLogID)
	}
	if f.RunID != "" {
		clause += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	return clause, args
}

func (f LogFilter) limit() string {
	if f.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", f.Limit)
}

func refusal(kind string) error {
	return apperrors.New(apperrors.ErrCodeConcurrency, fmt.Sprintf("another instance of the %s is already running", kind)).
		WithDetail("kind", kind)
}

// StartCommandLog inserts a running command log and sets log.ID. When
// exclusive is true the insert only happens if no other log for the same
// (server, command) is running; otherwise a CONCURRENCY_REFUSAL error is returned.
func (s *Store) StartCommandLog(log *types.CommandLog, exclusive bool) error {
	if log.StartDate.IsZero() {
		log.StartDate = s.now()
	}
	log.IsRunning = true
	res, err := s.db.Exec(`INSERT INTO command_logs(server_id, command_id, plan_log_id, run_id, label, is_running, exclusive,
			start_date, path, code, use_sudo, condition)
		SELECT ?,?,?,?,?,1,?,?,?,?,?,?
		WHERE ? = 0 OR NOT EXISTS (
			SELECT 1 FROM command_logs WHERE server_id = ? AND command_id = ? AND is_running = 1)`,
		log.ServerID, log.CommandID, nullID(log.PlanLogID), log.RunID, log.Label, boolToInt(exclusive),
		log.StartDate.UnixNano(), log.Path, log.Code, string(log.UseSudo), log.Condition,
		boolToInt(exclusive), log.ServerID, log.CommandID)
	if isUniqueViolation(err) {
		return refusal("command")
	}
	if err != nil {
		return storageErr("start command log", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return refusal("command")
	}
	if log.ID, err = res.LastInsertId(); err != nil {
		return storageErr("start command log", err)
	}
	return nil
}

// FinishCommandLog writes the outcome of a running log exactly once.
func (s *Store) FinishCommandLog(log *types.CommandLog) error {
	s.finishTimes(&log.StartDate, &log.FinishDate, &log.Duration)
	log.IsRunning = false
	res, err := s.db.Exec(`UPDATE command_logs SET is_running = 0, finish_date = ?, duration = ?, path = ?, code = ?,
			use_sudo = ?, status = ?, response = ?, error = ?, triggered_plan_log_id = ?, is_skipped = ?
		WHERE id = ? AND is_running = 1`,
		log.FinishDate.UnixNano(), log.Duration, log.Path, log.Code, string(log.UseSudo), log.Status,
		log.Response, log.Error, nullID(log.TriggeredPlanLogID), boolToInt(log.IsSkipped), log.ID)
	if err != nil {
		return storageErr("finish command log", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrCodeConflict, fmt.Sprintf("command log %d is not running", log.ID))
	}
	return nil
}

// RecordCommandLog inserts an already finished command log, used for
// skipped lines and refused runs.
func (s *Store) RecordCommandLog(log *types.CommandLog) error {
	if log.StartDate.IsZero() {
		log.StartDate = s.now()
	}
	s.finishTimes(&log.StartDate, &log.FinishDate, &log.Duration)
	log.IsRunning = false
	res, err := s.db.Exec(`INSERT INTO command_logs(server_id, command_id, plan_log_id, triggered_plan_log_id, run_id, label,
			is_running, exclusive, start_date, finish_date, duration, path, code, use_sudo, status, response, error, condition, is_skipped)
		VALUES(?,?,?,?,?,?,0,0,?,?,?,?,?,?,?,?,?,?,?)`,
		log.ServerID, log.CommandID, nullID(log.PlanLogID), nullID(log.TriggeredPlanLogID), log.RunID, log.Label,
		log.StartDate.UnixNano(), log.FinishDate.UnixNano(), log.Duration, log.Path, log.Code, string(log.UseSudo),
		log.Status, log.Response, log.Error, log.Condition, boolToInt(log.IsSkipped))
	if err != nil {
		return storageErr("record command log", err)
	}
	if log.ID, err = res.LastInsertId(); err != nil {
		return storageErr("record command log", err)
	}
	return nil
}

func (s *Store) finishTimes(start, finish *time.Time, duration *float64) {
	if finish.IsZero() {
		*finish = s.now()
	}
	*duration = finish.Sub(*start).Seconds()
}

const commandLogSelect = `SELECT id, server_id, command_id, COALESCE(plan_log_id, 0), COALESCE(triggered_plan_log_id, 0),
	run_id, label, is_running, start_date, finish_date, duration, path, code, use_sudo, status, response, error,
	condition, is_skipped FROM command_logs`

func scanCommandLog(row scanner) (*types.CommandLog, error) {
	var l types.CommandLog
	var running, skipped int
	var start, finish sql.NullInt64
	var sudo string
	if err := row.Scan(&l.ID, &l.ServerID, &l.CommandID, &l.PlanLogID, &l.TriggeredPlanLogID, &l.RunID, &l.Label,
		&running, &start, &finish, &l.Duration, &l.Path, &l.Code, &sudo, &l.Status, &l.Response, &l.Error,
		&l.Condition, &skipped); err != nil {
		return nil, err
	}
	l.IsRunning = intToBool(running)
	l.IsSkipped = intToBool(skipped)
	l.StartDate = fromUnixNano(start)
	l.FinishDate = fromUnixNano(finish)
	l.UseSudo = types.SudoMode(sudo)
	return &l, nil
}

func (s *Store) GetCommandLog(id int64) (*types.CommandLog, error) {
	l, err := scanCommandLog(s.db.QueryRow(commandLogSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("command log", fmt.Sprint(id))
	}
	if err != nil {
		return nil, storageErr("load command log", err)
	}
	return l, nil
}

// ListCommandLogs returns command logs in creation order.
func (s *Store) ListCommandLogs(f LogFilter) ([]types.CommandLog, error) {
	where, args := f.where(true)
	rows, err := s.db.Query(commandLogSelect+` WHERE `+where+` ORDER BY id`+f.limit(), args...)
	if err != nil {
		return nil, storageErr("list command logs", err)
	}
	defer rows.Close()
	var out []types.CommandLog
	for rows.Next() {
		l, err := scanCommandLog(rows)
		if err != nil {
			return nil, storageErr("scan command log", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// StartPlanLog inserts a running plan log and sets log.ID, refusing with
// CONCURRENCY_REFUSAL when exclusive and the (server, plan) pair is already running.
func (s *Store) StartPlanLog(log *types.PlanLog, exclusive bool) error {
	if log.StartDate.IsZero() {
		log.StartDate = s.now()
	}
	log.IsRunning = true
	res, err := s.db.Exec(`INSERT INTO plan_logs(server_id, plan_id, parent_plan_log_id, run_id, label, is_running, exclusive, start_date)
		SELECT ?,?,?,?,?,1,?,?
		WHERE ? = 0 OR NOT EXISTS (
			SELECT 1 FROM plan_logs WHERE server_id = ? AND plan_id = ? AND is_running = 1)`,
		log.ServerID, log.PlanID, nullID(log.ParentPlanLogID), log.RunID, log.Label, boolToInt(exclusive),
		log.StartDate.UnixNano(), boolToInt(exclusive), log.ServerID, log.PlanID)
	if isUniqueViolation(err) {
		return refusal("plan")
	}
	if err != nil {
		return storageErr("start plan log", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return refusal("plan")
	}
	if log.ID, err = res.LastInsertId(); err != nil {
		return storageErr("start plan log", err)
	}
	return nil
}

// SetPlanLineExecuted moves the executing-line pointer of a running plan log.
func (s *Store) SetPlanLineExecuted(planLogID, lineID int64) error {
	_, err := s.db.Exec(`UPDATE plan_logs SET plan_line_executed_id = ? WHERE id = ? AND is_running = 1`, nullID(lineID), planLogID)
	if err != nil {
		return storageErr("update plan log line", err)
	}
	return nil
}

// FinishPlanLog writes the final status of a running plan log exactly once.
func (s *Store) FinishPlanLog(log *types.PlanLog) error {
	s.finishTimes(&log.StartDate, &log.FinishDate, &log.Duration)
	log.IsRunning = false
	res, err := s.db.Exec(`UPDATE plan_logs SET is_running = 0, finish_date = ?, duration = ?, plan_status = ?,
			plan_line_executed_id = ?
		WHERE id = ? AND is_running = 1`,
		log.FinishDate.UnixNano(), log.Duration, log.PlanStatus, nullID(log.PlanLineExecutedID), log.ID)
	if err != nil {
		return storageErr("finish plan log", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrCodeConflict, fmt.Sprintf("plan log %d is not running", log.ID))
	}
	return nil
}

const planLogSelect = `SELECT id, server_id, plan_id, COALESCE(parent_plan_log_id, 0), run_id, label, is_running,
	start_date, finish_date, duration, COALESCE(plan_line_executed_id, 0), plan_status FROM plan_logs`

func scanPlanLog(row scanner) (*types.PlanLog, error) {
	var l types.PlanLog
	var running int
	var start, finish sql.NullInt64
	if err := row.Scan(&l.ID, &l.ServerID, &l.PlanID, &l.ParentPlanLogID, &l.RunID, &l.Label, &running,
		&start, &finish, &l.Duration, &l.PlanLineExecutedID, &l.PlanStatus); err != nil {
		return nil, err
	}
	l.IsRunning = intToBool(running)
	l.StartDate = fromUnixNano(start)
	l.FinishDate = fromUnixNano(finish)
	return &l, nil
}

func (s *Store) GetPlanLog(id int64) (*types.PlanLog, error) {
	l, err := scanPlanLog(s.db.QueryRow(planLogSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("plan log", fmt.Sprint(id))
	}
	if err != nil {
		return nil, storageErr("load plan log", err)
	}
	return l, nil
}

func (s *Store) ListPlanLogs(f LogFilter) ([]types.PlanLog, error) {
	where, args := f.where(false)
	rows, err := s.db.Query(planLogSelect+` WHERE `+where+` ORDER BY id`+f.limit(), args...)
	if err != nil {
		return nil, storageErr("list plan logs", err)
	}
	defer rows.Close()
	var out []types.PlanLog
	for rows.Next() {
		l, err := scanPlanLog(rows)
		if err != nil {
			return nil, storageErr("scan plan log", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}
