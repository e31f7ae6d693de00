package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sicko7947/world"
)

var _ world.RowStore = (*SQLStore)(nil)

type scanner interface {
	Scan(dest ...any) error
}

// Column encoding: JSON documents as TEXT, timestamps as unix milliseconds

func nullJSON(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid {
		return nil
	}
	return json.RawMessage(ns.String)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

// pageSQL appends the cursor bound, ordering and limit to a filtered select
func pageSQL(where []string, args []any, idColumn string, page world.PageQuery) (string, []any) {
	dir := "ASC"
	if page.Order == world.SortDesc {
		dir = "DESC"
	}
	if page.Cursor != "" {
		op := ">"
		if page.Order == world.SortDesc {
			op = "<"
		}
		where = append(where, idColumn+" "+op+" ?")
		args = append(args, page.Cursor)
	}

	var b strings.Builder
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY " + idColumn + " " + dir)
	if page.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, page.Limit)
	}
	return b.String(), args
}

func queryAll[T any](ctx context.Context, s *SQLStore, entity, query string, args []any, scan func(scanner) (*T, error)) ([]*T, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, world.Unavailable("query "+entity, err)
	}
	defer rows.Close()

	out := make([]*T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, world.Unavailable("query "+entity, err)
	}
	return out, nil
}

func getOne[T any](ctx context.Context, s *SQLStore, entity, id, query string, scan func(scanner) (*T, error)) (*T, error) {
	v, err := scan(s.queryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, world.NotFound(entity, id)
		}
		return nil, err
	}
	return v, nil
}

// insertNew runs an INSERT … ON CONFLICT DO NOTHING and maps a skipped row
// to a conflict
func (s *SQLStore) insertNew(ctx context.Context, entity, id, query string, args ...any) error {
	n, err := s.exec(ctx, query, args...)
	if err != nil {
		return world.Unavailable("insert "+entity, err)
	}
	if n == 0 {
		return world.Conflict(entity, id)
	}
	return nil
}

// Run operations

const runColumns = "run_id, workflow_name, deployment_id, status, input, output, execution_context, error, created_at, updated_at, started_at, completed_at"

func runArgs(run *world.Run) ([]any, error) {
	input := run.Input
	if input == nil {
		input = []json.RawMessage{}
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, world.InvalidArgument("run input is not valid JSON: %v", err)
	}
	var errJSON sql.NullString
	if run.Error != nil {
		b, err := json.Marshal(run.Error)
		if err != nil {
			return nil, world.Internal("encode run error", err)
		}
		errJSON = nullJSON(b)
	}
	return []any{
		run.RunID,
		run.WorkflowName,
		run.DeploymentID,
		string(run.Status),
		string(inputJSON),
		nullJSON(run.Output),
		nullJSON(run.ExecutionContext),
		errJSON,
		run.CreatedAt.UnixMilli(),
		run.UpdatedAt.UnixMilli(),
		nullMillis(run.StartedAt),
		nullMillis(run.CompletedAt),
	}, nil
}

func scanRun(row scanner) (*world.Run, error) {
	var (
		run                      world.Run
		status, input            string
		output, execCtx, errJSON sql.NullString
		createdAt, updatedAt     int64
		startedAt, completedAt   sql.NullInt64
	)
	err := row.Scan(&run.RunID, &run.WorkflowName, &run.DeploymentID, &status, &input,
		&output, &execCtx, &errJSON, &createdAt, &updatedAt, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, world.Unavailable("scan run", err)
	}

	run.Status = world.RunStatus(status)
	if err := json.Unmarshal([]byte(input), &run.Input); err != nil {
		return nil, world.Internal("decode run input", err)
	}
	run.Output = rawJSON(output)
	run.ExecutionContext = rawJSON(execCtx)
	if errJSON.Valid {
		run.Error = &world.RunError{}
		if err := json.Unmarshal([]byte(errJSON.String), run.Error); err != nil {
			return nil, world.Internal("decode run error", err)
		}
	}
	run.CreatedAt = fromMillis(createdAt)
	run.UpdatedAt = fromMillis(updatedAt)
	run.StartedAt = timePtr(startedAt)
	run.CompletedAt = timePtr(completedAt)
	return &run, nil
}

func (s *SQLStore) InsertRun(ctx context.Context, run *world.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	return s.insertNew(ctx, "run", run.RunID,
		`INSERT INTO world_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		args...)
}

func (s *SQLStore) GetRun(ctx context.Context, runID string) (*world.Run, error) {
	return getOne(ctx, s, "run", runID, `SELECT `+runColumns+` FROM world_runs WHERE run_id = ?`, scanRun)
}

func (s *SQLStore) UpdateRun(ctx context.Context, run *world.Run, expect world.RunStatus) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	// Move run_id from the front to the WHERE clause
	args = append(args[1:], run.RunID)

	query := `UPDATE world_runs SET workflow_name = ?, deployment_id = ?, status = ?, input = ?, output = ?,
		execution_context = ?, error = ?, created_at = ?, updated_at = ?, started_at = ?, completed_at = ?
		WHERE run_id = ?`
	if expect != "" {
		query += ` AND status = ?`
		args = append(args, string(expect))
	}

	n, err := s.exec(ctx, query, args...)
	if err != nil {
		return world.Unavailable("update run", err)
	}
	if n == 0 {
		if expect != "" {
			return world.NotFound("run with status "+expect.String(), run.RunID)
		}
		return world.NotFound("run", run.RunID)
	}
	return nil
}

func (s *SQLStore) QueryRuns(ctx context.Context, q world.RunQuery) ([]*world.Run, error) {
	var where []string
	var args []any
	if q.WorkflowName != "" {
		where = append(where, "workflow_name = ?")
		args = append(args, q.WorkflowName)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	tail, args := pageSQL(where, args, "run_id", q.Page)
	return queryAll(ctx, s, "runs", `SELECT `+runColumns+` FROM world_runs`+tail, args, scanRun)
}

// Event operations

const eventColumns = "event_id, run_id, correlation_id, event_type, event_data, created_at"

func scanEvent(row scanner) (*world.Event, error) {
	var (
		event       world.Event
		correlation sql.NullString
		data        sql.NullString
		createdAt   int64
	)
	err := row.Scan(&event.EventID, &event.RunID, &correlation, &event.EventType, &data, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, world.Unavailable("scan event", err)
	}
	event.CorrelationID = correlation.String
	event.EventData = rawJSON(data)
	event.CreatedAt = fromMillis(createdAt)
	return &event, nil
}

func (s *SQLStore) InsertEvent(ctx context.Context, event *world.Event) error {
	correlation := sql.NullString{String: event.CorrelationID, Valid: event.CorrelationID != ""}
	return s.insertNew(ctx, "event", event.EventID,
		`INSERT INTO world_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		event.EventID, event.RunID, correlation, event.EventType, nullJSON(event.EventData), event.CreatedAt.UnixMilli())
}

func (s *SQLStore) GetEvent(ctx context.Context, eventID string) (*world.Event, error) {
	return getOne(ctx, s, "event", eventID, `SELECT `+eventColumns+` FROM world_events WHERE event_id = ?`, scanEvent)
}

func (s *SQLStore) QueryEvents(ctx context.Context, q world.EventQuery) ([]*world.Event, error) {
	var where []string
	var args []any
	if q.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, q.RunID)
	}
	if q.CorrelationID != "" {
		where = append(where, "correlation_id = ?")
		args = append(args, q.CorrelationID)
	}
	if len(where) == 0 {
		return nil, world.InvalidArgument("event query needs runId or correlationId")
	}
	tail, args := pageSQL(where, args, "event_id", q.Page)
	return queryAll(ctx, s, "events", `SELECT `+eventColumns+` FROM world_events`+tail, args, scanEvent)
}

// Step operations

const stepColumns = "step_id, run_id, step_name, status, attempt, input, output, error, error_code, started_at, completed_at, created_at, updated_at"

func stepArgs(step *world.Step) []any {
	return []any{
		step.StepID,
		step.RunID,
		step.StepName,
		string(step.Status),
		step.Attempt,
		nullJSON(step.Input),
		nullJSON(step.Output),
		nullString(step.Error),
		nullString(step.ErrorCode),
		nullMillis(step.StartedAt),
		nullMillis(step.CompletedAt),
		step.CreatedAt.UnixMilli(),
		step.UpdatedAt.UnixMilli(),
	}
}

func scanStep(row scanner) (*world.Step, error) {
	var (
		step                   world.Step
		status                 string
		input, output          sql.NullString
		errMsg, errCode        sql.NullString
		startedAt, completedAt sql.NullInt64
		createdAt, updatedAt   int64
	)
	err := row.Scan(&step.StepID, &step.RunID, &step.StepName, &status, &step.Attempt, &input, &output,
		&errMsg, &errCode, &startedAt, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, world.Unavailable("scan step", err)
	}
	step.Status = world.StepStatus(status)
	step.Input = rawJSON(input)
	step.Output = rawJSON(output)
	step.Error = stringPtr(errMsg)
	step.ErrorCode = stringPtr(errCode)
	step.StartedAt = timePtr(startedAt)
	step.CompletedAt = timePtr(completedAt)
	step.CreatedAt = fromMillis(createdAt)
	step.UpdatedAt = fromMillis(updatedAt)
	return &step, nil
}

func (s *SQLStore) InsertStep(ctx context.Context, step *world.Step) error {
	return s.insertNew(ctx, "step", step.StepID,
		`INSERT INTO world_steps (`+stepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		stepArgs(step)...)
}

func (s *SQLStore) GetStep(ctx context.Context, stepID string) (*world.Step, error) {
	return getOne(ctx, s, "step", stepID, `SELECT `+stepColumns+` FROM world_steps WHERE step_id = ?`, scanStep)
}

func (s *SQLStore) UpdateStep(ctx context.Context, step *world.Step) error {
	args := append(stepArgs(step)[1:], step.StepID)
	n, err := s.exec(ctx, `UPDATE world_steps SET run_id = ?, step_name = ?, status = ?, attempt = ?, input = ?,
		output = ?, error = ?, error_code = ?, started_at = ?, completed_at = ?, created_at = ?, updated_at = ?
		WHERE step_id = ?`, args...)
	if err != nil {
		return world.Unavailable("update step", err)
	}
	if n == 0 {
		return world.NotFound("step", step.StepID)
	}
	return nil
}

func (s *SQLStore) QuerySteps(ctx context.Context, q world.StepQuery) ([]*world.Step, error) {
	tail, args := pageSQL([]string{"run_id = ?"}, []any{q.RunID}, "step_id", q.Page)
	return queryAll(ctx, s, "steps", `SELECT `+stepColumns+` FROM world_steps`+tail, args, scanStep)
}

// Hook operations

const hookColumns = "hook_id, run_id, token, owner_id, project_id, environment, metadata, created_at"

func scanHook(row scanner) (*world.Hook, error) {
	var (
		hook      world.Hook
		metadata  sql.NullString
		createdAt int64
	)
	err := row.Scan(&hook.HookID, &hook.RunID, &hook.Token, &hook.OwnerID, &hook.ProjectID,
		&hook.Environment, &metadata, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, world.Unavailable("scan hook", err)
	}
	hook.Metadata = rawJSON(metadata)
	hook.CreatedAt = fromMillis(createdAt)
	return &hook, nil
}

func (s *SQLStore) InsertHook(ctx context.Context, hook *world.Hook) error {
	err := s.insertNew(ctx, "hook", hook.HookID,
		`INSERT INTO world_hooks (`+hookColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		hook.HookID, hook.RunID, hook.Token, hook.OwnerID, hook.ProjectID, hook.Environment,
		nullJSON(hook.Metadata), hook.CreatedAt.UnixMilli())
	if !world.IsConflict(err) {
		return err
	}

	// Either the id or the token was taken
	var one int
	lookupErr := s.queryRow(ctx, `SELECT 1 FROM world_hooks WHERE hook_id = ?`, hook.HookID).Scan(&one)
	if errors.Is(lookupErr, sql.ErrNoRows) {
		return world.Conflict("hook token", hook.Token)
	}
	return err
}

func (s *SQLStore) GetHook(ctx context.Context, hookID string) (*world.Hook, error) {
	return getOne(ctx, s, "hook", hookID, `SELECT `+hookColumns+` FROM world_hooks WHERE hook_id = ?`, scanHook)
}

func (s *SQLStore) GetHookByToken(ctx context.Context, token string) (*world.Hook, error) {
	return getOne(ctx, s, "hook token", token, `SELECT `+hookColumns+` FROM world_hooks WHERE token = ?`, scanHook)
}

func (s *SQLStore) QueryHooks(ctx context.Context, q world.HookQuery) ([]*world.Hook, error) {
	var where []string
	var args []any
	if q.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, q.RunID)
	}
	tail, args := pageSQL(where, args, "hook_id", q.Page)
	return queryAll(ctx, s, "hooks", `SELECT `+hookColumns+` FROM world_hooks`+tail, args, scanHook)
}
