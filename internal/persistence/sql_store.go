package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/petrijr/pipehost/pkg/api"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	placeholder func(n int) string
	schema      []string
}

// sqlStore implements RunStore and EventStore over database/sql. The
// SQLite and PostgreSQL stores embed it with their dialect.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) initSchema(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// bind rewrites "?" placeholders for the dialect.
func (s *sqlStore) bind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) SaveRun(ctx context.Context, run *api.PipelineRun) error {
	if run == nil {
		return errNilRun
	}
	body, err := encodeRunBody(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.bind(`
		INSERT INTO runs (run_id, pipeline_name, status, created_at, updated_at, body)
		VALUES (?, ?, ?, ?, ?, ?)`),
		run.RunID,
		run.PipelineName,
		string(run.Status),
		nanos(run.CreatedAt),
		nanos(run.UpdatedAt),
		body,
	)
	return err
}

func (s *sqlStore) UpdateRun(ctx context.Context, run *api.PipelineRun) error {
	if run == nil {
		return errNilRun
	}
	body, err := encodeRunBody(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.bind(`
		UPDATE runs
		SET pipeline_name = ?, status = ?, updated_at = ?, body = ?
		WHERE run_id = ?`),
		run.PipelineName,
		string(run.Status),
		nanos(run.UpdatedAt),
		body,
		run.RunID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrRunNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*api.PipelineRun, error) {
	var run api.PipelineRun
	var status string
	var created, updated int64
	var body []byte

	if err := row.Scan(&run.RunID, &run.PipelineName, &status, &created, &updated, &body); err != nil {
		return nil, err
	}
	run.Status = api.RunStatus(status)
	run.CreatedAt = unixNano(created)
	run.UpdatedAt = unixNano(updated)
	if err := decodeRunBody(body, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", run.RunID, err)
	}
	return &run, nil
}

func (s *sqlStore) GetRun(ctx context.Context, runID string) (*api.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`
		SELECT run_id, pipeline_name, status, created_at, updated_at, body
		FROM runs
		WHERE run_id = ?`),
		runID,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *sqlStore) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.PipelineRun, error) {
	query := `
		SELECT run_id, pipeline_name, status, created_at, updated_at, body
		FROM runs`
	var args []any
	var clauses []string

	if filter.PipelineName != "" {
		clauses = append(clauses, "pipeline_name = ?")
		args = append(args, filter.PipelineName)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC, run_id ASC"

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*api.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *sqlStore) AppendEvent(ctx context.Context, ev *api.EngineEvent) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.bind(`
		INSERT INTO run_events (run_id, event_id, type, at, body)
		VALUES (?, ?, ?, ?, ?)`),
		ev.RunID,
		ev.EventID,
		string(ev.Type),
		nanos(ev.At),
		body,
	)
	return err
}

func (s *sqlStore) ListEvents(ctx context.Context, runID string) ([]*api.EngineEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT body
		FROM run_events
		WHERE run_id = ?
		ORDER BY id ASC`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*api.EngineEvent
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		ev, err := decodeEvent(body)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
