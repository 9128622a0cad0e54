package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opsintel/opsiq/pkg/models"
)

// ErrNotFound is returned when a trace does not exist.
var ErrNotFound = errors.New("trace not found")

// Store persists finished traces and query history. Traces are append-only:
// written once on finish, never updated.
type Store struct {
	db *sql.DB
}

// NewStore creates a trace store over the shared database pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save writes a finished trace. The header columns support listing and
// search; the full body is one JSONB blob.
func (s *Store) Save(ctx context.Context, trace *models.ExecutionTrace) error {
	body, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("marshaling trace: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO traces (trace_id, parent_trace_id, tenant_id, question,
			status, duration_ms, created_at, finished_at, body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		trace.TraceID, nullable(trace.ParentTraceID), trace.TenantID, trace.Question,
		trace.Status, trace.DurationMs, trace.CreatedAt, trace.FinishedAt, body)
	return err
}

// Get returns a full trace by id.
func (s *Store) Get(ctx context.Context, traceID string) (*models.ExecutionTrace, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM traces WHERE trace_id = $1`, traceID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	trace := &models.ExecutionTrace{}
	if err := json.Unmarshal(body, trace); err != nil {
		return nil, fmt.Errorf("unmarshaling trace %s: %w", traceID, err)
	}
	return trace, nil
}

// List returns trace headers matching the filters, newest first. Bodies are
// omitted; clients fetch a full trace by id.
func (s *Store) List(ctx context.Context, f models.TraceFilters) (*models.TraceListResponse, error) {
	where := "WHERE 1=1"
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		where += fmt.Sprintf(" AND "+clause, len(args))
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.Query != "" {
		add("question ILIKE $%d", "%"+f.Query+"%")
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM traces `+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT trace_id, parent_trace_id, tenant_id, question, status,
			duration_ms, created_at, finished_at
		 FROM traces %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traces []*models.ExecutionTrace
	for rows.Next() {
		t := &models.ExecutionTrace{}
		var parent sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&t.TraceID, &parent, &t.TenantID, &t.Question,
			&t.Status, &t.DurationMs, &t.CreatedAt, &finished); err != nil {
			return nil, err
		}
		t.ParentTraceID = parent.String
		if finished.Valid {
			t.FinishedAt = &finished.Time
		}
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &models.TraceListResponse{
		Traces:     traces,
		TotalCount: total,
		Limit:      limit,
		Offset:     f.Offset,
	}, nil
}

// DeleteOlderThan removes traces past the retention horizon. Returns the
// number of rows removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM traces WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// AppendHistory records one answered question.
func (s *Store) AppendHistory(ctx context.Context, entry models.QueryHistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_history (tenant_id, question, plan_kind, plan_summary, status, trace_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.TenantID, entry.Question, entry.PlanKind, entry.PlanSummary,
		entry.Status, entry.TraceID)
	return err
}

// ListHistory returns recent history for a tenant, newest first.
func (s *Store) ListHistory(ctx context.Context, tenantID string, limit int) ([]*models.QueryHistoryEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, question, plan_kind, plan_summary, status, trace_id, created_at
		 FROM query_history WHERE tenant_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.QueryHistoryEntry
	for rows.Next() {
		e := &models.QueryHistoryEntry{}
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Question, &e.PlanKind,
			&e.PlanSummary, &e.Status, &e.TraceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteHistoryOlderThan removes history rows past the retention horizon.
func (s *Store) DeleteHistoryOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM query_history WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
