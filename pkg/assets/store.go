// Package assets implements the versioned registry of orchestrator
// configuration: prompts, queries, mappings, policies, sources, catalogs,
// and tools. Rows move draft → published → archived; publish is atomic and
// at most one published row exists per (type, scope, name, tenant).
package assets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opsintel/opsiq/pkg/models"
)

var (
	// ErrNotFound is returned when an asset is not found.
	ErrNotFound = errors.New("asset not found")

	// ErrNotDraft is returned when a lifecycle operation needs a draft row.
	ErrNotDraft = errors.New("asset is not a draft")

	// ErrSystemAsset is returned when a protected system asset would be
	// deleted or renamed.
	ErrSystemAsset = errors.New("system asset is immutable")
)

// Store persists assets, version history, and audit rows.
type Store struct {
	db *sql.DB
}

// NewStore creates an asset store over the shared database pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const assetColumns = `id, type, name, scope, version, status, tenant_id, content,
	is_system, tool_type, created_by, created_at, published_by, published_at`

func scanAsset(row interface{ Scan(...any) error }) (*models.Asset, error) {
	a := &models.Asset{}
	var publishedAt sql.NullTime
	err := row.Scan(&a.ID, &a.Type, &a.Name, &a.Scope, &a.Version, &a.Status,
		&a.TenantID, &a.Content, &a.IsSystem, &a.ToolType, &a.CreatedBy,
		&a.CreatedAt, &a.PublishedBy, &publishedAt)
	if err != nil {
		return nil, err
	}
	if publishedAt.Valid {
		a.PublishedAt = &publishedAt.Time
	}
	return a, nil
}

// GetPublished returns the single published asset or ErrNotFound.
func (s *Store) GetPublished(ctx context.Context, typ models.AssetType, scope, name, tenantID string) (*models.Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets
		 WHERE type = $1 AND scope = $2 AND name = $3 AND tenant_id = $4 AND status = 'published'`,
		typ, scope, name, tenantID)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return asset, err
}

// GetByID returns any asset row by id.
func (s *Store) GetByID(ctx context.Context, id string) (*models.Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return asset, err
}

// List returns assets matching the filters, newest first.
func (s *Store) List(ctx context.Context, f models.AssetFilters) ([]*models.Asset, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	add := func(cond string, value any) {
		args = append(args, value)
		where += fmt.Sprintf(" AND %s = $%d", cond, len(args))
	}
	if f.Type != "" {
		add("type", f.Type)
	}
	if f.Scope != "" {
		add("scope", f.Scope)
	}
	if f.Name != "" {
		add("name", f.Name)
	}
	if f.TenantID != "" {
		add("tenant_id", f.TenantID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.ToolType != "" {
		add("tool_type", f.ToolType)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assets `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, f.Offset)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM assets %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			assetColumns, where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*models.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, asset)
	}
	return result, total, rows.Err()
}

// InsertDraft creates a new draft row. The version is one above the highest
// existing version for the same identity.
func (s *Store) InsertDraft(ctx context.Context, req models.CreateAssetRequest) (*models.Asset, error) {
	id := uuid.NewString()
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM assets
		 WHERE type = $1 AND scope = $2 AND name = $3 AND tenant_id = $4`,
		req.Type, req.Scope, req.Name, req.TenantID).Scan(&version)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assets (id, type, name, scope, version, status, tenant_id,
			content, is_system, tool_type, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, 'draft', $6, $7, $8, $9, $10, now())`,
		id, req.Type, req.Name, req.Scope, version, req.TenantID,
		req.Content, req.IsSystem, req.ToolType, req.Actor)
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// UpdateDraft replaces a draft's content.
func (s *Store) UpdateDraft(ctx context.Context, id string, content json.RawMessage) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE assets SET content = $2 WHERE id = $1 AND status = 'draft'`,
		id, content)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotDraft
	}
	return nil
}

// Publish promotes a draft in one transaction: the previous published row
// for the same identity is archived, the draft becomes published, and a
// snapshot is appended to the version history.
func (s *Store) Publish(ctx context.Context, id, actor string) (*models.Asset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1 FOR UPDATE`, id)
	draft, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if draft.Status != models.AssetStatusDraft {
		return nil, ErrNotDraft
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE assets SET status = 'archived'
		 WHERE type = $1 AND scope = $2 AND name = $3 AND tenant_id = $4 AND status = 'published'`,
		draft.Type, draft.Scope, draft.Name, draft.TenantID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE assets SET status = 'published', published_by = $2, published_at = $3
		 WHERE id = $1`,
		id, actor, now); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO asset_versions (asset_id, type, name, scope, tenant_id, version, content, actor)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		draft.ID, draft.Type, draft.Name, draft.Scope, draft.TenantID,
		draft.Version, draft.Content, actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// GetVersionSnapshot returns the recorded content for a historical version.
func (s *Store) GetVersionSnapshot(ctx context.Context, typ models.AssetType, scope, name, tenantID string, version int) (json.RawMessage, error) {
	var content json.RawMessage
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM asset_versions
		 WHERE type = $1 AND scope = $2 AND name = $3 AND tenant_id = $4 AND version = $5
		 ORDER BY id DESC LIMIT 1`,
		typ, scope, name, tenantID, version).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return content, err
}

// Delete removes a draft or archived row. System assets cannot be deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	asset, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if asset.IsSystem {
		return ErrSystemAsset
	}
	if asset.Status == models.AssetStatusPublished {
		return fmt.Errorf("cannot delete a published asset")
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = $1`, id)
	return err
}

// AppendAudit records one configuration change event.
func (s *Store) AppendAudit(ctx context.Context, event models.AuditEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (resource_type, resource_id, action, actor, detail)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.ResourceType, event.ResourceID, event.Action, event.Actor, event.Detail)
	return err
}

// ListAudit returns recent audit rows for a resource type.
func (s *Store) ListAudit(ctx context.Context, resourceType string, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, resource_type, resource_id, action, actor, detail, created_at
		 FROM audit_log WHERE resource_type = $1
		 ORDER BY created_at DESC LIMIT $2`,
		resourceType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		e := &models.AuditEvent{}
		if err := rows.Scan(&e.ID, &e.ResourceType, &e.ResourceID, &e.Action,
			&e.Actor, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
