package assets

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
)

// ChangeListener is notified after a publish or rollback changes the
// published row for an identity. Listeners invalidate derived caches
// (tool registry, source connections, planner config).
type ChangeListener func(asset *models.Asset)

// Service is the asset registry: draft lifecycle, atomic publish with
// safety validation, rollback via republish, and audit.
type Service struct {
	store *Store

	mu        sync.RWMutex
	listeners []ChangeListener
}

// NewService creates the registry service over a store.
func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Subscribe registers a listener for published-asset changes.
func (s *Service) Subscribe(l ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) notify(asset *models.Asset) {
	s.mu.RLock()
	listeners := make([]ChangeListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(asset)
	}
}

// Get returns an asset by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Asset, error) {
	return s.store.GetByID(ctx, id)
}

// GetPublished returns the published asset for an identity.
func (s *Service) GetPublished(ctx context.Context, typ models.AssetType, scope, name, tenantID string) (*models.Asset, error) {
	return s.store.GetPublished(ctx, typ, scope, name, tenantID)
}

// List returns assets matching the filters.
func (s *Service) List(ctx context.Context, f models.AssetFilters) (*models.AssetListResponse, error) {
	assets, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return &models.AssetListResponse{
		Assets:     assets,
		TotalCount: total,
		Limit:      limit,
		Offset:     f.Offset,
	}, nil
}

// CreateDraft creates a new draft version of an asset. Content is accepted
// as-is; safety validation runs at publish.
func (s *Service) CreateDraft(ctx context.Context, req models.CreateAssetRequest) (*models.Asset, error) {
	if req.Name == "" || req.Type == "" {
		return nil, errcode.New(errcode.ValidationFailed, "asset name and type are required")
	}
	valid := false
	for _, t := range models.ValidAssetTypes {
		if req.Type == t {
			valid = true
			break
		}
	}
	if !valid {
		return nil, errcode.Newf(errcode.ValidationFailed, "unknown asset type %q", req.Type)
	}
	if req.Scope == "" {
		req.Scope = DefaultScope
	}
	if !json.Valid(req.Content) {
		return nil, errcode.New(errcode.ValidationFailed, "content must be valid JSON")
	}

	asset, err := s.store.InsertDraft(ctx, req)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, asset, "create_draft", req.Actor, "")
	return asset, nil
}

// UpdateDraft replaces a draft's content.
func (s *Service) UpdateDraft(ctx context.Context, id string, req models.UpdateAssetRequest) (*models.Asset, error) {
	if !json.Valid(req.Content) {
		return nil, errcode.New(errcode.ValidationFailed, "content must be valid JSON")
	}
	if err := s.store.UpdateDraft(ctx, id, req.Content); err != nil {
		return nil, err
	}
	asset, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, asset, "update_draft", req.Actor, "")
	return asset, nil
}

// Publish validates a draft's content per type, then promotes it atomically.
// The previous published version is archived and a version snapshot is
// recorded, so rollback is always possible.
func (s *Service) Publish(ctx context.Context, id, actor string) (*models.Asset, error) {
	draft, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.Status != models.AssetStatusDraft {
		return nil, ErrNotDraft
	}

	auditDetail := ""
	switch draft.Type {
	case models.AssetTypeTool:
		if err := validateToolContent(draft.Content); err != nil {
			return nil, err
		}
	case models.AssetTypeSource:
		devMode, err := validateSourceContent(draft.Content)
		if err != nil {
			return nil, err
		}
		if devMode {
			auditDetail = "published with dev_mode plaintext credential"
			slog.Warn("Source asset published with dev_mode plaintext credential",
				"asset", draft.Name, "tenant", draft.TenantID)
		}
	case models.AssetTypeQuery:
		if err := validateQueryContent(draft.Content); err != nil {
			return nil, err
		}
	default:
		if err := checkCredentialShapedFields("", draft.Content); err != nil {
			return nil, err
		}
	}

	published, err := s.store.Publish(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, published, "publish", actor, auditDetail)
	s.notify(published)
	slog.Info("Published asset",
		"type", published.Type, "name", published.Name,
		"version", published.Version, "tenant", published.TenantID)
	return published, nil
}

// Rollback republishes a historical version: its recorded content becomes a
// new draft which is immediately published. The version counter only moves
// forward.
func (s *Service) Rollback(ctx context.Context, id string, targetVersion int, actor string) (*models.Asset, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := s.store.GetVersionSnapshot(ctx,
		current.Type, current.Scope, current.Name, current.TenantID, targetVersion)
	if err != nil {
		return nil, err
	}

	draft, err := s.store.InsertDraft(ctx, models.CreateAssetRequest{
		Type:     current.Type,
		Name:     current.Name,
		Scope:    current.Scope,
		TenantID: current.TenantID,
		Content:  content,
		IsSystem: current.IsSystem,
		ToolType: current.ToolType,
		Actor:    actor,
	})
	if err != nil {
		return nil, err
	}

	published, err := s.store.Publish(ctx, draft.ID, actor)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, published, "rollback", actor,
		"restored content of version "+strconv.Itoa(targetVersion))
	s.notify(published)
	slog.Info("Rolled back asset",
		"type", published.Type, "name", published.Name,
		"restored_version", targetVersion, "new_version", published.Version)
	return published, nil
}

// Delete removes a draft or archived asset.
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	asset, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, asset, "delete", actor, "")
	return nil
}

// ListAudit returns recent audit entries for a resource type.
func (s *Service) ListAudit(ctx context.Context, resourceType string, limit int) ([]*models.AuditEvent, error) {
	return s.store.ListAudit(ctx, resourceType, limit)
}

func (s *Service) audit(ctx context.Context, asset *models.Asset, action, actor, detail string) {
	err := s.store.AppendAudit(ctx, models.AuditEvent{
		ResourceType: string(asset.Type),
		ResourceID:   asset.ID,
		Action:       action,
		Actor:        actor,
		Detail:       detail,
	})
	if err != nil {
		slog.Error("Failed to append audit event",
			"action", action, "asset", asset.Name, "error", err)
	}
}
