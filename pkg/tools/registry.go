// Package tools holds the in-process tool registry and the uniform execution
// pipeline that every tool call goes through regardless of backend.
package tools

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/models"
)

// Registry is the in-process view of published tool assets, keyed by name
// and indexed by kind and capability. Publish events invalidate it; the next
// read repopulates from the Asset Registry.
type Registry struct {
	service  *assets.Service
	tenantID string

	mu         sync.RWMutex
	loaded     bool
	byName     map[string]*models.ToolSpec
	aliases    map[string]string
	byKind     map[models.ToolKind][]*models.ToolSpec
	byCapacity map[string][]*models.ToolSpec
}

// NewRegistry creates a registry scoped to one tenant's published tools.
// It subscribes to the registry service so a tool publish drops the view.
func NewRegistry(service *assets.Service, tenantID string) *Registry {
	r := &Registry{service: service, tenantID: tenantID}
	service.Subscribe(func(asset *models.Asset) {
		if asset.Type == models.AssetTypeTool {
			r.Invalidate()
		}
	})
	return r
}

// Refresh repopulates the registry from published tool assets.
func (r *Registry) Refresh(ctx context.Context) error {
	list, err := r.service.List(ctx, models.AssetFilters{
		Type:     models.AssetTypeTool,
		TenantID: r.tenantID,
		Status:   models.AssetStatusPublished,
		Limit:    500,
	})
	if err != nil {
		return err
	}

	byName := make(map[string]*models.ToolSpec)
	aliases := make(map[string]string)
	byKind := make(map[models.ToolKind][]*models.ToolSpec)
	byCapacity := make(map[string][]*models.ToolSpec)

	for _, asset := range list.Assets {
		spec := &models.ToolSpec{}
		if err := asset.DecodeContent(spec); err != nil {
			slog.Warn("Skipping tool asset with invalid content",
				"asset", asset.Name, "error", err)
			continue
		}
		spec.AssetVersion = asset.Version
		byName[spec.Name] = spec
		for _, alias := range spec.Aliases {
			aliases[alias] = spec.Name
		}
		byKind[spec.Kind] = append(byKind[spec.Kind], spec)
		for _, capability := range spec.Capabilities {
			byCapacity[capability] = append(byCapacity[capability], spec)
		}
	}

	r.mu.Lock()
	r.byName = byName
	r.aliases = aliases
	r.byKind = byKind
	r.byCapacity = byCapacity
	r.loaded = true
	r.mu.Unlock()

	slog.Info("Tool registry refreshed", "tools", len(byName), "tenant", r.tenantID)
	return nil
}

// ensure lazily populates on first read after an invalidation.
func (r *Registry) ensure(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	return r.Refresh(ctx)
}

// Lookup returns the spec for a canonical tool name.
func (r *Registry) Lookup(name string) (*models.ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.byName[name]
	return spec, ok
}

// Canonical resolves a name or alias to the canonical tool name.
func (r *Registry) Canonical(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.byName[name]; ok {
		return name, true
	}
	if canonical, ok := r.aliases[name]; ok {
		return canonical, true
	}
	return "", false
}

// ByKind returns every tool of a kind.
func (r *Registry) ByKind(kind models.ToolKind) []*models.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKind[kind]
}

// ByCapability returns every tool declaring a capability.
func (r *Registry) ByCapability(capability string) []*models.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byCapacity[capability]
}

// All returns every registered tool spec.
func (r *Registry) All() []*models.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.ToolSpec, 0, len(r.byName))
	for _, spec := range r.byName {
		out = append(out, spec)
	}
	return out
}

// Invalidate drops the view; the next ensure repopulates it.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.loaded = false
	r.mu.Unlock()
}
