package assets

import (
	"context"
	"errors"
	"sync"

	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
)

// Catalog serves decoded system-asset content with per-identity caching.
// Entries load lazily from the published row and are invalidated when the
// registry republishes the identity. Missing required assets fail hard;
// there are no built-in fallbacks for policy content.
type Catalog struct {
	service *Service

	mu    sync.RWMutex
	cache map[catalogKey]any
}

type catalogKey struct {
	typ      models.AssetType
	name     string
	tenantID string
}

// NewCatalog creates a catalog and subscribes it to registry changes.
func NewCatalog(service *Service) *Catalog {
	c := &Catalog{
		service: service,
		cache:   make(map[catalogKey]any),
	}
	service.Subscribe(c.onChange)
	return c
}

func (c *Catalog) onChange(asset *models.Asset) {
	c.mu.Lock()
	delete(c.cache, catalogKey{asset.Type, asset.Name, asset.TenantID})
	c.mu.Unlock()
}

// load fetches the published asset content into out, memoizing the decoded
// value. build constructs the typed value from the asset.
func (c *Catalog) load(ctx context.Context, typ models.AssetType, name, tenantID string, build func(*models.Asset) (any, error)) (any, error) {
	key := catalogKey{typ, name, tenantID}
	c.mu.RLock()
	if v, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	asset, err := c.service.GetPublished(ctx, typ, DefaultScope, name, tenantID)
	if errors.Is(err, ErrNotFound) {
		return nil, errcode.Newf(errcode.ConfigurationError,
			"required %s asset %q is not published", typ, name)
	}
	if err != nil {
		return nil, err
	}

	value, err := build(asset)
	if err != nil {
		return nil, errcode.Wrap(errcode.ConfigurationError,
			"asset "+name+" has invalid content", err)
	}

	c.mu.Lock()
	c.cache[key] = value
	c.mu.Unlock()
	return value, nil
}

// PlanBudget returns the plan_budget policy.
func (c *Catalog) PlanBudget(ctx context.Context, tenantID string) (*PlanBudgetPolicy, error) {
	v, err := c.load(ctx, models.AssetTypePolicy, AssetPlanBudget, tenantID, func(a *models.Asset) (any, error) {
		p := &PlanBudgetPolicy{}
		if err := a.DecodeContent(p); err != nil {
			return nil, err
		}
		p.Version = a.Version
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PlanBudgetPolicy), nil
}

// ViewDepth returns the view_depth policy.
func (c *Catalog) ViewDepth(ctx context.Context, tenantID string) (*ViewDepthPolicy, error) {
	v, err := c.load(ctx, models.AssetTypePolicy, AssetViewDepth, tenantID, func(a *models.Asset) (any, error) {
		p := &ViewDepthPolicy{}
		if err := a.DecodeContent(p); err != nil {
			return nil, err
		}
		p.Version = a.Version
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ViewDepthPolicy), nil
}

// RelationAllowlist returns the graph relation allowlist mapping.
func (c *Catalog) RelationAllowlist(ctx context.Context, tenantID string) (*RelationAllowlist, error) {
	v, err := c.load(ctx, models.AssetTypeMapping, AssetRelationAllowlist, tenantID, func(a *models.Asset) (any, error) {
		m := &RelationAllowlist{}
		if err := a.DecodeContent(m); err != nil {
			return nil, err
		}
		m.Version = a.Version
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RelationAllowlist), nil
}

// Keywords returns the planner keyword mappings.
func (c *Catalog) Keywords(ctx context.Context, tenantID string) (*KeywordMappings, error) {
	v, err := c.load(ctx, models.AssetTypeMapping, AssetPlannerKeywords, tenantID, func(a *models.Asset) (any, error) {
		m := &KeywordMappings{}
		return m, a.DecodeContent(m)
	})
	if err != nil {
		return nil, err
	}
	return v.(*KeywordMappings), nil
}

// PlannerDefaults returns the planner defaults mapping.
func (c *Catalog) PlannerDefaults(ctx context.Context, tenantID string) (*PlannerDefaults, error) {
	v, err := c.load(ctx, models.AssetTypeMapping, AssetPlannerDefaults, tenantID, func(a *models.Asset) (any, error) {
		m := &PlannerDefaults{}
		return m, a.DecodeContent(m)
	})
	if err != nil {
		return nil, err
	}
	return v.(*PlannerDefaults), nil
}

// PlannerPrompt returns the planner prompt asset.
func (c *Catalog) PlannerPrompt(ctx context.Context, tenantID string) (*PromptAsset, error) {
	v, err := c.load(ctx, models.AssetTypePrompt, AssetPlannerPrompt, tenantID, func(a *models.Asset) (any, error) {
		p := &PromptAsset{}
		return p, a.DecodeContent(p)
	})
	if err != nil {
		return nil, err
	}
	return v.(*PromptAsset), nil
}

// Discovery returns the discovery_config policy.
func (c *Catalog) Discovery(ctx context.Context, tenantID string) (*DiscoveryConfig, error) {
	v, err := c.load(ctx, models.AssetTypePolicy, AssetDiscoveryConfig, tenantID, func(a *models.Asset) (any, error) {
		d := &DiscoveryConfig{}
		return d, a.DecodeContent(d)
	})
	if err != nil {
		return nil, err
	}
	return v.(*DiscoveryConfig), nil
}

// Query returns a named query asset decoded to its schema.
func (c *Catalog) Query(ctx context.Context, name, tenantID string) (*QueryAsset, error) {
	v, err := c.load(ctx, models.AssetTypeQuery, name, tenantID, func(a *models.Asset) (any, error) {
		q := &QueryAsset{}
		if err := a.DecodeContent(q); err != nil {
			return nil, err
		}
		q.Version = a.Version
		return q, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*QueryAsset), nil
}

// Source returns a named source spec.
func (c *Catalog) Source(ctx context.Context, name, tenantID string) (*models.SourceSpec, error) {
	v, err := c.load(ctx, models.AssetTypeSource, name, tenantID, func(a *models.Asset) (any, error) {
		s := &models.SourceSpec{}
		return s, a.DecodeContent(s)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SourceSpec), nil
}

// Invalidate drops every cached entry. Used on bulk reloads.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[catalogKey]any)
	c.mu.Unlock()
}
