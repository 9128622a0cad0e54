package models

import (
	"encoding/json"
	"time"
)

// AssetType discriminates the kinds of versioned configuration assets.
type AssetType string

// Asset type constants.
const (
	AssetTypePrompt   AssetType = "prompt"
	AssetTypeQuery    AssetType = "query"
	AssetTypeMapping  AssetType = "mapping"
	AssetTypePolicy   AssetType = "policy"
	AssetTypeSource   AssetType = "source"
	AssetTypeCatalog  AssetType = "catalog"
	AssetTypeTool     AssetType = "tool"
	AssetTypeResolver AssetType = "resolver"
)

// ValidAssetTypes lists every recognized asset type.
var ValidAssetTypes = []AssetType{
	AssetTypePrompt, AssetTypeQuery, AssetTypeMapping, AssetTypePolicy,
	AssetTypeSource, AssetTypeCatalog, AssetTypeTool, AssetTypeResolver,
}

// AssetStatus is the lifecycle state of an asset row.
type AssetStatus string

// Asset status constants.
const (
	AssetStatusDraft     AssetStatus = "draft"
	AssetStatusPublished AssetStatus = "published"
	AssetStatusArchived  AssetStatus = "archived"
)

// Asset is one versioned row of orchestrator configuration. Content is an
// opaque JSON payload whose schema depends on Type; it is validated at the
// boundary (publish time), not on read.
type Asset struct {
	ID          string          `json:"id"`
	Type        AssetType       `json:"type"`
	Name        string          `json:"name"`
	Scope       string          `json:"scope"`
	Version     int             `json:"version"`
	Status      AssetStatus     `json:"status"`
	TenantID    string          `json:"tenant_id"`
	Content     json.RawMessage `json:"content"`
	IsSystem    bool            `json:"is_system"`
	ToolType    string          `json:"tool_type,omitempty"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedBy string          `json:"published_by,omitempty"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}

// DecodeContent unmarshals the asset content payload into out.
func (a *Asset) DecodeContent(out any) error {
	return json.Unmarshal(a.Content, out)
}

// CreateAssetRequest contains fields for creating a draft asset.
type CreateAssetRequest struct {
	Type     AssetType       `json:"type"`
	Name     string          `json:"name"`
	Scope    string          `json:"scope"`
	TenantID string          `json:"tenant_id"`
	Content  json.RawMessage `json:"content"`
	IsSystem bool            `json:"is_system,omitempty"`
	ToolType string          `json:"tool_type,omitempty"`
	Actor    string          `json:"actor,omitempty"`
}

// UpdateAssetRequest patches a draft asset's content.
type UpdateAssetRequest struct {
	Content json.RawMessage `json:"content"`
	Actor   string          `json:"actor,omitempty"`
}

// AssetFilters contains filtering options for listing assets.
type AssetFilters struct {
	Type     AssetType   `json:"type,omitempty"`
	Scope    string      `json:"scope,omitempty"`
	Name     string      `json:"name,omitempty"`
	TenantID string      `json:"tenant_id,omitempty"`
	Status   AssetStatus `json:"status,omitempty"`
	ToolType string      `json:"tool_type,omitempty"`
	Limit    int         `json:"limit,omitempty"`
	Offset   int         `json:"offset,omitempty"`
}

// AssetListResponse contains a paginated asset list.
type AssetListResponse struct {
	Assets     []*Asset `json:"assets"`
	TotalCount int      `json:"total_count"`
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
}

// AuditEvent records one change to published configuration.
type AuditEvent struct {
	ID           int64     `json:"id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Action       string    `json:"action"`
	Actor        string    `json:"actor"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
