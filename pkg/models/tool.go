package models

import (
	"encoding/json"
	"time"
)

// ToolKind discriminates the backend a tool dispatches to.
type ToolKind string

// Tool kind constants.
const (
	ToolKindDatabaseQuery ToolKind = "database_query"
	ToolKindHTTPAPI       ToolKind = "http_api"
	ToolKindGraphQuery    ToolKind = "graph_query"
	ToolKindSearch        ToolKind = "search"
	ToolKindMCP           ToolKind = "mcp"
)

// ValidToolKinds lists every recognized tool kind.
var ValidToolKinds = []ToolKind{
	ToolKindDatabaseQuery, ToolKindHTTPAPI, ToolKindGraphQuery,
	ToolKindSearch, ToolKindMCP,
}

// RetryPolicy controls automatic retries inside the tool executor.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts,omitempty"`
	Backoff     time.Duration `json:"backoff,omitempty"`
}

// ToolSpec is the declarative definition of one tool, decoded from a
// published tool asset's content payload.
type ToolSpec struct {
	Name             string          `json:"name"`
	Kind             ToolKind        `json:"kind"`
	Description      string          `json:"description,omitempty"`
	SourceRef        string          `json:"source_ref,omitempty"`
	QueryRef         string          `json:"query_ref,omitempty"`
	Operation        string          `json:"operation,omitempty"`
	InputSchema      json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema     json.RawMessage `json:"output_schema,omitempty"`
	TimeoutMs        int             `json:"timeout_ms,omitempty"`
	RateLimitPerSec  float64         `json:"rate_limit_per_sec,omitempty"`
	Retry            *RetryPolicy    `json:"retry,omitempty"`
	Capabilities     []string        `json:"capabilities,omitempty"`
	FallbackTool     string          `json:"fallback_tool,omitempty"`
	SupportedTenants []string        `json:"supported_tenants,omitempty"`
	Aliases          []string        `json:"aliases,omitempty"`
	Cacheable        bool            `json:"cacheable,omitempty"`
	CacheTTLSeconds  int             `json:"cache_ttl_seconds,omitempty"`

	// HTTP-kind fields: URL and body may contain {placeholder} substitutions
	// filled from inputs or credential references at dispatch time.
	URL          string            `json:"url,omitempty"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyTemplate string            `json:"body_template,omitempty"`

	// MCP-kind fields.
	MCPServer string `json:"mcp_server,omitempty"`
	MCPTool   string `json:"mcp_tool,omitempty"`

	// AssetVersion is the published asset version the spec was decoded
	// from, filled by the registry. Not part of the asset content.
	AssetVersion int `json:"-"`
}

// Timeout returns the tool timeout as a duration, or the given default.
func (t *ToolSpec) Timeout(def time.Duration) time.Duration {
	if t.TimeoutMs <= 0 {
		return def
	}
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// HasCapability reports whether the tool declares the capability.
func (t *ToolSpec) HasCapability(capability string) bool {
	for _, c := range t.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// SupportsTenant reports whether the tool may be called by the tenant.
// An empty SupportedTenants list means all tenants.
func (t *ToolSpec) SupportsTenant(tenantID string) bool {
	if len(t.SupportedTenants) == 0 {
		return true
	}
	for _, tn := range t.SupportedTenants {
		if tn == tenantID {
			return true
		}
	}
	return false
}

// ToolResult is the structured output of one tool execution.
type ToolResult struct {
	Tool       string         `json:"tool"`
	Data       map[string]any `json:"data,omitempty"`
	RowCount   int            `json:"row_count,omitempty"`
	ElapsedMs  int64          `json:"elapsed_ms"`
	FromCache  bool           `json:"from_cache,omitempty"`
	References []Reference    `json:"references,omitempty"`
}

// ToolCallRecord summarizes one tool call for the trace. Payloads are
// summarized (row counts, sizes), never stored in full.
type ToolCallRecord struct {
	Tool          string         `json:"tool"`
	ElapsedMs     int64          `json:"elapsed_ms"`
	InputParams   map[string]any `json:"input_params,omitempty"`
	OutputSummary string         `json:"output_summary,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
}
