package models

import (
	"encoding/json"
	"time"
)

// TraceStatus is the terminal status of an execution trace.
type TraceStatus string

// Trace status constants.
const (
	TraceStatusOK      TraceStatus = "ok"
	TraceStatusError   TraceStatus = "error"
	TraceStatusPartial TraceStatus = "partial"
)

// StageSpan captures one stage execution for the trace. Input and Output are
// deep-copied snapshots taken at capture time; diagnostics hold warnings and
// non-fatal errors.
type StageSpan struct {
	Stage         string          `json:"stage"`
	Input         json.RawMessage `json:"input,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	Status        string          `json:"status"`
	ElapsedMs     int64           `json:"elapsed_ms"`
	References    []Reference     `json:"references,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
	Errors        []string        `json:"errors,omitempty"`
	AppliedAssets map[string]int  `json:"applied_assets,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ReplanEvent records one replan decision with its patch diff.
type ReplanEvent struct {
	Trigger   ReplanTrigger  `json:"trigger"`
	Accepted  bool           `json:"accepted"`
	Reason    string         `json:"reason,omitempty"`
	Patch     map[string]any `json:"patch,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ExecutionTrace is the append-only record of one question's processing.
// Once finished it is immutable.
type ExecutionTrace struct {
	TraceID       string           `json:"trace_id"`
	ParentTraceID string           `json:"parent_trace_id,omitempty"`
	TenantID      string           `json:"tenant_id"`
	Question      string           `json:"question"`
	Status        TraceStatus      `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	DurationMs    int64            `json:"duration_ms,omitempty"`
	Stages        []StageSpan      `json:"stages,omitempty"`
	ToolCalls     []ToolCallRecord `json:"tool_calls,omitempty"`
	AssetVersions map[string]int   `json:"asset_versions,omitempty"`
	ReplanEvents  []ReplanEvent    `json:"replan_events,omitempty"`
}

// TraceFilters contains search options for listing traces.
type TraceFilters struct {
	TenantID string     `json:"tenant_id,omitempty"`
	Query    string     `json:"q,omitempty"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	Offset   int        `json:"offset,omitempty"`
}

// TraceListResponse contains a paginated trace list.
type TraceListResponse struct {
	Traces     []*ExecutionTrace `json:"traces"`
	TotalCount int               `json:"total_count"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

// QueryHistoryEntry links a question to its plan summary and trace.
type QueryHistoryEntry struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Question    string    `json:"question"`
	PlanKind    string    `json:"plan_kind"`
	PlanSummary string    `json:"plan_summary,omitempty"`
	Status      string    `json:"status"`
	TraceID     string    `json:"trace_id"`
	CreatedAt   time.Time `json:"created_at"`
}
