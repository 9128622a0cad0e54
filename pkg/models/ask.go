package models

// AskRequest is the body of POST /ops/ask and /ops/ask/stream.
type AskRequest struct {
	Question       string `json:"question" binding:"required"`
	TenantID       string `json:"tenant_id" binding:"required"`
	Rerun          bool   `json:"rerun,omitempty"`
	ResolverAsset  string `json:"resolver_asset,omitempty"`
	SourceOverride string `json:"source_override,omitempty"`
}

// AskMeta carries answer metadata including the error code on failure.
type AskMeta struct {
	Route     string   `json:"route,omitempty"`
	UsedTools []string `json:"used_tools,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// AskTrace is the trace section embedded in an answer.
type AskTrace struct {
	TraceID      string           `json:"trace_id"`
	Stages       []StageSpan      `json:"stages,omitempty"`
	ToolCalls    []ToolCallRecord `json:"tool_calls,omitempty"`
	ReplanEvents []ReplanEvent    `json:"replan_events,omitempty"`
}

// AskResponse is the structured answer returned by both ask endpoints.
// The server returns it with HTTP 200 even on orchestration failure; the
// failure is carried in Meta.ErrorCode.
type AskResponse struct {
	Answer      string      `json:"answer"`
	Blocks      []Block     `json:"blocks"`
	References  []Reference `json:"references"`
	NextActions []string    `json:"next_actions,omitempty"`
	Meta        AskMeta     `json:"meta"`
	Trace       AskTrace    `json:"trace"`
}

// Stream event names for the SSE surface.
const (
	StreamEventProgress = "progress"
	StreamEventComplete = "complete"
	StreamEventError    = "error"
)

// ProgressEvent is the payload of a "progress" stream event.
type ProgressEvent struct {
	TraceID   string `json:"trace_id"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// StreamErrorEvent is the payload of a terminal "error" stream event.
type StreamErrorEvent struct {
	TraceID   string `json:"trace_id,omitempty"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}
