// Package trace records the full causal history of one question: stage
// spans with input/output snapshots, tool call summaries, asset versions,
// and replan events. Traces buffer in memory during execution and persist
// once on finish.
package trace

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsintel/opsiq/pkg/masking"
	"github.com/opsintel/opsiq/pkg/models"
)

// Tracer accumulates one execution trace. Safe for concurrent use by
// parallel chain steps.
type Tracer struct {
	mu           sync.Mutex
	trace        *models.ExecutionTrace
	masker       *masking.Service
	memoryBudget int
	started      time.Time
}

// NewTracer starts a trace for a question.
func NewTracer(tenantID, question string, masker *masking.Service, memoryBudget int) *Tracer {
	now := time.Now().UTC()
	return &Tracer{
		trace: &models.ExecutionTrace{
			TraceID:       uuid.NewString(),
			TenantID:      tenantID,
			Question:      question,
			Status:        models.TraceStatusOK,
			CreatedAt:     now,
			AssetVersions: map[string]int{},
		},
		masker:       masker,
		memoryBudget: memoryBudget,
		started:      now,
	}
}

// TraceID returns the trace identifier.
func (t *Tracer) TraceID() string {
	return t.trace.TraceID
}

// SetParent links this trace to the one it reran.
func (t *Tracer) SetParent(parentID string) {
	t.mu.Lock()
	t.trace.ParentTraceID = parentID
	t.mu.Unlock()
}

// StartStage returns a span builder; End captures the output snapshot and
// appends the span.
func (t *Tracer) StartStage(stage string, input any) *SpanBuilder {
	return &SpanBuilder{
		tracer:  t,
		started: time.Now(),
		span: models.StageSpan{
			Stage:     stage,
			Input:     t.snapshot(input),
			CreatedAt: time.Now().UTC(),
		},
	}
}

// SpanBuilder accumulates one stage span.
type SpanBuilder struct {
	tracer  *Tracer
	started time.Time
	span    models.StageSpan
}

// Warn appends a non-fatal warning.
func (b *SpanBuilder) Warn(message string) {
	b.span.Warnings = append(b.span.Warnings, message)
}

// Error appends a stage error message.
func (b *SpanBuilder) Error(message string) {
	b.span.Errors = append(b.span.Errors, message)
}

// AppliedAsset records that a versioned asset influenced this stage.
func (b *SpanBuilder) AppliedAsset(name string, version int) {
	if b.span.AppliedAssets == nil {
		b.span.AppliedAssets = map[string]int{}
	}
	b.span.AppliedAssets[name] = version
	b.tracer.RecordAssetVersion(name, version)
}

// AddReferences attaches source references surfaced by this stage.
func (b *SpanBuilder) AddReferences(refs []models.Reference) {
	b.span.References = append(b.span.References, refs...)
}

// End captures the output snapshot and commits the span.
func (b *SpanBuilder) End(output any, status string) {
	b.span.Output = b.tracer.snapshot(output)
	b.span.Status = status
	b.span.ElapsedMs = time.Since(b.started).Milliseconds()

	b.tracer.mu.Lock()
	b.tracer.trace.Stages = append(b.tracer.trace.Stages, b.span)
	b.tracer.mu.Unlock()
	b.tracer.enforceBudget()
}

// RecordToolCall appends a tool call summary. Implements tools.Recorder.
func (t *Tracer) RecordToolCall(record *models.ToolCallRecord) {
	t.mu.Lock()
	t.trace.ToolCalls = append(t.trace.ToolCalls, *record)
	t.mu.Unlock()
	t.enforceBudget()
}

// RecordAssetVersion notes which asset version was in effect.
func (t *Tracer) RecordAssetVersion(name string, version int) {
	t.mu.Lock()
	t.trace.AssetVersions[name] = version
	t.mu.Unlock()
}

// RecordReplan appends a replan decision.
func (t *Tracer) RecordReplan(event models.ReplanEvent) {
	t.mu.Lock()
	t.trace.ReplanEvents = append(t.trace.ReplanEvents, event)
	t.mu.Unlock()
}

// Finish seals the trace with its terminal status and returns it.
func (t *Tracer) Finish(status models.TraceStatus) *models.ExecutionTrace {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	t.trace.Status = status
	t.trace.FinishedAt = &now
	t.trace.DurationMs = now.Sub(t.started).Milliseconds()
	return t.trace
}

// snapshot deep-copies a value into masked JSON so later mutations cannot
// change the recorded history.
func (t *Tracer) snapshot(value any) json.RawMessage {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return json.RawMessage(`{"snapshot_error":"unserializable"}`)
	}
	masked := t.masker.MaskText(string(payload))
	return json.RawMessage(masked)
}

// enforceBudget keeps the buffered trace under the memory budget: tool call
// input payloads are dropped first, then stage I/O snapshots are truncated,
// oldest first.
func (t *Tracer) enforceBudget() {
	if t.memoryBudget <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	size := t.approxSize()
	if size <= t.memoryBudget {
		return
	}

	for i := range t.trace.ToolCalls {
		if size <= t.memoryBudget {
			return
		}
		if t.trace.ToolCalls[i].InputParams != nil {
			payload, _ := json.Marshal(t.trace.ToolCalls[i].InputParams)
			size -= len(payload)
			t.trace.ToolCalls[i].InputParams = map[string]any{"truncated": true}
		}
	}
	for i := range t.trace.Stages {
		if size <= t.memoryBudget {
			return
		}
		span := &t.trace.Stages[i]
		if len(span.Output) > 0 {
			size -= len(span.Output)
			span.Output = json.RawMessage(`{"truncated":true}`)
		}
		if size <= t.memoryBudget {
			return
		}
		if len(span.Input) > 0 {
			size -= len(span.Input)
			span.Input = json.RawMessage(`{"truncated":true}`)
		}
	}
}

func (t *Tracer) approxSize() int {
	size := 0
	for _, span := range t.trace.Stages {
		size += len(span.Input) + len(span.Output)
	}
	for _, call := range t.trace.ToolCalls {
		payload, _ := json.Marshal(call.InputParams)
		size += len(payload) + len(call.OutputSummary)
	}
	return size
}
