package trace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsintel/opsiq/pkg/masking"
	"github.com/opsintel/opsiq/pkg/models"
)

func newTestTracer(budget int) *Tracer {
	return NewTracer("tenant-a", "cpu last hour", masking.NewService(nil), budget)
}

func TestTracerRecordsStages(t *testing.T) {
	tracer := newTestTracer(0)

	span := tracer.StartStage("route", map[string]any{"question": "cpu last hour"})
	span.End(map[string]any{"kind": "plan"}, "ok")

	span = tracer.StartStage("execute", nil)
	span.Error("tool failed")
	span.End(nil, "error")

	finished := tracer.Finish(models.TraceStatusError)

	require.Len(t, finished.Stages, 2)
	assert.Equal(t, "route", finished.Stages[0].Stage)
	assert.Equal(t, "ok", finished.Stages[0].Status)
	assert.Equal(t, "error", finished.Stages[1].Status)
	assert.Equal(t, []string{"tool failed"}, finished.Stages[1].Errors)
	assert.Equal(t, models.TraceStatusError, finished.Status)
	assert.NotNil(t, finished.FinishedAt)
}

func TestTracerMasksSnapshots(t *testing.T) {
	tracer := newTestTracer(0)

	span := tracer.StartStage("execute", map[string]any{
		"dsn": "postgres://ops:supersecret@db/opsiq",
	})
	span.End(nil, "ok")

	finished := tracer.Finish(models.TraceStatusOK)
	assert.NotContains(t, string(finished.Stages[0].Input), "supersecret")
}

func TestTracerAssetVersions(t *testing.T) {
	tracer := newTestTracer(0)

	span := tracer.StartStage("validate", nil)
	span.AppliedAsset("plan_budget", 4)
	span.End(nil, "ok")

	finished := tracer.Finish(models.TraceStatusOK)
	assert.Equal(t, 4, finished.AssetVersions["plan_budget"])
	assert.Equal(t, 4, finished.Stages[0].AppliedAssets["plan_budget"])
}

func TestMemoryBudgetTruncatesToolCallsFirst(t *testing.T) {
	tracer := newTestTracer(512)

	big := strings.Repeat("x", 400)
	tracer.RecordToolCall(&models.ToolCallRecord{
		Tool:        "ci_search",
		InputParams: map[string]any{"blob": big},
	})
	tracer.RecordToolCall(&models.ToolCallRecord{
		Tool:        "metric_series",
		InputParams: map[string]any{"blob": big},
	})

	finished := tracer.Finish(models.TraceStatusOK)
	require.Len(t, finished.ToolCalls, 2)
	// The record itself survives; only its payload is dropped.
	assert.Equal(t, map[string]any{"truncated": true}, finished.ToolCalls[0].InputParams)
	assert.Equal(t, "ci_search", finished.ToolCalls[0].Tool)
}

func TestMemoryBudgetTruncatesStageSnapshots(t *testing.T) {
	tracer := newTestTracer(256)

	big := strings.Repeat("y", 300)
	span := tracer.StartStage("execute", map[string]any{"payload": big})
	span.End(map[string]any{"payload": big}, "ok")

	finished := tracer.Finish(models.TraceStatusOK)
	assert.Equal(t, `{"truncated":true}`, string(finished.Stages[0].Output))
}

func TestTracerUnlimitedBudget(t *testing.T) {
	tracer := newTestTracer(0)

	big := strings.Repeat("z", 10_000)
	span := tracer.StartStage("execute", map[string]any{"payload": big})
	span.End(nil, "ok")

	finished := tracer.Finish(models.TraceStatusOK)
	assert.Contains(t, string(finished.Stages[0].Input), big)
}
