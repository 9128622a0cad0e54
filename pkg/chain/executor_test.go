package chain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
	"github.com/opsintel/opsiq/pkg/tools"
)

// fakeRunner scripts per-tool results for chain tests.
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]*models.ToolResult
	errors  map[string]error
	delays  map[string]time.Duration
	calls   []tools.Call
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results: map[string]*models.ToolResult{},
		errors:  map[string]error{},
		delays:  map[string]time.Duration{},
	}
}

func (f *fakeRunner) Execute(ctx context.Context, call tools.Call, _ tools.Recorder) (*models.ToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	delay := f.delays[call.Tool]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errcode.Wrap(errcode.ToolTimeout, "cancelled", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errors[call.Tool]; ok {
		return nil, err
	}
	if result, ok := f.results[call.Tool]; ok {
		return result, nil
	}
	return &models.ToolResult{Tool: call.Tool, Data: map[string]any{}}, nil
}

func TestLevels(t *testing.T) {
	t.Run("linear chain", func(t *testing.T) {
		levels, err := Levels([]models.PlanStep{
			{StepID: "a"},
			{StepID: "b", DependsOn: []string{"a"}},
			{StepID: "c", DependsOn: []string{"b"}},
		})
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, levels)
	})

	t.Run("diamond", func(t *testing.T) {
		levels, err := Levels([]models.PlanStep{
			{StepID: "root"},
			{StepID: "left", DependsOn: []string{"root"}},
			{StepID: "right", DependsOn: []string{"root"}},
			{StepID: "join", DependsOn: []string{"left", "right"}},
		})
		require.NoError(t, err)
		require.Len(t, levels, 3)
		assert.ElementsMatch(t, []string{"left", "right"}, levels[1])
	})

	t.Run("cycle rejected", func(t *testing.T) {
		_, err := Levels([]models.PlanStep{
			{StepID: "a", DependsOn: []string{"b"}},
			{StepID: "b", DependsOn: []string{"a"}},
		})
		require.Error(t, err)
		assert.True(t, errcode.IsCode(err, errcode.PlanInvalid))
	})

	t.Run("unknown dependency rejected", func(t *testing.T) {
		_, err := Levels([]models.PlanStep{
			{StepID: "a", DependsOn: []string{"ghost"}},
		})
		require.Error(t, err)
		assert.True(t, errcode.IsCode(err, errcode.PlanInvalid))
	})

	t.Run("duplicate step id rejected", func(t *testing.T) {
		_, err := Levels([]models.PlanStep{
			{StepID: "a"}, {StepID: "a"},
		})
		require.Error(t, err)
		assert.True(t, errcode.IsCode(err, errcode.PlanInvalid))
	})
}

func TestRunPropagatesOutputs(t *testing.T) {
	runner := newFakeRunner()
	runner.results["ci_search"] = &models.ToolResult{
		Tool: "ci_search",
		Data: map[string]any{
			"rows": []map[string]any{
				{"id": "ci-1"}, {"id": "ci-2"},
			},
		},
	}

	executor := NewExecutor(runner, 2, time.Minute)
	result, err := executor.Run(context.Background(), []models.PlanStep{
		{StepID: "find", ToolName: "ci_search", Required: true},
		{
			StepID:        "metrics",
			ToolName:      "metric_series",
			DependsOn:     []string{"find"},
			OutputMapping: map[string]string{"ci_ids": "find.rows.*.id"},
			Required:      true,
		},
	}, "tenant-a", nil)
	require.NoError(t, err)

	assert.False(t, result.Partial)
	assert.Equal(t, StepOK, result.Outcomes["find"].Status)
	assert.Equal(t, StepOK, result.Outcomes["metrics"].Status)

	var metricsCall tools.Call
	for _, call := range runner.calls {
		if call.Tool == "metric_series" {
			metricsCall = call
		}
	}
	assert.Equal(t, []any{"ci-1", "ci-2"}, metricsCall.Inputs["ci_ids"])
}

func TestRunSkipsOnRequiredDepFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.errors["ci_search"] = errcode.New(errcode.UpstreamUnavail, "db down")

	executor := NewExecutor(runner, 2, time.Minute)
	result, err := executor.Run(context.Background(), []models.PlanStep{
		{StepID: "find", ToolName: "ci_search", Required: true},
		{StepID: "metrics", ToolName: "metric_series", DependsOn: []string{"find"}, Required: true},
		{StepID: "report", ToolName: "auto_health", DependsOn: []string{"metrics"}},
	}, "tenant-a", nil)
	require.NoError(t, err)

	assert.Equal(t, StepError, result.Outcomes["find"].Status)
	assert.Equal(t, string(errcode.UpstreamUnavail), result.Outcomes["find"].ErrorCode)
	assert.Equal(t, StepSkipped, result.Outcomes["metrics"].Status)
	assert.Equal(t, StepSkipped, result.Outcomes["report"].Status)
	assert.True(t, result.Failed([]models.PlanStep{{StepID: "find", Required: true}}))
}

func TestRunOptionalFailureDoesNotSkip(t *testing.T) {
	runner := newFakeRunner()
	runner.errors["enrich"] = errcode.New(errcode.ToolTimeout, "slow")

	executor := NewExecutor(runner, 2, time.Minute)
	result, err := executor.Run(context.Background(), []models.PlanStep{
		{StepID: "optional", ToolName: "enrich", Required: false},
		{StepID: "main", ToolName: "ci_search", DependsOn: []string{"optional"}, Required: true},
	}, "tenant-a", nil)
	require.NoError(t, err)

	assert.Equal(t, StepError, result.Outcomes["optional"].Status)
	assert.Equal(t, StepOK, result.Outcomes["main"].Status)
}

func TestRunDeadlineMarksPartial(t *testing.T) {
	runner := newFakeRunner()
	runner.delays["slow_tool"] = 200 * time.Millisecond

	executor := NewExecutor(runner, 1, 50*time.Millisecond)
	result, err := executor.Run(context.Background(), []models.PlanStep{
		{StepID: "slow", ToolName: "slow_tool", Required: true},
		{StepID: "after", ToolName: "ci_search", DependsOn: []string{"slow"}, Required: true},
	}, "tenant-a", nil)
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.Equal(t, StepSkipped, result.Outcomes["after"].Status)
}

func TestRunPlanTightensDeadline(t *testing.T) {
	runner := newFakeRunner()
	runner.delays["slow_tool"] = 200 * time.Millisecond

	executor := NewExecutor(runner, 4, time.Minute)
	plan := &models.PlanOutput{
		Kind:          models.PlanKindPlan,
		ExecTimeoutMs: 50,
		Steps: []models.PlanStep{
			{StepID: "slow", ToolName: "slow_tool", Required: true},
			{StepID: "after", ToolName: "ci_search", DependsOn: []string{"slow"}, Required: true},
		},
	}

	result, err := executor.RunPlan(context.Background(), plan, "tenant-a", nil)
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.Equal(t, StepSkipped, result.Outcomes["after"].Status)
}

func TestRunPlanCannotWidenDeadline(t *testing.T) {
	runner := newFakeRunner()
	runner.delays["slow_tool"] = 200 * time.Millisecond

	executor := NewExecutor(runner, 4, 50*time.Millisecond)
	plan := &models.PlanOutput{
		Kind:          models.PlanKindPlan,
		ExecTimeoutMs: 60_000,
		Steps: []models.PlanStep{
			{StepID: "slow", ToolName: "slow_tool", Required: true},
		},
	}

	result, err := executor.RunPlan(context.Background(), plan, "tenant-a", nil)
	require.NoError(t, err)
	assert.True(t, result.Partial)
}

// countingRunner tracks peak concurrent executions.
type countingRunner struct {
	mu     sync.Mutex
	active int
	peak   int
}

func (c *countingRunner) Execute(_ context.Context, call tools.Call, _ tools.Recorder) (*models.ToolResult, error) {
	c.mu.Lock()
	c.active++
	if c.active > c.peak {
		c.peak = c.active
	}
	c.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return &models.ToolResult{Tool: call.Tool}, nil
}

func TestRunPlanClampsParallelism(t *testing.T) {
	runner := &countingRunner{}
	executor := NewExecutor(runner, 4, time.Minute)
	plan := &models.PlanOutput{
		Kind:        models.PlanKindPlan,
		MaxParallel: 1,
		Steps: []models.PlanStep{
			{StepID: "a", ToolName: "ci_search"},
			{StepID: "b", ToolName: "ci_search"},
			{StepID: "c", ToolName: "ci_search"},
		},
	}

	result, err := executor.RunPlan(context.Background(), plan, "tenant-a", nil)
	require.NoError(t, err)

	assert.False(t, result.Partial)
	assert.Equal(t, 1, runner.peak, "policy caps the level parallelism at one")
}

func TestExtract(t *testing.T) {
	data := map[string]any{
		"summary": map[string]any{"total": 7},
		"rows": []any{
			map[string]any{"id": "a", "cpu": 0.9},
			map[string]any{"id": "b", "cpu": 0.2},
		},
	}

	assert.Equal(t, 7, Extract(data, "summary.total"))
	assert.Equal(t, []any{"a", "b"}, Extract(data, "rows.*.id"))
	assert.Nil(t, Extract(data, "missing.path"))
	assert.Nil(t, Extract(data, "summary.total.deeper"))
	assert.Equal(t, data, Extract(data, ""))
}
