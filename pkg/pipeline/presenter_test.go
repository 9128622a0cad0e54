package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsintel/opsiq/pkg/chain"
	"github.com/opsintel/opsiq/pkg/models"
)

func simplePlan() *models.PlanOutput {
	return &models.PlanOutput{
		Kind:  models.PlanKindPlan,
		Steps: []models.PlanStep{{StepID: "find", ToolName: "ci_search", Required: true}},
	}
}

func TestPresentOrdersBlocks(t *testing.T) {
	blocks := []models.Block{
		{Type: models.BlockTypeReferences},
		{Type: models.BlockTypeGraph},
		{Type: models.BlockTypeText},
		{Type: models.BlockTypeTable},
	}
	result := &chain.Result{Outcomes: map[string]*chain.StepOutcome{}}

	presenter := Presenter{}
	resp := presenter.Present(simplePlan(), result, blocks, nil)

	got := make([]models.BlockType, len(resp.Blocks))
	for i, b := range resp.Blocks {
		got[i] = b.Type
	}
	assert.Equal(t, []models.BlockType{
		models.BlockTypeText,
		models.BlockTypeTable,
		models.BlockTypeGraph,
		models.BlockTypeReferences,
	}, got)
}

func TestPresentAnswerText(t *testing.T) {
	tests := []struct {
		name     string
		outcomes map[string]*chain.StepOutcome
		partial  bool
		want     string
	}{
		{
			name: "no rows",
			outcomes: map[string]*chain.StepOutcome{
				"find": {Status: chain.StepOK, Result: &models.ToolResult{}},
			},
			want: "No matching data was found.",
		},
		{
			name: "all ok",
			outcomes: map[string]*chain.StepOutcome{
				"find": {Status: chain.StepOK, Result: &models.ToolResult{RowCount: 12}},
			},
			want: "Collected 12 result(s) across 1 step(s).",
		},
		{
			name: "all failed",
			outcomes: map[string]*chain.StepOutcome{
				"find": {Status: chain.StepError, Error: "boom"},
			},
			want: "No step completed successfully; see the trace for details.",
		},
		{
			name: "mixed",
			outcomes: map[string]*chain.StepOutcome{
				"find":  {Status: chain.StepOK, Result: &models.ToolResult{RowCount: 3}},
				"graph": {Status: chain.StepSkipped},
			},
			want: "Collected 3 result(s); 1 step(s) did not complete.",
		},
	}

	presenter := Presenter{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &chain.Result{Outcomes: tt.outcomes, Partial: tt.partial}
			resp := presenter.Present(simplePlan(), result, nil, nil)
			assert.Equal(t, tt.want, resp.Answer)
		})
	}
}

func TestPresentPartialNotesDeadline(t *testing.T) {
	result := &chain.Result{
		Outcomes: map[string]*chain.StepOutcome{
			"find": {Status: chain.StepOK, Result: &models.ToolResult{RowCount: 1}},
		},
		Partial: true,
	}

	presenter := Presenter{}
	resp := presenter.Present(simplePlan(), result, nil, nil)

	assert.Contains(t, resp.Answer, "results are partial")
	require.NotEmpty(t, resp.NextActions)
	assert.Contains(t, resp.NextActions[0], "execution budget")
}

func TestPresentNextActionsForBreakerAndRateLimit(t *testing.T) {
	result := &chain.Result{Outcomes: map[string]*chain.StepOutcome{
		"a": {Tool: "metric_series", Status: chain.StepError, ErrorCode: "CIRCUIT_OPEN"},
		"b": {Tool: "ticket_search", Status: chain.StepError, ErrorCode: "RATE_LIMITED"},
	}}

	presenter := Presenter{}
	resp := presenter.Present(simplePlan(), result, nil, nil)

	joined := ""
	for _, action := range resp.NextActions {
		joined += action + "\n"
	}
	assert.Contains(t, joined, "metric_series is circuit-broken")
	assert.Contains(t, joined, "ticket_search was rate limited")
}

func TestPresentGraphDepthSuggestion(t *testing.T) {
	plan := simplePlan()
	plan.Graph = &models.GraphSpec{View: models.GraphViewDependency, Depth: 2}
	result := &chain.Result{Outcomes: map[string]*chain.StepOutcome{
		"find": {Status: chain.StepOK, Result: &models.ToolResult{RowCount: 1}},
	}}

	presenter := Presenter{}
	resp := presenter.Present(plan, result, nil, nil)

	require.NotEmpty(t, resp.NextActions)
	assert.Contains(t, resp.NextActions[0], "beyond 2")
}

func TestPresentMeta(t *testing.T) {
	result := &chain.Result{Outcomes: map[string]*chain.StepOutcome{
		"find": {Tool: "ci_search", Status: chain.StepOK, Result: &models.ToolResult{RowCount: 2}},
	}}

	presenter := Presenter{}
	resp := presenter.Present(simplePlan(), result, nil, nil)

	assert.Equal(t, string(models.PlanKindPlan), resp.Meta.Route)
	assert.Equal(t, []string{"ci_search"}, resp.Meta.UsedTools)
	assert.Equal(t, "ci_search", resp.Meta.Summary)
	// Wire shape guarantees: never-null slices.
	assert.NotNil(t, resp.Blocks)
	assert.NotNil(t, resp.References)
}
