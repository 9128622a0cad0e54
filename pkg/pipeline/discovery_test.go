package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/chain"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
	"github.com/opsintel/opsiq/pkg/tools"
)

// scriptedRunner serves fixed tool results for discovery tests.
type scriptedRunner struct {
	results map[string]*models.ToolResult
	calls   []tools.Call
}

func (s *scriptedRunner) Execute(_ context.Context, call tools.Call, _ tools.Recorder) (*models.ToolResult, error) {
	s.calls = append(s.calls, call)
	if result, ok := s.results[call.Tool]; ok {
		return result, nil
	}
	return &models.ToolResult{Tool: call.Tool, Data: map[string]any{}}, nil
}

// fixedDiscovery serves one discovery configuration.
type fixedDiscovery struct {
	cfg *assets.DiscoveryConfig
	err error
}

func (f *fixedDiscovery) Discovery(context.Context, string) (*assets.DiscoveryConfig, error) {
	return f.cfg, f.err
}

func discoveryConfig() *assets.DiscoveryConfig {
	return &assets.DiscoveryConfig{
		CandidateLimit: 5,
		SearchFields:   []string{"name", "kind"},
		MinQueryLength: 3,
		FallbackTool:   "entity_discovery",
	}
}

// emptyFindPlan is a plan whose single required step succeeded with no rows.
func emptyFindPlan(query string) (*models.PlanOutput, *chain.Result) {
	plan := &models.PlanOutput{
		Kind: models.PlanKindPlan,
		Steps: []models.PlanStep{{
			StepID:     "find",
			ToolName:   "ci_search",
			Parameters: map[string]any{"query": query},
			Required:   true,
		}},
	}
	result := &chain.Result{Outcomes: map[string]*chain.StepOutcome{
		"find": {
			StepID: "find",
			Tool:   "ci_search",
			Status: chain.StepOK,
			Result: &models.ToolResult{Tool: "ci_search", Data: map[string]any{"rows": []map[string]any{}}},
		},
	}}
	return plan, result
}

func discoveryPipeline(runner *scriptedRunner, disc DiscoverySource) *Pipeline {
	return &Pipeline{
		chains:    chain.NewExecutor(runner, 2, time.Minute),
		discovery: disc,
	}
}

func TestDiscoverCandidatesBuildsTable(t *testing.T) {
	runner := &scriptedRunner{results: map[string]*models.ToolResult{
		"entity_discovery": {
			Tool:     "entity_discovery",
			RowCount: 2,
			Data: map[string]any{"rows": []map[string]any{
				{"id": "ci-7", "name": "web-frontend"},
				{"id": "ci-9", "name": "web-frontend-canary"},
			}},
		},
	}}
	p := discoveryPipeline(runner, &fixedDiscovery{cfg: discoveryConfig()})
	plan, result := emptyFindPlan("web frontend")

	block, ok := p.discoverCandidates(context.Background(),
		models.AskRequest{TenantID: "tenant-a"}, plan, result, nil)
	require.True(t, ok)

	assert.Equal(t, models.BlockTypeTable, block.Type)
	assert.Equal(t, "candidates", block.Title)
	assert.Len(t, block.Rows, 2)
	assert.Equal(t, string(errcode.DataNotFound), block.Meta["error_code"])
	assert.Equal(t, []string{"name", "kind"}, block.Meta["search_fields"])

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "entity_discovery", runner.calls[0].Tool)
	assert.Equal(t, "web frontend", runner.calls[0].Inputs["query"])
	assert.Equal(t, 5, runner.calls[0].Inputs["limit"])
}

func TestDiscoverCandidatesShortQuerySuggestsFields(t *testing.T) {
	runner := &scriptedRunner{}
	p := discoveryPipeline(runner, &fixedDiscovery{cfg: discoveryConfig()})
	plan, result := emptyFindPlan("db")

	block, ok := p.discoverCandidates(context.Background(),
		models.AskRequest{TenantID: "tenant-a"}, plan, result, nil)
	require.True(t, ok)

	assert.Equal(t, models.BlockTypeText, block.Type)
	assert.Contains(t, block.Text, "name, kind")
	assert.Equal(t, string(errcode.DataNotFound), block.Meta["error_code"])
	assert.Empty(t, runner.calls, "the fallback tool never runs on short queries")
}

func TestDiscoverCandidatesEmptyFallbackSuggestsFields(t *testing.T) {
	runner := &scriptedRunner{}
	p := discoveryPipeline(runner, &fixedDiscovery{cfg: discoveryConfig()})
	plan, result := emptyFindPlan("web frontend")

	block, ok := p.discoverCandidates(context.Background(),
		models.AskRequest{TenantID: "tenant-a"}, plan, result, nil)
	require.True(t, ok)

	assert.Equal(t, models.BlockTypeText, block.Type)
	assert.Equal(t, string(errcode.DataNotFound), block.Meta["error_code"])
}

func TestDiscoverCandidatesSkipsWhenDataExists(t *testing.T) {
	runner := &scriptedRunner{}
	p := discoveryPipeline(runner, &fixedDiscovery{cfg: discoveryConfig()})
	plan, result := emptyFindPlan("web frontend")
	result.Outcomes["find"].Result.RowCount = 3

	_, ok := p.discoverCandidates(context.Background(),
		models.AskRequest{TenantID: "tenant-a"}, plan, result, nil)
	assert.False(t, ok)
	assert.Empty(t, runner.calls)
}

func TestDiscoverCandidatesBestEffortOnConfigError(t *testing.T) {
	p := discoveryPipeline(&scriptedRunner{},
		&fixedDiscovery{err: errors.New("not published")})
	plan, result := emptyFindPlan("web frontend")

	_, ok := p.discoverCandidates(context.Background(),
		models.AskRequest{TenantID: "tenant-a"}, plan, result, nil)
	assert.False(t, ok)
}

func TestStepQueryText(t *testing.T) {
	assert.Equal(t, "web", stepQueryText(&models.PlanStep{
		Parameters: map[string]any{"query": "web"},
	}))
	assert.Equal(t, "db-01", stepQueryText(&models.PlanStep{
		Parameters: map[string]any{"name": "db-01"},
	}))
	assert.Empty(t, stepQueryText(&models.PlanStep{
		Parameters: map[string]any{"limit": 5},
	}))
}
