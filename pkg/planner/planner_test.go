package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/llm"
	"github.com/opsintel/opsiq/pkg/models"
)

func testMappings() *assets.KeywordMappings {
	return &assets.KeywordMappings{
		MetricAliases: map[string]string{
			"cpu": "cpu_usage", "mem": "memory_usage", "memory": "memory_usage",
		},
		AggregationWords: []string{"count", "how many", "average"},
		TimeWindows: map[string]string{
			"last hour":     "last_1h",
			"last 24 hours": "last_24h",
			"last week":     "last_7d",
		},
		ListHints:          []string{"list", "show me"},
		TableHints:         []string{"table"},
		CEPKeywords:        []string{"changed", "deployed", "restarted"},
		GraphScopeKeywords: map[string]string{"depends on": "DEPENDENCY", "impact": "IMPACT"},
		AutoHealthKeywords: []string{"health", "wrong", "issues"},
		FilterableFields:   []string{"cluster", "status", "name"},
	}
}

// fakeConfig serves canned planner assets without a database.
type fakeConfig struct {
	mappings *assets.KeywordMappings
	prompt   *assets.PromptAsset
}

func (f *fakeConfig) Keywords(context.Context, string) (*assets.KeywordMappings, error) {
	return f.mappings, nil
}

func (f *fakeConfig) PlannerPrompt(context.Context, string) (*assets.PromptAsset, error) {
	if f.prompt == nil {
		return &assets.PromptAsset{System: "plan", User: "{{question}} {{hints}}"}, nil
	}
	return f.prompt, nil
}

// fakeLookup resolves a fixed alias table.
type fakeLookup struct{ aliases map[string]string }

func (f *fakeLookup) Canonical(name string) (string, bool) {
	if canonical, ok := f.aliases[name]; ok {
		return canonical, true
	}
	return "", false
}

func TestPrePassSeriesIntent(t *testing.T) {
	hints := PrePass("show cpu for web-01 over the last 24 hours", testMappings())

	assert.Equal(t, IntentSeries, hints.Intent)
	assert.Equal(t, []string{"cpu_usage"}, hints.Metrics)
	assert.Equal(t, "last_24h", hints.TimeRange)
	assert.GreaterOrEqual(t, hints.Confidence, 0.85)
}

func TestPrePassGraphIntent(t *testing.T) {
	hints := PrePass("what depends on name db-core", testMappings())

	assert.Equal(t, IntentGraph, hints.Intent)
	assert.Equal(t, "DEPENDENCY", hints.GraphScope)
	assert.Equal(t, "db-core", hints.Filters["name"])
}

func TestPrePassAutoHealthIntent(t *testing.T) {
	hints := PrePass("what is wrong in production", testMappings())

	assert.Equal(t, IntentAuto, hints.Intent)
	assert.True(t, hints.AutoHealth)
}

func TestPrePassLongestTimeWindowWins(t *testing.T) {
	hints := PrePass("memory over the last 24 hours please", testMappings())
	assert.Equal(t, "last_24h", hints.TimeRange)
}

func TestPrePassAmbiguousQuestionLowConfidence(t *testing.T) {
	hints := PrePass("tell me something interesting", testMappings())
	assert.Less(t, hints.Confidence, 0.85)
}

func TestPlanSkipsModelOnHighConfidence(t *testing.T) {
	client := llm.NewMockClient()
	p := New(&fakeConfig{mappings: testMappings()}, client, nil, 0.85)

	result, err := p.Plan(context.Background(), "cpu for web-01 last hour", "tenant-a")
	require.NoError(t, err)

	assert.False(t, result.UsedModel)
	assert.Equal(t, models.PlanKindPlan, result.Plan.Kind)
	assert.Empty(t, client.Calls(), "high-confidence pre-pass must not consult the model")
}

func TestPlanConsultsModelOnLowConfidence(t *testing.T) {
	client := llm.NewMockClient()
	client.SetFallback(`{"kind":"plan","steps":[{"step_id":"s1","tool_name":"ci_search","parameters":{"query":"web"}}],"output_views":["table"]}`)
	p := New(&fakeConfig{mappings: testMappings()}, client, nil, 0.85)

	result, err := p.Plan(context.Background(), "something vague about the fleet", "tenant-a")
	require.NoError(t, err)

	assert.True(t, result.UsedModel)
	assert.Equal(t, "mock", result.ModelName)
	require.Len(t, result.Plan.Steps, 1)
	assert.Equal(t, "ci_search", result.Plan.Steps[0].ToolName)
}

func TestPlanRepairRetry(t *testing.T) {
	client := llm.NewMockClient()
	// First response is prose; the repair prompt embeds it, which the second
	// rule matches.
	client.SetFallback("Sure! Here is my analysis without any JSON.")
	client.Respond("could not be parsed",
		`{"kind":"direct_answer","text":"All systems nominal."}`)
	p := New(&fakeConfig{mappings: testMappings()}, client, nil, 0.85)

	result, err := p.Plan(context.Background(), "random question", "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, models.PlanKindDirectAnswer, result.Plan.Kind)
	assert.Len(t, client.Calls(), 2)
}

func TestPlanMalformedAfterRetryFails(t *testing.T) {
	client := llm.NewMockClient()
	client.SetFallback("still not json")
	p := New(&fakeConfig{mappings: testMappings()}, client, nil, 0.85)

	_, err := p.Plan(context.Background(), "random question", "tenant-a")
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.PlanningError))
}

func TestPlanModelUnreachableFallsBackToPrePass(t *testing.T) {
	p := New(&fakeConfig{mappings: testMappings()}, &failingClient{}, nil, 0.99)

	// Pre-pass finds a series intent but the 0.99 threshold forces a model
	// attempt, which fails; the pre-pass plan is the degraded answer.
	result, err := p.Plan(context.Background(), "cpu last hour", "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, models.PlanKindPlan, result.Plan.Kind)
	assert.False(t, result.UsedModel)
}

func TestPlanModelUnreachableRejectsWhenNoPrePass(t *testing.T) {
	p := New(&fakeConfig{mappings: testMappings()}, &failingClient{}, nil, 0.85)

	result, err := p.Plan(context.Background(), "tell me a story", "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, models.PlanKindReject, result.Plan.Kind)
	assert.Contains(t, result.Plan.Reason, "unavailable")
}

func TestPlanRewritesAliases(t *testing.T) {
	client := llm.NewMockClient()
	client.SetFallback(`{"kind":"plan","steps":[{"step_id":"s1","tool_name":"search_cis"}]}`)
	lookup := &fakeLookup{aliases: map[string]string{"search_cis": "ci_search"}}
	p := New(&fakeConfig{mappings: testMappings()}, client, lookup, 0.85)

	result, err := p.Plan(context.Background(), "anything", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "ci_search", result.Plan.Steps[0].ToolName)
}

// failingClient simulates an unreachable model endpoint.
type failingClient struct{}

func (f *failingClient) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return nil, errcode.Wrap(errcode.UpstreamUnavail, "model endpoint unreachable",
		errors.New("connection refused"))
}

func (f *failingClient) Model() string { return "unreachable" }

func TestParsePlan(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		plan, err := ParsePlan(`{"kind":"plan","steps":[{"step_id":"a","tool_name":"ci_search"}]}`)
		require.NoError(t, err)
		assert.Equal(t, models.PlanKindPlan, plan.Kind)
	})

	t.Run("fenced json", func(t *testing.T) {
		plan, err := ParsePlan("```json\n{\"kind\":\"direct_answer\",\"text\":\"hi\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "hi", plan.Text)
	})

	t.Run("json with surrounding prose", func(t *testing.T) {
		plan, err := ParsePlan(`Here you go: {"kind":"reject","reason":"out of scope"} hope that helps`)
		require.NoError(t, err)
		assert.Equal(t, "out of scope", plan.Reason)
	})

	t.Run("missing required fields", func(t *testing.T) {
		for _, content := range []string{
			`{"kind":"direct_answer"}`,
			`{"kind":"reject"}`,
			`{"kind":"plan","steps":[]}`,
			`{"kind":"plan","steps":[{"step_id":"a"}]}`,
			`{"kind":"poem"}`,
			`no json at all`,
		} {
			_, err := ParsePlan(content)
			assert.Error(t, err, content)
		}
	})
}
