package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
)

// fakePolicies serves fixed policy content.
type fakePolicies struct {
	budget    assets.PlanBudgetPolicy
	viewDepth assets.ViewDepthPolicy
	allowlist assets.RelationAllowlist
}

func (f *fakePolicies) PlanBudget(context.Context, string) (*assets.PlanBudgetPolicy, error) {
	return &f.budget, nil
}

func (f *fakePolicies) ViewDepth(context.Context, string) (*assets.ViewDepthPolicy, error) {
	return &f.viewDepth, nil
}

func (f *fakePolicies) RelationAllowlist(context.Context, string) (*assets.RelationAllowlist, error) {
	return &f.allowlist, nil
}

// fakeTools is an in-memory tool registry view.
type fakeTools struct {
	specs   map[string]*models.ToolSpec
	aliases map[string]string
}

func (f *fakeTools) Canonical(name string) (string, bool) {
	if _, ok := f.specs[name]; ok {
		return name, true
	}
	if canonical, ok := f.aliases[name]; ok {
		return canonical, true
	}
	return "", false
}

func (f *fakeTools) Lookup(name string) (*models.ToolSpec, bool) {
	spec, ok := f.specs[name]
	return spec, ok
}

func testValidator() (*Validator, *fakePolicies, *fakeTools) {
	policies := &fakePolicies{
		budget: assets.PlanBudgetPolicy{MaxSteps: 3, MaxGraphDepth: 4},
		viewDepth: assets.ViewDepthPolicy{
			MaxDepth: map[models.GraphView]int{
				models.GraphViewDependency: 3,
				models.GraphViewImpact:     2,
			},
			DefaultDirection: map[models.GraphView]string{
				models.GraphViewDependency: "down",
			},
		},
		allowlist: assets.RelationAllowlist{
			Views: map[models.GraphView][]string{
				models.GraphViewDependency: {"DEPENDS_ON", "RUNS_ON"},
			},
		},
	}
	tools := &fakeTools{
		specs: map[string]*models.ToolSpec{
			"ci_search":  {Name: "ci_search", Kind: models.ToolKindSearch},
			"graph_view": {Name: "graph_view", Kind: models.ToolKindGraphQuery},
			"restricted": {Name: "restricted", Kind: models.ToolKindSearch,
				SupportedTenants: []string{"tenant-b"}},
		},
		aliases: map[string]string{"search_cis": "ci_search"},
	}
	return New(policies, tools), policies, tools
}

func planWithSteps(steps ...models.PlanStep) *models.PlanOutput {
	return &models.PlanOutput{Kind: models.PlanKindPlan, Steps: steps}
}

func TestNonPlanKindsPassThrough(t *testing.T) {
	v, _, _ := testValidator()

	for _, kind := range []models.PlanKind{models.PlanKindDirectAnswer, models.PlanKindReject} {
		decisions, err := v.Validate(context.Background(), &models.PlanOutput{Kind: kind}, "tenant-a")
		require.NoError(t, err)
		assert.Empty(t, decisions)
	}
}

func TestEmptyPlanRejected(t *testing.T) {
	v, _, _ := testValidator()
	_, err := v.Validate(context.Background(), planWithSteps(), "tenant-a")
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.PlanInvalid))
}

func TestStepsClampedToBudget(t *testing.T) {
	v, _, _ := testValidator()
	plan := planWithSteps(
		models.PlanStep{StepID: "a", ToolName: "ci_search"},
		models.PlanStep{StepID: "b", ToolName: "ci_search"},
		models.PlanStep{StepID: "c", ToolName: "ci_search"},
		models.PlanStep{StepID: "d", ToolName: "ci_search"},
	)

	decisions, err := v.Validate(context.Background(), plan, "tenant-a")
	require.NoError(t, err)

	assert.Len(t, plan.Steps, 3)
	assert.Contains(t, decisions, "steps_clamped")
}

func TestBudgetExecutionBoundsApplied(t *testing.T) {
	v, policies, _ := testValidator()
	policies.budget.OverallTimeoutMs = 30_000
	policies.budget.MaxParallel = 2

	plan := planWithSteps(models.PlanStep{StepID: "a", ToolName: "ci_search"})
	decisions, err := v.Validate(context.Background(), plan, "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, 30_000, plan.ExecTimeoutMs)
	assert.Equal(t, 2, plan.MaxParallel)
	assert.Equal(t, 30_000, decisions["overall_timeout_ms"])
	assert.Equal(t, 2, decisions["max_parallel"])
}

func TestBudgetWithoutExecutionBoundsLeavesPlanUntouched(t *testing.T) {
	v, _, _ := testValidator()

	plan := planWithSteps(models.PlanStep{StepID: "a", ToolName: "ci_search"})
	decisions, err := v.Validate(context.Background(), plan, "tenant-a")
	require.NoError(t, err)

	assert.Zero(t, plan.ExecTimeoutMs)
	assert.Zero(t, plan.MaxParallel)
	assert.NotContains(t, decisions, "overall_timeout_ms")
	assert.NotContains(t, decisions, "max_parallel")
}

func TestAppliedAssetVersionsRecorded(t *testing.T) {
	v, policies, registry := testValidator()
	policies.budget.Version = 4
	policies.viewDepth.Version = 2
	policies.allowlist.Version = 7
	registry.specs["graph_view"].AssetVersion = 3

	plan := planWithSteps(models.PlanStep{StepID: "g", ToolName: "graph_view"})
	plan.Graph = &models.GraphSpec{View: models.GraphViewDependency, Depth: 2}

	decisions, err := v.Validate(context.Background(), plan, "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"policy:plan_budget":               4,
		"policy:view_depth":                2,
		"mapping:graph_relation_allowlist": 7,
		"tool:graph_view":                  3,
	}, decisions["applied_assets"])
}

func TestUnversionedAssetsRecordNothing(t *testing.T) {
	v, _, _ := testValidator()

	plan := planWithSteps(models.PlanStep{StepID: "a", ToolName: "ci_search"})
	decisions, err := v.Validate(context.Background(), plan, "tenant-a")
	require.NoError(t, err)

	assert.NotContains(t, decisions, "applied_assets")
}

func TestGraphDepthClamped(t *testing.T) {
	v, _, _ := testValidator()
	plan := planWithSteps(models.PlanStep{StepID: "g", ToolName: "graph_view"})
	plan.Graph = &models.GraphSpec{View: models.GraphViewDependency, Depth: 9}

	decisions, err := v.Validate(context.Background(), plan, "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, 3, plan.Graph.Depth, "view policy caps dependency depth at 3")
	assert.Contains(t, decisions, "graph_depth_clamped")
	assert.Equal(t, "down", plan.Graph.Direction)
}

func TestGraphDepthDefaulted(t *testing.T) {
	v, _, _ := testValidator()
	plan := planWithSteps(models.PlanStep{StepID: "g", ToolName: "graph_view"})
	plan.Graph = &models.GraphSpec{View: models.GraphViewDependency}

	decisions, err := v.Validate(context.Background(), plan, "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, 1, plan.Graph.Depth)
	assert.Contains(t, decisions, "graph_depth_defaulted")
}

func TestUnknownGraphViewRejected(t *testing.T) {
	v, _, _ := testValidator()
	plan := planWithSteps(models.PlanStep{StepID: "g", ToolName: "graph_view"})
	plan.Graph = &models.GraphSpec{View: "EVERYTHING", Depth: 1}

	_, err := v.Validate(context.Background(), plan, "tenant-a")
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.PlanInvalid))
}

func TestRelationTypesIntersected(t *testing.T) {
	v, _, _ := testValidator()
	plan := planWithSteps(models.PlanStep{StepID: "g", ToolName: "graph_view"})
	plan.Graph = &models.GraphSpec{
		View:          models.GraphViewDependency,
		Depth:         2,
		RelationTypes: []string{"DEPENDS_ON", "OWNS"},
	}

	decisions, err := v.Validate(context.Background(), plan, "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, []string{"DEPENDS_ON"}, plan.Graph.RelationTypes)
	assert.Equal(t, []string{"OWNS"}, decisions["relation_types_dropped"])
}

func TestNoAllowedRelationTypesDenied(t *testing.T) {
	v, _, _ := testValidator()
	plan := planWithSteps(models.PlanStep{StepID: "g", ToolName: "graph_view"})
	plan.Graph = &models.GraphSpec{
		View:          models.GraphViewDependency,
		Depth:         2,
		RelationTypes: []string{"OWNS"},
	}

	_, err := v.Validate(context.Background(), plan, "tenant-a")
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.PolicyDeny))
}

func TestTenantMismatchRejected(t *testing.T) {
	v, _, _ := testValidator()
	plan := planWithSteps(models.PlanStep{
		StepID:     "a",
		ToolName:   "ci_search",
		Parameters: map[string]any{"tenant_id": "tenant-z"},
	})

	_, err := v.Validate(context.Background(), plan, "tenant-a")
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.TenantMismatch))
}

func TestToolTenantScopeEnforced(t *testing.T) {
	v, _, _ := testValidator()
	plan := planWithSteps(models.PlanStep{StepID: "a", ToolName: "restricted"})

	_, err := v.Validate(context.Background(), plan, "tenant-a")
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.TenantMismatch))
}

func TestUnknownToolRejected(t *testing.T) {
	v, _, _ := testValidator()
	plan := planWithSteps(models.PlanStep{StepID: "a", ToolName: "no_such_tool"})

	_, err := v.Validate(context.Background(), plan, "tenant-a")
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.ToolNotFound))
}

func TestAliasRewriteRecorded(t *testing.T) {
	v, _, _ := testValidator()
	plan := planWithSteps(models.PlanStep{StepID: "a", ToolName: "search_cis"})

	decisions, err := v.Validate(context.Background(), plan, "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, "ci_search", plan.Steps[0].ToolName)
	assert.Contains(t, decisions, "alias_rewrite:a")
}

func TestInlineStatementScreened(t *testing.T) {
	v, _, _ := testValidator()
	plan := planWithSteps(models.PlanStep{
		StepID:     "g",
		ToolName:   "graph_view",
		Parameters: map[string]any{"query": "MATCH (n) DELETE n"},
	})

	_, err := v.Validate(context.Background(), plan, "tenant-a")
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.SQLBlocked))
}

func TestFreeTextSearchParameterUnscreened(t *testing.T) {
	v, _, _ := testValidator()
	plan := planWithSteps(models.PlanStep{
		StepID:     "s",
		ToolName:   "ci_search",
		Parameters: map[string]any{"query": "why was the cache dropped"},
	})

	_, err := v.Validate(context.Background(), plan, "tenant-a")
	assert.NoError(t, err)
}
