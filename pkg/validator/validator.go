// Package validator enforces policy over planner output before execution.
// Every clamp or rejection it applies is recorded in a policy_decisions map
// that travels with the trace.
package validator

import (
	"context"
	"fmt"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
)

// ToolChecker is the registry surface the validator needs: canonical name
// resolution and published-spec lookup.
type ToolChecker interface {
	Canonical(name string) (string, bool)
	Lookup(name string) (*models.ToolSpec, bool)
}

// PolicyCatalog serves the policy assets the validator enforces. Implemented
// by the asset catalog.
type PolicyCatalog interface {
	PlanBudget(ctx context.Context, tenantID string) (*assets.PlanBudgetPolicy, error)
	ViewDepth(ctx context.Context, tenantID string) (*assets.ViewDepthPolicy, error)
	RelationAllowlist(ctx context.Context, tenantID string) (*assets.RelationAllowlist, error)
}

// Validator applies the policy pipeline to plans.
type Validator struct {
	catalog PolicyCatalog
	tools   ToolChecker
}

// New creates a plan validator.
func New(catalog PolicyCatalog, tools ToolChecker) *Validator {
	return &Validator{catalog: catalog, tools: tools}
}

// Validate checks and clamps a plan in place. Plans of kind direct_answer or
// reject pass through untouched. The returned decisions map records every
// modification; a non-nil error means the plan is unusable.
func (v *Validator) Validate(ctx context.Context, plan *models.PlanOutput, tenantID string) (models.PolicyDecisions, error) {
	decisions := models.PolicyDecisions{}
	if plan.Kind != models.PlanKindPlan {
		return decisions, nil
	}
	if len(plan.Steps) == 0 {
		return decisions, errcode.New(errcode.PlanInvalid, "plan has no steps")
	}

	budget, err := v.catalog.PlanBudget(ctx, tenantID)
	if err != nil {
		return decisions, err
	}
	applied := map[string]int{}
	if budget.Version > 0 {
		applied["policy:"+assets.AssetPlanBudget] = budget.Version
	}

	// Budget: step count and graph depth are clamped, never rejected.
	if budget.MaxSteps > 0 && len(plan.Steps) > budget.MaxSteps {
		decisions["steps_clamped"] = map[string]any{
			"requested": len(plan.Steps), "allowed": budget.MaxSteps,
		}
		plan.Steps = plan.Steps[:budget.MaxSteps]
	}

	// Execution bounds travel with the plan; the chain executor tightens
	// its own deadline and parallelism against them.
	if budget.OverallTimeoutMs > 0 {
		plan.ExecTimeoutMs = budget.OverallTimeoutMs
		decisions["overall_timeout_ms"] = budget.OverallTimeoutMs
	}
	if budget.MaxParallel > 0 {
		plan.MaxParallel = budget.MaxParallel
		decisions["max_parallel"] = budget.MaxParallel
	}

	if plan.Graph != nil {
		if err := v.clampGraph(ctx, plan, budget, tenantID, decisions, applied); err != nil {
			return decisions, err
		}
	}

	// Tenant isolation: a step naming another tenant is a hard failure.
	for _, step := range plan.Steps {
		if raw, ok := step.Parameters["tenant_id"]; ok {
			if stepTenant, _ := raw.(string); stepTenant != "" && stepTenant != tenantID {
				return decisions, errcode.Newf(errcode.TenantMismatch,
					"step %s targets tenant %q", step.StepID, stepTenant)
			}
		}
	}

	// Tool existence and per-kind pre-safety.
	for i := range plan.Steps {
		step := &plan.Steps[i]
		canonical, ok := v.tools.Canonical(step.ToolName)
		if !ok {
			return decisions, errcode.Newf(errcode.ToolNotFound,
				"step %s references unknown tool %q", step.StepID, step.ToolName)
		}
		if canonical != step.ToolName {
			decisions[fmt.Sprintf("alias_rewrite:%s", step.StepID)] = map[string]any{
				"from": step.ToolName, "to": canonical,
			}
			step.ToolName = canonical
		}
		spec, ok := v.tools.Lookup(step.ToolName)
		if !ok {
			return decisions, errcode.Newf(errcode.ToolNotFound,
				"tool %q is not published", step.ToolName)
		}
		if !spec.SupportsTenant(tenantID) {
			return decisions, errcode.Newf(errcode.TenantMismatch,
				"tool %q does not serve tenant %q", step.ToolName, tenantID)
		}
		if err := preSafety(spec, step); err != nil {
			return decisions, err
		}
		if spec.AssetVersion > 0 {
			applied["tool:"+step.ToolName] = spec.AssetVersion
		}
	}

	if len(applied) > 0 {
		decisions["applied_assets"] = applied
	}
	return decisions, nil
}

func (v *Validator) clampGraph(ctx context.Context, plan *models.PlanOutput, budget *assets.PlanBudgetPolicy, tenantID string, decisions models.PolicyDecisions, applied map[string]int) error {
	graph := plan.Graph
	validView := false
	for _, view := range models.ValidGraphViews {
		if graph.View == view {
			validView = true
			break
		}
	}
	if !validView {
		return errcode.Newf(errcode.PlanInvalid, "unknown graph view %q", graph.View)
	}

	viewPolicy, err := v.catalog.ViewDepth(ctx, tenantID)
	if err != nil {
		return err
	}
	if viewPolicy.Version > 0 {
		applied["policy:"+assets.AssetViewDepth] = viewPolicy.Version
	}
	maxDepth := viewPolicy.MaxDepthFor(graph.View)
	if budget.MaxGraphDepth > 0 && budget.MaxGraphDepth < maxDepth {
		maxDepth = budget.MaxGraphDepth
	}
	switch {
	case graph.Depth < 1:
		decisions["graph_depth_defaulted"] = 1
		graph.Depth = 1
	case graph.Depth > maxDepth:
		decisions["graph_depth_clamped"] = map[string]any{
			"requested": graph.Depth, "allowed": maxDepth,
		}
		graph.Depth = maxDepth
	}
	if graph.Direction == "" {
		graph.Direction = viewPolicy.DirectionFor(graph.View)
		decisions["graph_direction_defaulted"] = graph.Direction
	}

	allowlist, err := v.catalog.RelationAllowlist(ctx, tenantID)
	if err != nil {
		return err
	}
	if allowlist.Version > 0 {
		applied["mapping:"+assets.AssetRelationAllowlist] = allowlist.Version
	}
	allowed := allowlist.For(graph.View)
	if len(allowed) > 0 {
		if len(graph.RelationTypes) == 0 {
			graph.RelationTypes = allowed
		} else {
			kept, dropped := intersect(graph.RelationTypes, allowed)
			if len(dropped) > 0 {
				decisions["relation_types_dropped"] = dropped
			}
			if len(kept) == 0 {
				return errcode.New(errcode.PolicyDeny,
					"no requested relation type is allowed for this view")
			}
			graph.RelationTypes = kept
		}
	}
	return nil
}

// preSafety delegates per-kind content checks: stored SQL templates and HTTP
// URLs were already screened at publish, so this only re-checks inline
// statements a plan may try to smuggle in.
func preSafety(spec *models.ToolSpec, step *models.PlanStep) error {
	for _, key := range []string{"query", "statement", "sql"} {
		raw, ok := step.Parameters[key]
		if !ok {
			continue
		}
		text, _ := raw.(string)
		if text == "" {
			continue
		}
		switch spec.Kind {
		case models.ToolKindDatabaseQuery, models.ToolKindGraphQuery:
			if err := assets.CheckStatementSafety(text); err != nil {
				return err
			}
		default:
			// Free-text search parameters pass through untouched.
		}
	}
	return nil
}

func intersect(requested, allowed []string) (kept, dropped []string) {
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}
	for _, r := range requested {
		if allowedSet[r] {
			kept = append(kept, r)
		} else {
			dropped = append(dropped, r)
		}
	}
	return kept, dropped
}
