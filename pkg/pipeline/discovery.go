package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/opsintel/opsiq/pkg/chain"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
	"github.com/opsintel/opsiq/pkg/tools"
)

// discoverCandidates handles the empty-result case: a required step ran fine
// but matched nothing, so the entity the question names probably does not
// exist under that exact name. The discovery configuration supplies a
// fallback search tool; its hits become a candidate block the caller can
// pick from. Best effort: any failure here leaves the empty result as-is.
func (p *Pipeline) discoverCandidates(ctx context.Context, req models.AskRequest,
	plan *models.PlanOutput, result *chain.Result, rec tools.Recorder) (models.Block, bool) {

	step := emptyRequiredStep(plan, result)
	if step == nil || p.discovery == nil {
		return models.Block{}, false
	}
	cfg, err := p.discovery.Discovery(ctx, req.TenantID)
	if err != nil {
		return models.Block{}, false
	}

	meta := map[string]any{
		"error_code":    string(errcode.DataNotFound),
		"search_fields": cfg.SearchFields,
	}
	queryText := stepQueryText(step)
	if cfg.FallbackTool == "" || queryText == "" || len(queryText) < cfg.MinQueryLength {
		return suggestionBlock(step.StepID, cfg.SearchFields, meta), true
	}

	candidates, err := p.chains.Run(ctx, []models.PlanStep{{
		StepID:   "discover_candidates",
		ToolName: cfg.FallbackTool,
		Parameters: map[string]any{
			"query": queryText,
			"limit": cfg.CandidateLimit,
		},
	}}, req.TenantID, rec)
	if err != nil {
		return models.Block{}, false
	}
	outcome := candidates.Outcomes["discover_candidates"]
	if outcome == nil || outcome.Status != chain.StepOK || outcome.Result == nil {
		return models.Block{}, false
	}

	rows := rowsOf(outcome.Result.Data)
	if cfg.CandidateLimit > 0 && len(rows) > cfg.CandidateLimit {
		rows = rows[:cfg.CandidateLimit]
	}
	block, ok := tableBlock("candidates", rows)
	if !ok {
		return suggestionBlock(step.StepID, cfg.SearchFields, meta), true
	}
	block.Meta = meta
	return block, true
}

// suggestionBlock tells the caller what to search by when no candidates
// could be listed.
func suggestionBlock(stepID string, searchFields []string, meta map[string]any) models.Block {
	return models.Block{
		Type:  models.BlockTypeText,
		Title: "no_matches",
		Text: fmt.Sprintf("Step %s matched nothing. Try rephrasing with one of: %s.",
			stepID, strings.Join(searchFields, ", ")),
		Meta: meta,
	}
}

// emptyRequiredStep returns the first required step that succeeded with zero
// rows, or nil when every required step produced data.
func emptyRequiredStep(plan *models.PlanOutput, result *chain.Result) *models.PlanStep {
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if !step.Required {
			continue
		}
		outcome := result.Outcomes[step.StepID]
		if outcome != nil && outcome.Status == chain.StepOK &&
			outcome.Result != nil && outcome.Result.RowCount == 0 {
			return step
		}
	}
	return nil
}

// stepQueryText pulls the free-text term the step searched for.
func stepQueryText(step *models.PlanStep) string {
	for _, key := range []string{"query", "name", "search", "q"} {
		if v, ok := step.Parameters[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
