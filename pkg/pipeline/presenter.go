package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opsintel/opsiq/pkg/chain"
	"github.com/opsintel/opsiq/pkg/models"
)

// Presenter performs the final shaping: block ordering, answer text
// synthesis, metadata, and next-action suggestions.
type Presenter struct{}

// blockOrder ranks block types for presentation; lower comes first.
var blockOrder = map[models.BlockType]int{
	models.BlockTypeText:       0,
	models.BlockTypeMarkdown:   1,
	models.BlockTypeTable:      2,
	models.BlockTypeTimeseries: 3,
	models.BlockTypeGraph:      4,
	models.BlockTypeReferences: 5,
}

// Present assembles the response from composed blocks and the chain result.
func (p *Presenter) Present(plan *models.PlanOutput, result *chain.Result,
	blocks []models.Block, refs []models.Reference) *models.AskResponse {

	sort.SliceStable(blocks, func(i, j int) bool {
		return blockOrder[blocks[i].Type] < blockOrder[blocks[j].Type]
	})

	usedTools := usedTools(result)
	answer := p.synthesizeAnswer(plan, result, blocks)

	resp := &models.AskResponse{
		Answer:     answer,
		Blocks:     blocks,
		References: refs,
		Meta: models.AskMeta{
			Route:     string(plan.Kind),
			UsedTools: usedTools,
			Summary:   summarizeSteps(plan),
		},
		NextActions: p.nextActions(plan, result),
	}
	if resp.Blocks == nil {
		resp.Blocks = []models.Block{}
	}
	if resp.References == nil {
		resp.References = []models.Reference{}
	}
	return resp
}

func (p *Presenter) synthesizeAnswer(plan *models.PlanOutput, result *chain.Result, blocks []models.Block) string {
	totalRows, failed := 0, 0
	for _, outcome := range result.Outcomes {
		if outcome.Status == chain.StepOK && outcome.Result != nil {
			totalRows += outcome.Result.RowCount
		} else {
			failed++
		}
	}

	var sb strings.Builder
	switch {
	case failed == 0 && totalRows == 0:
		sb.WriteString("No matching data was found.")
	case failed == 0:
		fmt.Fprintf(&sb, "Collected %d result(s) across %d step(s).",
			totalRows, len(result.Outcomes))
	case failed == len(result.Outcomes):
		sb.WriteString("No step completed successfully; see the trace for details.")
	default:
		fmt.Fprintf(&sb, "Collected %d result(s); %d step(s) did not complete.",
			totalRows, failed)
	}
	if result.Partial {
		sb.WriteString(" The execution deadline was reached, so results are partial.")
	}
	return sb.String()
}

func (p *Presenter) nextActions(plan *models.PlanOutput, result *chain.Result) []string {
	var actions []string
	if result.Partial {
		actions = append(actions, "Re-run with a narrower time range or fewer steps to fit the execution budget.")
	}
	for _, outcome := range result.Outcomes {
		switch outcome.ErrorCode {
		case "CIRCUIT_OPEN":
			actions = append(actions,
				fmt.Sprintf("Tool %s is circuit-broken; check the backing source and reset the breaker.", outcome.Tool))
		case "RATE_LIMITED":
			actions = append(actions,
				fmt.Sprintf("Tool %s was rate limited; retry shortly.", outcome.Tool))
		}
	}
	if plan.Graph != nil && plan.Graph.Depth > 0 {
		actions = append(actions,
			fmt.Sprintf("Increase graph depth beyond %d to widen the traversal.", plan.Graph.Depth))
	}
	return actions
}

func usedTools(result *chain.Result) []string {
	seen := map[string]bool{}
	var tools []string
	for _, outcome := range result.Outcomes {
		if outcome.Status == chain.StepOK && !seen[outcome.Tool] {
			seen[outcome.Tool] = true
			tools = append(tools, outcome.Tool)
		}
	}
	sort.Strings(tools)
	return tools
}
