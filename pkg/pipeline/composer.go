package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opsintel/opsiq/pkg/chain"
	"github.com/opsintel/opsiq/pkg/models"
)

// Composer turns raw step results into semantic answer blocks per the plan's
// requested output views, deduplicating references along the way.
type Composer struct{}

// Compose builds the block list. Step outcomes are visited in plan order so
// block ordering is stable across runs.
func (c *Composer) Compose(plan *models.PlanOutput, result *chain.Result) ([]models.Block, []models.Reference) {
	var blocks []models.Block
	var refs []models.Reference

	views := plan.OutputViews
	if len(views) == 0 {
		views = []string{"table"}
	}

	for _, step := range plan.Steps {
		outcome := result.Outcomes[step.StepID]
		if outcome == nil {
			continue
		}
		if outcome.Status != chain.StepOK {
			blocks = append(blocks, models.Block{
				Type:  models.BlockTypeText,
				Title: step.StepID,
				Text: fmt.Sprintf("Step %s (%s) did not complete: %s",
					step.StepID, step.ToolName, outcome.Error),
				Meta: map[string]any{"status": string(outcome.Status), "error_code": outcome.ErrorCode},
			})
			continue
		}
		refs = append(refs, outcome.Result.References...)
		rows := rowsOf(outcome.Result.Data)

		for _, view := range views {
			switch view {
			case "table":
				if block, ok := tableBlock(step.StepID, rows); ok {
					blocks = append(blocks, block)
				}
			case "timeseries":
				if block, ok := timeseriesBlock(step.StepID, rows); ok {
					blocks = append(blocks, block)
				}
			case "graph":
				if block, ok := graphBlock(step.StepID, rows); ok {
					blocks = append(blocks, block)
				}
			case "text", "markdown":
				blocks = append(blocks, textBlock(step, outcome, view))
			}
		}
	}

	refs = dedupReferences(refs)
	if len(refs) > 0 {
		blocks = append(blocks, models.Block{
			Type: models.BlockTypeReferences,
			Refs: refs,
		})
	}
	return blocks, refs
}

func rowsOf(data map[string]any) []map[string]any {
	raw, ok := data["rows"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// tableBlock renders rows as a table with a stable column order.
func tableBlock(title string, rows []map[string]any) (models.Block, bool) {
	if len(rows) == 0 {
		return models.Block{}, false
	}
	columnSet := map[string]bool{}
	for _, row := range rows {
		for col := range row {
			columnSet[col] = true
		}
	}
	columns := make([]string, 0, len(columnSet))
	for col := range columnSet {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	tableRows := make([][]any, 0, len(rows))
	for _, row := range rows {
		cells := make([]any, len(columns))
		for i, col := range columns {
			cells[i] = row[col]
		}
		tableRows = append(tableRows, cells)
	}
	return models.Block{
		Type:    models.BlockTypeTable,
		Title:   title,
		Columns: columns,
		Rows:    tableRows,
	}, true
}

// timeseriesBlock groups rows into named series. Rows need a timestamp
// column (ts/timestamp) and a numeric value column; the series name comes
// from a metric/name column when present.
func timeseriesBlock(title string, rows []map[string]any) (models.Block, bool) {
	grouped := map[string][]models.DataPoint{}
	for _, row := range rows {
		ts, tsOK := asInt64(pick(row, "ts", "timestamp", "time"))
		value, valOK := asFloat(pick(row, "value", "val"))
		if !tsOK || !valOK {
			continue
		}
		name, _ := pick(row, "metric", "name", "series").(string)
		if name == "" {
			name = title
		}
		grouped[name] = append(grouped[name], models.DataPoint{Timestamp: ts, Value: value})
	}
	if len(grouped) == 0 {
		return models.Block{}, false
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	series := make([]models.Series, 0, len(names))
	for _, name := range names {
		points := grouped[name]
		sort.Slice(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
		series = append(series, models.Series{Name: name, Points: points})
	}
	return models.Block{
		Type:   models.BlockTypeTimeseries,
		Title:  title,
		Series: series,
	}, true
}

// graphBlock splits rows into nodes (id present) and edges (from/to present).
func graphBlock(title string, rows []map[string]any) (models.Block, bool) {
	var nodes []models.GraphNode
	var edges []models.GraphEdge
	seenNodes := map[string]bool{}

	for _, row := range rows {
		from, fromOK := row["from"].(string)
		to, toOK := row["to"].(string)
		if fromOK && toOK {
			relation, _ := row["relation"].(string)
			edges = append(edges, models.GraphEdge{From: from, To: to, Relation: relation})
			continue
		}
		id, ok := row["id"].(string)
		if !ok || seenNodes[id] {
			continue
		}
		seenNodes[id] = true
		label, _ := row["label"].(string)
		kind, _ := row["kind"].(string)
		props := map[string]any{}
		for k, v := range row {
			switch k {
			case "id", "label", "kind":
			default:
				props[k] = v
			}
		}
		if len(props) == 0 {
			props = nil
		}
		nodes = append(nodes, models.GraphNode{ID: id, Label: label, Kind: kind, Properties: props})
	}
	if len(nodes) == 0 && len(edges) == 0 {
		return models.Block{}, false
	}
	return models.Block{
		Type:  models.BlockTypeGraph,
		Title: title,
		Nodes: nodes,
		Edges: edges,
	}, true
}

func textBlock(step models.PlanStep, outcome *chain.StepOutcome, view string) models.Block {
	blockType := models.BlockTypeText
	if view == "markdown" {
		blockType = models.BlockTypeMarkdown
	}
	text := fmt.Sprintf("%s returned %d result(s) in %dms.",
		step.ToolName, outcome.Result.RowCount, outcome.ElapsedMs)
	if body, ok := outcome.Result.Data["body"].(string); ok && body != "" {
		text = body
	}
	return models.Block{Type: blockType, Title: step.StepID, Text: text}
}

func dedupReferences(refs []models.Reference) []models.Reference {
	seen := map[string]bool{}
	out := refs[:0]
	for _, ref := range refs {
		key := ref.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ref)
	}
	return out
}

func pick(row map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := row[key]; ok {
			return v
		}
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// summarizeSteps renders a one-line plan summary for query history.
func summarizeSteps(plan *models.PlanOutput) string {
	if plan == nil {
		return ""
	}
	switch plan.Kind {
	case models.PlanKindDirectAnswer:
		return "direct answer"
	case models.PlanKindReject:
		return "rejected: " + plan.Reason
	}
	tools := make([]string, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		tools = append(tools, step.ToolName)
	}
	return strings.Join(tools, ", ")
}
