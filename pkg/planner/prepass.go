package planner

import (
	"sort"
	"strings"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/models"
)

// Hints is the deterministic pre-pass result: everything the keyword scan
// could extract from the question before the language model sees it.
type Hints struct {
	Intent        string            `json:"intent,omitempty"`
	Metrics       []string          `json:"metrics,omitempty"`
	TimeRange     string            `json:"time_range,omitempty"`
	Aggregations  []string          `json:"aggregations,omitempty"`
	Filters       map[string]string `json:"filters,omitempty"`
	GraphScope    string            `json:"graph_scope,omitempty"`
	WantsTable    bool              `json:"wants_table,omitempty"`
	WantsList     bool              `json:"wants_list,omitempty"`
	AutoHealth    bool              `json:"auto_health,omitempty"`
	Confidence    float64           `json:"confidence"`
	MatchedTokens []string          `json:"matched_tokens,omitempty"`
}

// Intent labels produced by the pre-pass.
const (
	IntentAggregate = "aggregate"
	IntentSeries    = "series"
	IntentHistory   = "history"
	IntentGraph     = "graph"
	IntentList      = "list"
	IntentAuto      = "auto"
)

// PrePass scans the question against the keyword mapping asset. It never
// calls out; confidence reflects how unambiguously the keywords point at a
// single intent.
func PrePass(question string, mappings *assets.KeywordMappings) *Hints {
	lower := strings.ToLower(question)
	hints := &Hints{Filters: map[string]string{}}

	matched := func(token string) {
		hints.MatchedTokens = append(hints.MatchedTokens, token)
	}

	// Metric aliases resolve informal names ("cpu", "mem") to canonical
	// metric identifiers.
	aliases := make([]string, 0, len(mappings.MetricAliases))
	for alias := range mappings.MetricAliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	seen := map[string]bool{}
	for _, alias := range aliases {
		if containsWord(lower, strings.ToLower(alias)) {
			canonical := mappings.MetricAliases[alias]
			if !seen[canonical] {
				seen[canonical] = true
				hints.Metrics = append(hints.Metrics, canonical)
			}
			matched(alias)
		}
	}

	for _, word := range mappings.AggregationWords {
		if containsWord(lower, strings.ToLower(word)) {
			hints.Aggregations = append(hints.Aggregations, word)
			matched(word)
		}
	}

	windows := make([]string, 0, len(mappings.TimeWindows))
	for phrase := range mappings.TimeWindows {
		windows = append(windows, phrase)
	}
	// Longest phrase wins so "last 24 hours" beats "last hour".
	sort.Slice(windows, func(i, j int) bool { return len(windows[i]) > len(windows[j]) })
	for _, phrase := range windows {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			hints.TimeRange = mappings.TimeWindows[phrase]
			matched(phrase)
			break
		}
	}

	for _, hint := range mappings.TableHints {
		if containsWord(lower, strings.ToLower(hint)) {
			hints.WantsTable = true
			matched(hint)
		}
	}
	for _, hint := range mappings.ListHints {
		if containsWord(lower, strings.ToLower(hint)) {
			hints.WantsList = true
			matched(hint)
		}
	}
	for _, word := range mappings.AutoHealthKeywords {
		if containsWord(lower, strings.ToLower(word)) {
			hints.AutoHealth = true
			matched(word)
		}
	}

	scopes := make([]string, 0, len(mappings.GraphScopeKeywords))
	for phrase := range mappings.GraphScopeKeywords {
		scopes = append(scopes, phrase)
	}
	sort.Slice(scopes, func(i, j int) bool { return len(scopes[i]) > len(scopes[j]) })
	for _, phrase := range scopes {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			hints.GraphScope = mappings.GraphScopeKeywords[phrase]
			matched(phrase)
			break
		}
	}

	for _, field := range mappings.FilterableFields {
		if value, ok := extractFilter(lower, strings.ToLower(field)); ok {
			hints.Filters[field] = value
			matched(field)
		}
	}

	hints.Intent, hints.Confidence = classify(hints, mappings, lower)
	return hints
}

// classify picks a single intent from the collected signals. Confidence is
// high only when one intent dominates.
func classify(h *Hints, mappings *assets.KeywordMappings, lower string) (string, float64) {
	scores := map[string]float64{}
	if len(h.Aggregations) > 0 {
		scores[IntentAggregate] = 0.5 + 0.15*float64(len(h.Aggregations))
	}
	if len(h.Metrics) > 0 && h.TimeRange != "" {
		scores[IntentSeries] = 0.9
	} else if len(h.Metrics) > 0 {
		scores[IntentSeries] = 0.6
	}
	for _, word := range mappings.CEPKeywords {
		if containsWord(lower, strings.ToLower(word)) {
			scores[IntentHistory] += 0.45
		}
	}
	if h.GraphScope != "" {
		scores[IntentGraph] = 0.85
	}
	if h.WantsList || h.WantsTable {
		scores[IntentList] += 0.4
	}
	if h.AutoHealth {
		scores[IntentAuto] = 0.9
	}

	best, bestScore, secondScore := "", 0.0, 0.0
	for intent, score := range scores {
		switch {
		case score > bestScore:
			best, secondScore, bestScore = intent, bestScore, score
		case score > secondScore:
			secondScore = score
		}
	}
	if best == "" {
		return "", 0
	}
	if bestScore > 1 {
		bestScore = 1
	}
	// Competing intents reduce confidence; the model breaks the tie.
	if secondScore > 0 {
		bestScore -= secondScore / 2
	}
	if bestScore < 0 {
		bestScore = 0
	}
	return best, bestScore
}

// BuildPlan turns high-confidence hints into a PlanOutput without the model.
func BuildPlan(h *Hints, question string) *models.PlanOutput {
	filters := map[string]any{}
	for k, v := range h.Filters {
		filters[k] = v
	}

	switch h.Intent {
	case IntentSeries:
		return &models.PlanOutput{
			Kind:       models.PlanKindPlan,
			Confidence: h.Confidence,
			Steps: []models.PlanStep{{
				StepID:   "metrics",
				ToolName: "metric_series",
				Parameters: map[string]any{
					"metric_name": first(h.Metrics),
					"time_range":  orDefault(h.TimeRange, "last_24h"),
				},
				Required: true,
			}},
			OutputViews: []string{"timeseries"},
			Metric: &models.MetricSpec{
				MetricName: first(h.Metrics),
				TimeRange:  orDefault(h.TimeRange, "last_24h"),
			},
		}
	case IntentAggregate:
		return &models.PlanOutput{
			Kind:       models.PlanKindPlan,
			Confidence: h.Confidence,
			Steps: []models.PlanStep{{
				StepID:     "aggregate",
				ToolName:   "ci_aggregate",
				Parameters: map[string]any{"filters": filters},
				Required:   true,
			}},
			OutputViews: []string{"table"},
			Aggregate:   &models.AggregateSpec{Filters: filters},
		}
	case IntentHistory:
		return &models.PlanOutput{
			Kind:       models.PlanKindPlan,
			Confidence: h.Confidence,
			Steps: []models.PlanStep{{
				StepID:   "history",
				ToolName: "change_history",
				Parameters: map[string]any{
					"time_range": orDefault(h.TimeRange, "last_7d"),
				},
				Required: true,
			}},
			OutputViews: []string{"table"},
			History:     &models.HistorySpec{TimeRange: orDefault(h.TimeRange, "last_7d")},
		}
	case IntentGraph:
		return &models.PlanOutput{
			Kind:       models.PlanKindPlan,
			Confidence: h.Confidence,
			Steps: []models.PlanStep{{
				StepID:   "graph",
				ToolName: "graph_view",
				Parameters: map[string]any{
					"view":    h.GraphScope,
					"root_ci": filters["name"],
				},
				Required: true,
			}},
			OutputViews: []string{"graph"},
			Graph: &models.GraphSpec{
				View:   models.GraphView(h.GraphScope),
				Depth:  2,
				RootCI: asString(filters["name"]),
			},
		}
	case IntentAuto:
		return &models.PlanOutput{
			Kind:       models.PlanKindPlan,
			Confidence: h.Confidence,
			Steps: []models.PlanStep{{
				StepID:     "health",
				ToolName:   "auto_health",
				Parameters: map[string]any{"time_range": orDefault(h.TimeRange, "last_24h")},
				Required:   true,
			}},
			OutputViews: []string{"text", "table"},
			Auto:        &models.AutoSpec{TimeRange: orDefault(h.TimeRange, "last_24h")},
		}
	case IntentList:
		return &models.PlanOutput{
			Kind:       models.PlanKindPlan,
			Confidence: h.Confidence,
			Steps: []models.PlanStep{{
				StepID:     "search",
				ToolName:   "ci_search",
				Parameters: map[string]any{"query": question, "filters": filters},
				Required:   true,
			}},
			OutputViews: []string{"table"},
		}
	}
	return nil
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(haystack[start-1])
		afterOK := end == len(haystack) || !isWordChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

// extractFilter finds "field <value>" or "field=<value>" or "field: <value>"
// patterns in the question.
func extractFilter(lower, field string) (string, bool) {
	for _, sep := range []string{"=", ": ", " is ", " "} {
		marker := field + sep
		i := strings.Index(lower, marker)
		if i < 0 {
			continue
		}
		if i > 0 && isWordChar(lower[i-1]) {
			continue
		}
		rest := lower[i+len(marker):]
		value := firstToken(rest)
		if value != "" {
			return value, true
		}
	}
	return "", false
}

func firstToken(s string) string {
	s = strings.TrimLeft(s, " \t")
	end := 0
	for end < len(s) && (isWordChar(s[end]) || s[end] == '-' || s[end] == '.') {
		end++
	}
	return strings.Trim(s[:end], ".")
}

func first(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[0]
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
