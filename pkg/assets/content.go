package assets

import "github.com/opsintel/opsiq/pkg/models"

// Well-known system asset names the orchestrator requires at runtime.
// Reads of these fail hard when the asset is missing; there are no
// hard-coded fallbacks.
const (
	AssetPlanBudget        = "plan_budget"
	AssetViewDepth         = "view_depth"
	AssetDiscoveryConfig   = "discovery_config"
	AssetPlannerPrompt     = "planner_prompt"
	AssetPlannerKeywords   = "planner_keywords"
	AssetPlannerDefaults   = "planner_defaults"
	AssetRelationAllowlist = "graph_relation_allowlist"
)

// DefaultScope is the scope used by the orchestrator's own assets.
const DefaultScope = "ops"

// PlanBudgetPolicy is the content schema of the plan_budget policy asset.
type PlanBudgetPolicy struct {
	MaxSteps         int `json:"max_steps"`
	OverallTimeoutMs int `json:"overall_timeout_ms"`
	MaxGraphDepth    int `json:"max_graph_depth"`
	MaxParallel      int `json:"max_parallel"`

	// Version is the published asset version, filled by the catalog so
	// traces can name the exact policy that was in effect.
	Version int `json:"-"`
}

// ViewDepthPolicy is the content schema of the view_depth policy asset.
type ViewDepthPolicy struct {
	MaxDepth         map[models.GraphView]int    `json:"max_depth"`
	DefaultDirection map[models.GraphView]string `json:"default_direction"`

	Version int `json:"-"`
}

// MaxDepthFor returns the depth cap for a view, defaulting to 3.
func (p *ViewDepthPolicy) MaxDepthFor(view models.GraphView) int {
	if d, ok := p.MaxDepth[view]; ok && d > 0 {
		return d
	}
	return 3
}

// DirectionFor returns the default direction for a view, defaulting to "both".
func (p *ViewDepthPolicy) DirectionFor(view models.GraphView) string {
	if d, ok := p.DefaultDirection[view]; ok && d != "" {
		return d
	}
	return "both"
}

// RelationAllowlist is the content schema of graph_relation_allowlist.
type RelationAllowlist struct {
	Views   map[models.GraphView][]string `json:"views"`
	Default []string                      `json:"default"`

	Version int `json:"-"`
}

// For returns the allowlist for a view, falling back to the default set.
// An empty result means every relation type is allowed.
func (a *RelationAllowlist) For(view models.GraphView) []string {
	if rels, ok := a.Views[view]; ok && len(rels) > 0 {
		return rels
	}
	return a.Default
}

// KeywordMappings is the content schema of the planner_keywords mapping
// asset driving the deterministic pre-pass.
type KeywordMappings struct {
	MetricAliases      map[string]string `json:"metric_aliases"`
	AggregationWords   []string          `json:"aggregation_keywords"`
	TimeWindows        map[string]string `json:"time_window_keywords"`
	ListHints          []string          `json:"list_hints"`
	TableHints         []string          `json:"table_hints"`
	CEPKeywords        []string          `json:"cep_keywords"`
	GraphScopeKeywords map[string]string `json:"graph_scope_keywords"`
	AutoHealthKeywords []string          `json:"auto_health_keywords"`
	FilterableFields   []string          `json:"filterable_fields"`
}

// PlannerDefaults is the content schema of the planner_defaults mapping.
type PlannerDefaults struct {
	OutputTypePriorities []string `json:"output_type_priorities"`
}

// PromptAsset is the content schema of the planner prompt asset.
type PromptAsset struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// QueryAsset is the content schema of a query asset: a parameterized
// statement plus routing metadata.
type QueryAsset struct {
	Statement string   `json:"statement"`
	ToolType  string   `json:"tool_type"`
	Operation string   `json:"operation"`
	SourceRef string   `json:"source_ref,omitempty"`
	// GuardParams lists parameters whose emptiness removes a guarded
	// clause instead of binding an empty value.
	GuardParams []string `json:"guard_params,omitempty"`

	Version int `json:"-"`
}

// DiscoveryConfig is the content schema of discovery_config.
type DiscoveryConfig struct {
	CandidateLimit int      `json:"candidate_limit"`
	SearchFields   []string `json:"search_fields"`
	MinQueryLength int      `json:"min_query_length"`
	FallbackTool   string   `json:"fallback_tool,omitempty"`
}
