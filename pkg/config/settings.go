// Package config loads runtime settings for the orchestrator.
//
// Priority order, lowest to highest: built-in defaults, opsiq.yaml,
// environment variables, persisted overrides from the operation-settings
// table (applied via ApplyOverrides after the database is up and again on
// explicit reload).
package config

import "time"

// OpsMode selects between mock and real backends.
type OpsMode string

// Ops mode constants.
const (
	OpsModeMock OpsMode = "mock"
	OpsModeReal OpsMode = "real"
)

// ToolLimits caps per-tool result sizes.
type ToolLimits struct {
	MaxSearchLimit int `yaml:"max_search_limit" json:"max_search_limit"`
	MaxAggRows     int `yaml:"max_agg_rows" json:"max_agg_rows"`
	MaxNodes       int `yaml:"max_nodes" json:"max_nodes"`
	MaxEdges       int `yaml:"max_edges" json:"max_edges"`
}

// ReplanSettings are the control-loop policy knobs.
type ReplanSettings struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	MaxReplans      int           `yaml:"max_replans" json:"max_replans"`
	MinInterval     time.Duration `yaml:"min_interval" json:"min_interval"`
	CoolingPeriod   time.Duration `yaml:"cooling_period" json:"cooling_period"`
	AllowedTriggers []string      `yaml:"allowed_triggers" json:"allowed_triggers"`
}

// RetentionSettings control the trace/history cleanup loop.
type RetentionSettings struct {
	TraceRetentionDays int           `yaml:"trace_retention_days" json:"trace_retention_days"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// LLMSettings configure the language-model collaborator.
type LLMSettings struct {
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	Model       string  `yaml:"model" json:"model"`
	APIKeyEnv   string  `yaml:"api_key_env" json:"api_key_env"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	TimeoutMs   int     `yaml:"timeout_ms" json:"timeout_ms"`
}

// Settings is the umbrella runtime configuration object returned by
// Initialize and shared (read-only) across components.
type Settings struct {
	Mode               OpsMode           `yaml:"ops_mode" json:"ops_mode"`
	EnableLanggraph    bool              `yaml:"ops_enable_langgraph" json:"ops_enable_langgraph"`
	Timezone           string            `yaml:"ops_timezone" json:"ops_timezone"`
	DefaultSourceAsset string            `yaml:"ops_default_source_asset" json:"ops_default_source_asset"`
	Limits             ToolLimits        `yaml:"limits" json:"limits"`
	CacheTTL           time.Duration     `yaml:"cache_ttl" json:"cache_ttl"`
	Replan             ReplanSettings    `yaml:"replan" json:"replan"`
	Retention          RetentionSettings `yaml:"retention" json:"retention"`
	LLM                LLMSettings       `yaml:"llm" json:"llm"`

	PlannerMinConfidence float64 `yaml:"planner_min_confidence" json:"planner_min_confidence"`
	MaxParallelSteps     int     `yaml:"max_parallel_steps" json:"max_parallel_steps"`
	DefaultStepTimeoutMs int     `yaml:"default_step_timeout_ms" json:"default_step_timeout_ms"`
	ChainBudgetMs        int     `yaml:"chain_budget_ms" json:"chain_budget_ms"`
	TraceMemoryBudget    int     `yaml:"trace_memory_budget_bytes" json:"trace_memory_budget_bytes"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Mode:               OpsModeReal,
		Timezone:           "UTC",
		DefaultSourceAsset: "ops_default",
		Limits: ToolLimits{
			MaxSearchLimit: 50,
			MaxAggRows:     1000,
			MaxNodes:       500,
			MaxEdges:       2000,
		},
		CacheTTL: 60 * time.Second,
		Replan: ReplanSettings{
			Enabled:         true,
			MaxReplans:      2,
			MinInterval:     2 * time.Second,
			CoolingPeriod:   10 * time.Second,
			AllowedTriggers: []string{"error", "timeout", "policy_violation"},
		},
		Retention: RetentionSettings{
			TraceRetentionDays: 90,
			CleanupInterval:    12 * time.Hour,
		},
		LLM: LLMSettings{
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0,
			TimeoutMs:   30000,
		},
		PlannerMinConfidence: 0.85,
		MaxParallelSteps:     4,
		DefaultStepTimeoutMs: 10000,
		ChainBudgetMs:        60000,
		TraceMemoryBudget:    1 << 20,
	}
}

// DefaultStepTimeout returns the per-step timeout as a duration.
func (s *Settings) DefaultStepTimeout() time.Duration {
	return time.Duration(s.DefaultStepTimeoutMs) * time.Millisecond
}

// ChainBudget returns the overall chain deadline as a duration.
func (s *Settings) ChainBudget() time.Duration {
	return time.Duration(s.ChainBudgetMs) * time.Millisecond
}
