package models

// PlanKind discriminates the three planner outcomes.
type PlanKind string

// Plan kind constants.
const (
	PlanKindDirectAnswer PlanKind = "direct_answer"
	PlanKindReject       PlanKind = "reject"
	PlanKindPlan         PlanKind = "plan"
)

// PlanOutput is the typed result of the planning stage. Exactly one of the
// variant fields is meaningful for a given Kind:
//   - direct_answer: Text, Confidence
//   - reject:        Reason, Confidence
//   - plan:          Steps, OutputViews and the optional spec fields
type PlanOutput struct {
	Kind       PlanKind `json:"kind"`
	Text       string   `json:"text,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`

	Steps       []PlanStep     `json:"steps,omitempty"`
	OutputViews []string       `json:"output_views,omitempty"`
	Aggregate   *AggregateSpec `json:"aggregate_spec,omitempty"`
	Graph       *GraphSpec     `json:"graph_spec,omitempty"`
	Metric      *MetricSpec    `json:"metric_spec,omitempty"`
	History     *HistorySpec   `json:"history_spec,omitempty"`
	Auto        *AutoSpec      `json:"auto_spec,omitempty"`

	// Execution bounds resolved from the plan budget policy during
	// validation. Never model-provided.
	ExecTimeoutMs int `json:"-"`
	MaxParallel   int `json:"-"`
}

// PlanStep is one tool invocation in a plan.
type PlanStep struct {
	StepID         string            `json:"step_id"`
	ToolName       string            `json:"tool_name"`
	Parameters     map[string]any    `json:"parameters,omitempty"`
	DependsOn      []string          `json:"depends_on,omitempty"`
	OutputMapping  map[string]string `json:"output_mapping,omitempty"`
	ExecutionOrder int               `json:"execution_order,omitempty"`
	Required       bool              `json:"required,omitempty"`
}

// AggregateSpec describes a requested aggregation over CI rows.
type AggregateSpec struct {
	GroupBy  []string       `json:"group_by,omitempty"`
	Metrics  []string       `json:"metrics,omitempty"`
	Filters  map[string]any `json:"filters,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	OrderBy  string         `json:"order_by,omitempty"`
	Distinct bool           `json:"distinct,omitempty"`
}

// GraphView is one of the predefined graph-query shapes.
type GraphView string

// Graph view constants.
const (
	GraphViewSummary     GraphView = "SUMMARY"
	GraphViewComposition GraphView = "COMPOSITION"
	GraphViewDependency  GraphView = "DEPENDENCY"
	GraphViewImpact      GraphView = "IMPACT"
	GraphViewPath        GraphView = "PATH"
	GraphViewNeighbors   GraphView = "NEIGHBORS"
)

// ValidGraphViews lists every recognized graph view.
var ValidGraphViews = []GraphView{
	GraphViewSummary, GraphViewComposition, GraphViewDependency,
	GraphViewImpact, GraphViewPath, GraphViewNeighbors,
}

// GraphSpec describes a requested graph traversal.
type GraphSpec struct {
	View          GraphView `json:"view"`
	RootCI        string    `json:"root_ci,omitempty"`
	TargetCI      string    `json:"target_ci,omitempty"`
	Depth         int       `json:"depth,omitempty"`
	Direction     string    `json:"direction,omitempty"`
	RelationTypes []string  `json:"relation_types,omitempty"`
}

// MetricSpec describes a requested metric series.
type MetricSpec struct {
	MetricName  string   `json:"metric_name"`
	CIIDs       []string `json:"ci_ids,omitempty"`
	TimeRange   string   `json:"time_range,omitempty"`
	Aggregation string   `json:"aggregation,omitempty"`
	Interval    string   `json:"interval,omitempty"`
}

// HistorySpec describes a requested change/event history lookup.
type HistorySpec struct {
	CIIDs     []string `json:"ci_ids,omitempty"`
	EventType string   `json:"event_type,omitempty"`
	TimeRange string   `json:"time_range,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// AutoSpec describes an automatic health assessment request.
type AutoSpec struct {
	Scope     string   `json:"scope,omitempty"`
	CIIDs     []string `json:"ci_ids,omitempty"`
	Severity  string   `json:"severity,omitempty"`
	TimeRange string   `json:"time_range,omitempty"`
}

// PolicyDecisions records every clamp and rejection the validator applied.
// Written into the trace so operators can see why a plan was modified.
type PolicyDecisions map[string]any

// ReplanTriggerType classifies what caused a replan request.
type ReplanTriggerType string

// Replan trigger type constants.
const (
	ReplanTriggerError           ReplanTriggerType = "error"
	ReplanTriggerTimeout         ReplanTriggerType = "timeout"
	ReplanTriggerPolicyViolation ReplanTriggerType = "policy_violation"
)

// ReplanSeverity grades the urgency of a replan trigger.
type ReplanSeverity string

// Replan severity constants.
const (
	ReplanSeverityNormal   ReplanSeverity = "normal"
	ReplanSeverityCritical ReplanSeverity = "critical"
)

// ReplanTrigger is a request to restart execution from Route with a patch.
type ReplanTrigger struct {
	Type     ReplanTriggerType `json:"type"`
	Severity ReplanSeverity    `json:"severity"`
	Stage    string            `json:"stage,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Patch    map[string]any    `json:"patch,omitempty"`
}
