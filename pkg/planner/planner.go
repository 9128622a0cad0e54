// Package planner turns a natural-language question into a typed PlanOutput.
// A deterministic keyword pre-pass runs first; the language model is
// consulted only when the pre-pass is not confident enough on its own.
package planner

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/llm"
	"github.com/opsintel/opsiq/pkg/models"
)

// ToolLookup resolves tool names (including aliases) to their canonical
// published name. Implemented by the tool registry.
type ToolLookup interface {
	Canonical(name string) (string, bool)
}

// ConfigSource serves the planner's configuration assets. Implemented by the
// asset catalog.
type ConfigSource interface {
	Keywords(ctx context.Context, tenantID string) (*assets.KeywordMappings, error)
	PlannerPrompt(ctx context.Context, tenantID string) (*assets.PromptAsset, error)
}

// Result is the planning outcome plus the evidence behind it.
type Result struct {
	Plan       *models.PlanOutput
	Hints      *Hints
	UsedModel  bool
	ModelName  string
	RawContent string
}

// Planner builds plans from questions.
type Planner struct {
	catalog       ConfigSource
	client        llm.Client
	tools         ToolLookup
	minConfidence float64
}

// New creates a planner. minConfidence is the pre-pass threshold above which
// the model call is skipped.
func New(catalog ConfigSource, client llm.Client, tools ToolLookup, minConfidence float64) *Planner {
	return &Planner{
		catalog:       catalog,
		client:        client,
		tools:         tools,
		minConfidence: minConfidence,
	}
}

// Plan produces a PlanOutput for the question.
func (p *Planner) Plan(ctx context.Context, question, tenantID string) (*Result, error) {
	mappings, err := p.catalog.Keywords(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	hints := PrePass(question, mappings)
	if hints.Confidence >= p.minConfidence {
		if plan := BuildPlan(hints, question); plan != nil {
			p.rewriteAliases(plan)
			slog.Debug("Pre-pass produced plan without model",
				"intent", hints.Intent, "confidence", hints.Confidence)
			return &Result{Plan: plan, Hints: hints}, nil
		}
	}

	plan, raw, err := p.planWithModel(ctx, question, tenantID, hints)
	if err != nil {
		// The model being unreachable degrades to the pre-pass; malformed
		// output after the repair retry does not.
		if errcode.IsCode(err, errcode.PlanningError) {
			return nil, err
		}
		if fallback := BuildPlan(hints, question); fallback != nil {
			p.rewriteAliases(fallback)
			slog.Warn("Model unreachable; using pre-pass plan",
				"intent", hints.Intent, "error", err)
			return &Result{Plan: fallback, Hints: hints}, nil
		}
		return &Result{
			Plan: &models.PlanOutput{
				Kind:   models.PlanKindReject,
				Reason: "planning backend unavailable and the question needs it",
			},
			Hints: hints,
		}, nil
	}

	p.rewriteAliases(plan)
	return &Result{
		Plan:       plan,
		Hints:      hints,
		UsedModel:  true,
		ModelName:  p.client.Model(),
		RawContent: raw,
	}, nil
}

func (p *Planner) planWithModel(ctx context.Context, question, tenantID string, hints *Hints) (*models.PlanOutput, string, error) {
	prompt, err := p.catalog.PlannerPrompt(ctx, tenantID)
	if err != nil {
		return nil, "", err
	}

	hintsJSON, _ := json.Marshal(hints)
	user := renderPrompt(prompt.User, map[string]string{
		"question": question,
		"hints":    string(hintsJSON),
	})

	resp, err := p.client.Complete(ctx, llm.Request{
		System: prompt.System,
		User:   user,
	})
	if err != nil {
		return nil, "", err
	}

	plan, parseErr := ParsePlan(resp.Content)
	if parseErr == nil {
		return plan, resp.Content, nil
	}

	// One repair round: show the model its own output and the parse failure.
	slog.Debug("Plan response was malformed; retrying once", "error", parseErr)
	repair, err := p.client.Complete(ctx, llm.Request{
		System: prompt.System,
		User: user + "\n\nYour previous response could not be parsed (" +
			parseErr.Error() + "). Respond again with only the JSON plan object:\n" +
			resp.Content,
	})
	if err != nil {
		return nil, "", err
	}
	plan, parseErr = ParsePlan(repair.Content)
	if parseErr != nil {
		return nil, "", errcode.Wrap(errcode.PlanningError,
			"model returned malformed plan after repair retry", parseErr)
	}
	return plan, repair.Content, nil
}

// rewriteAliases maps each step's tool name through the registry alias table.
// Unknown names are left for the validator to reject.
func (p *Planner) rewriteAliases(plan *models.PlanOutput) {
	if p.tools == nil || plan.Kind != models.PlanKindPlan {
		return
	}
	for i := range plan.Steps {
		if canonical, ok := p.tools.Canonical(plan.Steps[i].ToolName); ok {
			plan.Steps[i].ToolName = canonical
		}
	}
}

// ParsePlan extracts the PlanOutput JSON from a completion, tolerating
// markdown fences and surrounding prose.
func ParsePlan(content string) (*models.PlanOutput, error) {
	payload := extractJSON(content)
	if payload == "" {
		return nil, errcode.New(errcode.PlanningError, "no JSON object in response")
	}
	plan := &models.PlanOutput{}
	if err := json.Unmarshal([]byte(payload), plan); err != nil {
		return nil, errcode.Wrap(errcode.PlanningError, "plan is not valid JSON", err)
	}
	switch plan.Kind {
	case models.PlanKindDirectAnswer:
		if plan.Text == "" {
			return nil, errcode.New(errcode.PlanningError, "direct_answer has no text")
		}
	case models.PlanKindReject:
		if plan.Reason == "" {
			return nil, errcode.New(errcode.PlanningError, "reject has no reason")
		}
	case models.PlanKindPlan:
		if len(plan.Steps) == 0 {
			return nil, errcode.New(errcode.PlanningError, "plan has no steps")
		}
		for _, step := range plan.Steps {
			if step.StepID == "" || step.ToolName == "" {
				return nil, errcode.New(errcode.PlanningError,
					"plan step is missing step_id or tool_name")
			}
		}
	default:
		return nil, errcode.Newf(errcode.PlanningError, "unknown plan kind %q", plan.Kind)
	}
	return plan, nil
}

func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if i := strings.Index(content, "\n"); i >= 0 {
			content = content[i+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

func renderPrompt(template string, vars map[string]string) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}
