// Package chain executes a validated plan as a DAG of tool calls: steps are
// layered topologically, each layer runs with bounded parallelism, and step
// outputs feed later steps through declared output mappings.
package chain

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
	"github.com/opsintel/opsiq/pkg/tools"
)

// StepStatus is the terminal state of one step.
type StepStatus string

// Step status constants.
const (
	StepOK      StepStatus = "ok"
	StepError   StepStatus = "error"
	StepSkipped StepStatus = "skipped_dep_failed"
)

// StepOutcome is the recorded result of one step.
type StepOutcome struct {
	StepID    string             `json:"step_id"`
	Tool      string             `json:"tool"`
	Status    StepStatus         `json:"status"`
	Result    *models.ToolResult `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	ErrorCode string             `json:"error_code,omitempty"`
	ElapsedMs int64              `json:"elapsed_ms"`
}

// Result is the outcome of a whole chain run.
type Result struct {
	Outcomes map[string]*StepOutcome `json:"outcomes"`
	Partial  bool                    `json:"partial"`
	Elapsed  time.Duration           `json:"-"`
}

// Failed reports whether any required step failed.
func (r *Result) Failed(plan []models.PlanStep) bool {
	for _, step := range plan {
		outcome, ok := r.Outcomes[step.StepID]
		if !ok {
			return true
		}
		if step.Required && outcome.Status != StepOK {
			return true
		}
	}
	return false
}

// ToolRunner executes one tool call. Satisfied by *tools.Executor.
type ToolRunner interface {
	Execute(ctx context.Context, call tools.Call, rec tools.Recorder) (*models.ToolResult, error)
}

// Executor runs plans against the tool executor.
type Executor struct {
	tools       ToolRunner
	maxParallel int
	budget      time.Duration
}

// NewExecutor creates a chain executor. maxParallel bounds concurrent steps
// per level; budget is the overall chain deadline.
func NewExecutor(toolExec ToolRunner, maxParallel int, budget time.Duration) *Executor {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Executor{tools: toolExec, maxParallel: maxParallel, budget: budget}
}

// Run executes the steps under the executor's default deadline and
// parallelism. A cycle in depends_on fails the whole chain with PLAN_INVALID
// before anything runs. Reaching the deadline cancels in-flight steps and
// marks the result partial.
func (e *Executor) Run(ctx context.Context, steps []models.PlanStep, tenantID string, rec tools.Recorder) (*Result, error) {
	return e.run(ctx, steps, tenantID, rec, e.budget, e.maxParallel)
}

// RunPlan executes a validated plan, tightening the executor's deadline and
// parallelism with the plan's budget-policy bounds. Policy can narrow the
// bounds, never widen them.
func (e *Executor) RunPlan(ctx context.Context, plan *models.PlanOutput, tenantID string, rec tools.Recorder) (*Result, error) {
	budget := e.budget
	if t := time.Duration(plan.ExecTimeoutMs) * time.Millisecond; t > 0 && (budget <= 0 || t < budget) {
		budget = t
	}
	maxParallel := e.maxParallel
	if plan.MaxParallel > 0 && plan.MaxParallel < maxParallel {
		maxParallel = plan.MaxParallel
	}
	return e.run(ctx, plan.Steps, tenantID, rec, budget, maxParallel)
}

func (e *Executor) run(ctx context.Context, steps []models.PlanStep, tenantID string, rec tools.Recorder, budget time.Duration, maxParallel int) (*Result, error) {
	levels, err := Levels(steps)
	if err != nil {
		return nil, err
	}

	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	started := time.Now()
	result := &Result{Outcomes: make(map[string]*StepOutcome, len(steps))}
	var mu sync.Mutex

	byID := make(map[string]*models.PlanStep, len(steps))
	for i := range steps {
		byID[steps[i].StepID] = &steps[i]
	}

	for _, level := range levels {
		if ctx.Err() != nil {
			result.Partial = true
			break
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(maxParallel)

		for _, stepID := range level {
			step := byID[stepID]

			mu.Lock()
			skip := e.skipReason(step, result.Outcomes, byID)
			mu.Unlock()
			if skip != "" {
				mu.Lock()
				result.Outcomes[step.StepID] = &StepOutcome{
					StepID: step.StepID,
					Tool:   step.ToolName,
					Status: StepSkipped,
					Error:  skip,
				}
				mu.Unlock()
				continue
			}

			group.Go(func() error {
				outcome := e.runStep(groupCtx, step, tenantID, result, &mu, rec)
				mu.Lock()
				result.Outcomes[step.StepID] = outcome
				mu.Unlock()
				// Step failures never abort siblings; the level completes
				// and the next level decides what to skip.
				return nil
			})
		}
		_ = group.Wait()

		if ctx.Err() != nil {
			result.Partial = true
		}
	}

	// Steps never reached because the deadline hit mid-chain.
	for _, step := range steps {
		if _, ok := result.Outcomes[step.StepID]; !ok {
			result.Outcomes[step.StepID] = &StepOutcome{
				StepID: step.StepID,
				Tool:   step.ToolName,
				Status: StepSkipped,
				Error:  "chain deadline reached",
			}
			result.Partial = true
		}
	}

	result.Elapsed = time.Since(started)
	return result, nil
}

// skipReason returns a non-empty reason when a required dependency failed.
func (e *Executor) skipReason(step *models.PlanStep, outcomes map[string]*StepOutcome, byID map[string]*models.PlanStep) string {
	for _, dep := range step.DependsOn {
		outcome, ok := outcomes[dep]
		if !ok {
			continue
		}
		depStep := byID[dep]
		if outcome.Status != StepOK && depStep != nil && depStep.Required {
			return "required dependency " + dep + " did not succeed"
		}
		if outcome.Status == StepSkipped {
			return "dependency " + dep + " was skipped"
		}
	}
	return ""
}

func (e *Executor) runStep(ctx context.Context, step *models.PlanStep, tenantID string, result *Result, mu *sync.Mutex, rec tools.Recorder) *StepOutcome {
	params := e.mappedParams(step, result, mu)

	started := time.Now()
	toolResult, err := e.tools.Execute(ctx, tools.Call{
		Tool:     step.ToolName,
		Inputs:   params,
		TenantID: tenantID,
	}, rec)
	elapsed := time.Since(started).Milliseconds()

	if err != nil {
		slog.Debug("Chain step failed",
			"step", step.StepID, "tool", step.ToolName, "error_code", errcode.CodeOf(err))
		return &StepOutcome{
			StepID:    step.StepID,
			Tool:      step.ToolName,
			Status:    StepError,
			Error:     err.Error(),
			ErrorCode: string(errcode.CodeOf(err)),
			ElapsedMs: elapsed,
		}
	}
	return &StepOutcome{
		StepID:    step.StepID,
		Tool:      step.ToolName,
		Status:    StepOK,
		Result:    toolResult,
		ElapsedMs: elapsed,
	}
}

// mappedParams copies step parameters and fills entries declared in the
// output mapping from earlier step results. An unavailable source yields
// null for that parameter.
func (e *Executor) mappedParams(step *models.PlanStep, result *Result, mu *sync.Mutex) map[string]any {
	params := make(map[string]any, len(step.Parameters)+len(step.OutputMapping))
	for k, v := range step.Parameters {
		params[k] = v
	}
	for param, ref := range step.OutputMapping {
		stepID, path := splitRef(ref)
		mu.Lock()
		outcome := result.Outcomes[stepID]
		mu.Unlock()
		if outcome == nil || outcome.Status != StepOK || outcome.Result == nil {
			params[param] = nil
			continue
		}
		params[param] = Extract(anyData(outcome.Result.Data), path)
	}
	return params
}

func splitRef(ref string) (stepID, path string) {
	if i := strings.Index(ref, "."); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// anyData widens the typed data map so path extraction sees plain values.
func anyData(data map[string]any) any {
	return map[string]any(data)
}

// Levels computes topological layers: level 0 holds roots, level k holds
// steps whose dependencies all sit in earlier levels. A cycle or a reference
// to an unknown step fails with PLAN_INVALID.
func Levels(steps []models.PlanStep) ([][]string, error) {
	known := make(map[string]bool, len(steps))
	for _, step := range steps {
		if known[step.StepID] {
			return nil, errcode.Newf(errcode.PlanInvalid,
				"duplicate step id %q", step.StepID)
		}
		known[step.StepID] = true
	}

	assigned := make(map[string]int, len(steps))
	var levels [][]string
	remaining := len(steps)

	for remaining > 0 {
		var current []string
		for _, step := range steps {
			if _, done := assigned[step.StepID]; done {
				continue
			}
			ready := true
			for _, dep := range step.DependsOn {
				if !known[dep] {
					return nil, errcode.Newf(errcode.PlanInvalid,
						"step %q depends on unknown step %q", step.StepID, dep)
				}
				if _, done := assigned[dep]; !done {
					ready = false
					break
				}
			}
			if ready {
				current = append(current, step.StepID)
			}
		}
		if len(current) == 0 {
			return nil, errcode.New(errcode.PlanInvalid, "plan contains a dependency cycle")
		}
		for _, id := range current {
			assigned[id] = len(levels)
		}
		levels = append(levels, current)
		remaining -= len(current)
	}
	return levels, nil
}
