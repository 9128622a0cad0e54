// Package pipeline orchestrates the five processing stages for one question:
// Route, Validate, Execute, Compose, Present. A retryable stage failure asks
// the control loop whether to patch the plan and loop back to Route.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/chain"
	"github.com/opsintel/opsiq/pkg/config"
	"github.com/opsintel/opsiq/pkg/controlloop"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/masking"
	"github.com/opsintel/opsiq/pkg/metrics"
	"github.com/opsintel/opsiq/pkg/models"
	"github.com/opsintel/opsiq/pkg/planner"
	"github.com/opsintel/opsiq/pkg/trace"
	"github.com/opsintel/opsiq/pkg/validator"
)

// Stage names as written into trace spans and progress events.
const (
	StageRoute    = "route"
	StageValidate = "validate"
	StageExecute  = "execute"
	StageCompose  = "compose"
	StagePresent  = "present"
)

// ProgressFunc receives stage transitions for the streaming surface.
type ProgressFunc func(event models.ProgressEvent)

// TraceSink persists finished traces and history rows.
type TraceSink interface {
	Save(ctx context.Context, t *models.ExecutionTrace) error
	AppendHistory(ctx context.Context, entry models.QueryHistoryEntry) error
}

// DiscoverySource serves the tenant's discovery configuration. Implemented
// by the asset catalog.
type DiscoverySource interface {
	Discovery(ctx context.Context, tenantID string) (*assets.DiscoveryConfig, error)
}

// Pipeline wires the stages together.
type Pipeline struct {
	planner   *planner.Planner
	validator *validator.Validator
	chains    *chain.Executor
	discovery DiscoverySource
	sink      TraceSink
	masker    *masking.Service
	settings  *config.Settings
	composer  Composer
	presenter Presenter
}

// New creates the pipeline.
func New(p *planner.Planner, v *validator.Validator, chains *chain.Executor,
	discovery DiscoverySource, sink TraceSink, masker *masking.Service,
	settings *config.Settings) *Pipeline {
	return &Pipeline{
		planner:   p,
		validator: v,
		chains:    chains,
		discovery: discovery,
		sink:      sink,
		masker:    masker,
		settings:  settings,
	}
}

// Ask processes one question end to end. Orchestration failures are folded
// into the response's meta rather than returned as an error; the error
// return covers only infrastructure failures before a response exists.
func (p *Pipeline) Ask(ctx context.Context, req models.AskRequest, progress ProgressFunc) (*models.AskResponse, error) {
	started := time.Now()
	tracer := trace.NewTracer(req.TenantID, req.Question, p.masker, p.settings.TraceMemoryBudget)
	loop := controlloop.New(p.settings.Replan)

	resp := p.run(ctx, req, tracer, loop, progress)

	status := models.TraceStatusOK
	switch {
	case resp.Meta.ErrorCode != "":
		status = models.TraceStatusError
	case resp.partial:
		status = models.TraceStatusPartial
	}
	finished := tracer.Finish(status)
	for _, event := range loop.History() {
		finished.ReplanEvents = append(finished.ReplanEvents, event)
	}

	if err := p.sink.Save(ctx, finished); err != nil {
		slog.Error("Failed to persist trace", "trace_id", finished.TraceID, "error", err)
	}
	if err := p.sink.AppendHistory(ctx, models.QueryHistoryEntry{
		TenantID:    req.TenantID,
		Question:    req.Question,
		PlanKind:    resp.Meta.Route,
		PlanSummary: resp.Meta.Summary,
		Status:      string(status),
		TraceID:     finished.TraceID,
	}); err != nil {
		slog.Error("Failed to append query history", "trace_id", finished.TraceID, "error", err)
	}

	resp.Trace = models.AskTrace{
		TraceID:      finished.TraceID,
		Stages:       finished.Stages,
		ToolCalls:    finished.ToolCalls,
		ReplanEvents: finished.ReplanEvents,
	}
	metrics.ObserveQuestion(resp.Meta.Route, string(status), time.Since(started))
	return &resp.AskResponse, nil
}

// askResponse augments the wire response with internal flags.
type askResponse struct {
	models.AskResponse
	partial bool
}

func (p *Pipeline) run(ctx context.Context, req models.AskRequest, tracer *trace.Tracer,
	loop *controlloop.Loop, progress ProgressFunc) *askResponse {

	emit := func(stage, status string, elapsed time.Duration) {
		if progress != nil {
			progress(models.ProgressEvent{
				TraceID:   tracer.TraceID(),
				Stage:     stage,
				Status:    status,
				ElapsedMs: elapsed.Milliseconds(),
			})
		}
	}

	var patch map[string]any
	for {
		resp, trigger := p.runOnce(ctx, req, tracer, patch, emit)
		if trigger == nil {
			return resp
		}

		decision := loop.ShouldReplan(*trigger)
		if !decision.Accepted {
			slog.Info("Replan rejected", "reason", decision.Reason,
				"trigger", trigger.Type, "trace_id", tracer.TraceID())
			return resp
		}
		slog.Info("Replanning", "trigger", trigger.Type,
			"stage", trigger.Stage, "trace_id", tracer.TraceID())
		patch = trigger.Patch
	}
}

// runOnce executes one pass through the stages. A non-nil trigger asks the
// caller to consult the control loop.
func (p *Pipeline) runOnce(ctx context.Context, req models.AskRequest, tracer *trace.Tracer,
	patch map[string]any, emit func(string, string, time.Duration)) (*askResponse, *models.ReplanTrigger) {

	// Route: plan the question.
	routeStart := time.Now()
	routeSpan := tracer.StartStage(StageRoute, map[string]any{"question": req.Question})
	planResult, err := p.planner.Plan(ctx, req.Question, req.TenantID)
	if err != nil {
		routeSpan.Error(err.Error())
		routeSpan.End(nil, "error")
		emit(StageRoute, "error", time.Since(routeStart))
		return errorResponse(err), nil
	}
	plan := planResult.Plan
	applyPatch(plan, patch)
	routeSpan.End(plan, "ok")
	emit(StageRoute, "ok", time.Since(routeStart))

	switch plan.Kind {
	case models.PlanKindDirectAnswer:
		return directResponse(plan), nil
	case models.PlanKindReject:
		return rejectResponse(plan), nil
	}

	// Validate.
	validateStart := time.Now()
	validateSpan := tracer.StartStage(StageValidate, plan)
	decisions, err := p.validator.Validate(ctx, plan, req.TenantID)
	if err != nil {
		validateSpan.Error(err.Error())
		validateSpan.End(decisions, "error")
		emit(StageValidate, "error", time.Since(validateStart))
		if errcode.IsCode(err, errcode.PolicyDeny) {
			return errorResponse(err), &models.ReplanTrigger{
				Type:     models.ReplanTriggerPolicyViolation,
				Severity: models.ReplanSeverityNormal,
				Stage:    StageValidate,
				Reason:   err.Error(),
			}
		}
		return errorResponse(err), nil
	}
	recordAppliedAssets(validateSpan, decisions)
	validateSpan.End(decisions, "ok")
	emit(StageValidate, "ok", time.Since(validateStart))

	// Execute.
	executeStart := time.Now()
	executeSpan := tracer.StartStage(StageExecute, plan.Steps)
	result, err := p.chains.RunPlan(ctx, plan, req.TenantID, tracer)
	if err != nil {
		executeSpan.Error(err.Error())
		executeSpan.End(nil, "error")
		emit(StageExecute, "error", time.Since(executeStart))
		return errorResponse(err), nil
	}
	status := "ok"
	if result.Partial {
		status = "partial"
	}
	executeSpan.End(result.Outcomes, status)
	emit(StageExecute, status, time.Since(executeStart))

	if trigger := executeTrigger(plan, result); trigger != nil {
		resp := p.composePresent(ctx, req, plan, result, tracer, emit)
		return resp, trigger
	}

	return p.composePresent(ctx, req, plan, result, tracer, emit), nil
}

func (p *Pipeline) composePresent(ctx context.Context, req models.AskRequest, plan *models.PlanOutput,
	result *chain.Result, tracer *trace.Tracer, emit func(string, string, time.Duration)) *askResponse {

	composeStart := time.Now()
	composeSpan := tracer.StartStage(StageCompose, nil)
	blocks, refs := p.composer.Compose(plan, result)
	if block, ok := p.discoverCandidates(ctx, req, plan, result, tracer); ok {
		blocks = append(blocks, block)
	}
	composeSpan.AddReferences(refs)
	composeSpan.End(map[string]any{"blocks": len(blocks), "references": len(refs)}, "ok")
	emit(StageCompose, "ok", time.Since(composeStart))

	presentStart := time.Now()
	presentSpan := tracer.StartStage(StagePresent, nil)
	resp := p.presenter.Present(plan, result, blocks, refs)
	presentSpan.End(map[string]any{"answer_len": len(resp.Answer)}, "ok")
	emit(StagePresent, "ok", time.Since(presentStart))

	return &askResponse{AskResponse: *resp, partial: result.Partial}
}

// recordAppliedAssets copies the validator's asset-version report onto the
// stage span so the trace names the exact policy versions in effect.
func recordAppliedAssets(span *trace.SpanBuilder, decisions models.PolicyDecisions) {
	applied, ok := decisions["applied_assets"].(map[string]int)
	if !ok {
		return
	}
	for name, version := range applied {
		span.AppliedAsset(name, version)
	}
}

// executeTrigger derives a replan trigger from a failed required step whose
// error class is retryable.
func executeTrigger(plan *models.PlanOutput, result *chain.Result) *models.ReplanTrigger {
	for _, step := range plan.Steps {
		if !step.Required {
			continue
		}
		outcome := result.Outcomes[step.StepID]
		if outcome == nil || outcome.Status != chain.StepError {
			continue
		}
		code := errcode.Code(outcome.ErrorCode)
		switch code {
		case errcode.ToolTimeout, errcode.ExecuteTimeout:
			return &models.ReplanTrigger{
				Type:     models.ReplanTriggerTimeout,
				Severity: models.ReplanSeverityNormal,
				Stage:    StageExecute,
				Reason:   outcome.Error,
			}
		case errcode.UpstreamUnavail, errcode.ConnectionError, errcode.CircuitOpen:
			return &models.ReplanTrigger{
				Type:     models.ReplanTriggerError,
				Severity: models.ReplanSeverityNormal,
				Stage:    StageExecute,
				Reason:   outcome.Error,
			}
		}
	}
	return nil
}

// applyPatch sparsely mutates the plan with replan patch entries.
func applyPatch(plan *models.PlanOutput, patch map[string]any) {
	if len(patch) == 0 || plan.Kind != models.PlanKindPlan {
		return
	}
	if depth, ok := patch["graph_depth"].(float64); ok && plan.Graph != nil {
		plan.Graph.Depth = int(depth)
	}
	if depth, ok := patch["graph_depth"].(int); ok && plan.Graph != nil {
		plan.Graph.Depth = depth
	}
	if swap, ok := patch["swap_tool"].(map[string]any); ok {
		from, _ := swap["from"].(string)
		to, _ := swap["to"].(string)
		for i := range plan.Steps {
			if plan.Steps[i].ToolName == from {
				plan.Steps[i].ToolName = to
			}
		}
	}
}

func directResponse(plan *models.PlanOutput) *askResponse {
	return &askResponse{AskResponse: models.AskResponse{
		Answer:     plan.Text,
		Blocks:     []models.Block{{Type: models.BlockTypeText, Text: plan.Text}},
		References: []models.Reference{},
		Meta: models.AskMeta{
			Route:   string(models.PlanKindDirectAnswer),
			Summary: "direct answer",
		},
	}}
}

func rejectResponse(plan *models.PlanOutput) *askResponse {
	return &askResponse{AskResponse: models.AskResponse{
		Answer:     "This question cannot be answered: " + plan.Reason,
		Blocks:     []models.Block{},
		References: []models.Reference{},
		Meta: models.AskMeta{
			Route:   string(models.PlanKindReject),
			Summary: "rejected: " + plan.Reason,
		},
	}}
}

func errorResponse(err error) *askResponse {
	return &askResponse{AskResponse: models.AskResponse{
		Answer:     "The question could not be processed.",
		Blocks:     []models.Block{},
		References: []models.Reference{},
		Meta: models.AskMeta{
			ErrorCode: string(errcode.CodeOf(err)),
			Message:   err.Error(),
		},
	}}
}
