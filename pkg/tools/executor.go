package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/breaker"
	"github.com/opsintel/opsiq/pkg/cache"
	"github.com/opsintel/opsiq/pkg/config"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/masking"
	"github.com/opsintel/opsiq/pkg/metrics"
	"github.com/opsintel/opsiq/pkg/models"
	"github.com/opsintel/opsiq/pkg/query"
	"github.com/opsintel/opsiq/pkg/sources"
)

// Call is one tool invocation request.
type Call struct {
	Tool      string
	Operation string
	Inputs    map[string]any
	TenantID  string
}

// Recorder receives a summary of every tool call for the trace.
type Recorder interface {
	RecordToolCall(record *models.ToolCallRecord)
}

// assetRecorder is the optional Recorder extension for asset version
// provenance. The tracer implements it.
type assetRecorder interface {
	RecordAssetVersion(name string, version int)
}

// rateLimiterWait bounds how long a call blocks on the per-tool token.
const rateLimiterWait = time.Second

// Executor runs tool calls through the uniform pipeline: lookup, tenant and
// capability checks, input validation, cache, breaker, rate limit, dispatch,
// record, fallback.
type Executor struct {
	registry *Registry
	resolver *query.Resolver
	catalog  *assets.Catalog
	sources  *sources.Manager
	cache    cache.Store
	breakers *breaker.Manager
	mcp      *MCPPool
	masker   *masking.Service
	settings *config.Settings

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	schemasMu sync.Mutex
	schemas   map[string]*jsonschema.Schema
}

// NewExecutor wires the execution pipeline.
func NewExecutor(registry *Registry, resolver *query.Resolver, catalog *assets.Catalog,
	srcs *sources.Manager, store cache.Store, breakers *breaker.Manager,
	mcpPool *MCPPool, masker *masking.Service, settings *config.Settings) *Executor {
	return &Executor{
		registry: registry,
		resolver: resolver,
		catalog:  catalog,
		sources:  srcs,
		cache:    store,
		breakers: breakers,
		mcp:      mcpPool,
		masker:   masker,
		settings: settings,
		limiters: make(map[string]*rate.Limiter),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Execute runs one tool call. On failure it tries the tool's declared
// fallback once when the error class permits.
func (e *Executor) Execute(ctx context.Context, call Call, rec Recorder) (*models.ToolResult, error) {
	result, err := e.executeOne(ctx, call, rec)
	if err == nil {
		return result, nil
	}

	spec, ok := e.registry.Lookup(call.Tool)
	if !ok || spec.FallbackTool == "" || !fallbackEligible(err) {
		return nil, err
	}

	slog.Info("Tool failed; trying fallback",
		"tool", call.Tool, "fallback", spec.FallbackTool, "error_code", errcode.CodeOf(err))
	fallbackCall := call
	fallbackCall.Tool = spec.FallbackTool
	result, fbErr := e.executeOne(ctx, fallbackCall, rec)
	if fbErr != nil {
		// Surface the original failure; the fallback attempt is in the record.
		return nil, err
	}
	return result, nil
}

// fallbackEligible excludes error classes where a different tool cannot
// help: policy rejections, bad inputs, and blocked statements.
func fallbackEligible(err error) bool {
	switch errcode.CodeOf(err) {
	case errcode.PolicyDeny, errcode.ToolBadRequest, errcode.SQLBlocked,
		errcode.TenantMismatch, errcode.ToolNotFound, errcode.InvalidParams:
		return false
	}
	return true
}

func (e *Executor) executeOne(ctx context.Context, call Call, rec Recorder) (*models.ToolResult, error) {
	if err := e.registry.ensure(ctx); err != nil {
		return nil, err
	}

	// 1. Lookup.
	canonical, ok := e.registry.Canonical(call.Tool)
	if !ok {
		return nil, errcode.Newf(errcode.ToolNotFound, "tool %q is not registered", call.Tool)
	}
	call.Tool = canonical
	spec, _ := e.registry.Lookup(canonical)

	// 2. Tenant.
	if !spec.SupportsTenant(call.TenantID) {
		return nil, errcode.Newf(errcode.TenantMismatch,
			"tool %q does not serve tenant %q", call.Tool, call.TenantID)
	}

	// 3. Capability.
	if call.Operation != "" && call.Operation != spec.Operation &&
		!spec.HasCapability(call.Operation) {
		return nil, errcode.Newf(errcode.ToolBadRequest,
			"tool %q does not support operation %q", call.Tool, call.Operation)
	}

	// 4. Input schema.
	if err := e.validateInputs(spec, call.Inputs); err != nil {
		return nil, err
	}

	e.recordAssetVersions(ctx, spec, call, rec)

	// 5. Cache.
	var cacheKey string
	if spec.Cacheable && e.cache != nil {
		cacheKey = cache.Key(call.Tool, call.Inputs, call.TenantID)
		if payload, hit, err := e.cache.Get(ctx, cacheKey); err == nil && hit {
			cached := &models.ToolResult{}
			if err := json.Unmarshal(payload, cached); err == nil {
				cached.FromCache = true
				metrics.CacheHitsTotal.WithLabelValues("hit").Inc()
				return cached, nil
			}
		}
		metrics.CacheHitsTotal.WithLabelValues("miss").Inc()
	}

	// 6. Breaker gate.
	if !e.breakers.Allow(call.Tool) {
		return nil, errcode.Newf(errcode.CircuitOpen, "breaker for %q is open", call.Tool)
	}

	// 7. Rate limit.
	if err := e.acquireToken(ctx, spec); err != nil {
		return nil, err
	}

	// 8. Dispatch inside the breaker so it sees every success and failure.
	started := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, spec.Timeout(e.settings.DefaultStepTimeout()))
	defer cancel()

	raw, err := e.breakers.Execute(call.Tool, func() (any, error) {
		return e.dispatch(callCtx, spec, call)
	})
	elapsed := time.Since(started)

	// 9. Record and cache.
	record := &models.ToolCallRecord{
		Tool:        call.Tool,
		ElapsedMs:   elapsed.Milliseconds(),
		InputParams: e.masker.MaskValues(call.Inputs),
		StartedAt:   started.UTC(),
	}
	var result *models.ToolResult
	if err == nil {
		result = raw.(*models.ToolResult)
		result.Tool = call.Tool
		result.ElapsedMs = elapsed.Milliseconds()
		record.OutputSummary = summarize(result)
		if cacheKey != "" {
			ttl := time.Duration(spec.CacheTTLSeconds) * time.Second
			if ttl <= 0 {
				ttl = e.settings.CacheTTL
			}
			if payload, merr := json.Marshal(result); merr == nil {
				_ = e.cache.Set(ctx, cacheKey, payload, ttl)
			}
		}
	} else {
		err = normalizeDispatchErr(callCtx, err)
		record.Error = e.masker.MaskText(err.Error())
		record.ErrorCode = string(errcode.CodeOf(err))
	}
	if rec != nil {
		rec.RecordToolCall(record)
	}
	metrics.ObserveToolCall(call.Tool, record.ErrorCode, elapsed)
	return result, err
}

// normalizeDispatchErr converts raw breaker and context failures into taxonomy
// errors.
func normalizeDispatchErr(ctx context.Context, err error) error {
	var coded *errcode.Error
	if errors.As(err, &coded) {
		return err
	}
	// The breaker refuses calls both when open and when the half-open
	// probe slot is taken; either way the tool itself never ran.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errcode.Wrap(errcode.CircuitOpen, "breaker rejected the call", err)
	}
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return errcode.Wrap(errcode.ToolTimeout, "tool call timed out", err)
	case context.Canceled:
		return errcode.Wrap(errcode.Cancelled, "tool call cancelled", err)
	}
	return errcode.Wrap(errcode.Internal, "tool dispatch failed", err)
}

// recordAssetVersions notes which published tool and query asset versions
// served the call.
func (e *Executor) recordAssetVersions(ctx context.Context, spec *models.ToolSpec, call Call, rec Recorder) {
	ar, ok := rec.(assetRecorder)
	if !ok {
		return
	}
	if spec.AssetVersion > 0 {
		ar.RecordAssetVersion("tool:"+spec.Name, spec.AssetVersion)
	}
	if spec.QueryRef != "" && e.catalog != nil {
		if q, err := e.catalog.Query(ctx, spec.QueryRef, call.TenantID); err == nil && q.Version > 0 {
			ar.RecordAssetVersion("query:"+spec.QueryRef, q.Version)
		}
	}
}

func (e *Executor) acquireToken(ctx context.Context, spec *models.ToolSpec) error {
	if spec.RateLimitPerSec <= 0 {
		return nil
	}
	e.limitersMu.Lock()
	limiter, ok := e.limiters[spec.Name]
	if !ok {
		burst := int(spec.RateLimitPerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(spec.RateLimitPerSec), burst)
		e.limiters[spec.Name] = limiter
	}
	e.limitersMu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rateLimiterWait)
	defer cancel()
	if err := limiter.Wait(waitCtx); err != nil {
		return errcode.Newf(errcode.RateLimited, "rate limit exceeded for %q", spec.Name)
	}
	return nil
}

// validateInputs checks the call inputs against the tool's JSON schema.
// Tools without a schema accept anything.
func (e *Executor) validateInputs(spec *models.ToolSpec, inputs map[string]any) error {
	if len(spec.InputSchema) == 0 {
		return nil
	}
	schema, err := e.compiledSchema(spec)
	if err != nil {
		return errcode.Wrap(errcode.ConfigurationError,
			"tool "+spec.Name+" has an invalid input schema", err)
	}

	// Round-trip so the validator sees plain JSON types.
	payload, err := json.Marshal(inputs)
	if err != nil {
		return errcode.Wrap(errcode.ToolBadRequest, "inputs are not serializable", err)
	}
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return errcode.Wrap(errcode.ToolBadRequest, "inputs are not valid JSON", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return errcode.Wrap(errcode.ToolBadRequest, "inputs failed schema validation", err)
	}
	return nil
}

func (e *Executor) compiledSchema(spec *models.ToolSpec) (*jsonschema.Schema, error) {
	e.schemasMu.Lock()
	defer e.schemasMu.Unlock()
	if schema, ok := e.schemas[spec.Name]; ok {
		return schema, nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(spec.InputSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("tool://%s/input.json", spec.Name)
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, err
	}
	e.schemas[spec.Name] = schema
	return schema, nil
}

// InvalidateSchemas drops compiled schemas after a tool publish.
func (e *Executor) InvalidateSchemas() {
	e.schemasMu.Lock()
	e.schemas = make(map[string]*jsonschema.Schema)
	e.schemasMu.Unlock()
}

func summarize(result *models.ToolResult) string {
	payload, _ := json.Marshal(result.Data)
	return fmt.Sprintf("rows=%d bytes=%d refs=%d",
		result.RowCount, len(payload), len(result.References))
}
