package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/config"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
	"github.com/opsintel/opsiq/pkg/query"
	"github.com/opsintel/opsiq/pkg/sources"
)

// dispatch routes the call to the backend matching the tool kind.
func (e *Executor) dispatch(ctx context.Context, spec *models.ToolSpec, call Call) (*models.ToolResult, error) {
	switch spec.Kind {
	case models.ToolKindDatabaseQuery:
		return e.dispatchSQL(ctx, spec, call)
	case models.ToolKindSearch:
		return e.dispatchSearch(ctx, spec, call)
	case models.ToolKindGraphQuery:
		return e.dispatchGraph(ctx, spec, call)
	case models.ToolKindHTTPAPI:
		return e.dispatchHTTP(ctx, spec, call)
	case models.ToolKindMCP:
		return e.dispatchMCP(ctx, spec, call)
	default:
		return nil, errcode.Newf(errcode.ConfigurationError,
			"tool %q has unsupported kind %q", spec.Name, spec.Kind)
	}
}

// resolveStatement finds the query for this tool: an explicit query_ref wins,
// otherwise the resolver selects by (kind, operation).
func (e *Executor) resolveStatement(ctx context.Context, spec *models.ToolSpec, call Call) (*query.Resolved, error) {
	if spec.QueryRef != "" {
		q, err := e.catalog.Query(ctx, spec.QueryRef, call.TenantID)
		if err != nil {
			return nil, err
		}
		if err := assets.CheckStatementSafety(q.Statement); err != nil {
			return nil, err
		}
		params := guardParams(q, call.Inputs)
		stmt, args, err := query.Bind(q.Statement, params)
		if err != nil {
			return nil, err
		}
		sourceRef := spec.SourceRef
		if sourceRef == "" {
			sourceRef = q.SourceRef
		}
		return &query.Resolved{
			Statement: stmt,
			Args:      args,
			SourceRef: sourceRef,
			Operation: spec.Operation,
		}, nil
	}

	operation := call.Operation
	if operation == "" {
		operation = spec.Operation
	}
	resolved, err := e.resolver.Resolve(ctx, string(spec.Kind), operation, call.TenantID, call.Inputs)
	if err != nil {
		return nil, err
	}
	if resolved.SourceRef == "" {
		resolved.SourceRef = spec.SourceRef
	}
	return resolved, nil
}

// guardParams ensures guarded parameters exist in the map so the binder can
// decide whether to strip their clause rather than fail on a missing key.
func guardParams(q *assets.QueryAsset, inputs map[string]any) map[string]any {
	if len(q.GuardParams) == 0 {
		return inputs
	}
	params := make(map[string]any, len(inputs)+len(q.GuardParams))
	for k, v := range inputs {
		params[k] = v
	}
	for _, name := range q.GuardParams {
		if _, ok := params[name]; !ok {
			params[name] = ""
		}
	}
	return params
}

func (e *Executor) dispatchSQL(ctx context.Context, spec *models.ToolSpec, call Call) (*models.ToolResult, error) {
	resolved, err := e.resolveStatement(ctx, spec, call)
	if err != nil {
		return nil, err
	}
	conn, err := e.openSource(ctx, resolved.SourceRef, call.TenantID)
	if err != nil {
		return nil, err
	}
	if conn.SQL == nil {
		return nil, errcode.Newf(errcode.ConfigurationError,
			"source %q is not a relational backend", resolved.SourceRef)
	}

	rows, err := conn.SQL.Query(ctx, resolved.Statement, resolved.Args...)
	if err != nil {
		return nil, err
	}

	truncated := false
	if limit := resultLimit(spec.Kind, e.settings.Limits); limit > 0 && len(rows) > limit {
		rows = rows[:limit]
		truncated = true
	}
	data := map[string]any{"rows": rows}
	if truncated {
		data["truncated"] = true
	}
	return &models.ToolResult{Data: data, RowCount: len(rows)}, nil
}

// resultLimit picks the row cap for a relational result: search tools use
// the search limit, everything else the aggregate row cap.
func resultLimit(kind models.ToolKind, limits config.ToolLimits) int {
	if kind == models.ToolKindSearch {
		return limits.MaxSearchLimit
	}
	return limits.MaxAggRows
}

// dispatchSearch routes by the source's backend: a redis source scans the
// cache dialect, anything else runs the relational search statement.
func (e *Executor) dispatchSearch(ctx context.Context, spec *models.ToolSpec, call Call) (*models.ToolResult, error) {
	if spec.SourceRef != "" {
		srcSpec, err := e.catalog.Source(ctx, spec.SourceRef, call.TenantID)
		if err != nil {
			return nil, err
		}
		if srcSpec.Type == models.SourceTypeRedis {
			conn, err := e.sources.Open(ctx, srcSpec)
			if err != nil {
				return nil, err
			}
			if conn.Cache == nil {
				return nil, errcode.Newf(errcode.ConfigurationError,
					"source %q is not a cache backend", spec.SourceRef)
			}
			return e.dispatchRedis(ctx, conn.Cache, call)
		}
	}
	return e.dispatchSQL(ctx, spec, call)
}

// dispatchRedis searches keys by pattern. Hash keys expand into one row per
// hash; plain string keys yield a single value column.
func (e *Executor) dispatchRedis(ctx context.Context, conn sources.CacheConnection, call Call) (*models.ToolResult, error) {
	pattern, _ := call.Inputs["pattern"].(string)
	if pattern == "" {
		q, _ := call.Inputs["query"].(string)
		if q == "" {
			return nil, errcode.New(errcode.InvalidParams,
				"redis search needs a pattern or query input")
		}
		pattern = "*" + q + "*"
	}

	keys, err := conn.Scan(ctx, pattern, e.settings.Limits.MaxSearchLimit)
	if err != nil {
		return nil, err
	}

	rows := make([]sources.Row, 0, len(keys))
	for _, key := range keys {
		row := sources.Row{"key": key}
		if fields, herr := conn.HashGetAll(ctx, key); herr == nil && len(fields) > 0 {
			for name, value := range fields {
				row[name] = value
			}
		} else if value, ok, gerr := conn.Get(ctx, key); gerr == nil && ok {
			row["value"] = value
		}
		rows = append(rows, row)
	}
	return &models.ToolResult{
		Data:     map[string]any{"rows": rows},
		RowCount: len(rows),
	}, nil
}

func (e *Executor) dispatchGraph(ctx context.Context, spec *models.ToolSpec, call Call) (*models.ToolResult, error) {
	var statement, sourceRef string
	if spec.QueryRef != "" {
		q, err := e.catalog.Query(ctx, spec.QueryRef, call.TenantID)
		if err != nil {
			return nil, err
		}
		statement, sourceRef = q.Statement, q.SourceRef
	} else {
		operation := call.Operation
		if operation == "" {
			operation = spec.Operation
		}
		q, err := e.resolver.Statement(ctx, string(spec.Kind), operation, call.TenantID)
		if err != nil {
			return nil, err
		}
		statement, sourceRef = q.Statement, q.SourceRef
	}
	if err := assets.CheckStatementSafety(statement); err != nil {
		return nil, err
	}
	if sourceRef == "" {
		sourceRef = spec.SourceRef
	}

	conn, err := e.openSource(ctx, sourceRef, call.TenantID)
	if err != nil {
		return nil, err
	}
	if conn.Graph == nil {
		return nil, errcode.Newf(errcode.ConfigurationError,
			"source %q is not a graph backend", sourceRef)
	}

	// Graph statements use native $param binding; inputs pass through as-is.
	rows, err := conn.Graph.Run(ctx, statement, call.Inputs)
	if err != nil {
		return nil, err
	}
	rows, truncated := clampGraphRows(rows, e.settings.Limits.MaxNodes, e.settings.Limits.MaxEdges)
	data := map[string]any{"rows": rows}
	if truncated {
		data["truncated"] = true
	}
	return &models.ToolResult{Data: data, RowCount: len(rows)}, nil
}

// clampGraphRows enforces the node and edge caps independently: a row with
// both endpoints set counts as an edge, anything else as a node.
func clampGraphRows(rows []sources.Row, maxNodes, maxEdges int) ([]sources.Row, bool) {
	var nodes, edges int
	kept := make([]sources.Row, 0, len(rows))
	truncated := false
	for _, row := range rows {
		_, hasFrom := row["from"]
		_, hasTo := row["to"]
		if hasFrom && hasTo {
			edges++
			if maxEdges > 0 && edges > maxEdges {
				truncated = true
				continue
			}
		} else {
			nodes++
			if maxNodes > 0 && nodes > maxNodes {
				truncated = true
				continue
			}
		}
		kept = append(kept, row)
	}
	return kept, truncated
}

func (e *Executor) dispatchHTTP(ctx context.Context, spec *models.ToolSpec, call Call) (*models.ToolResult, error) {
	url, err := substitute(spec.URL, call.Inputs, nil)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if spec.BodyTemplate != "" {
		rendered, err := substitute(spec.BodyTemplate, call.Inputs, nil)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(rendered)
	}

	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errcode.Wrap(errcode.ToolBadRequest, "invalid request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range spec.Headers {
		// Header values may be credential references, resolved at call
		// time and never recorded.
		resolved, err := e.resolveHeaderValue(value)
		if err != nil {
			return nil, err
		}
		req.Header.Set(name, resolved)
	}

	client, err := e.httpClient(ctx, spec, call.TenantID)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errcode.Wrap(errcode.ToolTimeout, "http call timed out", err)
		}
		return nil, errcode.Wrap(errcode.UpstreamUnavail, "http call failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, errcode.Wrap(errcode.UpstreamUnavail, "reading response failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errcode.Newf(errcode.RateLimited, "upstream returned 429")
	case resp.StatusCode >= 500:
		return nil, errcode.Newf(errcode.UpstreamUnavail, "upstream returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, errcode.Newf(errcode.ToolBadRequest, "upstream returned %d", resp.StatusCode)
	}

	data := map[string]any{"status": resp.StatusCode}
	var decoded any
	if json.Unmarshal(payload, &decoded) == nil {
		data["body"] = decoded
	} else {
		data["body"] = string(payload)
	}
	return &models.ToolResult{Data: data, RowCount: 1}, nil
}

func (e *Executor) dispatchMCP(ctx context.Context, spec *models.ToolSpec, call Call) (*models.ToolResult, error) {
	if e.mcp == nil {
		return nil, errcode.New(errcode.ConfigurationError, "mcp support is not configured")
	}
	return e.mcp.Call(ctx, spec.MCPServer, spec.MCPTool, call.Inputs, call.TenantID)
}

func (e *Executor) openSource(ctx context.Context, sourceRef, tenantID string) (*sources.Connection, error) {
	if sourceRef == "" {
		return nil, errcode.New(errcode.ConfigurationError, "tool has no source reference")
	}
	srcSpec, err := e.catalog.Source(ctx, sourceRef, tenantID)
	if err != nil {
		return nil, err
	}
	return e.sources.Open(ctx, srcSpec)
}

// httpClient returns the source-scoped client when the tool names a source,
// otherwise the default client.
func (e *Executor) httpClient(ctx context.Context, spec *models.ToolSpec, tenantID string) (sources.HTTPConnection, error) {
	if spec.SourceRef == "" {
		return http.DefaultClient, nil
	}
	conn, err := e.openSource(ctx, spec.SourceRef, tenantID)
	if err != nil {
		return nil, err
	}
	if conn.HTTP == nil {
		return nil, errcode.Newf(errcode.ConfigurationError,
			"source %q is not an http backend", spec.SourceRef)
	}
	return conn.HTTP, nil
}

func (e *Executor) resolveHeaderValue(value string) (string, error) {
	if strings.HasPrefix(value, "env:") || strings.HasPrefix(value, "vault:") {
		return e.sources.ResolveSecret(value)
	}
	return value, nil
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// substitute fills {name} placeholders from inputs. A placeholder with no
// matching input is an error; extras passes additional substitutions.
func substitute(template string, inputs map[string]any, extras map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(template, func(ph string) string {
		name := ph[1 : len(ph)-1]
		if v, ok := extras[name]; ok {
			return v
		}
		if v, ok := inputs[name]; ok {
			return fmt.Sprintf("%v", v)
		}
		if missing == "" {
			missing = name
		}
		return ph
	})
	if missing != "" {
		return "", errcode.Newf(errcode.ToolBadRequest,
			"no value for placeholder %q", missing)
	}
	return out, nil
}
