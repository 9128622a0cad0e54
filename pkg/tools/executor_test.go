package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/config"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
	"github.com/opsintel/opsiq/pkg/sources"
)

func TestFallbackEligible(t *testing.T) {
	eligible := []errcode.Code{
		errcode.ToolTimeout, errcode.UpstreamUnavail, errcode.ConnectionError,
		errcode.CircuitOpen, errcode.RateLimited, errcode.Internal,
	}
	for _, code := range eligible {
		assert.True(t, fallbackEligible(errcode.New(code, "x")), string(code))
	}

	ineligible := []errcode.Code{
		errcode.PolicyDeny, errcode.ToolBadRequest, errcode.SQLBlocked,
		errcode.TenantMismatch, errcode.ToolNotFound, errcode.InvalidParams,
	}
	for _, code := range ineligible {
		assert.False(t, fallbackEligible(errcode.New(code, "x")), string(code))
	}
}

func TestNormalizeDispatchErr(t *testing.T) {
	t.Run("coded errors pass through", func(t *testing.T) {
		orig := errcode.New(errcode.SQLBlocked, "blocked")
		err := normalizeDispatchErr(context.Background(), orig)
		assert.Equal(t, orig, err)
	})

	t.Run("deadline becomes tool timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()

		err := normalizeDispatchErr(ctx, errors.New("operation canceled"))
		assert.True(t, errcode.IsCode(err, errcode.ToolTimeout))
	})

	t.Run("cancellation becomes cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := normalizeDispatchErr(ctx, ctx.Err())
		assert.True(t, errcode.IsCode(err, errcode.Cancelled))
		assert.False(t, errcode.IsRetryable(err))
	})

	t.Run("breaker rejections become circuit open", func(t *testing.T) {
		for _, cause := range []error{gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests} {
			err := normalizeDispatchErr(context.Background(), cause)
			assert.True(t, errcode.IsCode(err, errcode.CircuitOpen), cause.Error())
		}
	})

	t.Run("anything else becomes internal", func(t *testing.T) {
		err := normalizeDispatchErr(context.Background(), errors.New("boom"))
		assert.True(t, errcode.IsCode(err, errcode.Internal))
	})
}

func TestResultLimit(t *testing.T) {
	limits := config.ToolLimits{MaxSearchLimit: 25, MaxAggRows: 1000}

	assert.Equal(t, 25, resultLimit(models.ToolKindSearch, limits))
	assert.Equal(t, 1000, resultLimit(models.ToolKindDatabaseQuery, limits))
}

func TestClampGraphRows(t *testing.T) {
	rows := []sources.Row{
		{"id": "a"}, {"id": "b"}, {"id": "c"},
		{"from": "a", "to": "b"}, {"from": "b", "to": "c"}, {"from": "a", "to": "c"},
	}

	kept, truncated := clampGraphRows(rows, 2, 2)
	assert.True(t, truncated)
	require.Len(t, kept, 4)
	assert.Equal(t, "a", kept[0]["id"])
	assert.Equal(t, "b", kept[1]["id"])
	assert.Equal(t, "a", kept[2]["from"])
	assert.Equal(t, "b", kept[3]["from"])

	kept, truncated = clampGraphRows(rows, 0, 0)
	assert.False(t, truncated)
	assert.Len(t, kept, 6)
}

func schemaExecutor() *Executor {
	return &Executor{schemas: make(map[string]*jsonschema.Schema)}
}

func TestValidateInputs(t *testing.T) {
	spec := &models.ToolSpec{
		Name: "ci_search",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["query"],
			"properties": {
				"query": {"type": "string"},
				"limit": {"type": "integer", "minimum": 1}
			}
		}`),
	}
	e := schemaExecutor()

	require.NoError(t, e.validateInputs(spec, map[string]any{"query": "web", "limit": 10}))

	err := e.validateInputs(spec, map[string]any{"limit": 10})
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.ToolBadRequest))

	err = e.validateInputs(spec, map[string]any{"query": "web", "limit": 0})
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.ToolBadRequest))
}

func TestValidateInputsWithoutSchemaAcceptsAnything(t *testing.T) {
	e := schemaExecutor()
	assert.NoError(t, e.validateInputs(&models.ToolSpec{Name: "free"}, map[string]any{"anything": true}))
}

func TestValidateInputsBrokenSchema(t *testing.T) {
	spec := &models.ToolSpec{
		Name:        "broken",
		InputSchema: json.RawMessage(`{"type": 42}`),
	}
	e := schemaExecutor()

	err := e.validateInputs(spec, map[string]any{})
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.ConfigurationError))
}

func TestCompiledSchemaCachedUntilInvalidate(t *testing.T) {
	spec := &models.ToolSpec{
		Name:        "ci_search",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}
	e := schemaExecutor()

	first, err := e.compiledSchema(spec)
	require.NoError(t, err)
	second, err := e.compiledSchema(spec)
	require.NoError(t, err)
	assert.Same(t, first, second)

	e.InvalidateSchemas()
	third, err := e.compiledSchema(spec)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestSummarize(t *testing.T) {
	result := &models.ToolResult{
		RowCount:   3,
		Data:       map[string]any{"rows": []any{1, 2, 3}},
		References: []models.Reference{{Kind: "query"}},
	}
	assert.Equal(t, "rows=3 bytes=16 refs=1", summarize(result))
}

func TestGuardParams(t *testing.T) {
	q := &assets.QueryAsset{GuardParams: []string{"cluster", "status"}}

	params := guardParams(q, map[string]any{"cluster": "east", "limit": 10})

	assert.Equal(t, "east", params["cluster"])
	assert.Equal(t, 10, params["limit"])
	// Absent guards are filled with empty strings so their clause is dropped,
	// not failed.
	assert.Equal(t, "", params["status"])

	// No guards means the input map is returned untouched.
	inputs := map[string]any{"a": 1}
	same := guardParams(&assets.QueryAsset{}, inputs)
	assert.Equal(t, inputs, same)
}

// fakeCache scripts a CacheConnection for redis dispatch tests.
type fakeCache struct {
	keys   []string
	hashes map[string]map[string]string
	values map[string]string
	scans  []string
}

func (f *fakeCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeCache) Scan(_ context.Context, pattern string, limit int) ([]string, error) {
	f.scans = append(f.scans, pattern)
	if limit > 0 && len(f.keys) > limit {
		return f.keys[:limit], nil
	}
	return f.keys, nil
}

func (f *fakeCache) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	if h, ok := f.hashes[key]; ok {
		return h, nil
	}
	return nil, errors.New("WRONGTYPE")
}

func (f *fakeCache) Close() error { return nil }

func TestDispatchRedis(t *testing.T) {
	e := &Executor{settings: config.DefaultSettings()}
	conn := &fakeCache{
		keys: []string{"ci:web-01", "ci:web-02"},
		hashes: map[string]map[string]string{
			"ci:web-01": {"name": "web-01", "kind": "vm"},
		},
		values: map[string]string{"ci:web-02": "decommissioned"},
	}

	result, err := e.dispatchRedis(context.Background(), conn,
		Call{Tool: "ci_cache_search", Inputs: map[string]any{"query": "web"}})
	require.NoError(t, err)

	// Free-text queries become a wildcard pattern.
	assert.Equal(t, []string{"*web*"}, conn.scans)
	assert.Equal(t, 2, result.RowCount)

	rows := result.Data["rows"].([]sources.Row)
	require.Len(t, rows, 2)
	assert.Equal(t, "ci:web-01", rows[0]["key"])
	assert.Equal(t, "web-01", rows[0]["name"])
	assert.Equal(t, "vm", rows[0]["kind"])
	// Non-hash keys fall back to the plain string value.
	assert.Equal(t, "decommissioned", rows[1]["value"])
}

func TestDispatchRedisExplicitPattern(t *testing.T) {
	e := &Executor{settings: config.DefaultSettings()}
	conn := &fakeCache{}

	_, err := e.dispatchRedis(context.Background(), conn,
		Call{Tool: "ci_cache_search", Inputs: map[string]any{"pattern": "ci:db-*"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ci:db-*"}, conn.scans)
}

func TestDispatchRedisRequiresPatternOrQuery(t *testing.T) {
	e := &Executor{settings: config.DefaultSettings()}

	_, err := e.dispatchRedis(context.Background(), &fakeCache{},
		Call{Tool: "ci_cache_search", Inputs: map[string]any{}})
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.InvalidParams))
}

func TestSubstitute(t *testing.T) {
	out, err := substitute("/api/ci/{id}/metrics?window={window}",
		map[string]any{"id": "web-01", "window": "1h"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/api/ci/web-01/metrics?window=1h", out)

	out, err = substitute("{base}/search", map[string]any{},
		map[string]string{"base": "https://cmdb.internal"})
	require.NoError(t, err)
	assert.Equal(t, "https://cmdb.internal/search", out)

	_, err = substitute("/api/ci/{id}", map[string]any{}, nil)
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.ToolBadRequest))
	assert.Contains(t, err.Error(), `"id"`)
}
