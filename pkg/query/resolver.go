// Package query resolves named query assets into executable statements.
// Templates carry {param} placeholders and optional [[ ... ]] clauses; the
// resolver binds values positionally and never interpolates them into the
// statement text.
package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
)

// Resolved is an executable statement with bound arguments.
type Resolved struct {
	Statement string
	Args      []any
	SourceRef string
	Operation string
}

// Resolver maps (tool type, operation) to a published query asset and binds
// request parameters into it.
type Resolver struct {
	service *assets.Service

	mu    sync.RWMutex
	index map[indexKey]*assets.QueryAsset
}

type indexKey struct {
	toolType  string
	operation string
	tenantID  string
}

// NewResolver creates a resolver over the asset registry. Republishing any
// query asset drops the lookup index.
func NewResolver(service *assets.Service) *Resolver {
	r := &Resolver{
		service: service,
		index:   make(map[indexKey]*assets.QueryAsset),
	}
	service.Subscribe(func(asset *models.Asset) {
		if asset.Type == models.AssetTypeQuery {
			r.mu.Lock()
			r.index = make(map[indexKey]*assets.QueryAsset)
			r.mu.Unlock()
		}
	})
	return r
}

// Resolve looks up the query for (toolType, operation), verifies it is safe,
// and binds params. A missing query fails with QUERY_NOT_FOUND so the caller
// can distinguish configuration gaps from execution failures.
func (r *Resolver) Resolve(ctx context.Context, toolType, operation, tenantID string, params map[string]any) (*Resolved, error) {
	q, err := r.lookup(ctx, toolType, operation, tenantID)
	if err != nil {
		return nil, err
	}
	if err := assets.CheckStatementSafety(q.Statement); err != nil {
		return nil, err
	}
	statement, args, err := Bind(q.Statement, params)
	if err != nil {
		return nil, err
	}
	return &Resolved{
		Statement: statement,
		Args:      args,
		SourceRef: q.SourceRef,
		Operation: operation,
	}, nil
}

// Statement returns the raw query asset for (toolType, operation) without
// binding. Graph tools bind natively with named parameters.
func (r *Resolver) Statement(ctx context.Context, toolType, operation, tenantID string) (*assets.QueryAsset, error) {
	return r.lookup(ctx, toolType, operation, tenantID)
}

func (r *Resolver) lookup(ctx context.Context, toolType, operation, tenantID string) (*assets.QueryAsset, error) {
	key := indexKey{toolType, operation, tenantID}
	r.mu.RLock()
	if q, ok := r.index[key]; ok {
		r.mu.RUnlock()
		return q, nil
	}
	r.mu.RUnlock()

	list, err := r.service.List(ctx, models.AssetFilters{
		Type:     models.AssetTypeQuery,
		TenantID: tenantID,
		Status:   models.AssetStatusPublished,
		ToolType: toolType,
		Limit:    500,
	})
	if err != nil {
		return nil, err
	}

	var found *assets.QueryAsset
	for _, asset := range list.Assets {
		q := &assets.QueryAsset{}
		if err := asset.DecodeContent(q); err != nil {
			continue
		}
		if q.Operation == operation {
			found = q
			break
		}
	}
	if found == nil {
		return nil, errcode.Newf(errcode.QueryNotFound,
			"no published query for tool type %q operation %q", toolType, operation)
	}

	r.mu.Lock()
	r.index[key] = found
	r.mu.Unlock()
	return found, nil
}

var (
	paramPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	guardPattern = regexp.MustCompile(`\[\[([^\[\]]*)\]\]`)
)

// Bind replaces {param} placeholders with positional arguments. Optional
// [[ ... ]] clauses are dropped when any placeholder inside them is missing
// or empty; a missing placeholder outside a guard fails with INVALID_PARAMS.
// Slice values expand into a comma-separated placeholder list for IN clauses.
func Bind(template string, params map[string]any) (string, []any, error) {
	stripped := guardPattern.ReplaceAllStringFunc(template, func(block string) string {
		inner := block[2 : len(block)-2]
		for _, match := range paramPattern.FindAllStringSubmatch(inner, -1) {
			if isEmptyParam(params[match[1]]) {
				return ""
			}
		}
		return inner
	})

	var args []any
	var bindErr error
	bound := paramPattern.ReplaceAllStringFunc(stripped, func(placeholder string) string {
		name := placeholder[1 : len(placeholder)-1]
		value, ok := params[name]
		if !ok || value == nil {
			bindErr = errcode.Newf(errcode.InvalidParams,
				"missing required parameter %q", name)
			return placeholder
		}
		if items, ok := sliceOf(value); ok {
			if len(items) == 0 {
				bindErr = errcode.Newf(errcode.InvalidParams,
					"parameter %q is an empty list", name)
				return placeholder
			}
			marks := make([]string, len(items))
			for i, item := range items {
				args = append(args, item)
				marks[i] = fmt.Sprintf("$%d", len(args))
			}
			return strings.Join(marks, ", ")
		}
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	})
	if bindErr != nil {
		return "", nil, bindErr
	}
	return collapseSpaces(bound), args, nil
}

func isEmptyParam(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	default:
		if items, ok := sliceOf(value); ok {
			return len(items) == 0
		}
		return false
	}
}

func sliceOf(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return items, true
	case []int:
		items := make([]any, len(v))
		for i, n := range v {
			items[i] = n
		}
		return items, true
	case []float64:
		items := make([]any, len(v))
		for i, f := range v {
			items[i] = f
		}
		return items, true
	}
	return nil, false
}

var spacePattern = regexp.MustCompile(`[ \t]+`)

func collapseSpaces(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
