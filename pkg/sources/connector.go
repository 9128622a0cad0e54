// Package sources opens typed connections to the backends tools execute
// against: relational stores, graph stores, caches, and HTTP services.
// Connections are pooled per source identity; credentials are resolved from
// references at open time and never logged.
package sources

import (
	"context"
	"net/http"

	"github.com/opsintel/opsiq/pkg/models"
)

// Row is one result record, keyed by column or property name.
type Row = map[string]any

// SQLConnection executes parameterized read statements against a relational
// backend. Read-only sessions enforce a per-statement timeout and reject
// writes at the database level.
type SQLConnection interface {
	Query(ctx context.Context, stmt string, args ...any) ([]Row, error)
	Close()
}

// GraphConnection runs read-only Cypher-style queries.
type GraphConnection interface {
	Run(ctx context.Context, query string, params map[string]any) ([]Row, error)
	Close(ctx context.Context) error
}

// CacheConnection exposes the cache-dialect operations.
type CacheConnection interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Scan(ctx context.Context, pattern string, limit int) ([]string, error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	Close() error
}

// HTTPConnection issues requests against a REST backend.
type HTTPConnection interface {
	Do(req *http.Request) (*http.Response, error)
}

// Connection is the union handle returned by Open. Exactly one field is set
// depending on the source type.
type Connection struct {
	Spec  *models.SourceSpec
	SQL   SQLConnection
	Graph GraphConnection
	Cache CacheConnection
	HTTP  HTTPConnection
}
