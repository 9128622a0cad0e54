package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
)

// pgConnection wraps a pgx pool as an SQLConnection. Read-only sources get
// a session-level statement timeout and read-only transaction default.
type pgConnection struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func openPostgres(ctx context.Context, spec *models.SourceSpec, password string) (SQLConnection, error) {
	dsn := spec.URI
	if dsn == "" {
		dsn = fmt.Sprintf("postgres://%s@%s:%d/%s", spec.Username, spec.Host, spec.Port, spec.Database)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errcode.Wrap(errcode.ConfigurationError, "invalid postgres source", err)
	}
	if password != "" {
		cfg.ConnConfig.Password = password
	}
	if spec.PoolMax > 0 {
		cfg.MaxConns = int32(spec.PoolMax)
	}
	if spec.PoolMin > 0 {
		cfg.MinConns = int32(spec.PoolMin)
	}

	timeout := spec.Timeout(10 * time.Second)
	params := cfg.ConnConfig.RuntimeParams
	params["statement_timeout"] = fmt.Sprintf("%d", timeout.Milliseconds())
	if spec.ReadOnly {
		params["default_transaction_read_only"] = "on"
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errcode.Wrap(errcode.ConnectionError, "failed to open postgres pool", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errcode.Wrap(errcode.ConnectionError, "postgres ping failed", err)
	}

	return &pgConnection{pool: pool, timeout: timeout}, nil
}

// Query executes a parameterized statement and materializes the rows.
func (c *pgConnection) Query(ctx context.Context, stmt string, args ...any) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rows, err := c.pool.Query(ctx, stmt, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errcode.Wrap(errcode.ToolTimeout, "statement timed out", err)
		}
		return nil, errcode.Wrap(errcode.ConnectionError, "query failed", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errcode.Wrap(errcode.ConnectionError, "row scan failed", err)
		}
		row := make(Row, len(fields))
		for i, field := range fields {
			row[field.Name] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errcode.Wrap(errcode.ConnectionError, "row iteration failed", err)
	}
	return result, nil
}

// Close releases the pool.
func (c *pgConnection) Close() {
	c.pool.Close()
}
