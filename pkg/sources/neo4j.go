package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
)

// neoConnection wraps a neo4j driver as a GraphConnection. All sessions are
// opened in read access mode; the orchestrator never writes to the graph.
type neoConnection struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
}

func openNeo4j(ctx context.Context, spec *models.SourceSpec, password string) (GraphConnection, error) {
	uri := spec.URI
	if uri == "" {
		uri = fmt.Sprintf("neo4j://%s:%d", spec.Host, spec.Port)
	}

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(spec.Username, password, ""))
	if err != nil {
		return nil, errcode.Wrap(errcode.ConfigurationError, "invalid neo4j source", err)
	}

	timeout := spec.Timeout(10 * time.Second)
	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, errcode.Wrap(errcode.ConnectionError, "neo4j connectivity check failed", err)
	}

	return &neoConnection{driver: driver, database: spec.Database, timeout: timeout}, nil
}

// Run executes a read-only Cypher query and materializes the records.
func (c *neoConnection) Run(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.database,
	})
	defer func() { _ = session.Close(ctx) }()

	records, err := neo4j.ExecuteRead(ctx, session,
		func(tx neo4j.ManagedTransaction) ([]Row, error) {
			result, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			var rows []Row
			for result.Next(ctx) {
				record := result.Record()
				row := make(Row, len(record.Keys))
				for i, key := range record.Keys {
					row[key] = record.Values[i]
				}
				rows = append(rows, row)
			}
			return rows, result.Err()
		})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errcode.Wrap(errcode.ToolTimeout, "graph query timed out", err)
		}
		return nil, errcode.Wrap(errcode.ConnectionError, "graph query failed", err)
	}
	return records, nil
}

// Close shuts down the driver.
func (c *neoConnection) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}
