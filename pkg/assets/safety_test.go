package assets

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsintel/opsiq/pkg/errcode"
)

func TestCheckStatementSafety(t *testing.T) {
	t.Run("reader statements pass", func(t *testing.T) {
		assert.NoError(t, CheckStatementSafety(
			"SELECT id, name FROM ci WHERE tenant_id = {tenant_id}"))
		assert.NoError(t, CheckStatementSafety(
			"MATCH (c:CI {id: {root_ci}})-[r]->(d) RETURN c, r, d"))
	})

	t.Run("forbidden keywords blocked", func(t *testing.T) {
		for _, stmt := range []string{
			"DROP TABLE ci",
			"DELETE FROM ci WHERE id = {id}",
			"SELECT 1; TRUNCATE events",
			"update ci set status = 'gone'",
			"INSERT INTO ci VALUES (1)",
		} {
			err := CheckStatementSafety(stmt)
			require.Error(t, err, stmt)
			assert.True(t, errcode.IsCode(err, errcode.SQLBlocked), stmt)
		}
	})

	t.Run("keyword inside placeholder is ignored", func(t *testing.T) {
		assert.NoError(t, CheckStatementSafety(
			"SELECT * FROM events WHERE note = {drop_reason}"))
	})

	t.Run("keyword as substring is not a match", func(t *testing.T) {
		assert.NoError(t, CheckStatementSafety(
			"SELECT updated_at, created_by FROM ci"))
	})
}

func TestValidateToolContent(t *testing.T) {
	t.Run("database tool needs refs", func(t *testing.T) {
		err := validateToolContent(json.RawMessage(
			`{"name": "ci_search", "kind": "database_query"}`))
		require.Error(t, err)
		assert.True(t, errcode.IsCode(err, errcode.ValidationFailed))
	})

	t.Run("valid database tool", func(t *testing.T) {
		err := validateToolContent(json.RawMessage(
			`{"name": "ci_search", "kind": "database_query",
			  "source_ref": "ops_pg", "query_ref": "ci_search_v2"}`))
		assert.NoError(t, err)
	})

	t.Run("http tool needs a url", func(t *testing.T) {
		err := validateToolContent(json.RawMessage(
			`{"name": "status_page", "kind": "http_api"}`))
		require.Error(t, err)
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		err := validateToolContent(json.RawMessage(
			`{"name": "x", "kind": "carrier_pigeon"}`))
		require.Error(t, err)
	})

	t.Run("plaintext credential-shaped field rejected", func(t *testing.T) {
		err := validateToolContent(json.RawMessage(
			`{"name": "status_page", "kind": "http_api",
			  "url": "https://status.internal/api",
			  "headers": {"api_key": "plaintext-key-123"}}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key")
	})

	t.Run("credential reference accepted", func(t *testing.T) {
		err := validateToolContent(json.RawMessage(
			`{"name": "status_page", "kind": "http_api",
			  "url": "https://status.internal/api",
			  "headers": {"api_key": "env:STATUS_API_KEY"}}`))
		assert.NoError(t, err)
	})
}

func TestValidateSourceContent(t *testing.T) {
	t.Run("password_ref accepted", func(t *testing.T) {
		devMode, err := validateSourceContent(json.RawMessage(
			`{"name": "ops_pg", "type": "postgresql", "password_ref": "env:PG_PASSWORD"}`))
		require.NoError(t, err)
		assert.False(t, devMode)
	})

	t.Run("plaintext password rejected without dev_mode", func(t *testing.T) {
		_, err := validateSourceContent(json.RawMessage(
			`{"name": "ops_pg", "type": "postgresql", "password": "hunter22"}`))
		require.Error(t, err)
		assert.True(t, errcode.IsCode(err, errcode.ValidationFailed))
	})

	t.Run("plaintext password allowed in dev_mode", func(t *testing.T) {
		devMode, err := validateSourceContent(json.RawMessage(
			`{"name": "ops_pg", "type": "postgresql", "password": "hunter22", "dev_mode": true}`))
		require.NoError(t, err)
		assert.True(t, devMode)
	})

	t.Run("malformed password_ref rejected", func(t *testing.T) {
		_, err := validateSourceContent(json.RawMessage(
			`{"name": "ops_pg", "type": "postgresql", "password_ref": "literal-value"}`))
		require.Error(t, err)
	})
}

func TestValidateQueryContent(t *testing.T) {
	assert.NoError(t, validateQueryContent(json.RawMessage(
		`{"operation": "search", "statement": "SELECT * FROM ci WHERE name = {name}"}`)))

	err := validateQueryContent(json.RawMessage(
		`{"operation": "search", "statement": "DROP TABLE ci"}`))
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.SQLBlocked))

	err = validateQueryContent(json.RawMessage(`{"operation": "search"}`))
	require.Error(t, err)
}
