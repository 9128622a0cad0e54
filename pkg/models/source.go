package models

import "time"

// SourceType discriminates backend kinds a source connector can open.
type SourceType string

// Source type constants.
const (
	SourceTypePostgreSQL SourceType = "postgresql"
	SourceTypeMySQL      SourceType = "mysql"
	SourceTypeNeo4j      SourceType = "neo4j"
	SourceTypeRedis      SourceType = "redis"
	SourceTypeMongoDB    SourceType = "mongodb"
	SourceTypeKafka      SourceType = "kafka"
	SourceTypeS3         SourceType = "s3"
	SourceTypeRESTAPI    SourceType = "rest_api"
	SourceTypeGraphQL    SourceType = "graphql_api"
	SourceTypeMCP        SourceType = "mcp"
)

// SourceSpec is the connection definition decoded from a published source
// asset's content payload. PasswordRef must be a reference (env:NAME or
// vault:PATH); the plaintext Password field is accepted only with DevMode.
type SourceSpec struct {
	Name        string         `json:"name"`
	Type        SourceType     `json:"type"`
	Host        string         `json:"host,omitempty"`
	Port        int            `json:"port,omitempty"`
	URI         string         `json:"uri,omitempty"`
	Database    string         `json:"database,omitempty"`
	Username    string         `json:"username,omitempty"`
	PasswordRef string         `json:"password_ref,omitempty"`
	Password    string         `json:"password,omitempty"`
	DevMode     bool           `json:"dev_mode,omitempty"`
	TLSMode     string         `json:"tls_mode,omitempty"`
	TimeoutMs   int            `json:"timeout_ms,omitempty"`
	PoolMax     int            `json:"pool_max,omitempty"`
	PoolMin     int            `json:"pool_min,omitempty"`
	ReadOnly    bool           `json:"read_only,omitempty"`
	Extras      map[string]any `json:"extras,omitempty"`
}

// Timeout returns the source timeout as a duration, or the given default.
func (s *SourceSpec) Timeout(def time.Duration) time.Duration {
	if s.TimeoutMs <= 0 {
		return def
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}
