package sources

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
)

// Manager opens and pools connections per source identity. Connections are
// process singletons after first resolution; Invalidate drops one when its
// source asset is republished.
type Manager struct {
	mu      sync.Mutex
	open    map[string]*Connection
	secrets SecretStore
}

// NewManager creates a connection manager. secrets may be nil (env-only
// credential resolution).
func NewManager(secrets SecretStore) *Manager {
	return &Manager{
		open:    make(map[string]*Connection),
		secrets: secrets,
	}
}

// Open returns the pooled connection for the source, dialing on first use.
// The password is resolved from the spec's reference at open time; plaintext
// passwords are accepted only in dev mode and never logged.
func (m *Manager) Open(ctx context.Context, spec *models.SourceSpec) (*Connection, error) {
	m.mu.Lock()
	if conn, ok := m.open[spec.Name]; ok {
		m.mu.Unlock()
		return conn, nil
	}
	m.mu.Unlock()

	password, err := m.resolvePassword(spec)
	if err != nil {
		return nil, err
	}

	conn := &Connection{Spec: spec}
	switch spec.Type {
	case models.SourceTypePostgreSQL:
		conn.SQL, err = openPostgres(ctx, spec, password)
	case models.SourceTypeNeo4j:
		conn.Graph, err = openNeo4j(ctx, spec, password)
	case models.SourceTypeRedis:
		conn.Cache, err = openRedis(ctx, spec, password)
	case models.SourceTypeRESTAPI, models.SourceTypeGraphQL:
		conn.HTTP = openHTTP(spec)
	default:
		return nil, errcode.Newf(errcode.ConfigurationError,
			"unsupported source type %q", spec.Type)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another goroutine may have opened the same source concurrently; keep
	// the first one and close ours.
	if existing, ok := m.open[spec.Name]; ok {
		closeConnection(ctx, conn)
		return existing, nil
	}
	m.open[spec.Name] = conn
	slog.Info("Opened source connection", "source", spec.Name, "type", spec.Type)
	return conn, nil
}

func (m *Manager) resolvePassword(spec *models.SourceSpec) (string, error) {
	if spec.PasswordRef != "" {
		return ResolveCredential(spec.PasswordRef, m.secrets)
	}
	if spec.Password != "" {
		if !spec.DevMode {
			return "", errcode.New(errcode.ConfigurationError,
				"plaintext password requires dev_mode")
		}
		return spec.Password, nil
	}
	return "", nil
}

// ResolveSecret resolves an env:/vault: reference through the manager's
// secret store. Used for credential-shaped values outside source passwords,
// e.g. HTTP tool headers.
func (m *Manager) ResolveSecret(ref string) (string, error) {
	return ResolveCredential(ref, m.secrets)
}

// Invalidate closes and forgets the connection for a source name.
func (m *Manager) Invalidate(ctx context.Context, name string) {
	m.mu.Lock()
	conn, ok := m.open[name]
	if ok {
		delete(m.open, name)
	}
	m.mu.Unlock()
	if ok {
		closeConnection(ctx, conn)
	}
}

// CloseAll shuts down every open connection.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	open := m.open
	m.open = make(map[string]*Connection)
	m.mu.Unlock()
	for _, conn := range open {
		closeConnection(ctx, conn)
	}
}

func closeConnection(ctx context.Context, conn *Connection) {
	switch {
	case conn.SQL != nil:
		conn.SQL.Close()
	case conn.Graph != nil:
		_ = conn.Graph.Close(ctx)
	case conn.Cache != nil:
		_ = conn.Cache.Close()
	}
}
