package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
	"github.com/opsintel/opsiq/pkg/version"
)

// mcpInitTimeout bounds the initial protocol handshake.
const mcpInitTimeout = 30 * time.Second

// MCPPool manages protocol sessions to named MCP servers. Server endpoints
// come from source assets of type "mcp"; sessions are created on first call
// and reused.
type MCPPool struct {
	catalog *assets.Catalog

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession
}

// NewMCPPool creates an empty pool.
func NewMCPPool(catalog *assets.Catalog) *MCPPool {
	return &MCPPool{
		catalog:  catalog,
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// Call invokes a named tool on a named server.
func (p *MCPPool) Call(ctx context.Context, server, tool string, args map[string]any, tenantID string) (*models.ToolResult, error) {
	session, err := p.session(ctx, server, tenantID)
	if err != nil {
		return nil, err
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		// Session may be stale; drop it so the next call reconnects.
		p.drop(server)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errcode.Wrap(errcode.ToolTimeout, "mcp call timed out", err)
		}
		return nil, errcode.Wrap(errcode.UpstreamUnavail, "mcp call failed", err)
	}
	if result.IsError {
		return nil, errcode.Newf(errcode.ToolBadRequest,
			"mcp tool %s.%s reported an error", server, tool)
	}

	data := map[string]any{}
	texts := []string{}
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	if len(texts) == 1 {
		var decoded any
		if json.Unmarshal([]byte(texts[0]), &decoded) == nil {
			data["body"] = decoded
		} else {
			data["body"] = texts[0]
		}
	} else if len(texts) > 1 {
		data["body"] = texts
	}
	return &models.ToolResult{Data: data, RowCount: len(texts)}, nil
}

func (p *MCPPool) session(ctx context.Context, server, tenantID string) (*mcpsdk.ClientSession, error) {
	p.mu.Lock()
	if session, ok := p.sessions[server]; ok {
		p.mu.Unlock()
		return session, nil
	}
	p.mu.Unlock()

	spec, err := p.catalog.Source(ctx, server, tenantID)
	if err != nil {
		return nil, err
	}
	if spec.Type != models.SourceTypeMCP {
		return nil, errcode.Newf(errcode.ConfigurationError,
			"source %q is not an mcp server", server)
	}

	transport, err := transportFor(spec)
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, mcpInitTimeout)
	defer cancel()
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)
	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		return nil, errcode.Wrap(errcode.ConnectionError,
			"connecting to mcp server "+server+" failed", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.sessions[server]; ok {
		_ = session.Close()
		return existing, nil
	}
	p.sessions[server] = session
	return session, nil
}

// transportFor builds the SDK transport from the source spec: a URI means
// streamable HTTP, extras.command means a stdio child process.
func transportFor(spec *models.SourceSpec) (mcpsdk.Transport, error) {
	if spec.URI != "" {
		return &mcpsdk.StreamableClientTransport{Endpoint: spec.URI}, nil
	}
	command, _ := spec.Extras["command"].(string)
	if command == "" {
		return nil, errcode.Newf(errcode.ConfigurationError,
			"mcp source %q has neither uri nor command", spec.Name)
	}
	var args []string
	if rawArgs, ok := spec.Extras["args"].([]any); ok {
		for _, a := range rawArgs {
			args = append(args, fmt.Sprintf("%v", a))
		}
	}
	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func (p *MCPPool) drop(server string) {
	p.mu.Lock()
	session, ok := p.sessions[server]
	if ok {
		delete(p.sessions, server)
	}
	p.mu.Unlock()
	if ok {
		_ = session.Close()
	}
}

// Close shuts down every session.
func (p *MCPPool) Close() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*mcpsdk.ClientSession)
	p.mu.Unlock()
	for _, session := range sessions {
		_ = session.Close()
	}
}
