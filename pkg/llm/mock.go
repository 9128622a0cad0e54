package llm

import (
	"context"
	"strings"
	"sync"
)

// MockClient is the deterministic provider used in mock operation mode and
// tests. Responses are matched by substring of the user message, falling back
// to a canned direct answer.
type MockClient struct {
	mu        sync.Mutex
	responses []mockRule
	calls     []Request
	fallback  string
}

type mockRule struct {
	substring string
	content   string
}

// NewMockClient creates a mock with a default direct-answer payload.
func NewMockClient() *MockClient {
	return &MockClient{
		fallback: `{"kind":"direct_answer","text":"Mock mode is active; no live data sources were consulted.","confidence":1.0}`,
	}
}

// Respond registers a canned completion for user messages containing substring.
// Later registrations win over earlier ones.
func (m *MockClient) Respond(substring, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append([]mockRule{{substring, content}}, m.responses...)
}

// SetFallback replaces the default response.
func (m *MockClient) SetFallback(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = content
}

// Calls returns a copy of every request received.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockClient) Model() string { return "mock" }

// Complete returns the first matching canned response.
func (m *MockClient) Complete(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	content := m.fallback
	for _, rule := range m.responses {
		if strings.Contains(req.User, rule.substring) {
			content = rule.content
			break
		}
	}
	return &Response{
		Content:      content,
		FinishReason: "stop",
		Model:        "mock",
	}, nil
}
