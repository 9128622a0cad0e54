// Package masking redacts sensitive material from tool results, trace
// snapshots, and log output. Plaintext credentials must never reach the
// trace store or the client.
package masking

import (
	"log/slog"
	"regexp"
	"strings"
)

// CompiledPattern holds a pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns are the always-on redaction rules.
var builtinPatterns = []struct {
	name        string
	pattern     string
	replacement string
}{
	{"bearer_token", `(?i)bearer\s+[A-Za-z0-9\-._~+/]{8,}=*`, "Bearer ***"},
	{"api_key", `(?i)(api[_-]?key|apikey)["':\s=]+[A-Za-z0-9\-._]{8,}`, "$1=***"},
	{"password_kv", `(?i)(password|passwd|pwd)["':\s=]+[^\s"',;]{4,}`, "$1=***"},
	{"secret_kv", `(?i)(secret|token|credential)["':\s=]+[A-Za-z0-9\-._]{8,}`, "$1=***"},
	{"dsn_credentials", `(?i)(://[^:/\s]+):[^@/\s]+@`, "$1:***@"},
	{"aws_access_key", `AKIA[0-9A-Z]{16}`, "AKIA****************"},
}

// sensitiveFieldPattern matches field names whose values must be credential
// references (env:/vault:) or template placeholders, never plaintext.
var sensitiveFieldPattern = regexp.MustCompile(
	`(?i)^(password|passwd|pwd|secret|token|api[_-]?key|credential|private[_-]?key|access[_-]?key)(_ref)?$`)

// Service applies redaction patterns. Created once at startup; thread-safe
// and stateless aside from the compiled patterns.
type Service struct {
	patterns []*CompiledPattern
}

// NewService compiles the built-in patterns plus any extra ones.
// Invalid extra patterns are logged and skipped.
func NewService(extra map[string]string) *Service {
	s := &Service{}
	for _, p := range builtinPatterns {
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        p.name,
			Regex:       regexp.MustCompile(p.pattern),
			Replacement: p.replacement,
		})
	}
	for name, pattern := range extra {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: "***",
		})
	}
	return s
}

// MaskText applies every pattern to the given text.
func (s *Service) MaskText(text string) string {
	if text == "" {
		return text
	}
	for _, p := range s.patterns {
		text = p.Regex.ReplaceAllString(text, p.Replacement)
	}
	return text
}

// MaskValues redacts sensitive map entries in place semantics: it returns a
// copy with values under sensitive field names replaced and string values
// passed through MaskText. Nested maps are masked recursively.
func (s *Service) MaskValues(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	masked := make(map[string]any, len(values))
	for key, value := range values {
		if IsSensitiveField(key) {
			if str, ok := value.(string); ok && IsCredentialRef(str) {
				masked[key] = str
			} else {
				masked[key] = "***"
			}
			continue
		}
		switch v := value.(type) {
		case string:
			masked[key] = s.MaskText(v)
		case map[string]any:
			masked[key] = s.MaskValues(v)
		default:
			masked[key] = value
		}
	}
	return masked
}

// IsSensitiveField reports whether a field name matches the sensitive set.
func IsSensitiveField(name string) bool {
	return sensitiveFieldPattern.MatchString(name)
}

// IsCredentialRef reports whether a value is an allowed credential form:
// an env:/vault: reference or a {placeholder} template.
func IsCredentialRef(value string) bool {
	if strings.HasPrefix(value, "env:") || strings.HasPrefix(value, "vault:") {
		return true
	}
	return strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}")
}
