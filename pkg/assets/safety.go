package assets

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/masking"
	"github.com/opsintel/opsiq/pkg/models"
)

// forbiddenSQLKeywords are rejected anywhere outside a {placeholder} in a
// reader query template.
var forbiddenSQLKeywords = []string{
	"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE",
	"EXEC", "EXECUTE", "GRANT", "REVOKE", "INSERT", "UPDATE",
}

var placeholderPattern = regexp.MustCompile(`\{[^{}]*\}`)

// CheckStatementSafety scans a query template for forbidden keywords.
// Text inside {placeholder} spans is ignored; a keyword match outside a
// placeholder fails with SQL_BLOCKED.
func CheckStatementSafety(statement string) error {
	stripped := placeholderPattern.ReplaceAllString(statement, " ")
	upper := strings.ToUpper(stripped)
	for _, keyword := range forbiddenSQLKeywords {
		pattern := regexp.MustCompile(`\b` + keyword + `\b`)
		if pattern.MatchString(upper) {
			return errcode.Newf(errcode.SQLBlocked,
				"statement contains forbidden keyword %s", keyword)
		}
	}
	return nil
}

// validateToolContent runs the per-kind safety checks required before a tool
// asset may be published.
func validateToolContent(content json.RawMessage) error {
	var spec models.ToolSpec
	if err := json.Unmarshal(content, &spec); err != nil {
		return errcode.Wrap(errcode.ValidationFailed, "tool content is not valid JSON", err)
	}
	if spec.Name == "" {
		return errcode.New(errcode.ValidationFailed, "tool name is required")
	}

	validKind := false
	for _, kind := range models.ValidToolKinds {
		if spec.Kind == kind {
			validKind = true
			break
		}
	}
	if !validKind {
		return errcode.Newf(errcode.ValidationFailed, "unknown tool kind %q", spec.Kind)
	}

	switch spec.Kind {
	case models.ToolKindDatabaseQuery, models.ToolKindGraphQuery:
		if spec.SourceRef == "" {
			return errcode.New(errcode.ValidationFailed, "source_ref is required")
		}
		if spec.QueryRef == "" {
			return errcode.New(errcode.ValidationFailed, "query_ref is required")
		}
	case models.ToolKindHTTPAPI:
		parsed, err := url.Parse(spec.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			// Placeholder hosts like http://{base_url}/x still parse; a
			// fully templated URL does not and is rejected.
			return errcode.New(errcode.ValidationFailed, "http tool requires a valid URL")
		}
	}

	return checkCredentialShapedFields("", content)
}

// validateSourceContent enforces the credential rules on source assets:
// password references only, plaintext allowed solely in dev mode.
func validateSourceContent(content json.RawMessage) (devMode bool, err error) {
	var spec models.SourceSpec
	if err := json.Unmarshal(content, &spec); err != nil {
		return false, errcode.Wrap(errcode.ValidationFailed, "source content is not valid JSON", err)
	}
	if spec.Name == "" || spec.Type == "" {
		return false, errcode.New(errcode.ValidationFailed, "source name and type are required")
	}
	if spec.PasswordRef != "" && !masking.IsCredentialRef(spec.PasswordRef) {
		return false, errcode.New(errcode.ValidationFailed,
			"password_ref must start with env: or vault:")
	}
	if spec.Password != "" {
		if !spec.DevMode {
			return false, errcode.New(errcode.ValidationFailed,
				"plaintext password is rejected; use password_ref or set dev_mode")
		}
		return true, nil
	}
	return false, nil
}

// validateQueryContent checks the statement of a query asset.
func validateQueryContent(content json.RawMessage) error {
	var q QueryAsset
	if err := json.Unmarshal(content, &q); err != nil {
		return errcode.Wrap(errcode.ValidationFailed, "query content is not valid JSON", err)
	}
	if q.Statement == "" {
		return errcode.New(errcode.ValidationFailed, "query statement is required")
	}
	return CheckStatementSafety(q.Statement)
}

// checkCredentialShapedFields walks the content payload and rejects any
// sensitive-named field whose value is not a credential reference or
// template placeholder.
func checkCredentialShapedFields(path string, raw json.RawMessage) error {
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil
	}
	return walkCredentialFields(path, node)
}

func walkCredentialFields(path string, node any) error {
	obj, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	for key, value := range obj {
		fieldPath := key
		if path != "" {
			fieldPath = path + "." + key
		}
		if str, ok := value.(string); ok && str != "" && masking.IsSensitiveField(key) {
			if !masking.IsCredentialRef(str) {
				return errcode.New(errcode.ValidationFailed,
					fmt.Sprintf("field %s must be an env:/vault: reference or placeholder", fieldPath))
			}
		}
		if err := walkCredentialFields(fieldPath, value); err != nil {
			return err
		}
	}
	return nil
}
