package sources

import (
	"fmt"
	"os"
	"strings"

	"github.com/opsintel/opsiq/pkg/errcode"
)

// SecretStore resolves vault: references. The real implementation is an
// external collaborator; tests inject a fake.
type SecretStore interface {
	Resolve(path string) (string, error)
}

// EnvSecretStore satisfies vault: references from environment variables of
// the form VAULT_<PATH> with slashes mapped to underscores. Used when no
// real secret store is wired.
type EnvSecretStore struct{}

// Resolve looks up the mapped environment variable.
func (EnvSecretStore) Resolve(path string) (string, error) {
	key := "VAULT_" + strings.ToUpper(strings.NewReplacer("/", "_", "-", "_").Replace(path))
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret not found: %s", path)
}

// ResolveCredential turns a credential reference into its plaintext value.
// Accepted forms: "env:NAME", "vault:PATH", or empty (no credential).
// Plaintext values are rejected; they must never reach this layer.
func ResolveCredential(ref string, secrets SecretStore) (string, error) {
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		value := os.Getenv(name)
		if value == "" {
			return "", errcode.Newf(errcode.ConfigurationError,
				"credential env var %s is not set", name)
		}
		return value, nil
	case strings.HasPrefix(ref, "vault:"):
		if secrets == nil {
			return "", errcode.New(errcode.ConfigurationError,
				"vault reference used but no secret store configured")
		}
		value, err := secrets.Resolve(strings.TrimPrefix(ref, "vault:"))
		if err != nil {
			return "", errcode.Wrap(errcode.ConfigurationError,
				"failed to resolve vault credential", err)
		}
		return value, nil
	default:
		return "", errcode.New(errcode.ConfigurationError,
			"credential must be an env: or vault: reference")
	}
}
