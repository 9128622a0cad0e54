// Package cache provides the tool result cache: canonical key derivation
// plus in-memory and Redis-backed stores.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Key derives the deterministic cache key for a tool call from the tool
// name, its inputs in canonical form, and the tenant. The same logical
// inputs always produce the same key regardless of map iteration order.
func Key(tool string, inputs map[string]any, tenantID string) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write([]byte(canonicalJSON(inputs)))
	h.Write([]byte{0})
	h.Write([]byte(tenantID))
	return "tool:" + hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON encodes a value with object keys sorted at every level.
func canonicalJSON(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, _ := json.Marshal(k)
			b.Write(enc)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		enc, err := json.Marshal(val)
		if err != nil {
			b.WriteString(fmt.Sprintf("%v", val))
			return
		}
		b.Write(enc)
	}
}
