package chain

import "strings"

// Extract walks a dotted path into a decoded JSON value. Grammar:
//   - "a.b.c"   nested field access
//   - "a.b.*.c" wildcard over a list, collecting field c from every element
//
// A missing intermediate yields nil; downstream schema validation decides
// whether null is acceptable.
func Extract(value any, path string) any {
	if path == "" {
		return value
	}
	return extract(value, strings.Split(path, "."))
}

func extract(value any, segments []string) any {
	if len(segments) == 0 {
		return value
	}
	head, rest := segments[0], segments[1:]

	if head == "*" {
		list, ok := asList(value)
		if !ok {
			return nil
		}
		out := make([]any, 0, len(list))
		for _, item := range list {
			out = append(out, extract(item, rest))
		}
		return out
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	child, ok := obj[head]
	if !ok {
		return nil
	}
	return extract(child, rest)
}

// asList widens the concrete slice shapes tool results use.
func asList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}
