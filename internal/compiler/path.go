package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// ResolvePath resolves a restricted dotted/bracket path expression against
// render data, e.g. "extraction.ingredients" or "items[0].names". This is
// a deliberately narrow subset of JMESPath: no example repository in the
// pack imports a JMESPath library (grounding gap recorded in DESIGN.md),
// and spec.md's MapOver only ever needs "select a list field, optionally
// nested under dicts and list indices" - not JMESPath's full filter/
// projection grammar. Grounded on jmespath.search's call site in
// original_source/genie_flow/celery/__init__.go's map_task.
func ResolvePath(path string, data map[string]any) (any, error) {
	if path == "" {
		return data, nil
	}

	var current any = data
	for _, segment := range splitPath(path) {
		if segment.index != nil {
			list, ok := current.([]any)
			if !ok {
				return nil, fmt.Errorf("path segment %q: expected a list, got %T", segment.raw, current)
			}
			idx := *segment.index
			if idx < 0 || idx >= len(list) {
				return nil, fmt.Errorf("path segment %q: index %d out of range (len %d)", segment.raw, idx, len(list))
			}
			current = list[idx]
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path segment %q: expected an object, got %T", segment.raw, current)
		}
		v, ok := m[segment.key]
		if !ok {
			return nil, fmt.Errorf("path segment %q: key not found", segment.raw)
		}
		current = v
	}
	return current, nil
}

// ResolveList resolves path and coerces the result to a list. A
// non-list result is wrapped in a single-element list, matching
// map_task's "path to attribute returns type X and not a list" fallback
// in the original.
func ResolveList(path string, data map[string]any) ([]any, error) {
	v, err := ResolvePath(path, data)
	if err != nil {
		return nil, err
	}
	if list, ok := v.([]any); ok {
		return list, nil
	}
	return []any{v}, nil
}

type pathSegment struct {
	raw   string
	key   string
	index *int
}

// splitPath tokenizes "a.b[2].c" into [a, b, [2], c] segments. A bracketed
// numeric segment following a key (e.g. "b[2]") is split into the key
// segment "b" and the index segment "[2]".
func splitPath(path string) []pathSegment {
	var segments []pathSegment
	for _, part := range strings.Split(path, ".") {
		for part != "" {
			if i := strings.IndexByte(part, '['); i >= 0 {
				if i > 0 {
					segments = append(segments, pathSegment{raw: part[:i], key: part[:i]})
				}
				end := strings.IndexByte(part[i:], ']')
				if end < 0 {
					segments = append(segments, pathSegment{raw: part, key: part})
					break
				}
				end += i
				idxStr := part[i+1 : end]
				if n, err := strconv.Atoi(idxStr); err == nil {
					segments = append(segments, pathSegment{raw: part[i : end+1], index: &n})
				}
				part = part[end+1:]
				continue
			}
			segments = append(segments, pathSegment{raw: part, key: part})
			break
		}
	}
	return segments
}
