package config

import (
	"fmt"
	"strings"
)

// MergeMaps returns dst overlaid with src. Nested maps merge recursively;
// every other value in src, including lists, replaces the one in dst.
// Neither argument is modified.
func MergeMaps(dst, src map[string]any) map[string]any {
	out := copyMap(dst)
	for k, v := range src {
		srcMap, srcIsMap := asMap(v)
		dstMap, dstIsMap := asMap(out[k])
		if srcIsMap && dstIsMap {
			out[k] = MergeMaps(dstMap, srcMap)
			continue
		}
		out[k] = copyValue(v)
	}
	return out
}

// Lookup walks a dotted key through nested maps.
func Lookup(m map[string]any, key string) (any, bool) {
	var current any = m
	for _, part := range strings.Split(key, ".") {
		cm, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = cm[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetPath assigns value at a dotted key, creating intermediate maps and
// replacing any scalar standing in the way.
func SetPath(m map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	current := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			next = map[string]any{}
		}
		current[part] = next
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	if m, ok := asMap(v); ok {
		return copyMap(m)
	}
	if list, ok := v.([]any); ok {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = copyValue(item)
		}
		return out
	}
	return v
}
