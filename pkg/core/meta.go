package core

import (
	"fmt"
	"sort"
	"strings"
)

// FlattenTree flattens a nested metadata tree into dotted-path keys.
// Maps recurse with a "." separator, lists render as "[a, b]" and
// scalars render with their default formatting. Query matching works
// over the flattened form.
func FlattenTree(tree map[string]any) map[string]string {
	flat := make(map[string]string)
	flattenInto(flat, "", tree)
	return flat
}

func flattenInto(flat map[string]string, prefix string, node any) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			flattenInto(flat, path, child)
		}
	case map[any]any:
		// yaml.v3 decodes some nested maps with any keys
		for key, child := range v {
			path := fmt.Sprint(key)
			if prefix != "" {
				path = prefix + "." + path
			}
			flattenInto(flat, path, child)
		}
	case []any:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = scalarString(item)
		}
		flat[prefix] = "[" + strings.Join(items, ", ") + "]"
	default:
		flat[prefix] = scalarString(v)
	}
}

func scalarString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// UnflattenTree rebuilds a nested tree from dotted-path keys. Values
// stay strings; the inverse of FlattenTree up to scalar formatting.
func UnflattenTree(flat map[string]string) map[string]any {
	tree := make(map[string]any)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		parts := strings.Split(key, ".")
		node := tree
		for i, part := range parts {
			if i == len(parts)-1 {
				node[part] = flat[key]
				break
			}
			child, ok := node[part].(map[string]any)
			if !ok {
				// A scalar already occupies this path; keep the scalar
				// and store the deeper key flat to avoid losing data.
				if _, exists := node[part]; exists {
					node[strings.Join(parts[i:], ".")] = flat[key]
					break
				}
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
	}
	return tree
}

// MergeTree merges src into dst. Colliding scalar keys turn into
// lists, matching manifest metadata accumulation semantics.
func MergeTree(dst, src map[string]any) {
	for k, v := range src {
		old, exists := dst[k]
		if !exists {
			dst[k] = v
			continue
		}
		if oldMap, ok := old.(map[string]any); ok {
			if newMap, ok := v.(map[string]any); ok {
				MergeTree(oldMap, newMap)
				continue
			}
		}
		if oldList, ok := old.([]any); ok {
			dst[k] = append(oldList, v)
			continue
		}
		dst[k] = []any{old, v}
	}
}
