// Package tree holds helpers for the nested key/value trees produced by extraction.
package tree

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Lookup resolves a dotted path such as "balance_sheet.assets.total" or
// "loans[0].amount". Numeric segments index into lists.
func Lookup(t map[string]any, path string) (any, bool) {
	var cur any = t
	for _, seg := range SplitPath(path) {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// SplitPath breaks a path into segments, treating [n] like .n.
func SplitPath(path string) []string {
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)
	parts := strings.Split(path, ".")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Has reports whether field carries a non-empty value. A dotted field must resolve as a
// path; a bare field name may appear at any depth.
func Has(t map[string]any, field string) bool {
	if v, ok := Lookup(t, field); ok && !IsEmpty(v) {
		return true
	}
	if strings.ContainsAny(field, ".[") {
		return false
	}
	return findKey(t, field)
}

func findKey(v any, key string) bool {
	switch node := v.(type) {
	case map[string]any:
		if child, ok := node[key]; ok && !IsEmpty(child) {
			return true
		}
		for _, child := range node {
			if findKey(child, key) {
				return true
			}
		}
	case []any:
		for _, child := range node {
			if findKey(child, key) {
				return true
			}
		}
	}
	return false
}

// IsEmpty treats nil, blank strings, and empty maps or lists as absent.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// DeepCopy returns a copy of v sharing no maps or slices with the original.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = DeepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = DeepCopy(child)
		}
		return out
	default:
		return v
	}
}

// CopyMap deep-copies a tree root.
func CopyMap(t map[string]any) map[string]any {
	if t == nil {
		return nil
	}
	return DeepCopy(t).(map[string]any)
}

// Leaf is one flattened scalar of a tree.
type Leaf struct {
	Path  string
	Value string
}

// Flatten lists every scalar leaf in sorted path order, using dotted paths and [n] indexes.
func Flatten(t map[string]any) []Leaf {
	var out []Leaf
	flatten("", t, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func flatten(prefix string, v any, out *[]Leaf) {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			flatten(p, child, out)
		}
	case []any:
		for i, child := range node {
			flatten(fmt.Sprintf("%s[%d]", prefix, i), child, out)
		}
	case nil:
	case float64:
		*out = append(*out, Leaf{Path: prefix, Value: strconv.FormatFloat(node, 'f', -1, 64)})
	default:
		*out = append(*out, Leaf{Path: prefix, Value: fmt.Sprint(node)})
	}
}
