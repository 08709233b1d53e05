package mapping

import (
	"strconv"
	"strings"
)

// Get resolves a dotted path against nested maps and slices.
// Numeric segments index into slices. The second return is false when any segment is missing.
func Get(record map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = record
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at a dotted path, creating intermediate maps and replacing
// non-map intermediates.
func Set(record map[string]any, path string, value any) {
	segs := strings.Split(path, ".")
	cur := record
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

func absent(v any, found bool) bool {
	return !found || v == nil
}
