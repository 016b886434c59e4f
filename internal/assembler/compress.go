package assembler

import (
	"fmt"
	"sort"
	"strings"
)

// Tool-result compression bounds. Lists shorter than the threshold pass
// through untouched.
const (
	listCompressThreshold = 10
	topKItems             = 5
)

// CompressToolResult shrinks a large tool output before it joins the LLM
// context. List-shaped results collapse to a count, a per-group summary
// and the first few items; search-shaped results keep only identifying
// fields. Omitted detail stays re-fetchable through the original tool;
// nothing is invented.
func CompressToolResult(result interface{}) interface{} {
	switch v := result.(type) {
	case []map[string]interface{}:
		if len(v) < listCompressThreshold {
			return v
		}
		generic := make([]interface{}, len(v))
		for i, item := range v {
			generic[i] = item
		}
		return compressList(generic)
	case []interface{}:
		if len(v) < listCompressThreshold {
			return v
		}
		return compressList(v)
	case map[string]interface{}:
		if hits, ok := v["hits"].([]interface{}); ok {
			out := make(map[string]interface{}, len(v))
			for k, val := range v {
				out[k] = val
			}
			out["hits"] = compressSearchHits(hits)
			return out
		}
		return v
	default:
		return result
	}
}

func compressList(items []interface{}) map[string]interface{} {
	groups := map[string]int{}
	for _, it := range items {
		if m, ok := it.(map[string]interface{}); ok {
			for _, field := range []string{"status", "type", "action_type", "kind"} {
				if g, ok := m[field].(string); ok {
					groups[g]++
					break
				}
			}
		}
	}

	top := items
	if len(top) > topKItems {
		top = top[:topKItems]
	}
	return map[string]interface{}{
		"total_count":     len(items),
		"grouped_summary": summarizeGroups(groups),
		"top_items":       top,
	}
}

func summarizeGroups(groups map[string]int) string {
	if len(groups) == 0 {
		return ""
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %d", k, groups[k])
	}
	return strings.Join(parts, ", ")
}

// compressSearchHits strips hits down to identifier, score and title.
func compressSearchHits(hits []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(hits))
	for _, h := range hits {
		m, ok := h.(map[string]interface{})
		if !ok {
			continue
		}
		slim := map[string]interface{}{}
		for _, field := range []string{"id", "score", "title", "summary"} {
			if v, ok := m[field]; ok {
				slim[field] = v
			}
		}
		out = append(out, slim)
	}
	return out
}
