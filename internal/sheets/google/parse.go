package google

import (
	"fmt"
	"slices"
	"strings"

	"spendwise/internal/core"
)

// parseTaxonomy turns L1,L2 rows into categories. A blank L1 cell
// continues the previous category, so both flat pair lists and grouped
// layouts work. Rows starting with # are comments.
func parseTaxonomy(values [][]any) []core.Category {
	var out []core.Category
	index := map[string]int{}
	current := ""

	for _, row := range values {
		cols := toStrings(row)
		l1, l2 := safeGet(cols, 0), safeGet(cols, 1)
		if strings.HasPrefix(l1, "#") {
			continue
		}
		if l1 == "" {
			l1 = current
		}
		if l1 == "" {
			continue
		}
		current = l1

		i, ok := index[l1]
		if !ok {
			i = len(out)
			index[l1] = i
			out = append(out, core.Category{Name: l1})
		}
		if l2 != "" && !slices.Contains(out[i].Children, l2) {
			out[i].Children = append(out[i].Children, l2)
		}
	}
	return out
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
