package store

import (
	"fmt"
	"sort"
	"strings"
)

// BuildUpsert assembles an INSERT statement for the non-nil fields of
// data, in deterministic column order. With a conflict column it
// becomes an upsert that updates only the provided fields; without one
// it is a plain INSERT. Returns "" when data has no usable fields.
//
// Table and column names come from code, never from user input; only
// values are parameterized.
func BuildUpsert(table string, data map[string]any, conflictColumn string) (string, []any) {
	cols := make([]string, 0, len(data))
	for col, val := range data {
		if val == nil {
			continue
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return "", nil
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		args[i] = data[col]
		placeholders[i] = "?"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if conflictColumn != "" {
		var updates []string
		for _, col := range cols {
			if col == conflictColumn {
				continue
			}
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
		if len(updates) == 0 {
			fmt.Fprintf(&b, " ON CONFLICT(%s) DO NOTHING", conflictColumn)
		} else {
			fmt.Fprintf(&b, " ON CONFLICT(%s) DO UPDATE SET %s",
				conflictColumn, strings.Join(updates, ", "))
		}
	}
	return b.String(), args
}
