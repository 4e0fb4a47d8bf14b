// Package cache persists the mapping from query intent to materialized
// result tables.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Key computes the deterministic cache key for a run. The key is a digest of
// the rule category (case-folded), the schema and database identity, and the
// normalized table selection. The natural language text is deliberately NOT
// part of the key: two phrasings of the same rule against the same tables
// must collide.
func Key(ruleCategory, schemaName, database string, selected map[string][]string) string {
	h := sha256.New()

	fmt.Fprintf(h, "category=%s\n", strings.ToLower(strings.TrimSpace(ruleCategory)))
	fmt.Fprintf(h, "schema=%s\n", schemaName)
	fmt.Fprintf(h, "database=%s\n", database)

	tables := make([]string, 0, len(selected))
	for table := range selected {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		columns := append([]string(nil), selected[table]...)
		for i, c := range columns {
			columns[i] = strings.ToLower(strings.TrimSpace(c))
		}
		sort.Strings(columns)
		fmt.Fprintf(h, "table=%s:%s\n", strings.ToLower(table), strings.Join(columns, ","))
	}

	return hex.EncodeToString(h.Sum(nil))
}
