package store

import (
	"sort"
	"strings"
)

// maxArgs keeps IN lists under SQLite's bound-parameter limit.
const maxArgs = 500

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// stringsToArgs converts []string to []any for use with database/sql.
func stringsToArgs(vals []string) []any {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}

// chunks splits vals into slices of at most size elements.
func chunks(vals []string, size int) [][]string {
	var out [][]string
	for len(vals) > 0 {
		n := min(size, len(vals))
		out = append(out, vals[:n])
		vals = vals[n:]
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
