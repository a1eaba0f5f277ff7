package store

import "strconv"

// limitOrAll turns a non-positive ListOptions.Limit into a large bound, since Postgres LIMIT
// requires a value and callers routinely pass a zero-value ListOptions meaning "no bound".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return 1_000_000
	}
	return limit
}

func itoa(n int) string { return strconv.Itoa(n) }
