package models

import "time"

// CacheTTL is how long a materialized result stays fresh.
const CacheTTL = 7 * 24 * time.Hour

// CacheEntry maps a query-intent fingerprint to a previously materialized
// result table. The cache layer exclusively owns entry lifecycle; entries past
// ExpiresAt are stale (excluded from normal lookups) but remain inspectable
// until an explicit cleanup sweep hard-deletes them.
type CacheEntry struct {
	Key             string    `json:"key"`
	RuleCategory    string    `json:"rule_category"`
	Database        string    `json:"database"`
	SchemaName      string    `json:"schema_name"`
	NLQuery         string    `json:"nl_query"`
	SQL             string    `json:"sql"`
	ResultTable     string    `json:"result_table"`
	ExecutionID     string    `json:"execution_id"`
	RowCount        int       `json:"row_count"`
	BytesScanned    int64     `json:"bytes_scanned"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	LastAccessedAt  time.Time `json:"last_accessed_at"`
	AccessCount     int       `json:"access_count"`
}

// Stale reports whether the entry has passed its expiry at the given instant.
func (e *CacheEntry) Stale(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// AgeHours returns the entry age in hours at the given instant.
func (e *CacheEntry) AgeHours(now time.Time) float64 {
	return now.Sub(e.CreatedAt).Hours()
}

// CacheStats summarizes cache contents for the admin surface.
type CacheStats struct {
	Total   int            `json:"total"`
	Active  int            `json:"active"`
	Expired int            `json:"expired"`
	PerRule map[string]int `json:"per_rule"`
}
