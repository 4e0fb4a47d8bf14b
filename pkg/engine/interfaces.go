// Package engine abstracts the query engine that executes validated SQL and
// materializes result tables.
package engine

import "context"

// ExecutionResult describes a completed CTAS execution.
type ExecutionResult struct {
	ExecutionID     string
	RowCount        int
	BytesScanned    int64
	ExecutionTimeMs int64
}

// Preview is a bounded sample of a materialized result table.
type Preview struct {
	Columns []string
	Rows    []map[string]any
}

// Engine executes SQL against the analytics backend. The coordinator treats
// it as opaque: it surfaces raw error text and never interprets engine
// internals.
type Engine interface {
	// DryRun checks a query plan without executing it. A nil error means the
	// statement is syntactically and semantically acceptable to the engine.
	DryRun(ctx context.Context, sql string) error

	// ExecuteCTAS materializes the query into the named result table.
	ExecuteCTAS(ctx context.Context, sql, resultTable string) (*ExecutionResult, error)

	// PreviewTable reads up to maxRows rows from a materialized result table.
	PreviewTable(ctx context.Context, resultTable string, maxRows int) (*Preview, error)

	// TableExists reports whether a materialized result table still exists.
	TableExists(ctx context.Context, resultTable string) (bool, error)

	// DropTable removes a materialized result table. Dropping a missing
	// table is not an error.
	DropTable(ctx context.Context, resultTable string) error

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error
}
