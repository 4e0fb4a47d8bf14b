package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresEngine runs queries against a PostgreSQL-compatible backend.
// Result tables are qualified as schema.table; the schema is created on
// demand before the first CTAS into it.
type PostgresEngine struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresEngine connects to the engine database and verifies the
// connection with a ping.
func NewPostgresEngine(ctx context.Context, url string, logger *zap.Logger) (*PostgresEngine, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to engine database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping engine database: %w", err)
	}

	return &PostgresEngine{
		pool:   pool,
		logger: logger.Named("engine"),
	}, nil
}

// NewPostgresEngineFromPool wraps an existing pool, for tests.
func NewPostgresEngineFromPool(pool *pgxpool.Pool, logger *zap.Logger) *PostgresEngine {
	return &PostgresEngine{pool: pool, logger: logger.Named("engine")}
}

// DryRun validates a query plan with EXPLAIN, without executing it.
func (e *PostgresEngine) DryRun(ctx context.Context, sql string) error {
	if _, err := e.pool.Exec(ctx, "EXPLAIN "+sql); err != nil {
		return e.wrapError(err, "")
	}
	return nil
}

// ExecuteCTAS materializes the query into the named result table.
func (e *PostgresEngine) ExecuteCTAS(ctx context.Context, sql, resultTable string) (*ExecutionResult, error) {
	executionID := uuid.New().String()
	start := time.Now()

	if schemaName, _, ok := strings.Cut(resultTable, "."); ok {
		if _, err := e.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schemaName)); err != nil {
			return nil, e.wrapError(err, executionID)
		}
	}

	tag, err := e.pool.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", quoteQualified(resultTable), sql))
	if err != nil {
		return nil, e.wrapError(err, executionID)
	}

	elapsed := time.Since(start)
	e.logger.Info("CTAS execution completed",
		zap.String("execution_id", executionID),
		zap.String("result_table", resultTable),
		zap.Int64("rows", tag.RowsAffected()),
		zap.Duration("elapsed", elapsed))

	return &ExecutionResult{
		ExecutionID:     executionID,
		RowCount:        int(tag.RowsAffected()),
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}

// PreviewTable reads up to maxRows rows from a materialized result table.
func (e *PostgresEngine) PreviewTable(ctx context.Context, resultTable string, maxRows int) (*Preview, error) {
	rows, err := e.pool.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteQualified(resultTable), maxRows))
	if err != nil {
		return nil, e.wrapError(err, "")
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, e.wrapError(err, "")
	}

	return &Preview{Columns: columns, Rows: resultRows}, nil
}

// TableExists reports whether a materialized result table still exists.
func (e *PostgresEngine) TableExists(ctx context.Context, resultTable string) (bool, error) {
	schemaName := "public"
	tableName := resultTable
	if s, t, ok := strings.Cut(resultTable, "."); ok {
		schemaName, tableName = s, t
	}

	var exists bool
	err := e.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		schemaName, tableName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table existence: %w", err)
	}

	return exists, nil
}

// DropTable removes a materialized result table if it exists.
func (e *PostgresEngine) DropTable(ctx context.Context, resultTable string) error {
	if _, err := e.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteQualified(resultTable))); err != nil {
		return e.wrapError(err, "")
	}
	return nil
}

// Ping verifies connectivity.
func (e *PostgresEngine) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

// Close releases the connection pool.
func (e *PostgresEngine) Close() {
	e.pool.Close()
}

// wrapError converts a backend error into an engine Error carrying the raw
// message text.
func (e *PostgresEngine) wrapError(err error, executionID string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{
			Message:     pgErr.Message,
			Code:        pgErr.Code,
			ExecutionID: executionID,
		}
	}
	return &Error{Message: err.Error(), ExecutionID: executionID}
}

// quoteQualified quotes each segment of a dotted identifier.
func quoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = fmt.Sprintf("%q", p)
	}
	return strings.Join(parts, ".")
}

// Ensure PostgresEngine implements Engine at compile time.
var _ Engine = (*PostgresEngine)(nil)
