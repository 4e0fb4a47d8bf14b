package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/apperrors"
	"github.com/datapilot-ai/datapilot-engine/pkg/database"
	"github.com/datapilot-ai/datapilot-engine/pkg/models"
)

// Repository owns the lifecycle of cache entries in the metadata store.
// No other component writes to the query_cache table.
type Repository struct {
	db     *database.DB
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewRepository creates a cache repository with the given entry TTL.
func NewRepository(db *database.DB, ttl time.Duration, logger *zap.Logger) *Repository {
	if ttl <= 0 {
		ttl = models.CacheTTL
	}
	return &Repository{
		db:     db,
		ttl:    ttl,
		logger: logger.Named("cache"),
		now:    time.Now,
	}
}

const cacheColumns = `key, rule_category, database_name, schema_name, nl_query, sql_text,
	result_table, execution_id, row_count, bytes_scanned, execution_time_ms,
	created_at, expires_at, last_accessed_at, access_count`

func scanEntry(row pgx.Row) (*models.CacheEntry, error) {
	var e models.CacheEntry
	err := row.Scan(
		&e.Key, &e.RuleCategory, &e.Database, &e.SchemaName, &e.NLQuery, &e.SQL,
		&e.ResultTable, &e.ExecutionID, &e.RowCount, &e.BytesScanned, &e.ExecutionTimeMs,
		&e.CreatedAt, &e.ExpiresAt, &e.LastAccessedAt, &e.AccessCount,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Lookup returns the active (unexpired) entry for a key, bumping its access
// stats. A stale entry is a miss. A row that cannot be decoded is treated as
// corruption: the row is purged and the lookup reports a miss.
func (r *Repository) Lookup(ctx context.Context, key string) (*models.CacheEntry, error) {
	now := r.now()

	query := fmt.Sprintf(`SELECT %s FROM query_cache WHERE key = $1 AND expires_at > $2`, cacheColumns)

	entry, err := scanEntry(r.db.QueryRow(ctx, query, key, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Warn("Purging undecodable cache entry",
			zap.String("key", key),
			zap.Error(err))
		if _, delErr := r.db.Exec(ctx, `DELETE FROM query_cache WHERE key = $1`, key); delErr != nil {
			return nil, fmt.Errorf("purge corrupt cache entry: %w", delErr)
		}
		return nil, nil
	}

	if entry.ResultTable == "" || entry.SQL == "" {
		r.logger.Warn("Purging corrupt cache entry", zap.String("key", key))
		if _, delErr := r.db.Exec(ctx, `DELETE FROM query_cache WHERE key = $1`, key); delErr != nil {
			return nil, fmt.Errorf("purge corrupt cache entry: %w", delErr)
		}
		return nil, fmt.Errorf("cache entry %s: %w", key, apperrors.ErrCacheCorruption)
	}

	_, err = r.db.Exec(ctx,
		`UPDATE query_cache SET last_accessed_at = $2, access_count = access_count + 1 WHERE key = $1`,
		key, now)
	if err != nil {
		return nil, fmt.Errorf("update cache access stats: %w", err)
	}
	entry.LastAccessedAt = now
	entry.AccessCount++

	return entry, nil
}

// LookupAny returns the entry for a key regardless of expiry. Used by the
// REEXECUTE path, which needs the stored SQL even when the entry is stale.
func (r *Repository) LookupAny(ctx context.Context, key string) (*models.CacheEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM query_cache WHERE key = $1`, cacheColumns)

	entry, err := scanEntry(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup cache entry: %w", err)
	}

	return entry, nil
}

// Put stores an entry for a successful run, replacing any previous entry for
// the key. The expiry is computed here so all writers share one TTL policy.
// A fresh insert starts the access count at 1; a refresh (FORCE or
// REEXECUTE overwriting an existing key) preserves the historical count and
// counts itself as one more access.
func (r *Repository) Put(ctx context.Context, entry *models.CacheEntry) error {
	now := r.now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(r.ttl)
	entry.LastAccessedAt = now

	query := fmt.Sprintf(`
		INSERT INTO query_cache (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)
		ON CONFLICT (key) DO UPDATE SET
			rule_category = EXCLUDED.rule_category,
			database_name = EXCLUDED.database_name,
			schema_name = EXCLUDED.schema_name,
			nl_query = EXCLUDED.nl_query,
			sql_text = EXCLUDED.sql_text,
			result_table = EXCLUDED.result_table,
			execution_id = EXCLUDED.execution_id,
			row_count = EXCLUDED.row_count,
			bytes_scanned = EXCLUDED.bytes_scanned,
			execution_time_ms = EXCLUDED.execution_time_ms,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			last_accessed_at = EXCLUDED.last_accessed_at,
			access_count = query_cache.access_count + 1
		RETURNING access_count`, cacheColumns)

	err := r.db.QueryRow(ctx, query,
		entry.Key, entry.RuleCategory, entry.Database, entry.SchemaName, entry.NLQuery, entry.SQL,
		entry.ResultTable, entry.ExecutionID, entry.RowCount, entry.BytesScanned, entry.ExecutionTimeMs,
		entry.CreatedAt, entry.ExpiresAt, entry.LastAccessedAt).Scan(&entry.AccessCount)
	if err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}

	return nil
}

// Invalidate removes an entry and returns it so the caller can drop the
// backing result table. Returns nil when the key is absent.
func (r *Repository) Invalidate(ctx context.Context, key string) (*models.CacheEntry, error) {
	query := fmt.Sprintf(`DELETE FROM query_cache WHERE key = $1 RETURNING %s`, cacheColumns)

	entry, err := scanEntry(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalidate cache entry: %w", err)
	}

	r.logger.Info("Cache entry invalidated",
		zap.String("key", key),
		zap.String("result_table", entry.ResultTable))

	return entry, nil
}

// InvalidateByRule removes every entry for a rule category within a
// database, returning them so the caller can drop the backing result tables.
// The rule category is matched in canonical form.
func (r *Repository) InvalidateByRule(ctx context.Context, ruleCategory, db string) ([]models.CacheEntry, error) {
	query := fmt.Sprintf(
		`DELETE FROM query_cache WHERE rule_category = $1 AND database_name = $2 RETURNING %s`,
		cacheColumns)

	rows, err := r.db.Query(ctx, query, strings.ToUpper(strings.TrimSpace(ruleCategory)), db)
	if err != nil {
		return nil, fmt.Errorf("invalidate cache entries by rule: %w", err)
	}
	defer rows.Close()

	var removed []models.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invalidated cache entry: %w", err)
		}
		removed = append(removed, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invalidated cache entries: %w", err)
	}

	if len(removed) > 0 {
		r.logger.Info("Cache entries invalidated by rule",
			zap.String("rule_category", ruleCategory),
			zap.String("database", db),
			zap.Int("count", len(removed)))
	}

	return removed, nil
}

// ClearExpired hard-deletes all stale entries and returns them so the caller
// can drop the backing result tables.
func (r *Repository) ClearExpired(ctx context.Context) ([]models.CacheEntry, error) {
	query := fmt.Sprintf(`DELETE FROM query_cache WHERE expires_at <= $1 RETURNING %s`, cacheColumns)

	rows, err := r.db.Query(ctx, query, r.now())
	if err != nil {
		return nil, fmt.Errorf("clear expired cache entries: %w", err)
	}
	defer rows.Close()

	var cleared []models.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired cache entry: %w", err)
		}
		cleared = append(cleared, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired cache entries: %w", err)
	}

	if len(cleared) > 0 {
		r.logger.Info("Cleared expired cache entries", zap.Int("count", len(cleared)))
	}

	return cleared, nil
}

// List returns all entries, newest first, for the admin surface.
func (r *Repository) List(ctx context.Context) ([]models.CacheEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM query_cache ORDER BY created_at DESC`, cacheColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []models.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}

	return entries, nil
}

// Stats summarizes cache contents.
func (r *Repository) Stats(ctx context.Context) (*models.CacheStats, error) {
	now := r.now()

	stats := &models.CacheStats{PerRule: make(map[string]int)}

	rows, err := r.db.Query(ctx,
		`SELECT rule_category, COUNT(*), COUNT(*) FILTER (WHERE expires_at > $1)
		 FROM query_cache GROUP BY rule_category`, now)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rule string
		var total, active int
		if err := rows.Scan(&rule, &total, &active); err != nil {
			return nil, fmt.Errorf("scan cache stats: %w", err)
		}
		stats.Total += total
		stats.Active += active
		stats.PerRule[rule] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache stats: %w", err)
	}

	stats.Expired = stats.Total - stats.Active
	return stats, nil
}
