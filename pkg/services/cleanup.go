package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/ctas"
	"github.com/datapilot-ai/datapilot-engine/pkg/engine"
	"github.com/datapilot-ai/datapilot-engine/pkg/logging"
	"github.com/datapilot-ai/datapilot-engine/pkg/models"
)

// ExpiredClearer hard-deletes stale cache entries, returning what was
// removed. Satisfied by *cache.Repository.
type ExpiredClearer interface {
	ClearExpired(ctx context.Context) ([]models.CacheEntry, error)
}

// Janitor periodically hard-deletes expired cache entries and drops their
// materialized tables. Until it runs, stale entries stay inspectable through
// the admin surface.
type Janitor struct {
	cache    ExpiredClearer
	engine   engine.Engine
	interval time.Duration
	logger   *zap.Logger
}

// NewJanitor creates a janitor sweeping at the given interval. A
// non-positive interval defaults to one hour.
func NewJanitor(resultCache ExpiredClearer, eng engine.Engine, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		cache:    resultCache,
		engine:   eng,
		interval: interval,
		logger:   logger.Named("janitor"),
	}
}

// Start runs the sweep loop until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.logger.Warn("Cleanup sweep failed", zap.String("error", logging.SanitizeError(err)))
			}
		}
	}
}

// Sweep runs one pass: delete expired entries, then drop their result
// tables. A failed drop is logged and skipped; the entry is already gone and
// the next manual cleanup can reap the orphan.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	removed, err := j.cache.ClearExpired(ctx)
	if err != nil {
		return 0, err
	}

	for _, entry := range removed {
		if entry.ResultTable == "" {
			continue
		}
		// Only drop tables that carry the result table naming scheme. A
		// corrupted entry must not take an unrelated table with it.
		if !ctas.ValidateName(entry.ResultTable) {
			j.logger.Warn("Expired entry references a non-result table, not dropping",
				zap.String("table", entry.ResultTable))
			continue
		}
		if err := j.engine.DropTable(ctx, entry.ResultTable); err != nil {
			j.logger.Warn("Drop of expired result table failed",
				zap.String("table", entry.ResultTable),
				zap.String("error", logging.SanitizeError(err)))
		}
	}

	if len(removed) > 0 {
		j.logger.Info("Cleanup sweep removed expired entries", zap.Int("count", len(removed)))
	}
	return len(removed), nil
}
