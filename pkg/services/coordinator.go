// Package services contains the execution coordinator that drives a request
// through cache lookup, generation, validation, repair, execution and
// materialization.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/datapilot-ai/datapilot-engine/pkg/apperrors"
	"github.com/datapilot-ai/datapilot-engine/pkg/cache"
	"github.com/datapilot-ai/datapilot-engine/pkg/ctas"
	"github.com/datapilot-ai/datapilot-engine/pkg/engine"
	"github.com/datapilot-ai/datapilot-engine/pkg/logging"
	"github.com/datapilot-ai/datapilot-engine/pkg/models"
	"github.com/datapilot-ai/datapilot-engine/pkg/schema"
	"github.com/datapilot-ai/datapilot-engine/pkg/validator"
)

// SQLGenerator produces the first candidate of a run.
type SQLGenerator interface {
	Generate(ctx context.Context, req *models.Request, schemaCtx *schema.Context) (*models.Candidate, error)
}

// SQLRepairer produces the successor of a broken candidate.
type SQLRepairer interface {
	Repair(ctx context.Context, req *models.Request, schemaCtx *schema.Context, broken *models.Candidate, diags []models.Diagnostic) (*models.Candidate, error)
}

// CandidateValidator classifies a candidate as pass or fail.
type CandidateValidator interface {
	Validate(ctx context.Context, candidate *models.Candidate) models.ValidationResult
}

// ResultCache is the subset of the cache repository the coordinator uses.
type ResultCache interface {
	Lookup(ctx context.Context, key string) (*models.CacheEntry, error)
	LookupAny(ctx context.Context, key string) (*models.CacheEntry, error)
	Put(ctx context.Context, entry *models.CacheEntry) error
	Invalidate(ctx context.Context, key string) (*models.CacheEntry, error)
	InvalidateByRule(ctx context.Context, ruleCategory, database string) ([]models.CacheEntry, error)
}

// ErrorRecorder persists an error/resolution pair after a repair succeeds.
type ErrorRecorder interface {
	Record(ctx context.Context, errorMessage, resolution string) error
}

// SchemaResolver builds the schema context for a request.
type SchemaResolver interface {
	BuildContext(name string, selected map[string][]string) (*schema.Context, error)
}

// Config bounds a coordinator run.
type Config struct {
	MaxRepairAttempts int
	MaxEngineAttempts int
	GenerateTimeout   time.Duration
	ValidateTimeout   time.Duration
	ExecuteTimeout    time.Duration
	MaxPreviewRows    int
}

func (c *Config) applyDefaults() {
	if c.MaxRepairAttempts <= 0 {
		c.MaxRepairAttempts = 5
	}
	if c.MaxEngineAttempts <= 0 {
		c.MaxEngineAttempts = 3
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 2 * time.Minute
	}
	if c.ValidateTimeout <= 0 {
		c.ValidateTimeout = 2 * time.Minute
	}
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = 30 * time.Minute
	}
	if c.MaxPreviewRows <= 0 {
		c.MaxPreviewRows = models.MaxPreviewRows
	}
}

// RunFailure is the terminal error of a run that exhausted its budget or
// failed fatally. Attempts counts candidates tried, Diagnostics holds the
// failures of the last one.
type RunFailure struct {
	Err         error
	Attempts    int
	Diagnostics []models.Diagnostic
}

func (f *RunFailure) Error() string {
	if len(f.Diagnostics) > 0 {
		return fmt.Sprintf("%v after %d attempts: %s", f.Err, f.Attempts, f.Diagnostics[len(f.Diagnostics)-1].Message)
	}
	return fmt.Sprintf("%v after %d attempts", f.Err, f.Attempts)
}

func (f *RunFailure) Unwrap() error { return f.Err }

// Coordinator drives a request through the full pipeline. Concurrent
// requests that resolve to the same cache key and mode share a single run
// via singleflight; followers receive the leader's result.
type Coordinator struct {
	generator SQLGenerator
	repairer  SQLRepairer
	validator CandidateValidator
	engine    engine.Engine
	cache     ResultCache
	knowledge ErrorRecorder
	schemas   SchemaResolver
	cfg       Config
	group     singleflight.Group
	logger    *zap.Logger

	now func() time.Time
}

// NewCoordinator wires the pipeline. knowledge may be nil, which disables
// error recording.
func NewCoordinator(
	gen SQLGenerator,
	rep SQLRepairer,
	val CandidateValidator,
	eng engine.Engine,
	resultCache ResultCache,
	knowledge ErrorRecorder,
	schemas SchemaResolver,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		generator: gen,
		repairer:  rep,
		validator: val,
		engine:    eng,
		cache:     resultCache,
		knowledge: knowledge,
		schemas:   schemas,
		cfg:       cfg,
		logger:    logger.Named("coordinator"),
		now:       time.Now,
	}
}

// Execute runs one request to its terminal outcome. Exactly one of the
// return values is set. Progress events are emitted on every state
// transition and never block.
func (c *Coordinator) Execute(ctx context.Context, req *models.Request, emit Emitter) (*models.QueryResult, error) {
	if emit == nil {
		emit = NopEmitter
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if results := validator.CheckRequestFields(map[string]string{
		"rule_category": req.RuleCategory,
		"guardrails":    req.Guardrails,
	}); len(results) > 0 {
		return nil, fmt.Errorf("request field %s rejected: injection pattern %q",
			results[0].FieldName, results[0].Fingerprint)
	}

	schemaCtx, err := c.schemas.BuildContext(req.SchemaName, req.SelectedTables)
	if err != nil {
		return nil, err
	}

	key := cache.Key(req.RuleCategory, schemaCtx.SchemaName, schemaCtx.Database, req.SelectedTables)

	// Identical in-flight requests collapse into one run. The mode is part
	// of the flight key so a force run never hijacks a normal one.
	flightKey := key + "|" + string(req.ExecutionMode)
	for {
		v, err, shared := c.group.Do(flightKey, func() (any, error) {
			return c.run(ctx, req, schemaCtx, key, emit)
		})
		if err != nil {
			// A shared flight that died of its leader's cancellation says
			// nothing about this request. Drop the poisoned flight and
			// rerun under our own context.
			if shared && ctx.Err() == nil &&
				(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				c.group.Forget(flightKey)
				c.logger.Debug("Shared run canceled by its leader, rerunning", zap.String("key", key))
				continue
			}
			return nil, err
		}
		if shared {
			c.logger.Debug("Run shared with concurrent identical request", zap.String("key", key))
		}
		return v.(*models.QueryResult), nil
	}
}

func (c *Coordinator) run(ctx context.Context, req *models.Request, schemaCtx *schema.Context, key string, emit Emitter) (*models.QueryResult, error) {
	var initial *models.Candidate
	var reexecuted bool

	switch req.ExecutionMode {
	case models.ModeForce:
		// Skip lookup entirely; a fresh entry overwrites the old one on success.

	case models.ModeReexecute:
		emit(models.Progress("cache_check", "looking up cached SQL"))
		entry, err := c.cache.LookupAny(ctx, key)
		if err != nil && !errors.Is(err, apperrors.ErrCacheCorruption) {
			return nil, fmt.Errorf("cache lookup: %w", err)
		}
		if entry != nil {
			initial = models.NewCached(entry.SQL)
			reexecuted = true
		}

	default:
		emit(models.Progress("cache_check", "looking up cached result"))
		if result := c.tryCacheHit(ctx, key, schemaCtx, emit); result != nil {
			return result, nil
		}
	}

	if initial == nil {
		emit(models.ProgressPct("generating", "generating SQL from rule description", 10))
		genCtx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout)
		candidate, err := c.generator.Generate(genCtx, req, schemaCtx)
		cancel()
		if err != nil {
			// A canceled request is not a generation failure; keep the
			// context error identity for callers sharing the flight.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", apperrors.ErrGeneration, err)
		}
		initial = candidate
	}

	result, err := c.pipeline(ctx, req, schemaCtx, initial, reexecuted, emit)
	if err != nil {
		return nil, err
	}

	// A canceled run must not overwrite cache state.
	if ctx.Err() == nil {
		emit(models.ProgressPct("caching", "storing result for reuse", 95))
		entry := c.buildEntry(req, schemaCtx, key, result)
		if err := c.cache.Put(ctx, entry); err != nil {
			c.logger.Warn("Cache write failed, result still returned",
				zap.String("key", key), zap.String("error", logging.SanitizeError(err)))
		}
	}

	return result, nil
}

// tryCacheHit serves a request from a fresh cache entry when the
// materialized table still exists. A vanished table purges the entry and
// returns nil so the caller regenerates.
func (c *Coordinator) tryCacheHit(ctx context.Context, key string, schemaCtx *schema.Context, emit Emitter) *models.QueryResult {
	entry, err := c.cache.Lookup(ctx, key)
	if err != nil || entry == nil {
		return nil
	}

	exists, err := c.engine.TableExists(ctx, entry.ResultTable)
	if err != nil {
		c.logger.Warn("Result table existence check failed, regenerating",
			zap.String("table", entry.ResultTable), zap.String("error", logging.SanitizeError(err)))
		return nil
	}
	if !exists {
		c.logger.Info("Cached result table is gone, purging entry",
			zap.String("key", key), zap.String("table", entry.ResultTable))
		if _, err := c.cache.Invalidate(ctx, key); err != nil {
			c.logger.Warn("Purge of orphaned entry failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}

	emit(models.ProgressPct("previewing", "loading preview from cached result", 90))
	preview, err := c.engine.PreviewTable(ctx, entry.ResultTable, c.cfg.MaxPreviewRows)
	if err != nil {
		c.logger.Warn("Preview of cached result failed, regenerating",
			zap.String("table", entry.ResultTable), zap.String("error", logging.SanitizeError(err)))
		return nil
	}

	now := c.now()
	return &models.QueryResult{
		ResultTable:          entry.ResultTable,
		Database:             schemaCtx.Database,
		SQL:                  entry.SQL,
		ExecutionID:          entry.ExecutionID,
		RowCount:             entry.RowCount,
		BytesScanned:         entry.BytesScanned,
		ExecutionTimeSeconds: float64(entry.ExecutionTimeMs) / 1000,
		PreviewData:          preview.Rows,
		ColumnNames:          preview.Columns,
		HasGeometry:          schema.HasGeometryColumn(preview.Columns),
		Status:               "success",
		CacheHit:             true,
		CacheAgeHours:        entry.AgeHours(now),
		Attempts:             0,
	}
}

// pipeline is the validate/repair/execute loop. It terminates on success,
// exhausted budgets, stagnation, or a fatal repair failure.
func (c *Coordinator) pipeline(ctx context.Context, req *models.Request, schemaCtx *schema.Context, candidate *models.Candidate, reexecuted bool, emit Emitter) (*models.QueryResult, error) {
	repairsUsed := 0
	engineRuns := 0
	var lastDiags []models.Diagnostic
	var lastErrorText string

	for {
		emit(models.ProgressPct("validating", fmt.Sprintf("validating SQL (attempt %d)", candidate.Attempt), 30))
		valCtx, valCancel := context.WithTimeout(ctx, c.cfg.ValidateTimeout)
		vr := c.validator.Validate(valCtx, candidate)
		valCancel()
		if !vr.Passed {
			// Cached SQL that no longer validates means the schema moved
			// underneath it. That is a terminal validation failure, not a
			// repair case: the stored statement was correct for a schema
			// that no longer exists.
			if candidate.Source == models.SourceCached {
				return nil, &RunFailure{
					Err:         apperrors.ErrSchemaMismatch,
					Attempts:    candidate.Attempt,
					Diagnostics: vr.Diagnostics,
				}
			}

			lastDiags = vr.Diagnostics
			lastErrorText = diagnosticsText(vr.Diagnostics)

			next, err := c.repairOnce(ctx, req, schemaCtx, candidate, vr.Diagnostics, &repairsUsed, emit)
			if err != nil {
				return nil, err
			}
			candidate = next
			continue
		}

		engineRuns++
		resultTable := ctas.Name(req.RuleCategory, schemaCtx.Database, c.now())
		emit(models.ProgressPct("executing", fmt.Sprintf("materializing result into %s", resultTable), 60))

		execCtx, cancel := context.WithTimeout(ctx, c.cfg.ExecuteTimeout)
		execResult, execErr := c.engine.ExecuteCTAS(execCtx, candidate.SQL, resultTable)
		cancel()

		if execErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			diag := models.Diagnostic{Stage: models.StageEngineExecution, Message: execErr.Error()}
			lastDiags = []models.Diagnostic{diag}
			lastErrorText = diag.Message

			if engineRuns >= c.cfg.MaxEngineAttempts {
				return nil, &RunFailure{
					Err:         apperrors.ErrAttemptsExhausted,
					Attempts:    candidate.Attempt,
					Diagnostics: lastDiags,
				}
			}

			next, err := c.repairOnce(ctx, req, schemaCtx, candidate, lastDiags, &repairsUsed, emit)
			if err != nil {
				return nil, err
			}
			candidate = next
			continue
		}

		return c.finish(ctx, candidate, schemaCtx, resultTable, execResult, reexecuted, lastErrorText, emit)
	}
}

// repairOnce enforces the repair budget and the stagnation rule, then asks
// the repair engine for a successor candidate.
func (c *Coordinator) repairOnce(ctx context.Context, req *models.Request, schemaCtx *schema.Context, broken *models.Candidate, diags []models.Diagnostic, repairsUsed *int, emit Emitter) (*models.Candidate, error) {
	if *repairsUsed >= c.cfg.MaxRepairAttempts {
		return nil, &RunFailure{
			Err:         apperrors.ErrAttemptsExhausted,
			Attempts:    broken.Attempt,
			Diagnostics: diags,
		}
	}
	*repairsUsed++

	emit(models.ProgressPct("repairing", fmt.Sprintf("repairing SQL (attempt %d of %d)", *repairsUsed, c.cfg.MaxRepairAttempts), 45))

	genCtx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout)
	next, err := c.repairer.Repair(genCtx, req, schemaCtx, broken, diags)
	cancel()
	if err != nil {
		return nil, &RunFailure{Err: err, Attempts: broken.Attempt, Diagnostics: diags}
	}

	if strings.TrimSpace(next.SQL) == strings.TrimSpace(broken.SQL) {
		return nil, &RunFailure{
			Err:         apperrors.ErrRepairStagnation,
			Attempts:    next.Attempt,
			Diagnostics: diags,
		}
	}

	return next, nil
}

// finish previews the materialized table, records a successful repair in the
// knowledge base, and assembles the terminal result.
func (c *Coordinator) finish(ctx context.Context, candidate *models.Candidate, schemaCtx *schema.Context, resultTable string, execResult *engine.ExecutionResult, reexecuted bool, lastErrorText string, emit Emitter) (*models.QueryResult, error) {
	emit(models.ProgressPct("previewing", "loading result preview", 85))
	preview, err := c.engine.PreviewTable(ctx, resultTable, c.cfg.MaxPreviewRows)
	if err != nil {
		return nil, fmt.Errorf("preview result table %s: %w", resultTable, err)
	}

	// A repaired candidate that executed cleanly is a resolution worth
	// remembering: the raw error text keys future similarity lookups.
	if c.knowledge != nil && candidate.Source == models.SourceRepaired && lastErrorText != "" {
		if err := c.knowledge.Record(ctx, lastErrorText, candidate.SQL); err != nil {
			c.logger.Warn("Knowledge base record failed", zap.String("error", logging.SanitizeError(err)))
		}
	}

	c.logger.Info("Run succeeded",
		zap.String("result_table", resultTable),
		zap.Int("attempts", candidate.Attempt),
		zap.Int("row_count", execResult.RowCount),
		zap.String("sql", logging.SanitizeQuery(candidate.SQL)))

	return &models.QueryResult{
		ResultTable:          resultTable,
		Database:             schemaCtx.Database,
		SQL:                  candidate.SQL,
		ExecutionID:          execResult.ExecutionID,
		RowCount:             execResult.RowCount,
		BytesScanned:         execResult.BytesScanned,
		ExecutionTimeSeconds: float64(execResult.ExecutionTimeMs) / 1000,
		PreviewData:          preview.Rows,
		ColumnNames:          preview.Columns,
		HasGeometry:          schema.HasGeometryColumn(preview.Columns),
		Status:               "success",
		Reexecuted:           reexecuted,
		Attempts:             candidate.Attempt,
	}, nil
}

func (c *Coordinator) buildEntry(req *models.Request, schemaCtx *schema.Context, key string, result *models.QueryResult) *models.CacheEntry {
	return &models.CacheEntry{
		Key:             key,
		RuleCategory:    req.NormalizedRuleCategory(),
		Database:        schemaCtx.Database,
		SchemaName:      schemaCtx.SchemaName,
		NLQuery:         req.NLQuery,
		SQL:             result.SQL,
		ResultTable:     result.ResultTable,
		ExecutionID:     result.ExecutionID,
		RowCount:        result.RowCount,
		BytesScanned:    result.BytesScanned,
		ExecutionTimeMs: int64(result.ExecutionTimeSeconds * 1000),
	}
}

// InvalidateEntry removes a cache entry and drops its materialized table.
// Invalidation is destructive: the table is gone, not just the pointer.
func (c *Coordinator) InvalidateEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	entry, err := c.cache.Invalidate(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	if err := c.engine.DropTable(ctx, entry.ResultTable); err != nil {
		c.logger.Warn("Drop of invalidated result table failed",
			zap.String("table", entry.ResultTable), zap.String("error", logging.SanitizeError(err)))
	}
	return entry, nil
}

// InvalidateRule removes every entry for a rule category within a database
// and drops the materialized tables. Returns how many entries were removed.
func (c *Coordinator) InvalidateRule(ctx context.Context, ruleCategory, database string) (int, error) {
	removed, err := c.cache.InvalidateByRule(ctx, ruleCategory, database)
	if err != nil {
		return 0, err
	}
	for _, entry := range removed {
		if entry.ResultTable == "" {
			continue
		}
		if err := c.engine.DropTable(ctx, entry.ResultTable); err != nil {
			c.logger.Warn("Drop of invalidated result table failed",
				zap.String("table", entry.ResultTable), zap.String("error", logging.SanitizeError(err)))
		}
	}
	return len(removed), nil
}

func diagnosticsText(diags []models.Diagnostic) string {
	parts := make([]string, 0, len(diags))
	for _, d := range diags {
		parts = append(parts, d.Message)
	}
	return strings.Join(parts, "\n")
}
