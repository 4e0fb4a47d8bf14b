// Package validator performs the two-stage static check on candidate SQL:
// function existence against the catalog, then a syntax check via an engine
// dry run.
package validator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/catalog"
	"github.com/datapilot-ai/datapilot-engine/pkg/engine"
	"github.com/datapilot-ai/datapilot-engine/pkg/models"
)

// Validator classifies candidates as PASS or FAIL-with-diagnostics. It never
// mutates a candidate and never repairs; diagnostics are handed to the
// repair engine verbatim.
type Validator struct {
	catalog *catalog.Catalog
	engine  engine.Engine
	logger  *zap.Logger
}

// New creates a validator over the given function catalog and engine.
func New(cat *catalog.Catalog, eng engine.Engine, logger *zap.Logger) *Validator {
	return &Validator{
		catalog: cat,
		engine:  eng,
		logger:  logger.Named("validator"),
	}
}

// Validate runs both stages in order. Stage 1 (function check) is cheap and
// short-circuits: when it fails, the syntax check round-trip is skipped.
// Diagnostics keep discovery order and are neither deduplicated nor ranked.
func (v *Validator) Validate(ctx context.Context, candidate *models.Candidate) models.ValidationResult {
	if diags := v.checkStructure(candidate.SQL); len(diags) > 0 {
		return models.Fail(diags...)
	}

	if diags := v.checkFunctions(candidate.SQL); len(diags) > 0 {
		v.logger.Debug("Function check failed",
			zap.Int("attempt", candidate.Attempt),
			zap.Int("diagnostics", len(diags)))
		return models.Fail(diags...)
	}

	if diag := v.checkSyntax(ctx, candidate.SQL); diag != nil {
		v.logger.Debug("Syntax check failed",
			zap.Int("attempt", candidate.Attempt),
			zap.String("message", diag.Message))
		return models.Fail(*diag)
	}

	return models.Pass()
}

// checkStructure rejects candidates that are not a single read-only query.
func (v *Validator) checkStructure(sql string) []models.Diagnostic {
	var diags []models.Diagnostic

	norm := Normalize(sql)
	if norm.Error != nil {
		diags = append(diags, models.Diagnostic{
			Stage:   models.StageSyntaxCheck,
			Message: norm.Error.Error(),
		})
		return diags
	}

	upper := strings.ToUpper(strings.TrimSpace(norm.NormalizedSQL))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		diags = append(diags, models.Diagnostic{
			Stage:    models.StageSyntaxCheck,
			Message:  "query must be a single SELECT or WITH statement",
			Fragment: firstToken(norm.NormalizedSQL),
		})
	}

	return diags
}

// checkFunctions scans referenced function names against the catalog. Known
// invalid functions carry their suggested alternative; unknown functions are
// flagged as unrecognized.
func (v *Validator) checkFunctions(sql string) []models.Diagnostic {
	var diags []models.Diagnostic

	for _, fn := range catalog.ExtractFunctions(sql) {
		if suggestion, known := v.catalog.Suggestion(fn); known {
			diags = append(diags, models.Diagnostic{
				Stage:    models.StageFunctionCheck,
				Message:  fmt.Sprintf("function %s is not supported: %s", fn, suggestion),
				Fragment: fn,
			})
			continue
		}
		if !v.catalog.IsSupported(fn) {
			diags = append(diags, models.Diagnostic{
				Stage:    models.StageFunctionCheck,
				Message:  fmt.Sprintf("function %s is not a known engine function", fn),
				Fragment: fn,
			})
		}
	}

	return diags
}

// checkSyntax asks the engine for a plan without executing. The engine's
// error text is preserved verbatim for the repair loop.
func (v *Validator) checkSyntax(ctx context.Context, sql string) *models.Diagnostic {
	if err := v.engine.DryRun(ctx, sql); err != nil {
		return &models.Diagnostic{
			Stage:   models.StageSyntaxCheck,
			Message: err.Error(),
		}
	}
	return nil
}

func firstToken(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
