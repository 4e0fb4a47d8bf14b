// Package repair produces corrected SQL candidates from validation or
// execution diagnostics.
package repair

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/kb"
	"github.com/datapilot-ai/datapilot-engine/pkg/llm"
	"github.com/datapilot-ai/datapilot-engine/pkg/models"
	"github.com/datapilot-ai/datapilot-engine/pkg/prompts"
	"github.com/datapilot-ai/datapilot-engine/pkg/retry"
	"github.com/datapilot-ai/datapilot-engine/pkg/schema"
)

// Knowledge retrieves similar past errors. Satisfied by *kb.KnowledgeBase.
type Knowledge interface {
	Similar(ctx context.Context, errorMessage string) ([]kb.Match, error)
}

// Engine asks the LLM for a corrected candidate, enriched with similar past
// errors from the knowledge base when available. It judges nothing itself:
// whether the repair helped is decided by the next validation pass.
type Engine struct {
	llmClient   llm.Client
	knowledge   Knowledge
	temperature float64
	retryCfg    *retry.Config
	logger      *zap.Logger
}

// New creates a repair engine. knowledge may be nil, which disables
// retrieval.
func New(llmClient llm.Client, knowledge Knowledge, temperature float64, logger *zap.Logger) *Engine {
	return &Engine{
		llmClient:   llmClient,
		knowledge:   knowledge,
		temperature: temperature,
		retryCfg:    retry.DefaultConfig(),
		logger:      logger.Named("repair"),
	}
}

// Repair produces the successor candidate of a broken one. Knowledge base
// retrieval failures are logged and skipped; the repair still proceeds on the
// diagnostics alone.
func (e *Engine) Repair(
	ctx context.Context,
	req *models.Request,
	schemaCtx *schema.Context,
	broken *models.Candidate,
	diags []models.Diagnostic,
) (*models.Candidate, error) {
	errorMessage := joinDiagnostics(diags)

	var fixes []prompts.KnownFix
	if e.knowledge != nil {
		matches, err := e.knowledge.Similar(ctx, errorMessage)
		if err != nil {
			e.logger.Warn("Knowledge base retrieval failed, repairing without it", zap.Error(err))
		}
		for _, m := range matches {
			fixes = append(fixes, prompts.KnownFix{
				ErrorMessage: m.ErrorMessage,
				Resolution:   m.Resolution,
				Similarity:   m.Similarity,
			})
		}
	}

	prompt := prompts.BuildSQLRepairPrompt(schemaCtx.DDL, req.NLQuery, broken.SQL, errorMessage, fixes)

	completion, err := retry.DoWithResult(ctx, e.retryCfg, func() (*llm.Completion, error) {
		return e.llmClient.GenerateResponse(ctx, prompt, prompts.BuildSQLRepairSystemMessage(), e.temperature, false)
	})
	if err != nil {
		return nil, fmt.Errorf("repair SQL (attempt %d): %w", broken.Attempt+1, err)
	}

	sql, err := llm.ExtractSQL(completion.Content)
	if err != nil {
		return nil, fmt.Errorf("repair SQL (attempt %d): %w", broken.Attempt+1, err)
	}

	e.logger.Info("SQL candidate repaired",
		zap.Int("attempt", broken.Attempt+1),
		zap.Int("known_fixes", len(fixes)),
		zap.String("stage", string(firstStage(diags))))

	return models.NewRepaired(broken, sql), nil
}

// joinDiagnostics flattens diagnostics into the error text handed to the
// LLM and the knowledge base, preserving order.
func joinDiagnostics(diags []models.Diagnostic) string {
	parts := make([]string, 0, len(diags))
	for _, d := range diags {
		if d.Fragment != "" {
			parts = append(parts, fmt.Sprintf("[%s] %s (at: %s)", d.Stage, d.Message, d.Fragment))
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", d.Stage, d.Message))
	}
	return strings.Join(parts, "\n")
}

func firstStage(diags []models.Diagnostic) models.DiagnosticStage {
	if len(diags) == 0 {
		return ""
	}
	return diags[0].Stage
}
