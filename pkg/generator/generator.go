// Package generator turns a natural language rule description into candidate
// SQL via the LLM.
package generator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/llm"
	"github.com/datapilot-ai/datapilot-engine/pkg/models"
	"github.com/datapilot-ai/datapilot-engine/pkg/prompts"
	"github.com/datapilot-ai/datapilot-engine/pkg/retry"
	"github.com/datapilot-ai/datapilot-engine/pkg/schema"
)

// Generator produces the first candidate of a run. It is stateless across
// runs; every call derives entirely from the request and schema context.
type Generator struct {
	llmClient   llm.Client
	temperature float64
	retryCfg    *retry.Config
	logger      *zap.Logger
}

// New creates a generator.
func New(llmClient llm.Client, temperature float64, logger *zap.Logger) *Generator {
	return &Generator{
		llmClient:   llmClient,
		temperature: temperature,
		retryCfg:    retry.DefaultConfig(),
		logger:      logger.Named("generator"),
	}
}

// Generate produces the first candidate of a run. Transient LLM failures are
// retried with backoff; a final failure is fatal for the run (there is
// nothing to repair yet).
func (g *Generator) Generate(ctx context.Context, req *models.Request, schemaCtx *schema.Context) (*models.Candidate, error) {
	prompt := prompts.BuildSQLGenerationPrompt(schemaCtx.DDL, req.NLQuery, req.Guardrails)

	completion, err := retry.DoWithResult(ctx, g.retryCfg, func() (*llm.Completion, error) {
		return g.llmClient.GenerateResponse(ctx, prompt, prompts.BuildSQLGenerationSystemMessage(), g.temperature, true)
	})
	if err != nil {
		return nil, fmt.Errorf("generate SQL: %w", err)
	}

	sql, err := llm.ExtractSQL(completion.Content)
	if err != nil {
		return nil, fmt.Errorf("generate SQL: %w", err)
	}

	sql = ensureQueryPrefix(sql)

	g.logger.Info("SQL candidate generated",
		zap.String("rule_category", req.NormalizedRuleCategory()),
		zap.Int("sql_len", len(sql)),
		zap.Int("completion_tokens", completion.CompletionTokens))

	return models.NewGenerated(sql), nil
}

// ensureQueryPrefix prepends SELECT when the model returned a bare
// expression list instead of a full statement.
func ensureQueryPrefix(sql string) string {
	upper := strings.ToUpper(sql)
	for _, prefix := range []string{"WITH", "SELECT", "CREATE"} {
		if strings.HasPrefix(upper, prefix) {
			return sql
		}
	}
	return "SELECT " + sql
}
