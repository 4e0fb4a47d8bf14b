package repair

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/kb"
	"github.com/datapilot-ai/datapilot-engine/pkg/llm"
	"github.com/datapilot-ai/datapilot-engine/pkg/models"
	"github.com/datapilot-ai/datapilot-engine/pkg/schema"
)

type mockKnowledge struct {
	Matches   []kb.Match
	Err       error
	Calls     int
	LastQuery string
}

func (m *mockKnowledge) Similar(ctx context.Context, errorMessage string) ([]kb.Match, error) {
	m.Calls++
	m.LastQuery = errorMessage
	return m.Matches, m.Err
}

func testSchemaCtx() *schema.Context {
	return &schema.Context{
		SchemaName: "geo_schema",
		Database:   "geo_prod",
		DDL:        "CREATE EXTERNAL TABLE roads (id string, name string)",
		Tables:     []string{"roads"},
	}
}

func testRequest() *models.Request {
	return &models.Request{
		RuleCategory: "WBL-039",
		NLQuery:      "count roads without names",
		SchemaName:   "geo_schema",
	}
}

func syntaxDiag(msg string) []models.Diagnostic {
	return []models.Diagnostic{{Stage: models.StageSyntaxCheck, Message: msg}}
}

func TestRepairProducesSuccessorCandidate(t *testing.T) {
	client := llm.NewMockClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64, thinking bool) (*llm.Completion, error) {
		assert.Contains(t, prompt, "SELECT broken")
		assert.Contains(t, prompt, "mismatched input")
		assert.False(t, thinking, "repair runs without extended reasoning")
		return &llm.Completion{Content: "```sql\nSELECT fixed FROM roads\n```"}, nil
	}
	e := New(client, nil, 1.0, zap.NewNop())
	broken := models.NewGenerated("SELECT broken")

	next, err := e.Repair(context.Background(), testRequest(), testSchemaCtx(), broken, syntaxDiag("mismatched input"))

	require.NoError(t, err)
	assert.Equal(t, "SELECT fixed FROM roads", next.SQL)
	assert.Equal(t, models.SourceRepaired, next.Source)
	assert.Equal(t, broken.Attempt+1, next.Attempt)
}

func TestRepairEnrichesPromptWithKnownFixes(t *testing.T) {
	knowledge := &mockKnowledge{Matches: []kb.Match{
		{ErrorMessage: "GROUP_CONCAT is not supported", Resolution: "use array_join(array_agg(x), ',')", Similarity: 0.91},
	}}
	client := llm.NewMockClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64, thinking bool) (*llm.Completion, error) {
		assert.Contains(t, prompt, "array_join")
		return &llm.Completion{Content: "SELECT array_join(array_agg(name), ',') FROM roads"}, nil
	}
	e := New(client, knowledge, 1.0, zap.NewNop())

	next, err := e.Repair(context.Background(), testRequest(), testSchemaCtx(),
		models.NewGenerated("SELECT GROUP_CONCAT(name) FROM roads"), syntaxDiag("GROUP_CONCAT is not supported"))

	require.NoError(t, err)
	assert.Equal(t, 1, knowledge.Calls)
	assert.Contains(t, knowledge.LastQuery, "GROUP_CONCAT")
	assert.Contains(t, next.SQL, "array_join")
}

func TestRepairProceedsWhenKnowledgeBaseFails(t *testing.T) {
	knowledge := &mockKnowledge{Err: errors.New("embedding endpoint down")}
	client := llm.NewMockClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64, thinking bool) (*llm.Completion, error) {
		return &llm.Completion{Content: "SELECT fixed"}, nil
	}
	e := New(client, knowledge, 1.0, zap.NewNop())

	next, err := e.Repair(context.Background(), testRequest(), testSchemaCtx(),
		models.NewGenerated("SELECT broken"), syntaxDiag("bad column"))

	require.NoError(t, err)
	assert.Equal(t, "SELECT fixed", next.SQL)
}

func TestJoinDiagnosticsIncludesFragments(t *testing.T) {
	text := joinDiagnostics([]models.Diagnostic{
		{Stage: models.StageSyntaxCheck, Message: "mismatched input", Fragment: "FROM FROM"},
		{Stage: models.StageFunctionCheck, Message: "unknown function"},
	})

	assert.Contains(t, text, "[syntax_check] mismatched input (at: FROM FROM)")
	assert.Contains(t, text, "[function_check] unknown function")
}
