package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSQLGenerationPrompt(t *testing.T) {
	prompt := BuildSQLGenerationPrompt(
		"CREATE EXTERNAL TABLE geo_data.latest_roads (id string)",
		"count roads per country",
		"only version 2024-06",
	)

	assert.Contains(t, prompt, "count roads per country")
	assert.Contains(t, prompt, "geo_data.latest_roads")
	assert.Contains(t, prompt, "only version 2024-06")
	assert.Contains(t, prompt, "MANDATORY CONTEXT COLUMNS")
	assert.Contains(t, prompt, "### SQL QUERY:")
}

func TestBuildSQLGenerationPromptNoGuardrails(t *testing.T) {
	prompt := BuildSQLGenerationPrompt("ddl", "query", "  ")
	assert.Contains(t, prompt, "No specific guardrails provided.")
}

func TestBuildSQLRepairPrompt(t *testing.T) {
	fixes := []KnownFix{
		{ErrorMessage: "COLUMN_NOT_FOUND: no column geom", Resolution: "Use \"geometry\" instead", Similarity: 0.82},
	}

	prompt := BuildSQLRepairPrompt("ddl", "count roads", "SELECT geom FROM t", "COLUMN_NOT_FOUND: no column geom", fixes)

	assert.Contains(t, prompt, "SELECT geom FROM t")
	assert.Contains(t, prompt, "COLUMN_NOT_FOUND")
	assert.Contains(t, prompt, "SIMILAR ERRORS SEEN BEFORE")
	assert.Contains(t, prompt, "similarity 0.82")
	assert.Contains(t, prompt, "### CORRECTED SQL QUERY:")
}

func TestBuildSQLRepairPromptNoFixes(t *testing.T) {
	prompt := BuildSQLRepairPrompt("ddl", "q", "SELECT 1", "weird unknown failure", nil)

	assert.NotContains(t, prompt, "SIMILAR ERRORS SEEN BEFORE")
	assert.Contains(t, prompt, "GENERAL DEBUGGING GUIDANCE")
}

func TestGuidanceFor(t *testing.T) {
	assert.Contains(t, guidanceFor("line 4: MISMATCHED_COLUMN_ALIASES"), "UNNEST alias count")
	assert.Contains(t, guidanceFor("Unexpected parameters (SphericalGeography) for function geometry_union_agg"), "SphericalGeography")
	assert.Contains(t, guidanceFor("Query exceeded the timeout of 30m"), "optimization")
	assert.Empty(t, guidanceFor("something never seen before"))
}
