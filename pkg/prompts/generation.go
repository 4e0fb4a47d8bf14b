// Package prompts builds the LLM prompts used for SQL generation and repair.
package prompts

import (
	"fmt"
	"strings"
)

// BuildSQLGenerationPrompt creates the prompt that turns a natural language
// rule description into a candidate SQL query against the given schema DDL.
func BuildSQLGenerationPrompt(schemaDDL, query, guardrails string) string {
	var prompt strings.Builder

	prompt.WriteString("You are an expert Trino SQL programmer. Write a single, optimized, syntactically correct query that answers the user's question based on the provided schema.\n\n")

	prompt.WriteString("### USER QUESTION:\n")
	prompt.WriteString(query)
	prompt.WriteString("\n\n")

	prompt.WriteString("### DATABASE SCHEMA:\n")
	prompt.WriteString(schemaDDL)
	prompt.WriteString("\n\n")

	prompt.WriteString("### USER-PROVIDED GUARDRAILS:\n")
	if strings.TrimSpace(guardrails) != "" {
		prompt.WriteString(guardrails)
	} else {
		prompt.WriteString("No specific guardrails provided.")
	}
	prompt.WriteString("\n\n")

	prompt.WriteString(contextColumnRules)
	prompt.WriteString("\n\n")
	prompt.WriteString(coreSyntaxRules)
	prompt.WriteString("\n\n")
	prompt.WriteString(geometryRules)
	prompt.WriteString("\n\n")
	prompt.WriteString(invalidFunctionRules)
	prompt.WriteString("\n\n")
	prompt.WriteString(optimizationRules)
	prompt.WriteString("\n\n")
	prompt.WriteString(outputRequirements)
	prompt.WriteString("\n\n")

	prompt.WriteString("### CRITICAL INSTRUCTIONS:\n")
	prompt.WriteString("1. Adhere strictly to ALL syntax rules above\n")
	prompt.WriteString("2. Guard NULL checks and type conversions on dirty columns\n")
	prompt.WriteString("3. Use ONLY supported functions - check the invalid list\n")
	prompt.WriteString("4. If guardrails name a specific data version, filter on it\n")
	prompt.WriteString("5. Enclose all column names in double quotes\n\n")

	prompt.WriteString("### SQL QUERY:\n")

	return prompt.String()
}

// BuildSQLGenerationSystemMessage returns the system message for generation.
func BuildSQLGenerationSystemMessage() string {
	return "You are an expert SQL programmer for a Trino-dialect analytics engine. You write only SQL, never prose."
}

// KnownFix is a previously recorded error with the guidance or corrected SQL
// that resolved it, retrieved from the error knowledge base.
type KnownFix struct {
	ErrorMessage string
	Resolution   string
	Similarity   float64
}

// BuildSQLRepairPrompt creates the prompt that asks the LLM to correct a
// failed query. Diagnostics from validation or engine execution are passed
// verbatim; knownFixes carries similar past errors from the knowledge base
// and may be empty.
func BuildSQLRepairPrompt(schemaDDL, query, brokenSQL, errorMessage string, knownFixes []KnownFix) string {
	var prompt strings.Builder

	prompt.WriteString("You are an expert Trino SQL programmer. Your previous attempt to write a query failed. Analyze the error and write a corrected query.\n\n")

	prompt.WriteString("### ORIGINAL USER QUESTION:\n")
	prompt.WriteString(query)
	prompt.WriteString("\n\n")

	prompt.WriteString("### DATABASE SCHEMA:\n")
	prompt.WriteString(schemaDDL)
	prompt.WriteString("\n\n")

	prompt.WriteString("### BROKEN SQL QUERY:\n```sql\n")
	prompt.WriteString(brokenSQL)
	prompt.WriteString("\n```\n\n")

	prompt.WriteString("### ERROR MESSAGE:\n")
	prompt.WriteString(errorMessage)
	prompt.WriteString("\n\n")

	if len(knownFixes) > 0 {
		prompt.WriteString("### SIMILAR ERRORS SEEN BEFORE:\n")
		prompt.WriteString("These past errors and their resolutions will most likely help fix this one:\n\n")
		for i, fix := range knownFixes {
			prompt.WriteString(fmt.Sprintf("--- Past Error %d (similarity %.2f) ---\n", i+1, fix.Similarity))
			prompt.WriteString(fix.ErrorMessage)
			prompt.WriteString("\nResolution:\n")
			prompt.WriteString(fix.Resolution)
			prompt.WriteString("\n\n")
		}
	}

	if guidance := guidanceFor(errorMessage); guidance != "" {
		prompt.WriteString("### SPECIFIC ERROR GUIDANCE:\n")
		prompt.WriteString(guidance)
		prompt.WriteString("\n\n")
	} else {
		prompt.WriteString("### GENERAL DEBUGGING GUIDANCE:\n")
		prompt.WriteString("- Read the error message carefully - it tells you exactly what's wrong\n")
		prompt.WriteString("- Common issues: function not found, column not found, type mismatch, syntax error\n")
		prompt.WriteString("- Verify all column names match the schema exactly\n")
		prompt.WriteString("- Ensure proper unnesting syntax for arrays of structs\n\n")
	}

	prompt.WriteString(coreSyntaxRules)
	prompt.WriteString("\n\n")
	prompt.WriteString(geometryRules)
	prompt.WriteString("\n\n")
	prompt.WriteString(invalidFunctionRules)
	prompt.WriteString("\n\n")

	prompt.WriteString("### FIXING INSTRUCTIONS:\n")
	prompt.WriteString("1. Analyze the error message - it pinpoints the exact problem\n")
	prompt.WriteString("2. DO NOT repeat the same mistake\n")
	prompt.WriteString("3. Rewrite the ENTIRE query with the fix applied\n")
	prompt.WriteString("4. Generate ONLY the corrected SQL query - no explanations, no markdown\n\n")

	prompt.WriteString("### CORRECTED SQL QUERY:\n")

	return prompt.String()
}

// BuildSQLRepairSystemMessage returns the system message for repair.
func BuildSQLRepairSystemMessage() string {
	return "You are an expert SQL debugger for a Trino-dialect analytics engine. You return only corrected SQL, never prose."
}
