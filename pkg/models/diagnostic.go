package models

// DiagnosticStage identifies which check produced a diagnostic.
type DiagnosticStage string

const (
	StageFunctionCheck   DiagnosticStage = "function_check"
	StageSyntaxCheck     DiagnosticStage = "syntax_check"
	StageEngineExecution DiagnosticStage = "engine_execution"
)

// Diagnostic describes a single validation or execution failure. The message
// preserves the engine's raw error text verbatim; the repair engine's
// similarity search matches on it.
type Diagnostic struct {
	Stage    DiagnosticStage `json:"stage"`
	Message  string          `json:"message"`
	Fragment string          `json:"fragment,omitempty"`
}

// ValidationResult is the outcome of the two-stage validator. Diagnostics are
// in discovery order; the validator neither deduplicates nor ranks them.
type ValidationResult struct {
	Passed      bool         `json:"passed"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Pass returns a passing result.
func Pass() ValidationResult {
	return ValidationResult{Passed: true}
}

// Fail returns a failing result carrying the given diagnostics.
func Fail(diags ...Diagnostic) ValidationResult {
	return ValidationResult{Passed: false, Diagnostics: diags}
}
