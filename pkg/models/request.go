package models

import (
	"fmt"
	"strings"
)

// ExecutionMode controls how the coordinator uses the cache for a request.
type ExecutionMode string

const (
	// ModeNormal uses a cached result table when a fresh entry exists.
	ModeNormal ExecutionMode = "normal"
	// ModeReexecute reuses cached SQL but materializes a new result table
	// against current data.
	ModeReexecute ExecutionMode = "reexecute"
	// ModeForce ignores the cache and generates new SQL.
	ModeForce ExecutionMode = "force"
)

// ParseExecutionMode parses a mode string, defaulting to ModeNormal for "".
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch ExecutionMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeNormal:
		return ModeNormal, nil
	case ModeReexecute:
		return ModeReexecute, nil
	case ModeForce:
		return ModeForce, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
}

// Request is a natural-language query request against a named schema.
// RuleCategory identifies the query intent and is matched case-insensitively;
// together with the schema identity and table selection it forms the cache key.
type Request struct {
	RuleCategory   string              `json:"rule_category"`
	NLQuery        string              `json:"nl_query"`
	SchemaName     string              `json:"schema_name"`
	SelectedTables map[string][]string `json:"selected_tables"`
	Guardrails     string              `json:"guardrails,omitempty"`
	ExecutionMode  ExecutionMode       `json:"execution_mode"`
}

// Validate checks the request's self-contained invariants. Schema membership
// of SelectedTables is checked later against the resolved schema context.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.RuleCategory) == "" {
		return fmt.Errorf("rule_category is required")
	}
	if strings.TrimSpace(r.NLQuery) == "" {
		return fmt.Errorf("nl_query is required")
	}
	if strings.TrimSpace(r.SchemaName) == "" {
		return fmt.Errorf("schema_name is required")
	}
	if r.ExecutionMode == "" {
		r.ExecutionMode = ModeNormal
	}
	return nil
}

// NormalizedRuleCategory returns the rule category in canonical (upper-case,
// trimmed) form used for cache matching and storage.
func (r *Request) NormalizedRuleCategory() string {
	return strings.ToUpper(strings.TrimSpace(r.RuleCategory))
}
