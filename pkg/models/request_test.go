package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExecutionMode(t *testing.T) {
	tests := []struct {
		input   string
		want    ExecutionMode
		wantErr bool
	}{
		{"", ModeNormal, false},
		{"normal", ModeNormal, false},
		{"NORMAL", ModeNormal, false},
		{" reexecute ", ModeReexecute, false},
		{"force", ModeForce, false},
		{"turbo", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseExecutionMode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestValidate(t *testing.T) {
	req := &Request{RuleCategory: "WBL-039", NLQuery: "count roads", SchemaName: "geo"}
	require.NoError(t, req.Validate())
	assert.Equal(t, ModeNormal, req.ExecutionMode, "empty mode defaults to normal")

	assert.Error(t, (&Request{NLQuery: "q", SchemaName: "s"}).Validate())
	assert.Error(t, (&Request{RuleCategory: "r", SchemaName: "s"}).Validate())
	assert.Error(t, (&Request{RuleCategory: "r", NLQuery: "q"}).Validate())
	assert.Error(t, (&Request{RuleCategory: "  ", NLQuery: "q", SchemaName: "s"}).Validate())
}

func TestNormalizedRuleCategory(t *testing.T) {
	req := &Request{RuleCategory: "  wbl-039 "}
	assert.Equal(t, "WBL-039", req.NormalizedRuleCategory())
}

func TestCandidateLineage(t *testing.T) {
	first := NewGenerated("SELECT 1")
	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, SourceGenerated, first.Source)

	second := NewRepaired(first, "SELECT 2")
	assert.Equal(t, 2, second.Attempt)
	assert.Equal(t, SourceRepaired, second.Source)
	assert.Equal(t, "SELECT 1", first.SQL, "repair must not mutate its input")

	cached := NewCached("SELECT 3")
	assert.Equal(t, SourceCached, cached.Source)
}

func TestCacheEntryStale(t *testing.T) {
	now := time.Now()
	entry := &CacheEntry{
		CreatedAt: now.Add(-3 * time.Hour),
		ExpiresAt: now.Add(time.Hour),
	}
	assert.False(t, entry.Stale(now))
	assert.True(t, entry.Stale(now.Add(2*time.Hour)))
	assert.InDelta(t, 3.0, entry.AgeHours(now), 0.01)
}

func TestValidationResultConstructors(t *testing.T) {
	assert.True(t, Pass().Passed)

	fail := Fail(Diagnostic{Stage: StageSyntaxCheck, Message: "boom"})
	assert.False(t, fail.Passed)
	require.Len(t, fail.Diagnostics, 1)
}
