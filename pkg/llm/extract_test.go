package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "fenced sql block",
			response: "Here is the query:\n```sql\nSELECT COUNT(*) FROM roads\n```",
			want:     "SELECT COUNT(*) FROM roads",
		},
		{
			name:     "bare fence",
			response: "```\nSELECT 1\n```",
			want:     "SELECT 1",
		},
		{
			name:     "no fence",
			response: "  SELECT id FROM roads  ",
			want:     "SELECT id FROM roads",
		},
		{
			name:     "trailing semicolon stripped",
			response: "SELECT 1;",
			want:     "SELECT 1",
		},
		{
			name:     "think tags stripped",
			response: "<think>\nthe user wants a count\n</think>\nSELECT COUNT(*) FROM roads",
			want:     "SELECT COUNT(*) FROM roads",
		},
		{
			name:     "think tags before fence",
			response: "<think>reasoning</think>\n```sql\nSELECT 2;\n```",
			want:     "SELECT 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractSQL(tt.response)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractSQLEmptyResponse(t *testing.T) {
	_, err := ExtractSQL("   ")
	require.Error(t, err)

	_, err = ExtractSQL("<think>nothing useful</think>")
	require.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "plain object",
			response: `{"status": "ok"}`,
			want:     `{"status": "ok"}`,
		},
		{
			name:     "object with surrounding prose",
			response: "Sure, here you go: {\"a\": 1} hope that helps",
			want:     `{"a": 1}`,
		},
		{
			name:     "array",
			response: `[1, 2, 3]`,
			want:     `[1, 2, 3]`,
		},
		{
			name:     "nested braces",
			response: `{"outer": {"inner": [1, {"deep": true}]}}`,
			want:     `{"outer": {"inner": [1, {"deep": true}]}}`,
		},
		{
			name:     "braces inside strings",
			response: `{"sql": "SELECT '{' FROM t"}`,
			want:     `{"sql": "SELECT '{' FROM t"}`,
		},
		{
			name:     "think tags stripped",
			response: "<think>let me format this</think>{\"a\": 1}",
			want:     `{"a": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.response)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSONNoJSON(t *testing.T) {
	_, err := ExtractJSON("no structured content here")
	require.Error(t, err)

	_, err = ExtractJSON("{truncated")
	require.Error(t, err)
}

func TestParseJSONResponse(t *testing.T) {
	type payload struct {
		Status string `json:"status"`
		Count  int    `json:"count"`
	}

	got, err := ParseJSONResponse[payload]("result: {\"status\": \"ok\", \"count\": 3}")
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, 3, got.Count)

	_, err = ParseJSONResponse[payload](`["not", "an", "object"]`)
	require.Error(t, err)
}
