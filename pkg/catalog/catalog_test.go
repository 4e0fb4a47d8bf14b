package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFunctions(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "simple aggregate",
			sql:  "SELECT COUNT(*), avg(price) FROM items",
			want: []string{"AVG", "COUNT"},
		},
		{
			name: "keywords excluded",
			sql:  "SELECT a FROM t WHERE EXISTS (SELECT 1 FROM u) AND x IN (1, 2)",
			want: []string{},
		},
		{
			name: "quoted literals ignored",
			sql:  "SELECT COUNT(*) FROM t WHERE name = 'lower(x)'",
			want: []string{"COUNT"},
		},
		{
			name: "deduplicates and sorts",
			sql:  "SELECT UPPER(a), upper(b), LOWER(c) FROM t",
			want: []string{"LOWER", "UPPER"},
		},
		{
			name: "geospatial calls",
			sql:  "SELECT ST_Area(geom) FROM t WHERE ST_Contains(a, ST_Point(1, 2))",
			want: []string{"ST_AREA", "ST_CONTAINS", "ST_POINT"},
		},
		{
			name: "no functions",
			sql:  "SELECT a, b FROM t",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractFunctions(tt.sql)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestCatalogClassification(t *testing.T) {
	c := New()

	assert.True(t, c.IsSupported("COUNT"))
	assert.True(t, c.IsSupported("st_contains"), "lookup is case-insensitive")
	assert.False(t, c.IsSupported("TOTALLY_MADE_UP"))

	suggestion, ok := c.Suggestion("GROUP_CONCAT")
	require.True(t, ok)
	assert.Contains(t, suggestion, "array_agg")

	_, ok = c.Suggestion("COUNT")
	assert.False(t, ok, "supported functions have no invalid suggestion")

	assert.Greater(t, c.Size(), 300)
}

func TestNewWithOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "functions.yaml")

	overlay := `
supported:
  - my_custom_udf
invalid:
  legacy_fn: "Use my_custom_udf instead"
remove:
  - UUID
`
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o644))

	c, err := NewWithOverlay(path)
	require.NoError(t, err)

	assert.True(t, c.IsSupported("MY_CUSTOM_UDF"))
	assert.False(t, c.IsSupported("UUID"), "removed by overlay")

	suggestion, ok := c.Suggestion("LEGACY_FN")
	require.True(t, ok)
	assert.Contains(t, suggestion, "my_custom_udf")
}

func TestNewWithOverlayMissingFile(t *testing.T) {
	_, err := NewWithOverlay("/nonexistent/functions.yaml")
	assert.Error(t, err)
}
