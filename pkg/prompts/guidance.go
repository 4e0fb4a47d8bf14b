package prompts

import (
	"regexp"
	"strings"
)

// errorGuidance maps engine error signatures to targeted repair guidance.
// Patterns are matched case-insensitively against the raw error message,
// first as a regexp and falling back to substring match.
type errorGuidance struct {
	pattern  string
	guidance string
}

var errorGuidanceTable = []errorGuidance{
	{
		pattern: "MISMATCHED_COLUMN_ALIASES",
		guidance: `UNNEST alias count doesn't match the array element's field count.
For array<struct<field1, field2, field3>> (3 fields):
WRONG: CROSS JOIN UNNEST(array_col) AS lga  (only 1 alias for 3 fields)
CORRECT Option 1: CROSS JOIN UNNEST(array_col) AS t(single_alias), then access single_alias.field1 etc.
CORRECT Option 2: CROSS JOIN UNNEST(array_col) AS t(field1, field2, field3) for direct access.
Count the struct fields in the schema and match aliases exactly.`,
	},
	{
		pattern: "INVALID_FUNCTION_ARGUMENT",
		guidance: `Function parameter type mismatch. Common issues:
- st_geometryn expects INTEGER, not BIGINT: CAST(value AS integer)
- SphericalGeography type errors: check to_spherical_geography usage
- Verify the input geometry type matches the function requirements.`,
	},
	{
		pattern: `Unexpected parameters \(row\(.*\)\) for function geometry_union_agg`,
		guidance: `A raw GeoJSON struct was passed to geometry_union_agg, which expects Geometry.
Convert struct coordinates to WKT first:
geometry_union_agg(ST_GeometryFromText(FORMAT('POLYGON((%s))', array_join(transform("geometry"."coordinates"[1], p -> FORMAT('%s %s', CAST(p[1] AS varchar), CAST(p[2] AS varchar))), ','))))`,
	},
	{
		pattern: `Unexpected parameters \(SphericalGeography\) for function geometry_union_agg`,
		guidance: `from_geojson_geometry returns SphericalGeography, but geometry_union_agg expects Geometry.
Build WKT strings with transform + array_join and wrap in ST_GeometryFromText instead.`,
	},
	{
		pattern: "TABLE_NOT_FOUND",
		guidance: `The referenced table does not exist. Use the exact database.table names from the schema section, without backticks.`,
	},
	{
		pattern: "COLUMN_NOT_FOUND",
		guidance: `The referenced column does not exist. Column names are case-sensitive; copy them exactly from the schema and enclose them in double quotes.`,
	},
	{
		pattern: "FUNCTION_NOT_FOUND|Function .* not registered",
		guidance: `The function is not supported by the engine. Check the invalid-function list above for the supported alternative.`,
	},
	{
		pattern: "exceeded.*timeout|query exhausted resources",
		guidance: `The query is too expensive. Apply the optimization rules: filter on partition columns early, reduce joined data before spatial operations, and prefer approximate aggregates.`,
	},
}

// guidanceFor returns targeted guidance for an error message, or "" when no
// known signature matches.
func guidanceFor(errorMessage string) string {
	for _, eg := range errorGuidanceTable {
		re, err := regexp.Compile("(?i)" + eg.pattern)
		if err == nil {
			if re.MatchString(errorMessage) {
				return eg.guidance
			}
			continue
		}
		if strings.Contains(strings.ToLower(errorMessage), strings.ToLower(eg.pattern)) {
			return eg.guidance
		}
	}
	return ""
}
