package prompts

// Rule blocks shared by the generation and repair prompts. These encode the
// engine dialect constraints that generated SQL must follow.

const contextColumnRules = `### MANDATORY CONTEXT COLUMNS:
From ANY selected table that has them, ALWAYS include in the output:
- "iso_country_code" (enables filtering results by country afterwards)
- "id" (needed for row identification)
- ST_AsText of the "geometry" column (needed for map rendering)
Include these even when the user's question does not mention them.`

const coreSyntaxRules = `### CORE SYNTAX RULES:
- Enclose all column names in double quotes; string literals use single quotes
- Table references are database.table, backtick-free
- UNNEST alias count must match the array element field count exactly:
  for array<struct<a,b,c>> use UNNEST(arr) AS t(item) and access item.a,
  or UNNEST(arr) AS t(a, b, c) - never a partial alias list
- CROSS JOIN UNNEST is the only way to flatten arrays; no LATERAL
- Use TRY or TRY_CAST around conversions that can fail on dirty rows
- No trailing semicolon`

const geometryRules = `### GEOMETRY RULES:
- Build geometries with ST_GeometryFromText / ST_Point / from_geojson_geometry
- ST_Length only supports LINE_STRING or MULTI_LINE_STRING inputs
- Guard spatial predicates with IS NOT NULL checks on the geometry columns
- For output, convert geometries with ST_AsText`

const invalidFunctionRules = `### NEVER USE THESE INVALID FUNCTIONS:
- ST_GeometryFromJson, ST_GeomFromJson: use from_geojson_geometry or build WKT strings
- array_flatten: use flatten(array)
- array_length: use cardinality(array)
- group_concat / string_agg: use array_agg then array_join, or listagg
- ifnull / nvl: use COALESCE
- CAST row() to Geometry: build WKT strings with transform + array_join, then ST_GeometryFromText`

const optimizationRules = `### OPTIMIZATION RULES:
- Filter on partition columns (version, iso_country_code) as early as possible
- Push predicates below joins; avoid CROSS JOIN without a spatial or key filter
- Prefer approx_distinct / approx_percentile over exact variants on large tables
- Never SELECT *; project only the needed columns`

const outputRequirements = `### OUTPUT REQUIREMENTS:
Generate ONLY the SQL query - no explanations, no markdown formatting.
The query must start with WITH, SELECT or CREATE.`
