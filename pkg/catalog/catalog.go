// Package catalog holds the set of functions the query engine accepts and
// classifies function names extracted from candidate SQL.
package catalog

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the read-only function reference used by static validation.
// Load it once at startup; it is safe for concurrent readers afterwards.
type Catalog struct {
	supported map[string]struct{}
	invalid   map[string]string
}

// New builds a Catalog from the embedded defaults.
func New() *Catalog {
	supported := make(map[string]struct{}, len(defaultFunctions))
	for _, fn := range defaultFunctions {
		supported[fn] = struct{}{}
	}

	invalid := make(map[string]string, len(defaultKnownInvalid))
	for fn, suggestion := range defaultKnownInvalid {
		invalid[fn] = suggestion
	}

	return &Catalog{supported: supported, invalid: invalid}
}

// overlayFile is the YAML shape for site-specific catalog additions.
type overlayFile struct {
	Supported []string          `yaml:"supported"`
	Invalid   map[string]string `yaml:"invalid"`
	Remove    []string          `yaml:"remove"`
}

// NewWithOverlay builds a Catalog from the defaults plus a YAML overlay file.
// The overlay can add supported functions, add known-invalid entries, and
// remove default entries from either set.
func NewWithOverlay(path string) (*Catalog, error) {
	c := New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog overlay: %w", err)
	}

	var overlay overlayFile
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse catalog overlay: %w", err)
	}

	for _, fn := range overlay.Supported {
		c.supported[strings.ToUpper(fn)] = struct{}{}
	}
	for fn, suggestion := range overlay.Invalid {
		c.invalid[strings.ToUpper(fn)] = suggestion
	}
	for _, fn := range overlay.Remove {
		upper := strings.ToUpper(fn)
		delete(c.supported, upper)
		delete(c.invalid, upper)
	}

	return c, nil
}

// IsSupported reports whether the engine accepts the named function.
// The check is case-insensitive.
func (c *Catalog) IsSupported(name string) bool {
	_, ok := c.supported[strings.ToUpper(name)]
	return ok
}

// Suggestion returns the suggested alternative for a known-invalid function.
func (c *Catalog) Suggestion(name string) (string, bool) {
	s, ok := c.invalid[strings.ToUpper(name)]
	return s, ok
}

// Size returns the number of supported functions.
func (c *Catalog) Size() int {
	return len(c.supported)
}

var (
	singleQuotePattern = regexp.MustCompile(`'[^']*'`)
	doubleQuotePattern = regexp.MustCompile(`"[^"]*"`)
	functionPattern    = regexp.MustCompile(`(?i)\b([A-Z_][A-Z0-9_]*)\s*\(`)
)

// ExtractFunctions extracts function call names from a SQL statement by
// tokenization, not full parsing. Quoted literals and identifiers are
// stripped first so their contents cannot masquerade as calls, and SQL
// keywords followed by parentheses are excluded. The result is a sorted
// list of unique uppercase names.
func ExtractFunctions(sql string) []string {
	cleaned := singleQuotePattern.ReplaceAllString(sql, "")
	cleaned = doubleQuotePattern.ReplaceAllString(cleaned, "")

	matches := functionPattern.FindAllStringSubmatch(cleaned, -1)

	seen := make(map[string]struct{})
	for _, m := range matches {
		upper := strings.ToUpper(m[1])
		if _, keyword := sqlKeywords[upper]; keyword {
			continue
		}
		seen[upper] = struct{}{}
	}

	functions := make([]string, 0, len(seen))
	for fn := range seen {
		functions = append(functions, fn)
	}
	sort.Strings(functions)

	return functions
}
