// Package ctas names and inspects the materialized result tables the query
// engine creates for each successful run.
package ctas

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const timestampLayout = "20060102_150405"

var categoryCleanPattern = regexp.MustCompile(`[^a-z0-9_]`)

// Name builds the fully qualified result table name for a run:
// {database}.rule_{category}_{database}_{YYYYMMDD_HHMMSS}_{suffix}.
// The rule category is lowercased and stripped of special characters; a
// catalog prefix on the database is dropped from the table part. The random
// suffix keeps concurrent runs that share a category and database but not a
// cache key from colliding within the same second.
func Name(ruleCategory, database string, now time.Time) string {
	category := categoryCleanPattern.ReplaceAllString(strings.ToLower(ruleCategory), "")

	db := database
	if idx := strings.LastIndexByte(db, '.'); idx >= 0 {
		db = db[idx+1:]
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	table := fmt.Sprintf("rule_%s_%s_%s_%s", category, db, now.Format(timestampLayout), suffix)
	return fmt.Sprintf("%s.%s", database, table)
}

var namePattern = regexp.MustCompile(`^[a-z0-9_]+\.rule_[a-z0-9_]+_\d{8}_\d{6}(_[a-f0-9]{8})?$`)

// ValidateName reports whether a table name matches the result table format.
func ValidateName(name string) bool {
	return namePattern.MatchString(name)
}

// Metadata is what a result table name encodes.
type Metadata struct {
	Database     string
	RuleCategory string
	CreatedAt    time.Time
}

var metadataPattern = regexp.MustCompile(`^rule_(.+)_(\d{8}_\d{6})(?:_[a-f0-9]{8})?$`)

// ParseMetadata extracts the database, rule category and creation timestamp
// from a result table name. The category and embedded database name are not
// separable without the original category, so the category field carries the
// combined middle segment.
func ParseMetadata(name string) (*Metadata, error) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("not a qualified table name: %q", name)
	}

	m := metadataPattern.FindStringSubmatch(parts[1])
	if m == nil {
		return nil, fmt.Errorf("not a result table name: %q", name)
	}

	createdAt, err := time.Parse(timestampLayout, m[2])
	if err != nil {
		return nil, fmt.Errorf("bad timestamp in table name %q: %w", name, err)
	}

	return &Metadata{
		Database:     parts[0],
		RuleCategory: m[1],
		CreatedAt:    createdAt,
	}, nil
}
