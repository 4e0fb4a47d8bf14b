// Package schema loads DDL schema files and prepares the schema context
// handed to SQL generation and validation.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/apperrors"
)

// Store loads schema DDL files from a directory. Each file is named
// <schema_name>.txt and holds the CREATE EXTERNAL TABLE statements for one
// catalog schema. Files are cached after first read.
type Store struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewStore creates a schema store over the given directory.
func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger.Named("schema"),
		cache:  make(map[string]string),
	}
}

// Info describes one available schema.
type Info struct {
	Name       string `json:"name"`
	Database   string `json:"database"`
	TableCount int    `json:"table_count"`
}

// List returns the available schemas in name order.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read schemas directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".txt")

		ddl, err := s.Load(name)
		if err != nil {
			s.logger.Warn("Failed to load schema file", zap.String("schema", name), zap.Error(err))
			continue
		}

		database, err := ExtractDatabase(ddl)
		if err != nil {
			database = ""
		}

		infos = append(infos, Info{
			Name:       name,
			Database:   database,
			TableCount: len(ParseTables(ddl)),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Load returns the raw DDL text for a schema.
func (s *Store) Load(name string) (string, error) {
	s.mu.RLock()
	ddl, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return ddl, nil
	}

	path := filepath.Join(s.dir, name+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("schema %q: %w", name, apperrors.ErrNotFound)
		}
		return "", fmt.Errorf("read schema %q: %w", name, err)
	}

	s.mu.Lock()
	s.cache[name] = string(data)
	s.mu.Unlock()

	return string(data), nil
}

var (
	createTablePattern = regexp.MustCompile("(?i)CREATE EXTERNAL TABLE\\s+`?([^`\\s(]+)`?")
	databasePattern    = regexp.MustCompile("(?i)CREATE EXTERNAL TABLE\\s+`?([^.`\\s]+)(?:\\.|\\s)")
)

// ExtractDatabase pulls the database name out of a DDL blob. Table names in
// the DDL are qualified as database.table, so the database is the qualifier
// of the first CREATE EXTERNAL TABLE statement.
func ExtractDatabase(ddl string) (string, error) {
	if m := databasePattern.FindStringSubmatch(ddl); len(m) >= 2 {
		return m[1], nil
	}
	return "", fmt.Errorf("could not extract database name from DDL")
}

// Table is one CREATE EXTERNAL TABLE block from a schema file.
type Table struct {
	Name      string // unqualified table name
	Qualified string // database.table as written in the DDL
	DDL       string // the full statement text
}

// ParseTables splits a DDL blob into its CREATE EXTERNAL TABLE statements.
// Splitting is positional: each statement runs until the next CREATE
// EXTERNAL TABLE or end of input.
func ParseTables(ddl string) []Table {
	locs := createTablePattern.FindAllStringSubmatchIndex(ddl, -1)

	tables := make([]Table, 0, len(locs))
	for i, loc := range locs {
		end := len(ddl)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}

		qualified := ddl[loc[2]:loc[3]]
		name := qualified
		if idx := strings.LastIndexByte(qualified, '.'); idx >= 0 {
			name = qualified[idx+1:]
		}

		tables = append(tables, Table{
			Name:      name,
			Qualified: qualified,
			DDL:       strings.TrimSpace(ddl[loc[0]:end]),
		})
	}

	return tables
}

// geometryColumnPattern matches column names that indicate spatial data.
var geometryColumnPattern = regexp.MustCompile(`(?i)^(geometry|geom|wkt|wkb|shape)$`)

// HasGeometryColumn reports whether any of the column names carries spatial
// data, which the UI renders on a map instead of a plain table.
func HasGeometryColumn(columns []string) bool {
	for _, col := range columns {
		if geometryColumnPattern.MatchString(col) {
			return true
		}
	}
	return false
}
