package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/datapilot-ai/datapilot-engine/pkg/apperrors"
)

// Context is the schema slice handed to generation and validation: the DDL
// for the tables a request selected, plus the database they live in. Built
// once per run and read-only afterwards.
type Context struct {
	SchemaName string
	Database   string
	DDL        string
	Tables     []string // selected table names, sorted
}

// BuildContext loads a schema and narrows it to the selected tables. The
// selection maps table name to column names; columns are advisory (the full
// table DDL is kept so the generator sees types), but every selected table
// must exist in the schema. An empty selection keeps the whole schema.
func (s *Store) BuildContext(name string, selected map[string][]string) (*Context, error) {
	ddl, err := s.Load(name)
	if err != nil {
		return nil, err
	}

	database, err := ExtractDatabase(ddl)
	if err != nil {
		return nil, fmt.Errorf("schema %q: %w", name, err)
	}

	tables := ParseTables(ddl)

	if len(selected) == 0 {
		names := make([]string, 0, len(tables))
		for _, t := range tables {
			names = append(names, t.Name)
		}
		sort.Strings(names)
		return &Context{
			SchemaName: name,
			Database:   database,
			DDL:        ddl,
			Tables:     names,
		}, nil
	}

	byName := make(map[string]Table, len(tables))
	for _, t := range tables {
		byName[strings.ToLower(t.Name)] = t
	}

	selectedNames := make([]string, 0, len(selected))
	for table := range selected {
		selectedNames = append(selectedNames, table)
	}
	sort.Strings(selectedNames)

	var parts []string
	for _, table := range selectedNames {
		t, ok := byName[strings.ToLower(table)]
		if !ok {
			return nil, fmt.Errorf("table %q not in schema %q: %w", table, name, apperrors.ErrSchemaMismatch)
		}
		parts = append(parts, t.DDL)
	}

	return &Context{
		SchemaName: name,
		Database:   database,
		DDL:        strings.Join(parts, "\n\n"),
		Tables:     selectedNames,
	}, nil
}
