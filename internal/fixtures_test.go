package internal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/lychee-technology/tabula"
	"github.com/lychee-technology/tabula/internal/sqlformat"
	"github.com/stretchr/testify/require"
)

func partyDefinitions() []tabula.EntityDefinition {
	return []tabula.EntityDefinition{
		{
			Name: "party",
			Fields: []tabula.FieldDefinition{
				{Name: "party_id", Type: tabula.TypeIDShort, PrimaryKey: true, NotNull: true},
				{Name: "name", Type: tabula.TypeIDLong, NotNull: true, Unique: true},
			},
		},
		{
			Name: "PartyRole",
			Fields: []tabula.FieldDefinition{
				{Name: "partyId", Type: tabula.TypeIDShort, PrimaryKey: true, NotNull: true},
				{Name: "roleTypeId", Type: tabula.TypeIDShort, PrimaryKey: true, NotNull: true},
				{Name: "sequence", Type: tabula.TypeNumber, Default: "0"},
			},
			ForeignKeys: []tabula.ForeignKeyDefinition{
				{
					Name:      "fk_party_role_party",
					Field:     "partyId",
					Reference: tabula.ForeignKeyReference{Table: "party", Field: "partyId"},
					OnDelete:  tabula.ActionCascade,
				},
			},
		},
		{
			Name:           "party_view",
			Kind:           tabula.EntityKindView,
			Fields:         []tabula.FieldDefinition{{Name: "party_id", Type: tabula.TypeIDShort}},
			ViewDefinition: "SELECT party_id FROM party",
		},
		{
			Name:   "legacy_audit",
			Ignore: true,
			Fields: []tabula.FieldDefinition{{Name: "audit_id", Type: tabula.TypeNumber, PrimaryKey: true, AutoIncrement: true}},
		},
	}
}

func newPartyRegistry(t *testing.T) tabula.SchemaRegistry {
	t.Helper()
	registry := NewSchemaRegistry()
	require.NoError(t, registry.Register(partyDefinitions()))
	return registry
}

// fakeSchema is an executor that answers information_schema lookups from
// memory and records every other statement.
type fakeSchema struct {
	mu          sync.Mutex
	tables      map[string]bool
	columns     map[string][]string
	constraints map[string][]string
	failOn      string
	executed    []string
}

func newFakeSchema(tables ...string) *fakeSchema {
	f := &fakeSchema{
		tables:      map[string]bool{},
		columns:     map[string][]string{},
		constraints: map[string][]string{},
	}
	for _, t := range tables {
		f.tables[t] = true
	}
	return f
}

func (f *fakeSchema) Execute(_ context.Context, statement string, params []any, _ bool) (*tabula.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch statement {
	case tableExistsQuery:
		if f.tables[params[0].(string)] {
			return &tabula.Result{Rows: []tabula.Row{{"name": params[0]}}}, nil
		}
		return &tabula.Result{}, nil
	case liveColumnsQuery:
		return nameRows(f.columns[params[0].(string)]), nil
	case liveConstraintsQuery:
		return nameRows(f.constraints[params[0].(string)]), nil
	}

	query, err := sqlformat.Format(sqlformat.Compact(statement), params)
	if err != nil {
		return nil, err
	}
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, tabula.NewStatementFailedError(query, errors.New("table definition rejected"))
	}
	f.executed = append(f.executed, query)

	fields := strings.Fields(query)
	switch {
	case strings.HasPrefix(query, "CREATE TABLE IF NOT EXISTS "):
		f.tables[fields[5]] = true
	case strings.HasPrefix(query, "CREATE VIEW "):
		f.tables[fields[2]] = true
	case strings.HasPrefix(query, "DROP "):
		delete(f.tables, strings.Trim(fields[4], "`"))
	}
	return &tabula.Result{}, nil
}

func nameRows(names []string) *tabula.Result {
	res := &tabula.Result{}
	for _, n := range names {
		res.Rows = append(res.Rows, tabula.Row{"name": n})
	}
	return res
}
