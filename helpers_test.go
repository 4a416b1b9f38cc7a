package tabula_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/lychee-technology/tabula"
	"github.com/lychee-technology/tabula/internal"
	"github.com/stretchr/testify/require"
)

func testDefinitions() []tabula.EntityDefinition {
	return []tabula.EntityDefinition{
		{
			Name: "x",
			Fields: []tabula.FieldDefinition{
				{Name: "a", Type: tabula.TypeNumber},
				{Name: "b", Type: tabula.TypeNumber},
				{Name: "c", Type: tabula.TypeNumber},
			},
		},
		{
			Name: "party",
			Fields: []tabula.FieldDefinition{
				{Name: "party_id", Type: tabula.TypeIDShort, PrimaryKey: true, NotNull: true},
				{Name: "name", Type: tabula.TypeIDVeryLong},
				{Name: "age", Type: tabula.TypeNumber},
				{Name: "active", Type: tabula.TypeBoolean},
				{Name: "attrs", Type: tabula.TypeJSON},
			},
		},
		{
			Name: "party_role",
			Fields: []tabula.FieldDefinition{
				{Name: "party_id", Type: tabula.TypeIDShort, PrimaryKey: true, NotNull: true},
				{Name: "role_type_id", Type: tabula.TypeIDShort, PrimaryKey: true, NotNull: true},
			},
			ForeignKeys: []tabula.ForeignKeyDefinition{
				{Name: "fk_party_role_party", Field: "party_id", Reference: tabula.ForeignKeyReference{Table: "party", Field: "party_id"}},
			},
		},
		{
			Name: "note",
			Fields: []tabula.FieldDefinition{
				{Name: "note_id", Type: tabula.TypeNumber, PrimaryKey: true, NotNull: true, AutoIncrement: true},
				{Name: "body", Type: tabula.TypeText},
			},
		},
		{
			Name:           "party_view",
			Kind:           tabula.EntityKindView,
			Fields:         []tabula.FieldDefinition{{Name: "party_id", Type: tabula.TypeIDShort}},
			ViewDefinition: "SELECT party_id FROM party",
		},
	}
}

type executedStatement struct {
	statement string
	params    []any
	useCache  bool
}

// stubExecutor records statements and answers them through respond.
type stubExecutor struct {
	mu      sync.Mutex
	calls   []executedStatement
	respond func(statement string, params []any) (*tabula.Result, error)
}

func (s *stubExecutor) Execute(_ context.Context, statement string, params []any, useCache bool) (*tabula.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, executedStatement{statement: statement, params: params, useCache: useCache})
	respond := s.respond
	s.mu.Unlock()
	if respond == nil {
		return &tabula.Result{}, nil
	}
	return respond(statement, params)
}

func (s *stubExecutor) statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.statement
	}
	return out
}

func (s *stubExecutor) last() executedStatement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

// rows answers every SELECT with rows and everything else with an empty result.
func rows(r ...tabula.Row) func(string, []any) (*tabula.Result, error) {
	return func(statement string, _ []any) (*tabula.Result, error) {
		if strings.HasPrefix(statement, "SELECT") {
			return &tabula.Result{Rows: r}, nil
		}
		return &tabula.Result{RowsAffected: 1}, nil
	}
}

func newTestEngine(t *testing.T) (*tabula.Engine, *stubExecutor) {
	t.Helper()
	registry := internal.NewSchemaRegistry()
	require.NoError(t, registry.Register(testDefinitions()))
	exec := &stubExecutor{}
	return tabula.NewEngine(registry, exec), exec
}
