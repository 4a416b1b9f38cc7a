package tabula_test

import (
	"context"
	"testing"

	"github.com/lychee-technology/tabula"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityQueryBuild(t *testing.T) {
	engine, _ := newTestEngine(t)

	stmt, params, err := engine.From("Party").Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM party", stmt)
	assert.Empty(t, params)

	stmt, params, err = engine.From("party").
		Select("partyId", "name").
		Where(engine.Conditions("", tabula.LogicAnd).Gt("age", "30")).
		OrderBy("-age", "name asc").
		Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT party_id, name FROM party WHERE (age > ?) ORDER BY age DESC, name", stmt)
	assert.Equal(t, []any{30.0}, params)

	stmt, params, err = engine.From("party").Where(tabula.RawCondition("age BETWEEN ? AND ?", 20, 30)).Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM party WHERE age BETWEEN ? AND ?", stmt)
	assert.Equal(t, []any{20, 30}, params)
}

func TestEntityQueryBuildErrors(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, _, err := engine.From("invoice").Build()
	assert.ErrorIs(t, err, tabula.ErrUndefinedEntity)

	_, _, err = engine.From("party").Select("nickname").Build()
	assert.ErrorIs(t, err, tabula.ErrUnknownField)

	_, _, err = engine.From("party").OrderBy("nickname desc").Build()
	assert.ErrorIs(t, err, tabula.ErrUnknownField)

	_, _, err = engine.From("party").Where(engine.Conditions("x", tabula.LogicAnd).Eq("a", 1)).Build()
	assert.True(t, tabula.HasCode(err, tabula.ErrCodeInvalidQuery))

	_, _, err = engine.From("party").Where(engine.Conditions("party", tabula.LogicAnd).Eq("bogus alias.name", "x")).Build()
	assert.True(t, tabula.HasCode(err, tabula.ErrCodeInvalidQuery))

	_, _, err = engine.From("party").Select("x.name").Build()
	assert.True(t, tabula.HasCode(err, tabula.ErrCodeInvalidQuery))
}

func TestEntityQueryOwnQualifier(t *testing.T) {
	engine, _ := newTestEngine(t)

	stmt, _, err := engine.From("party").
		Select("Party.name").
		Where(engine.Conditions("party", tabula.LogicAnd).Eq("party.age", 3)).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT party.name FROM party WHERE (party.age = ?)", stmt)
}

func TestEntityQueryFirst(t *testing.T) {
	ctx := context.Background()
	engine, exec := newTestEngine(t)

	for i := 0; i < 2; i++ {
		rec, err := engine.From("party").
			Where(engine.Conditions("", tabula.LogicAnd).Eq("partyId", "nobody")).
			QueryFirst(ctx)
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
	assert.Equal(t, "SELECT * FROM party WHERE (party_id = ?) LIMIT 1", exec.last().statement)

	exec.respond = rows(tabula.Row{"partyId": "p1", "name": "Ann", "age": int64(30), "active": true})
	rec, err := engine.From("party").QueryFirst(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, tabula.Entity("party"), rec.Target())
	assert.Equal(t, map[string]any{"partyId": "p1", "name": "Ann", "age": int64(30), "active": true}, rec.Data())

	age, err := rec.Get("age")
	require.NoError(t, err)
	assert.Equal(t, int64(30), age)
	id, err := rec.Get("party_id")
	require.NoError(t, err)
	assert.Equal(t, "p1", id)
}

func TestEntityQueryListAndCount(t *testing.T) {
	ctx := context.Background()
	engine, exec := newTestEngine(t)

	exec.respond = rows(tabula.Row{"party_id": "p1"}, tabula.Row{"party_id": "p2"})
	records, err := engine.From("party").OrderBy("partyId").Cache(true).QueryList(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "p2", records[1].Data()["partyId"])
	assert.True(t, exec.last().useCache)

	exec.respond = rows(tabula.Row{"c": int64(3)})
	n, err := engine.From("party").
		Where(engine.Conditions("", tabula.LogicAnd).Gt("age", 30)).
		QueryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, "SELECT COUNT(1) AS c FROM (SELECT * FROM party WHERE (age > ?)) e", exec.last().statement)
	assert.Equal(t, []any{30.0}, exec.last().params)

	exec.respond = rows(tabula.Row{"c": []byte("12")})
	n, err = engine.From("party").QueryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestEntityQueryExecutorError(t *testing.T) {
	engine, exec := newTestEngine(t)
	exec.respond = func(string, []any) (*tabula.Result, error) {
		return nil, tabula.NewNotInitializedError()
	}

	_, err := engine.From("party").QueryList(context.Background())
	assert.ErrorIs(t, err, tabula.ErrNotInitialized)
	_, err = engine.From("party").QueryFirst(context.Background())
	assert.ErrorIs(t, err, tabula.ErrNotInitialized)
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	engine, exec := newTestEngine(t)

	exec.respond = rows(tabula.Row{"party_id": "p1", "role_type_id": "CUSTOMER"})
	rec, err := engine.Find(ctx, "PartyRole", "p1", "CUSTOMER")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "SELECT * FROM party_role WHERE (party_id = ? AND role_type_id = ?) LIMIT 1", exec.last().statement)
	assert.Equal(t, []any{"p1", "CUSTOMER"}, exec.last().params)

	_, err = engine.Find(ctx, "party_role", "p1")
	assert.True(t, tabula.HasCode(err, tabula.ErrCodeInvalidQuery))
}

func TestDynamicQueryBuild(t *testing.T) {
	engine, _ := newTestEngine(t)

	stmt, params, err := engine.Dynamic("p", "party").
		InnerJoin("r", "partyRole", tabula.On("partyId", "partyId")).
		Select("p.name", "r.roleTypeId").
		Where(engine.Conditions("", tabula.LogicAnd).Eq("r.roleTypeId", "CUSTOMER").Gt("age", 18)).
		OrderBy("-p.name").
		Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT p.name AS `p.name`, r.role_type_id AS `r.role_type_id` "+
		"FROM party AS p INNER JOIN party_role AS r ON (r.party_id = p.party_id) "+
		"WHERE (r.role_type_id = ? AND p.age > ?) ORDER BY p.name DESC", stmt)
	assert.Equal(t, []any{"CUSTOMER", 18.0}, params)
}

func TestDynamicQueryOuterJoinWithValue(t *testing.T) {
	engine, _ := newTestEngine(t)

	stmt, params, err := engine.Dynamic("p", "party").
		OuterJoin("r", "party_role", []tabula.JoinCondition{
			{Field: "partyId", RelatedField: "p.partyId"},
			{Field: "roleTypeId", Value: "CUSTOMER"},
		}).
		Select("partyId").
		WherePairs("p.name", "Ann").
		Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT p.party_id AS `p.party_id` FROM party AS p "+
		"LEFT OUTER JOIN party_role AS r ON (r.party_id = p.party_id AND r.role_type_id = ?) "+
		"WHERE (p.name = ?)", stmt)
	assert.Equal(t, []any{"CUSTOMER", "Ann"}, params)
}

func TestDynamicQuerySelectAll(t *testing.T) {
	engine, _ := newTestEngine(t)

	stmt, _, err := engine.Dynamic("n", "note").Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT n.note_id AS `n.note_id`, n.body AS `n.body`, "+
		"n.created_stamp AS `n.created_stamp`, n.last_updated_stamp AS `n.last_updated_stamp` FROM note AS n", stmt)

	stmt, _, err = engine.Dynamic("p", "party").
		InnerJoin("n", "note", tabula.On("noteId", "age")).
		Select("n.*").
		WhereMap(map[string]any{"n.body": "hi"}).
		Build()
	require.NoError(t, err)
	assert.Contains(t, stmt, "SELECT n.note_id AS `n.note_id`, n.body AS `n.body`")
	assert.Contains(t, stmt, "WHERE (n.body = ?)")
}

func TestDynamicQueryErrors(t *testing.T) {
	engine, _ := newTestEngine(t)

	tests := []struct {
		name  string
		query *tabula.DynamicQuery
	}{
		{"duplicate alias", engine.Dynamic("p", "party").InnerJoin("p", "party_role", tabula.On("partyId", "partyId"))},
		{"second base", engine.Dynamic("p", "party").From("q", "party")},
		{"empty alias", engine.Dynamic("", "party")},
		{"unknown alias", engine.Dynamic("p", "party").Select("z.name")},
		{"no join conditions", engine.Dynamic("p", "party").InnerJoin("r", "party_role", nil)},
		{"odd where pairs", engine.Dynamic("p", "party").WherePairs("p.name")},
		{"non string pair key", engine.Dynamic("p", "party").WherePairs(1, "x")},
		{"statement in base alias", engine.Dynamic("p FROM party; DROP TABLE party; --", "party")},
		{"spaced join alias", engine.Dynamic("p", "party").InnerJoin("r x", "party_role", tabula.On("partyId", "partyId"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.query.Build()
			assert.True(t, tabula.HasCode(err, tabula.ErrCodeInvalidQuery), "got %v", err)
		})
	}

	_, _, err := engine.Dynamic("p", "party").InnerJoin("i", "invoice", tabula.On("id", "partyId")).Build()
	assert.ErrorIs(t, err, tabula.ErrUndefinedEntity)

	_, _, err = engine.Dynamic("p", "party").Select("p.nickname").Build()
	assert.ErrorIs(t, err, tabula.ErrUnknownField)

	_, _, err = engine.Dynamic("p", "party").
		OuterJoin("r", "party_role", []tabula.JoinCondition{{Field: "partyId", Value: "not-a-number"}, {Field: "partyId", RelatedField: "p.age"}}).
		Where(engine.Conditions("", tabula.LogicAnd).Eq("p.age", "old")).
		Build()
	assert.ErrorIs(t, err, tabula.ErrConversion)
}

func TestDynamicQueryRecordsAreReadOnly(t *testing.T) {
	ctx := context.Background()
	engine, exec := newTestEngine(t)
	exec.respond = rows(tabula.Row{"p.name": "Ann", "r.roleTypeId": "CUSTOMER"})

	q := engine.Dynamic("p", "party").
		InnerJoin("r", "party_role", tabula.On("partyId", "partyId")).
		Select("p.name", "r.roleTypeId")
	records, err := q.QueryList(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, map[string]any{"p.name": "Ann", "r.roleTypeId": "CUSTOMER"}, records[0].Data())
	role, err := records[0].Get("r.role_type_id")
	require.NoError(t, err)
	assert.Equal(t, "CUSTOMER", role)

	_, err = records[0].Insert(ctx)
	assert.ErrorIs(t, err, tabula.ErrUnsupportedOnDynamicEntity)
	_, err = records[0].Update(ctx)
	assert.ErrorIs(t, err, tabula.ErrUnsupportedOnDynamicEntity)
	_, err = records[0].Delete(ctx)
	assert.ErrorIs(t, err, tabula.ErrUnsupportedOnDynamicEntity)
	_, err = records[0].Store(ctx)
	assert.ErrorIs(t, err, tabula.ErrUnsupportedOnDynamicEntity)

	// The join graph is frozen once the query has run.
	_, _, err = q.Select("r.partyId").Build()
	assert.True(t, tabula.HasCode(err, tabula.ErrCodeInvalidQuery))
	assert.Len(t, q.Entity().Fields(), 2)
	assert.Equal(t, "p", q.Entity().BaseAlias())
	assert.Len(t, q.Entity().Joins(), 2)
}
