package tabula_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lychee-technology/tabula"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordConvertsValues(t *testing.T) {
	engine, _ := newTestEngine(t)

	rec, err := engine.NewRecord(tabula.Entity("Party"), map[string]any{
		"partyId": "p1",
		"age":     "42",
		"active":  int64(1),
		"attrs":   `{"tier":"gold"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, tabula.Entity("party"), rec.Target())
	assert.Equal(t, map[string]any{
		"partyId": "p1",
		"age":     42.0,
		"active":  true,
		"attrs":   map[string]any{"tier": "gold"},
	}, rec.Data())

	require.NoError(t, rec.Set("name", ""))
	name, err := rec.Get("name")
	require.NoError(t, err)
	assert.Nil(t, name)
}

func TestNewRecordErrors(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.NewRecord(tabula.Entity("party"), map[string]any{"age": "not-a-number"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tabula.ErrConversion))
	assert.True(t, errors.Is(err, tabula.ErrTypeMismatch))

	_, err = engine.NewRecord(tabula.Entity("party"), map[string]any{"nickname": "x"})
	assert.ErrorIs(t, err, tabula.ErrUnknownField)

	_, err = engine.NewRecord(tabula.Entity("invoice"), nil)
	assert.ErrorIs(t, err, tabula.ErrUndefinedEntity)

	rec, err := engine.NewRecord(tabula.Entity("party"), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, rec.Set("active", "maybe"), tabula.ErrConversion)
	assert.ErrorIs(t, rec.Set("attrs", "[1, 2]"), tabula.ErrConversion)
	_, err = rec.Get("nickname")
	assert.ErrorIs(t, err, tabula.ErrUnknownField)
}

func TestRecordInsert(t *testing.T) {
	ctx := context.Background()
	engine, exec := newTestEngine(t)

	rec, err := engine.NewRecord(tabula.Entity("party"), map[string]any{
		"partyId":      "p1",
		"name":         "Ann",
		"age":          30,
		"createdStamp": "2024-01-01 00:00:00",
	})
	require.NoError(t, err)
	_, err = rec.Insert(ctx)
	require.NoError(t, err)

	last := exec.last()
	assert.Equal(t, "INSERT INTO party (party_id, name, age) VALUES (?, ?, ?)", last.statement)
	assert.Equal(t, []any{"p1", "Ann", 30.0}, last.params)
	assert.False(t, last.useCache)
}

func TestRecordInsertFillsAutoIncrementKey(t *testing.T) {
	engine, exec := newTestEngine(t)
	exec.respond = func(string, []any) (*tabula.Result, error) {
		return &tabula.Result{RowsAffected: 1, LastInsertID: 7}, nil
	}

	rec, err := engine.NewRecord(tabula.Entity("note"), map[string]any{"body": "hello"})
	require.NoError(t, err)
	res, err := rec.Insert(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.LastInsertID)
	assert.Equal(t, "INSERT INTO note (body) VALUES (?)", exec.last().statement)

	id, err := rec.Get("noteId")
	require.NoError(t, err)
	assert.Equal(t, 7.0, id)
}

func TestRecordInsertValidation(t *testing.T) {
	ctx := context.Background()
	engine, exec := newTestEngine(t)

	rec, err := engine.NewRecord(tabula.Entity("party"), map[string]any{"name": "Ann"})
	require.NoError(t, err)
	_, err = rec.Insert(ctx)
	assert.ErrorIs(t, err, tabula.ErrTypeMismatch)

	empty, err := engine.NewRecord(tabula.Entity("note"), nil)
	require.NoError(t, err)
	_, err = empty.Insert(ctx)
	assert.True(t, tabula.HasCode(err, tabula.ErrCodeInvalidQuery))

	view, err := engine.NewRecord(tabula.Entity("partyView"), map[string]any{"partyId": "p1"})
	require.NoError(t, err)
	_, err = view.Insert(ctx)
	assert.True(t, tabula.HasCode(err, tabula.ErrCodeInvalidQuery))
	_, err = view.Delete(ctx)
	assert.True(t, tabula.HasCode(err, tabula.ErrCodeInvalidQuery))

	assert.Empty(t, exec.statements())
}

func TestRecordUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	engine, exec := newTestEngine(t)

	rec, err := engine.NewRecord(tabula.Entity("party"), map[string]any{
		"partyId":          "p1",
		"name":             "Ann",
		"active":           false,
		"lastUpdatedStamp": "2024-01-01 00:00:00",
	})
	require.NoError(t, err)

	_, err = rec.Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE party SET name = ?, active = ? WHERE party_id = ?", exec.last().statement)
	assert.Equal(t, []any{"Ann", false, "p1"}, exec.last().params)

	_, err = rec.Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM party WHERE party_id = ?", exec.last().statement)
	assert.Equal(t, []any{"p1"}, exec.last().params)

	role, err := engine.NewRecord(tabula.Entity("party_role"), map[string]any{"partyId": "p1", "roleTypeId": "CUSTOMER"})
	require.NoError(t, err)
	_, err = role.Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM party_role WHERE party_id = ? AND role_type_id = ?", exec.last().statement)

	// Every field of party_role is part of the key.
	_, err = role.Update(ctx)
	assert.True(t, tabula.HasCode(err, tabula.ErrCodeInvalidQuery))

	keyless, err := engine.NewRecord(tabula.Entity("party"), map[string]any{"name": "Ann"})
	require.NoError(t, err)
	_, err = keyless.Update(ctx)
	assert.True(t, tabula.HasCode(err, tabula.ErrCodeInvalidQuery))
	_, err = keyless.Delete(ctx)
	assert.True(t, tabula.HasCode(err, tabula.ErrCodeInvalidQuery))
}

func TestRecordStoreFallsBackToUpdate(t *testing.T) {
	engine, exec := newTestEngine(t)
	exec.respond = func(statement string, _ []any) (*tabula.Result, error) {
		if strings.HasPrefix(statement, "INSERT") {
			return nil, tabula.NewStatementFailedError(statement, errors.New("Duplicate entry 'p1' for key 'PRIMARY'"))
		}
		return &tabula.Result{RowsAffected: 1}, nil
	}

	rec, err := engine.NewRecord(tabula.Entity("party"), map[string]any{"partyId": "p1", "name": "Ann"})
	require.NoError(t, err)
	res, err := rec.Store(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.Equal(t, []string{
		"INSERT INTO party (party_id, name) VALUES (?, ?)",
		"UPDATE party SET name = ? WHERE party_id = ?",
	}, exec.statements())
}

func TestRecordStoreDoesNotRetryWithoutConnection(t *testing.T) {
	engine, exec := newTestEngine(t)
	exec.respond = func(string, []any) (*tabula.Result, error) {
		return nil, tabula.NewNotInitializedError()
	}

	rec, err := engine.NewRecord(tabula.Entity("party"), map[string]any{"partyId": "p1"})
	require.NoError(t, err)
	_, err = rec.Store(context.Background())
	assert.ErrorIs(t, err, tabula.ErrNotInitialized)
	assert.Len(t, exec.statements(), 1)
}
