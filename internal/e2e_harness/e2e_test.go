package e2e_harness

import (
	"context"
	"testing"
	"time"

	"github.com/lychee-technology/tabula"
	"github.com/lychee-technology/tabula/factory"
	"github.com/lychee-technology/tabula/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestE2EHarnessMySQL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E harness in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	h := &TestHarness{}
	cfg, err := h.StartMySQL(ctx)
	if err != nil {
		t.Fatalf("start mysql: %v", err)
	}
	defer h.Stop(context.Background())

	cfg.Reconcile.Mode = tabula.ReconcileCreate
	rt, err := factory.New(ctx, cfg, factory.Options{Definitions: PartyDefinitions()})
	require.NoError(t, err)
	defer rt.Close()

	require.True(t, rt.Report().OK(), "failures: %v", rt.Report().Failures)
	assert.Equal(t, []string{"party", "party_role", "note", "active_party"}, rt.Report().Created)

	require.NoError(t, SeedParties(ctx, h.DB))
	engine := rt.Engine()

	t.Run("reconcile again is a no-op", func(t *testing.T) {
		r := internal.NewReconciler(engine.Executor(), engine.Registry())
		report := r.Run(ctx, tabula.ReconcileExtend)
		require.True(t, report.OK(), "failures: %v", report.Failures)
		assert.Empty(t, report.Extended)
		assert.Empty(t, report.Created)
	})

	t.Run("count", func(t *testing.T) {
		n, err := engine.From("party").
			Where(engine.Conditions("", tabula.LogicAnd).Gt("age", 30)).
			QueryCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("query first", func(t *testing.T) {
		rec, err := engine.From("Party").
			Where(engine.Conditions("", tabula.LogicAnd).Eq("partyId", "p1")).
			QueryFirst(ctx)
		require.NoError(t, err)
		require.NotNil(t, rec)
		name, err := rec.Get("name")
		require.NoError(t, err)
		assert.Equal(t, "party 1", name)

		for i := 0; i < 2; i++ {
			missing, err := engine.From("party").
				Where(engine.Conditions("", tabula.LogicAnd).Eq("partyId", "nobody")).
				QueryFirst(ctx)
			require.NoError(t, err)
			assert.Nil(t, missing)
		}
	})

	t.Run("or group", func(t *testing.T) {
		records, err := engine.From("party").
			Where(engine.Conditions("", tabula.LogicAnd).
				Eq("partyId", "p1").
				Or().Eq("partyId", "p5").Gt("age", 50).EndOr()).
			OrderBy("partyId").
			QueryList(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "p1", records[0].Data()["partyId"])
		assert.Equal(t, "p5", records[1].Data()["partyId"])
	})

	t.Run("join", func(t *testing.T) {
		records, err := engine.Dynamic("p", "party").
			InnerJoin("r", "partyRole", tabula.On("partyId", "partyId")).
			Select("p.name", "r.roleTypeId").
			QueryList(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, map[string]any{"p.name": "party 1", "r.roleTypeId": "CUSTOMER"}, records[0].Data())

		n, err := engine.Dynamic("p", "party").
			OuterJoin("r", "partyRole", tabula.On("partyId", "partyId")).
			QueryCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})

	t.Run("record lifecycle", func(t *testing.T) {
		note, err := engine.NewRecord(tabula.Entity("note"), map[string]any{"partyId": "p1", "body": "hello"})
		require.NoError(t, err)
		res, err := note.Insert(ctx)
		require.NoError(t, err)
		assert.Positive(t, res.LastInsertID)
		id, err := note.Get("noteId")
		require.NoError(t, err)
		assert.NotNil(t, id)

		require.NoError(t, note.Set("body", "changed"))
		res, err = note.Update(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.RowsAffected)

		found, err := engine.Find(ctx, "note", id)
		require.NoError(t, err)
		require.NotNil(t, found)
		body, _ := found.Get("body")
		assert.Equal(t, "changed", body)

		_, err = note.Delete(ctx)
		require.NoError(t, err)
	})

	t.Run("store falls back to update", func(t *testing.T) {
		party, err := engine.NewRecord(tabula.Entity("party"), map[string]any{"partyId": "p2", "name": "party two", "age": 31})
		require.NoError(t, err)
		_, err = party.Store(ctx)
		require.NoError(t, err)

		rec, err := engine.Find(ctx, "party", "p2")
		require.NoError(t, err)
		name, _ := rec.Get("name")
		assert.Equal(t, "party two", name)
	})

	t.Run("views are read only", func(t *testing.T) {
		rows, err := engine.From("activeParty").QueryList(ctx)
		require.NoError(t, err)
		assert.Len(t, rows, 5)

		rec, err := engine.NewRecord(tabula.Entity("active_party"), map[string]any{"partyId": "p9"})
		require.NoError(t, err)
		_, err = rec.Insert(ctx)
		assert.Error(t, err)
	})

	t.Run("cached query", func(t *testing.T) {
		stmt := "SELECT COUNT(1) AS c FROM party WHERE age > ?"
		first, err := rt.RunCachedQuery(ctx, stmt, []any{20}, "partiesOlderThan", time.Minute)
		require.NoError(t, err)
		assert.False(t, first.Cached)
		second, err := rt.RunCachedQuery(ctx, stmt, []any{20}, "partiesOlderThan", time.Minute)
		require.NoError(t, err)
		assert.True(t, second.Cached)
		assert.Equal(t, first.Rows, second.Rows)
	})
}
