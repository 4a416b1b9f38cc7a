package internal

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lychee-technology/tabula"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileIgnore(t *testing.T) {
	schema := newFakeSchema()
	r := NewReconciler(schema, newPartyRegistry(t))

	var calls int
	r.OnReconciled(func(report *tabula.ReconcileReport) {
		calls++
		assert.Equal(t, tabula.ReconcileIgnore, report.Mode)
	})

	report := r.Run(context.Background(), tabula.ReconcileIgnore)
	assert.True(t, report.OK())
	assert.Empty(t, report.Statements)
	assert.Empty(t, schema.executed)
	assert.Equal(t, 1, calls)
}

func TestReconcileCreateIsIdempotent(t *testing.T) {
	schema := newFakeSchema()
	r := NewReconciler(schema, newPartyRegistry(t))

	var calls int
	r.OnReconciled(func(*tabula.ReconcileReport) { calls++ })

	ctx := context.Background()
	first := r.Run(ctx, tabula.ReconcileCreate)
	require.True(t, first.OK())
	assert.Equal(t, []string{"party", "party_role", "party_view"}, first.Created)
	assert.Equal(t, []string{"legacy_audit"}, first.Skipped)
	require.Len(t, schema.executed, 3)
	assert.Contains(t, schema.executed[0], "CREATE TABLE IF NOT EXISTS party (")
	assert.Contains(t, schema.executed[1], "PRIMARY KEY (party_id, role_type_id)")
	assert.Contains(t, schema.executed[1], "ON DELETE CASCADE ON UPDATE NO ACTION")
	assert.Equal(t, "CREATE VIEW party_view AS SELECT party_id FROM party", schema.executed[2])

	second := r.Run(ctx, tabula.ReconcileCreate)
	assert.True(t, second.OK())
	assert.Empty(t, second.Created)
	assert.Len(t, schema.executed, 3)

	assert.Equal(t, 1, calls)
}

func TestReconcileExtend(t *testing.T) {
	schema := newFakeSchema("party", "party_role")
	schema.columns["party"] = []string{"party_id", "created_stamp", "last_updated_stamp"}
	schema.columns["party_role"] = []string{"party_id", "role_type_id", "sequence", "created_stamp", "last_updated_stamp"}
	schema.constraints["party_role"] = []string{"PRIMARY"}

	report := NewReconciler(schema, newPartyRegistry(t)).Run(context.Background(), tabula.ReconcileExtend)
	require.True(t, report.OK())

	assert.Equal(t, []string{
		"ALTER TABLE party ADD COLUMN name VARCHAR(45) NOT NULL",
		"ALTER TABLE party_role ADD CONSTRAINT fk_party_role_party FOREIGN KEY (party_id) REFERENCES party(party_id) ON DELETE CASCADE ON UPDATE NO ACTION",
		"CREATE VIEW party_view AS SELECT party_id FROM party",
	}, schema.executed)
	assert.Equal(t, []string{"party", "party_role"}, report.Extended)
	assert.Equal(t, []string{"party_view"}, report.Created)
}

func TestReconcileRebuildDropsInReverseOrder(t *testing.T) {
	schema := newFakeSchema("party", "party_role", "party_view", "legacy_audit")

	report := NewReconciler(schema, newPartyRegistry(t)).Run(context.Background(), tabula.ReconcileRebuild)
	require.True(t, report.OK())

	require.Len(t, schema.executed, 6)
	assert.Equal(t, []string{
		"DROP VIEW IF EXISTS party_view",
		"DROP TABLE IF EXISTS party_role",
		"DROP TABLE IF EXISTS party",
	}, schema.executed[:3])
	assert.Contains(t, schema.executed[3], "CREATE TABLE IF NOT EXISTS party (")
	assert.Contains(t, schema.executed[4], "CREATE TABLE IF NOT EXISTS party_role (")
	assert.Contains(t, schema.executed[5], "CREATE VIEW party_view")
	assert.Equal(t, []string{"party_view", "party_role", "party"}, report.Dropped)
	assert.True(t, schema.tables["legacy_audit"])
}

func TestReconcileFailedStepIsSkipped(t *testing.T) {
	schema := newFakeSchema()
	schema.failOn = "CREATE TABLE IF NOT EXISTS party ("
	r := NewReconciler(schema, newPartyRegistry(t))

	var fired *tabula.ReconcileReport
	r.OnReconciled(func(report *tabula.ReconcileReport) { fired = report })

	report := r.Run(context.Background(), tabula.ReconcileCreate)
	assert.False(t, report.OK())
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0], tabula.ErrReconciliationFailed)
	assert.Equal(t, []string{"party_role", "party_view"}, report.Created)
	assert.Same(t, report, fired)
}

func TestReconcilePlanDoesNotApply(t *testing.T) {
	schema := newFakeSchema("party", "party_role", "party_view")

	report := NewReconciler(schema, newPartyRegistry(t)).Plan(context.Background(), tabula.ReconcileRebuild)
	require.True(t, report.OK())
	assert.Empty(t, schema.executed)
	require.Len(t, report.Statements, 6)
	assert.Equal(t, "DROP VIEW IF EXISTS party_view", report.Statements[0])
	assert.Contains(t, report.Statements[3], "CREATE TABLE IF NOT EXISTS party (")
	assert.True(t, schema.tables["party"])
}

func TestReconcileCreateOverExecutor(t *testing.T) {
	registry := NewSchemaRegistry()
	require.NoError(t, registry.Register(partyDefinitions()[:1]))
	def, err := registry.Lookup("party")
	require.NoError(t, err)

	exec, mock := newMockExecutor(t, testExecutorConfig(), nil)
	existsQuery := "SELECT table_name AS name FROM information_schema.TABLES WHERE table_schema = DATABASE() AND table_name = 'party'"

	mock.ExpectBegin()
	mock.ExpectQuery(existsQuery).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(CreateStatement(def)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	r := NewReconciler(exec, registry)
	report := r.Run(context.Background(), tabula.ReconcileCreate)
	require.True(t, report.OK())
	assert.Equal(t, []string{"party"}, report.Created)

	mock.ExpectBegin()
	mock.ExpectQuery(existsQuery).WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("party"))
	mock.ExpectCommit()

	report = r.Run(context.Background(), tabula.ReconcileCreate)
	require.True(t, report.OK())
	assert.Empty(t, report.Created)
	require.NoError(t, mock.ExpectationsWereMet())
}
