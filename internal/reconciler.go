package internal

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/lychee-technology/tabula"
	"go.uber.org/zap"
)

const (
	tableExistsQuery     = "SELECT table_name AS name FROM information_schema.TABLES WHERE table_schema = DATABASE() AND table_name = ?"
	liveColumnsQuery     = "SELECT column_name AS name FROM information_schema.COLUMNS WHERE table_schema = DATABASE() AND table_name = ?"
	liveConstraintsQuery = "SELECT constraint_name AS name FROM information_schema.KEY_COLUMN_USAGE WHERE table_schema = DATABASE() AND table_name = ?"
)

// Reconciler brings the live schema in line with the registered definitions.
// Steps run one at a time; a failed step is logged and skipped.
type Reconciler struct {
	executor tabula.Executor
	registry tabula.SchemaRegistry

	onDone   func(*tabula.ReconcileReport)
	doneOnce sync.Once
}

func NewReconciler(executor tabula.Executor, registry tabula.SchemaRegistry) *Reconciler {
	return &Reconciler{executor: executor, registry: registry}
}

// OnReconciled registers a callback fired once, after the first Run completes,
// whether it applied, skipped or failed steps.
func (r *Reconciler) OnReconciled(fn func(*tabula.ReconcileReport)) {
	r.onDone = fn
}

// Run applies mode to the live schema.
func (r *Reconciler) Run(ctx context.Context, mode tabula.ReconcileMode) *tabula.ReconcileReport {
	report := r.reconcile(ctx, mode, true)
	r.doneOnce.Do(func() {
		if r.onDone != nil {
			r.onDone(report)
		}
	})
	return report
}

// Plan reports the statements Run would issue without changing the schema.
func (r *Reconciler) Plan(ctx context.Context, mode tabula.ReconcileMode) *tabula.ReconcileReport {
	return r.reconcile(ctx, mode, false)
}

func (r *Reconciler) reconcile(ctx context.Context, mode tabula.ReconcileMode, apply bool) *tabula.ReconcileReport {
	report := &tabula.ReconcileReport{Mode: mode}
	if mode == tabula.ReconcileIgnore {
		zap.S().Infow("ignoring table structure")
		return report
	}

	defs := r.registry.Definitions()
	dropped := NewNameSet()
	switch mode {
	case tabula.ReconcileRebuild:
		r.dropAll(ctx, defs, dropped, report, apply)
	case tabula.ReconcileExtend:
		r.extendAll(ctx, defs, report, apply)
	}
	if mode >= tabula.ReconcileCreate {
		r.createAll(ctx, defs, dropped, report, apply)
	}

	zap.S().Infow("schema reconciled",
		"mode", mode.String(),
		"apply", apply,
		"dropped", report.Dropped,
		"extended", report.Extended,
		"created", report.Created,
		"failures", len(report.Failures))
	return report
}

// dropAll drops existing entities in reverse declaration order so dependents go first.
func (r *Reconciler) dropAll(ctx context.Context, defs []tabula.EntityDefinition, dropped NameSet, report *tabula.ReconcileReport, apply bool) {
	for _, def := range slices.Backward(defs) {
		if def.Ignore {
			zap.S().Infow("ignoring entity", "entity", def.Name)
			continue
		}
		exists, err := r.exists(ctx, def.Name)
		if err != nil {
			r.fail(report, def.Name, "drop", err)
			continue
		}
		if !exists {
			zap.S().Debugw("entity does not exist, not dropping", "entity", def.Name)
			continue
		}
		if err := r.step(ctx, report, DropStatement(&def), apply); err != nil {
			r.fail(report, def.Name, "drop", err)
			continue
		}
		dropped.Add(def.Name)
		report.Dropped = append(report.Dropped, def.Name)
	}
}

func (r *Reconciler) extendAll(ctx context.Context, defs []tabula.EntityDefinition, report *tabula.ReconcileReport, apply bool) {
	for _, def := range defs {
		if def.Ignore || def.IsView() {
			continue
		}
		exists, err := r.exists(ctx, def.Name)
		if err != nil {
			r.fail(report, def.Name, "extend", err)
			continue
		}
		if !exists {
			zap.S().Debugw("entity does not exist, not extending", "entity", def.Name)
			continue
		}
		columns, err := r.names(ctx, liveColumnsQuery, def.Name)
		if err != nil {
			r.fail(report, def.Name, "extend", err)
			continue
		}
		constraints, err := r.names(ctx, liveConstraintsQuery, def.Name)
		if err != nil {
			r.fail(report, def.Name, "extend", err)
			continue
		}
		stmt, ok := ExtendStatement(&def, columns, constraints)
		if !ok {
			zap.S().Debugw("nothing to extend", "entity", def.Name)
			continue
		}
		if err := r.step(ctx, report, stmt, apply); err != nil {
			r.fail(report, def.Name, "extend", err)
			continue
		}
		report.Extended = append(report.Extended, def.Name)
	}
}

func (r *Reconciler) createAll(ctx context.Context, defs []tabula.EntityDefinition, dropped NameSet, report *tabula.ReconcileReport, apply bool) {
	for _, def := range defs {
		if def.Ignore {
			report.Skipped = append(report.Skipped, def.Name)
			continue
		}
		if !dropped.Contains(def.Name) {
			exists, err := r.exists(ctx, def.Name)
			if err != nil {
				r.fail(report, def.Name, "create", err)
				continue
			}
			if exists {
				zap.S().Debugw("entity already exists, not creating", "entity", def.Name)
				continue
			}
		}
		if err := r.step(ctx, report, CreateStatement(&def), apply); err != nil {
			r.fail(report, def.Name, "create", err)
			continue
		}
		report.Created = append(report.Created, def.Name)
	}
}

func (r *Reconciler) step(ctx context.Context, report *tabula.ReconcileReport, stmt string, apply bool) error {
	if apply {
		if _, err := r.executor.Execute(ctx, stmt, nil, false); err != nil {
			return err
		}
	}
	report.Statements = append(report.Statements, stmt)
	return nil
}

func (r *Reconciler) exists(ctx context.Context, name string) (bool, error) {
	res, err := r.executor.Execute(ctx, tableExistsQuery, []any{name}, false)
	if err != nil {
		return false, err
	}
	return len(res.Rows) > 0, nil
}

func (r *Reconciler) names(ctx context.Context, query, table string) (NameSet, error) {
	res, err := r.executor.Execute(ctx, query, []any{table}, false)
	if err != nil {
		return NameSet{}, err
	}
	names := NewNameSet()
	for _, row := range res.Rows {
		if v, ok := row["name"]; ok && v != nil {
			names.Add(fmt.Sprint(v))
		}
	}
	return names, nil
}

func (r *Reconciler) fail(report *tabula.ReconcileReport, entity, step string, cause error) {
	err := tabula.NewReconciliationFailedError(entity, cause).WithDetail("step", step)
	zap.S().Errorw("reconciliation step failed", "entity", entity, "step", step, "error", cause)
	report.Failures = append(report.Failures, err)
}
