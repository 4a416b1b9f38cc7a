package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lychee-technology/tabula"
	"github.com/lychee-technology/tabula/internal"
	"go.uber.org/zap"
)

const watchDebounce = 500 * time.Millisecond

func runPlan(ctx context.Context, args []string, out io.Writer) error {
	var opts commonOptions
	flags := newFlagSet("plan", "Print the DDL a reconciliation would run, without running it.", out, &opts)
	if done, err := parse(flags, args); done || err != nil {
		return err
	}
	cfg, err := opts.resolveConfig()
	if err != nil {
		return err
	}

	rt, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	engine := rt.Engine()
	report := internal.NewReconciler(engine.Executor(), engine.Registry()).Plan(ctx, cfg.Reconcile.Mode)
	return printPlan(out, report)
}

func printPlan(out io.Writer, report *tabula.ReconcileReport) error {
	fmt.Fprintf(out, "-- mode %s: %d statement(s)\n", report.Mode, len(report.Statements))
	for _, stmt := range report.Statements {
		fmt.Fprintf(out, "%s;\n", stmt)
	}
	if !report.OK() {
		for _, err := range report.Failures {
			fmt.Fprintf(out, "-- failed: %v\n", err)
		}
		return fmt.Errorf("%d step(s) could not be planned", len(report.Failures))
	}
	return nil
}

func runReconcile(ctx context.Context, args []string) error {
	var opts commonOptions
	var watch bool
	flags := newFlagSet("reconcile", "Reconcile the database schema with the entity definitions.", os.Stdout, &opts)
	flags.BoolVarP(&watch, "watch", "w", false, "keep running and extend the schema whenever a definition file changes")
	if done, err := parse(flags, args); done || err != nil {
		return err
	}
	cfg, err := opts.resolveConfig()
	if err != nil {
		return err
	}

	rt, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	engine := rt.Engine()
	report := internal.NewReconciler(engine.Executor(), engine.Registry()).Run(ctx, cfg.Reconcile.Mode)
	zap.S().Infow("reconciliation finished", "created", report.Created, "extended", report.Extended, "dropped", report.Dropped, "failures", len(report.Failures))
	if !watch {
		if !report.OK() {
			return fmt.Errorf("%d reconciliation step(s) failed", len(report.Failures))
		}
		return nil
	}
	return watchDefinitions(ctx, cfg.Reconcile.DefinitionsDir, engine.Executor())
}

// watchDefinitions reloads the definitions after each burst of file changes
// and extends the schema with them. It returns when ctx is done.
func watchDefinitions(ctx context.Context, dir string, executor tabula.Executor) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	zap.S().Infow("watching entity definitions", "dir", dir)

	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			zap.S().Warnw("definition watcher error", "error", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isDefinitionEvent(ev) {
				continue
			}
			zap.S().Debugw("definition file changed", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(watchDebounce)
		case <-timer.C:
			registry, err := internal.NewFileSchemaRegistry(dir)
			if err != nil {
				zap.S().Errorw("reload entity definitions", "dir", dir, "error", err)
				continue
			}
			report := internal.NewReconciler(executor, registry).Run(ctx, tabula.ReconcileExtend)
			zap.S().Infow("definitions reloaded", "created", report.Created, "extended", report.Extended, "failures", len(report.Failures))
		}
	}
}

func isDefinitionEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	switch strings.ToLower(filepath.Ext(ev.Name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
