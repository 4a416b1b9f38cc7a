package factory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/lychee-technology/tabula"
	"github.com/lychee-technology/tabula/cache"
	"github.com/lychee-technology/tabula/internal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options customise New. The zero value loads definitions from
// config.Reconcile.DefinitionsDir and connects with config.Database.
type Options struct {
	// Registry replaces the file based registry.
	Registry tabula.SchemaRegistry
	// Definitions are registered when neither Registry nor a definitions directory is set.
	Definitions []tabula.EntityDefinition
	// OnReconciled fires once, after startup reconciliation.
	OnReconciled func(*tabula.ReconcileReport)
	// Open replaces the MySQL connection opener.
	Open func() (*sql.DB, error)
}

// Runtime is a started data access layer.
type Runtime struct {
	engine   *tabula.Engine
	executor *internal.Executor
	cache    *cache.Engine
	report   *tabula.ReconcileReport
}

func (r *Runtime) Engine() *tabula.Engine { return r.engine }

func (r *Runtime) Cache() *cache.Engine { return r.cache }

// Report returns the startup reconciliation report.
func (r *Runtime) Report() *tabula.ReconcileReport { return r.report }

// WaitReady blocks until the executor holds a connection.
func (r *Runtime) WaitReady(ctx context.Context) error { return r.executor.WaitReady(ctx) }

// RunCachedQuery memoizes a read by name and params for ttl.
func (r *Runtime) RunCachedQuery(ctx context.Context, statement string, params []any, name string, ttl time.Duration) (*tabula.Result, error) {
	return r.executor.RunCachedQuery(ctx, statement, params, name, ttl)
}

// Close stops the connection supervisor and the cache sweeper.
func (r *Runtime) Close() {
	r.executor.Close()
	r.cache.Close()
}

// New wires registry, cache, executor and reconciler, waits for the first
// connection and reconciles the schema. ctx bounds the wait; the connection
// supervisor keeps running until Close.
//
// Usage:
//
//	config := tabula.DefaultConfig()
//	config.Database.Database = "app"
//	config.Reconcile.Mode = tabula.ReconcileCreate
//	rt, err := factory.New(ctx, config, factory.Options{Definitions: defs})
//	if err != nil {
//	    // handle error
//	}
//	defer rt.Close()
//	people, err := rt.Engine().From("person").QueryList(ctx)
func New(ctx context.Context, config *tabula.Config, opts Options) (*Runtime, error) {
	if config == nil {
		config = tabula.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	registry, err := NewRegistry(config, opts)
	if err != nil {
		return nil, err
	}

	open := opts.Open
	if open == nil {
		dsn := config.Database.DSN()
		open = func() (*sql.DB, error) { return sql.Open("mysql", dsn) }
	}

	resultCache := cache.New(config.Cache.DefaultTTL, config.Cache.CheckPeriod, config.Cache.DeleteOnExpire)
	executor := internal.NewExecutor(open, resultCache, config.Executor, config.Logging)
	executor.Start(context.Background())

	rt := &Runtime{
		engine:   tabula.NewEngine(registry, executor),
		executor: executor,
		cache:    resultCache,
	}

	zap.S().Infow("waiting for database connection", "host", config.Database.Host, "database", config.Database.Database)
	if err := executor.WaitReady(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("wait for database connection: %w", err)
	}

	reconciler := internal.NewReconciler(executor, registry)
	reconciler.OnReconciled(opts.OnReconciled)
	rt.report = reconciler.Run(ctx, config.Reconcile.Mode)
	return rt, nil
}

// NewRegistry returns opts.Registry, or a registry holding the definitions
// of config.Reconcile.DefinitionsDir, or one holding opts.Definitions.
func NewRegistry(config *tabula.Config, opts Options) (tabula.SchemaRegistry, error) {
	switch {
	case opts.Registry != nil:
		return opts.Registry, nil
	case config.Reconcile.DefinitionsDir != "":
		return internal.NewFileSchemaRegistry(config.Reconcile.DefinitionsDir)
	case len(opts.Definitions) > 0:
		registry := internal.NewSchemaRegistry()
		if err := registry.Register(opts.Definitions); err != nil {
			return nil, err
		}
		return registry, nil
	}
	return nil, &tabula.ConfigError{Field: "reconcile.definitionsDir", Message: "no entity definitions: set a definitions directory or pass definitions"}
}

// NewLogger builds a zap logger from the logging settings.
func NewLogger(cfg tabula.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, &tabula.ConfigError{Field: "logging.level", Message: err.Error()}
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}
