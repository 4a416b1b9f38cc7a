package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lychee-technology/tabula"
	"github.com/lychee-technology/tabula/factory"
	"github.com/spf13/pflag"
)

// commonOptions are the flags shared by every command.
type commonOptions struct {
	configPath  string
	definitions string
	host        string
	port        int
	database    string
	user        string
	password    string
	mode        string
}

func newFlagSet(name, summary string, out io.Writer, opts *commonOptions) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetOutput(out)
	flags.Usage = func() {
		fmt.Fprintf(out, "Usage: tabula-tools %s [options]\n\n%s\n\nOptions:\n", name, summary)
		flags.PrintDefaults()
	}
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&opts.definitions, "definitions", "d", "", "directory of entity definition files (overrides reconcile.definitionsDir)")
	flags.StringVar(&opts.host, "db-host", "", "database host (env TABULA_DB_HOST)")
	flags.IntVar(&opts.port, "db-port", 0, "database port (env TABULA_DB_PORT)")
	flags.StringVar(&opts.database, "db-name", "", "database name (env TABULA_DB_NAME)")
	flags.StringVar(&opts.user, "db-user", "", "database user (env TABULA_DB_USER)")
	flags.StringVar(&opts.password, "db-password", "", "database password (env TABULA_DB_PASSWORD)")
	flags.StringVarP(&opts.mode, "mode", "m", "", "reconcile mode: IGNORE, CREATE, EXTEND or REBUILD (env TABULA_RECONCILE_MODE)")
	return flags
}

// parse returns done=true when help was requested.
func parse(flags *pflag.FlagSet, args []string) (done bool, err error) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// resolveConfig layers defaults, the config file, TABULA_* variables and flags.
func (o *commonOptions) resolveConfig() (*tabula.Config, error) {
	cfg := tabula.DefaultConfig()
	if o.configPath != "" {
		loaded, err := tabula.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if o.definitions != "" {
		cfg.Reconcile.DefinitionsDir = o.definitions
	}
	if o.host != "" {
		cfg.Database.Host = o.host
	}
	if o.port != 0 {
		cfg.Database.Port = o.port
	}
	if o.database != "" {
		cfg.Database.Database = o.database
	}
	if o.user != "" {
		cfg.Database.Username = o.user
	}
	if o.password != "" {
		cfg.Database.Password = o.password
	}
	if o.mode != "" {
		mode, err := tabula.ParseReconcileMode(o.mode)
		if err != nil {
			return nil, err
		}
		cfg.Reconcile.Mode = mode
	}
	if cfg.Reconcile.DefinitionsDir == "" {
		return nil, &tabula.ConfigError{Field: "reconcile.definitionsDir", Message: "a definitions directory is required"}
	}
	return cfg, cfg.Validate()
}

// connect starts the runtime without reconciling; commands reconcile explicitly.
func connect(ctx context.Context, cfg *tabula.Config) (*factory.Runtime, error) {
	startup := *cfg
	startup.Reconcile.Mode = tabula.ReconcileIgnore
	return factory.New(ctx, &startup, factory.Options{})
}
