package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Errorf("failed to set up logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch os.Args[1] {
	case "plan":
		if err := runPlan(ctx, os.Args[2:], os.Stdout); err != nil {
			sugar.Fatalf("plan: %v", err)
		}
	case "reconcile":
		if err := runReconcile(ctx, os.Args[2:]); err != nil {
			sugar.Fatalf("reconcile: %v", err)
		}
	case "jsonschema":
		if err := runJSONSchema(os.Args[2:], os.Stdout); err != nil {
			sugar.Fatalf("jsonschema: %v", err)
		}
	default:
		sugar.Errorf("unknown command %q", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	logger := zap.S()
	logger.Info("Usage: tabula-tools <command> [options]")
	logger.Info("")
	logger.Info("Commands:")
	logger.Info("  plan         Print the DDL a reconciliation would run, without running it")
	logger.Info("  reconcile    Reconcile the database schema with the entity definitions")
	logger.Info("  jsonschema   Print the JSON Schema of registered entities")
}
