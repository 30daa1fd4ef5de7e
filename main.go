package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/meshtest/internal/commands"
	"github.com/chainguard-dev/meshtest/internal/o11y"
)

func main() {
	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logShutdown, err := o11y.SetupLogging(ctx)
	if err != nil {
		return fmt.Errorf("setting up log export: %w", err)
	}
	defer logShutdown(context.Background()) //nolint:errcheck

	traceShutdown, err := o11y.SetupTracing(ctx)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	return commands.New().ExecuteContext(ctx)
}
