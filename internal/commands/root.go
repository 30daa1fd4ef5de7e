// Package commands is the meshtest CLI surface.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	charmlog "github.com/charmbracelet/log"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/chainguard-dev/meshtest/internal/config"
	"github.com/chainguard-dev/meshtest/internal/inventory"
)

func New() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "meshtest",
		Short: "Integration test harness for service mesh control planes",
		Long: `meshtest provisions ephemeral Kubernetes clusters, loads the images under
test, installs the mesh control plane, runs go test integration suites
against it, and tears everything down again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(logLevel)
			if err != nil {
				return err
			}
			cmd.SetContext(clog.WithLogger(cmd.Context(), logger))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the config file (default: meshtest.yaml in the working directory)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		runCmd(&cfgFile),
		upCmd(&cfgFile),
		downCmd(&cfgFile),
		cleanCmd(&cfgFile),
		versionCmd(),
	)

	return cmd
}

// newLogger fans every record out to the console and, when an OTLP logs
// endpoint is configured, to the otel bridge as well.
func newLogger(level string) (*clog.Logger, error) {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	handlers := []slog.Handler{
		charmlog.NewWithOptions(os.Stderr, charmlog.Options{
			Level:           lvl,
			ReportTimestamp: true,
		}),
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT") != "" {
		handlers = append(handlers, otelslog.NewHandler("meshtest"))
	}

	return clog.New(slogmulti.Fanout(handlers...)), nil
}

// newInventory opens the configured ledger, defaulting its path into the
// user cache dir so separate invocations see the same records.
func newInventory(cfg *config.Config) (inventory.Inventory, error) {
	path := cfg.Inventory.Path
	if path == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolving inventory path: %w", err)
		}
		path = filepath.Join(cache, "meshtest", "inventory.db")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	return inventory.New(cfg.Inventory.Backend, path)
}

// parseLabels turns repeated key=value flags into a label map.
func parseLabels(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid label %q, want key=value", p)
		}
		labels[k] = v
	}
	return labels, nil
}
