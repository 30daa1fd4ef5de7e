package commands

import (
	"github.com/spf13/cobra"

	"github.com/chainguard-dev/meshtest/internal/config"
	"github.com/chainguard-dev/meshtest/internal/pipeline"
)

func cleanCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete every cluster the inventory knows about",
		Long: `clean sweeps up clusters left behind by interrupted or --skip-teardown
runs. Every inventory record is deleted along with its cluster.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}

			inv, err := newInventory(cfg)
			if err != nil {
				return err
			}

			p := &pipeline.Pipeline{Config: cfg, Inventory: inv}
			return p.Clean(cmd.Context())
		},
	}
}
