package commands

import (
	"github.com/spf13/cobra"

	"github.com/chainguard-dev/meshtest/internal/config"
	"github.com/chainguard-dev/meshtest/internal/pipeline"
)

func downCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "down <cluster|run-id>...",
		Short: "Delete recorded clusters by name or by run id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}

			inv, err := newInventory(cfg)
			if err != nil {
				return err
			}

			p := &pipeline.Pipeline{Config: cfg, Inventory: inv}
			return p.Down(cmd.Context(), args...)
		},
	}
}
