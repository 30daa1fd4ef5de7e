package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chainguard-dev/meshtest/internal/config"
	"github.com/chainguard-dev/meshtest/internal/pipeline"
)

func upCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Provision one cluster with the mesh installed and leave it running",
		Long: `up runs the provisioning half of the pipeline and stops: create a cluster,
load the images under test, install the control plane. The cluster is
recorded in the inventory; remove it later with "meshtest down <name>".`,
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
			rec, err := p.Up(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "cluster: %s\nexport KUBECONFIG=%s\n", rec.Name, rec.Kubeconfig)
			return nil
		},
	}
}
