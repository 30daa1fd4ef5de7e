package commands

import (
	"github.com/spf13/cobra"

	"github.com/chainguard-dev/meshtest/internal/config"
	"github.com/chainguard-dev/meshtest/internal/pipeline"
)

func runCmd(cfgFile *string) *cobra.Command {
	var (
		driver       string
		skipTeardown bool
		keepGoing    bool
		parallel     int
		include      []string
		exclude      []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Provision clusters, install the mesh, and run the configured suites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			if driver != "" {
				cfg.Cluster.Driver = driver
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			inv, err := newInventory(cfg)
			if err != nil {
				return err
			}

			inc, err := parseLabels(include)
			if err != nil {
				return err
			}
			exc, err := parseLabels(exclude)
			if err != nil {
				return err
			}

			p := &pipeline.Pipeline{
				Config:       cfg,
				Inventory:    inv,
				Parallel:     parallel,
				KeepGoing:    keepGoing,
				SkipTeardown: skipTeardown,
				Include:      inc,
				Exclude:      exc,
			}
			return p.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&driver, "driver", "", "override the configured cluster driver (kind, k3d, existing)")
	cmd.Flags().BoolVar(&skipTeardown, "skip-teardown", false, "leave clusters running after the run")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "run every suite and group to completion, aggregating failures")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "number of suite groups to run concurrently, each on its own cluster")
	cmd.Flags().StringSliceVar(&include, "include", nil, "only run suites matching these key=value labels")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "skip suites matching these key=value labels")

	return cmd
}
