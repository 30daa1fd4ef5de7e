package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/meshtest/internal/config"
	"github.com/chainguard-dev/meshtest/internal/drivers"
	"github.com/chainguard-dev/meshtest/internal/log"
	"github.com/chainguard-dev/meshtest/internal/mesh/helminstall"
	"github.com/chainguard-dev/meshtest/internal/mesh/linkerdcli"
)

// installMesh lands the control plane on the cluster. When an upgrade-from
// version is configured the older release goes in first and is verified, then
// the candidate upgrades it in place and is verified again.
func (p *Pipeline) installMesh(ctx context.Context, drv drivers.Driver) error {
	// no EnsureNamespace here: the CLI pre-checks fail when the
	// control-plane namespace already exists, and both install paths
	// create it themselves
	switch m := p.Config.Mesh; m.Mode {
	case config.MeshModeHelm:
		return p.installHelm(ctx, drv)
	default:
		return p.installCLI(ctx, drv)
	}
}

func (p *Pipeline) installCLI(ctx context.Context, drv drivers.Driver) error {
	m := p.Config.Mesh
	inst := p.cliInstaller(drv, m.CLIPath)

	v, err := inst.Version(ctx)
	if err != nil {
		return fmt.Errorf("mesh CLI is not usable: %w", err)
	}
	log.Info(ctx, "mesh CLI", "version", v)
	if m.Version != "" && !strings.Contains(v, m.Version) {
		return fmt.Errorf("mesh CLI reports %q, want version %s", strings.TrimSpace(v), m.Version)
	}

	if err := inst.Check(ctx, true); err != nil {
		return fmt.Errorf("pre-install checks: %w", err)
	}

	if m.UpgradeFrom == "" {
		return inst.Install(ctx)
	}

	// the initial install must come from the older release's CLI, which
	// is expected next to the configured binary as <cliPath>-<version>
	old := p.cliInstaller(drv, versionedBinary(m.CLIPath, m.UpgradeFrom))
	log.Info(ctx, "installing previous release before upgrade", "from", m.UpgradeFrom)
	if err := old.Install(ctx); err != nil {
		return fmt.Errorf("installing version %s: %w", m.UpgradeFrom, err)
	}

	return inst.Upgrade(ctx)
}

func (p *Pipeline) installHelm(ctx context.Context, drv drivers.Driver) error {
	m := p.Config.Mesh
	inst := p.helmInstaller(drv)

	if m.UpgradeFrom == "" {
		if err := inst.Install(ctx); err != nil {
			return err
		}
		return inst.Check(ctx, false)
	}

	inst.ChartVersion = m.UpgradeFrom
	log.Info(ctx, "installing previous chart before upgrade", "from", m.UpgradeFrom)
	if err := inst.Install(ctx); err != nil {
		return fmt.Errorf("installing chart version %s: %w", m.UpgradeFrom, err)
	}
	if err := inst.Check(ctx, false); err != nil {
		return fmt.Errorf("verifying chart version %s: %w", m.UpgradeFrom, err)
	}

	// same installer so the upgrade reuses the identity minted at install
	inst.ChartVersion = m.HelmChartVersion
	if err := inst.Upgrade(ctx); err != nil {
		return err
	}
	return inst.Check(ctx, false)
}

func (p *Pipeline) cliInstaller(drv drivers.Driver, binary string) *linkerdcli.Installer {
	m := p.Config.Mesh
	return &linkerdcli.Installer{
		Binary:        binary,
		Kubeconfig:    drv.KubeconfigPath(),
		Namespace:     m.Namespace,
		ClusterDomain: m.ClusterDomain,
		CNI:           m.CNI,
		Viz:           m.Viz,
		Flags:         m.Flags,
		CheckTimeout:  m.CheckTimeout,
	}
}

func (p *Pipeline) helmInstaller(drv drivers.Driver) *helminstall.Installer {
	m := p.Config.Mesh
	return &helminstall.Installer{
		Kubeconfig:    drv.KubeconfigPath(),
		Namespace:     m.Namespace,
		ClusterDomain: m.ClusterDomain,
		RepoURL:       m.HelmRepoURL,
		CRDsChart:     m.HelmCRDsChart,
		Chart:         m.HelmChart,
		ChartVersion:  m.HelmChartVersion,
		ReleaseName:   m.HelmReleaseName,
		Timeout:       m.CheckTimeout,
		Clientset:     drv.Clientset(),
	}
}

// versionedBinary names the CLI belonging to an older release, stored next
// to the primary binary as e.g. linkerd-stable-2.14.10.
func versionedBinary(binary, version string) string {
	if binary == "" {
		binary = "linkerd"
	}
	return binary + "-" + version
}
