// Package config loads and validates the harness configuration from a YAML
// file with MESHTEST_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/meshtest/internal/suites"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/spf13/viper"
)

type Config struct {
	Cluster   Cluster        `mapstructure:"cluster"`
	Images    []string       `mapstructure:"images"`
	Mesh      Mesh           `mapstructure:"mesh"`
	Suites    []suites.Suite `mapstructure:"suites"`
	Inventory Inventory      `mapstructure:"inventory"`

	// TestDir is the working directory go test runs in, typically the
	// checkout holding the integration packages.
	TestDir string `mapstructure:"testDir"`

	// LogsDir, when set, gets a per-suite log file with the streamed go
	// test output, grouped by run id.
	LogsDir string `mapstructure:"logsDir"`
}

type Cluster struct {
	// Driver selects the cluster backend: kind, k3d, or existing.
	Driver string `mapstructure:"driver"`

	// NamePrefix prefixes generated cluster names; the run id is appended.
	NamePrefix string `mapstructure:"namePrefix"`

	// NodeImage is the node image for kind/k3d, e.g. kindest/node:v1.32.0.
	NodeImage string `mapstructure:"nodeImage"`

	// Workers is the number of worker nodes (control plane excluded).
	Workers int `mapstructure:"workers"`

	// ContainerdPatches are toml fragments merged into the kind nodes'
	// containerd config, e.g. to register a local registry mirror.
	ContainerdPatches []string `mapstructure:"containerdPatches"`

	// WaitTimeout bounds cluster readiness after create.
	WaitTimeout time.Duration `mapstructure:"waitTimeout"`

	// KubeconfigDir is where per-cluster kubeconfigs are written. Empty
	// means the OS temp dir.
	KubeconfigDir string `mapstructure:"kubeconfigDir"`
}

type Mesh struct {
	// Mode selects the install path: cli (render + kubectl apply) or helm.
	Mode string `mapstructure:"mode"`

	// Namespace is the control-plane namespace.
	Namespace string `mapstructure:"namespace"`

	// Version is the control-plane version under test.
	Version string `mapstructure:"version"`

	// UpgradeFrom, when set, installs this version first and upgrades to
	// Version, verifying both stages.
	UpgradeFrom string `mapstructure:"upgradeFrom"`

	// CLIPath is the mesh CLI binary. Defaults to "linkerd" on $PATH.
	CLIPath string `mapstructure:"cliPath"`

	// ClusterDomain is propagated to the install when it isn't the
	// default cluster.local.
	ClusterDomain string `mapstructure:"clusterDomain"`

	// CNI installs the mesh CNI plugin before the control plane.
	CNI bool `mapstructure:"cni"`

	// Viz installs the viz extension after the control plane converges.
	Viz bool `mapstructure:"viz"`

	// Flags are extra arguments for the CLI install/upgrade.
	Flags []string `mapstructure:"flags"`

	// Helm-mode settings.
	HelmRepoURL      string `mapstructure:"helmRepoURL"`
	HelmCRDsChart    string `mapstructure:"helmCRDsChart"`
	HelmChart        string `mapstructure:"helmChart"`
	HelmChartVersion string `mapstructure:"helmChartVersion"`
	HelmReleaseName  string `mapstructure:"helmReleaseName"`

	// CheckTimeout bounds post-install verification (mesh check retries,
	// deployment waits).
	CheckTimeout time.Duration `mapstructure:"checkTimeout"`
}

type Inventory struct {
	// Backend: file, bolt, or sqlite.
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

const (
	DriverKind     = "kind"
	DriverK3d      = "k3d"
	DriverExisting = "existing"

	MeshModeCLI  = "cli"
	MeshModeHelm = "helm"
)

// Load reads the config file (path may be empty to search for meshtest.yaml
// in the working directory) and applies MESHTEST_* env overrides, e.g.
// MESHTEST_CLUSTER_DRIVER=k3d.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("cluster.driver", DriverKind)
	v.SetDefault("cluster.namePrefix", "meshtest")
	v.SetDefault("cluster.workers", 1)
	v.SetDefault("cluster.waitTimeout", "5m")
	v.SetDefault("mesh.mode", MeshModeCLI)
	v.SetDefault("mesh.namespace", "linkerd")
	v.SetDefault("mesh.cliPath", "linkerd")
	v.SetDefault("mesh.clusterDomain", "cluster.local")
	v.SetDefault("mesh.helmReleaseName", "linkerd-control-plane")
	v.SetDefault("mesh.checkTimeout", "10m")
	v.SetDefault("inventory.backend", "file")
	// registered empty so the MESHTEST_* env override binds
	v.SetDefault("inventory.path", "")
	v.SetDefault("testDir", "")
	v.SetDefault("logsDir", "")

	v.SetEnvPrefix("MESHTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("meshtest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// with no explicit path, a missing file just means defaults + env
		var nf viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &nf) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline can't execute, naming the
// offending key.
func (c *Config) Validate() error {
	switch c.Cluster.Driver {
	case DriverKind, DriverK3d, DriverExisting:
	default:
		return fmt.Errorf("cluster.driver: unknown driver %q", c.Cluster.Driver)
	}

	switch c.Mesh.Mode {
	case MeshModeCLI, MeshModeHelm:
	default:
		return fmt.Errorf("mesh.mode: unknown mode %q", c.Mesh.Mode)
	}

	if c.Mesh.Mode == MeshModeHelm && c.Mesh.HelmRepoURL == "" {
		return fmt.Errorf("mesh.helmRepoURL: required in helm mode")
	}

	if c.Cluster.Workers < 0 {
		return fmt.Errorf("cluster.workers: must be >= 0, got %d", c.Cluster.Workers)
	}

	// bad image refs should fail before any cluster exists
	for _, img := range c.Images {
		if _, err := name.ParseReference(img); err != nil {
			return fmt.Errorf("images: invalid reference %q: %w", img, err)
		}
	}

	if c.Cluster.Driver == DriverExisting && len(c.Images) > 0 {
		return fmt.Errorf("images: cannot be loaded into an existing cluster, push them to a reachable registry instead")
	}

	for _, s := range c.Suites {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("suites: %w", err)
		}
	}

	switch c.Inventory.Backend {
	case "", "file", "bolt", "sqlite":
	default:
		return fmt.Errorf("inventory.backend: unknown backend %q", c.Inventory.Backend)
	}

	return nil
}
