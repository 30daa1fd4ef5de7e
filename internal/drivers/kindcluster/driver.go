// Package kindcluster provisions ephemeral kind clusters, using kind as a
// library rather than shelling out, and side-loads the images under test
// onto every node.
package kindcluster

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-containerregistry/pkg/name"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/kind/pkg/apis/config/v1alpha4"
	"sigs.k8s.io/kind/pkg/cluster"
	"sigs.k8s.io/kind/pkg/cluster/nodeutils"
	kindcmd "sigs.k8s.io/kind/pkg/cmd"

	"github.com/chainguard-dev/meshtest/internal/docker"
	"github.com/chainguard-dev/meshtest/internal/drivers"
	"github.com/chainguard-dev/meshtest/internal/harness"
	"github.com/chainguard-dev/meshtest/internal/k8s"
)

type driver struct {
	NodeImage         string        // node image for every role, empty means kind's default
	Workers           int           // worker count, control plane excluded
	WaitTimeout       time.Duration // readiness bound passed to kind's create
	KubeconfigDir     string        // where the kubeconfig lands, empty means os.TempDir
	ContainerdPatches []string      // toml fragments for the nodes' containerd config

	name       string
	kubeconfig string
	provider   *cluster.Provider
	kcli       kubernetes.Interface
	stack      *harness.Stack
}

func NewDriver(n string, opts ...DriverOpts) (drivers.Driver, error) {
	d := &driver{
		Workers:     1,
		WaitTimeout: 5 * time.Minute,

		name:  n,
		stack: harness.NewStack(),
		// kind's own logger keeps the progress output the CLI would show
		provider: cluster.NewProvider(cluster.ProviderWithLogger(kindcmd.NewLogger())),
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func (d *driver) Name() string { return d.name }

func (d *driver) KubeconfigPath() string { return d.kubeconfig }

func (d *driver) Clientset() kubernetes.Interface { return d.kcli }

// clusterConfig shapes the node topology kind provisions.
func (d *driver) clusterConfig() *v1alpha4.Cluster {
	cfg := &v1alpha4.Cluster{
		Nodes:                   []v1alpha4.Node{{Role: v1alpha4.ControlPlaneRole, Image: d.NodeImage}},
		ContainerdConfigPatches: d.ContainerdPatches,
	}
	for i := 0; i < d.Workers; i++ {
		cfg.Nodes = append(cfg.Nodes, v1alpha4.Node{Role: v1alpha4.WorkerRole, Image: d.NodeImage})
	}
	return cfg
}

func (d *driver) Setup(ctx context.Context) error {
	log := clog.FromContext(ctx)

	existing, err := d.provider.List()
	if err != nil {
		return fmt.Errorf("listing kind clusters: %w", err)
	}
	if slices.Contains(existing, d.name) {
		return fmt.Errorf("kind cluster %q already exists", d.name)
	}

	log.Infof("creating kind cluster %s", d.name)
	if err := d.provider.Create(
		d.name,
		cluster.CreateWithV1Alpha4Config(d.clusterConfig()),
		cluster.CreateWithWaitForReady(d.WaitTimeout),
		cluster.CreateWithDisplayUsage(false),
		cluster.CreateWithDisplaySalutation(false),
	); err != nil {
		return fmt.Errorf("creating kind cluster %q: %w", d.name, err)
	}

	if err := d.stack.Add(func(context.Context) error {
		return d.provider.Delete(d.name, d.kubeconfig)
	}); err != nil {
		return err
	}

	kubeconfig, err := d.provider.KubeConfig(d.name, false)
	if err != nil {
		return fmt.Errorf("fetching kubeconfig for %q: %w", d.name, err)
	}

	dir := d.KubeconfigDir
	if dir == "" {
		dir = os.TempDir()
	}
	d.kubeconfig = filepath.Join(dir, d.name+".kubeconfig")
	if err := os.WriteFile(d.kubeconfig, []byte(kubeconfig), 0o600); err != nil {
		return fmt.Errorf("writing kubeconfig: %w", err)
	}
	log.Infof("wrote kubeconfig to %s", d.kubeconfig)

	if err := d.stack.Add(func(context.Context) error {
		return os.Remove(d.kubeconfig)
	}); err != nil {
		return err
	}

	kcli, err := k8s.FromKubeconfig(d.kubeconfig)
	if err != nil {
		return err
	}
	d.kcli = kcli

	return nil
}

func (d *driver) Teardown(ctx context.Context) error {
	if os.Getenv(drivers.SkipTeardownEnv) == "true" {
		clog.FromContext(ctx).Infof("skipping teardown of %s due to %s=true", d.name, drivers.SkipTeardownEnv)
		return nil
	}
	return d.stack.Teardown(ctx)
}

// LoadImages saves the images from the local docker daemon and side-loads
// the archive onto every node, so pods can run them without a registry.
func (d *driver) LoadImages(ctx context.Context, refs []name.Reference) error {
	if len(refs) == 0 {
		return nil
	}

	log := clog.FromContext(ctx)

	dcli, err := docker.New()
	if err != nil {
		return fmt.Errorf("creating docker client: %w", err)
	}
	defer dcli.Close()

	for _, ref := range refs {
		ok, err := dcli.HasImage(ctx, ref)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("image %s not present in the local docker daemon", ref)
		}
	}

	archive, err := dcli.Save(ctx, refs)
	if err != nil {
		return err
	}
	defer archive.Close()

	// the archive is consumed once per node, so it has to hit disk first
	tmp, err := os.CreateTemp("", "meshtest-images-*.tar")
	if err != nil {
		return fmt.Errorf("creating image archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, archive); err != nil {
		tmp.Close()
		return fmt.Errorf("writing image archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	nodes, err := d.provider.ListNodes(d.name)
	if err != nil {
		return fmt.Errorf("listing nodes for %q: %w", d.name, err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no nodes found in cluster %q", d.name)
	}

	for _, node := range nodes {
		f, err := os.Open(tmp.Name())
		if err != nil {
			return err
		}
		err = nodeutils.LoadImageArchive(node, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("loading images into node %s: %w", node.String(), err)
		}
		log.Infof("loaded %d image(s) into node %s", len(refs), node.String())
	}

	return nil
}

// Delete removes a cluster left behind by an earlier process, identified by
// its inventory record rather than a live driver.
func Delete(ctx context.Context, name, kubeconfig string) error {
	provider := cluster.NewProvider(cluster.ProviderWithLogger(kindcmd.NewLogger()))

	clog.FromContext(ctx).Infof("deleting kind cluster %s", name)
	if err := provider.Delete(name, kubeconfig); err != nil {
		return fmt.Errorf("deleting kind cluster %q: %w", name, err)
	}

	if kubeconfig != "" {
		if err := os.Remove(kubeconfig); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing kubeconfig: %w", err)
		}
	}
	return nil
}
