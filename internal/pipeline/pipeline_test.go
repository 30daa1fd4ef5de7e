package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes"

	"github.com/chainguard-dev/meshtest/internal/config"
	"github.com/chainguard-dev/meshtest/internal/inventory"
)

type fakeDriver struct {
	name      string
	setups    int
	teardowns int
}

func (f *fakeDriver) Name() string                    { return f.name }
func (f *fakeDriver) Setup(context.Context) error     { f.setups++; return nil }
func (f *fakeDriver) Teardown(context.Context) error  { f.teardowns++; return nil }
func (f *fakeDriver) KubeconfigPath() string          { return "/tmp/" + f.name + ".kubeconfig" }
func (f *fakeDriver) Clientset() kubernetes.Interface { return nil }
func (f *fakeDriver) LoadImages(context.Context, []name.Reference) error {
	return nil
}

func TestClusterName(t *testing.T) {
	p := &Pipeline{Config: &config.Config{
		Cluster: config.Cluster{NamePrefix: "meshtest"},
	}}

	got := p.clusterName("a1b2c3d4", "Deep Upgrade")
	assert.Equal(t, "meshtest-deep-upgrade-a1b2c3d4", got)
}

func TestRunIDLength(t *testing.T) {
	id := newRunID()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, newRunID())
}

func TestVersionedBinary(t *testing.T) {
	assert.Equal(t, "linkerd-stable-2.14.10", versionedBinary("", "stable-2.14.10"))
	assert.Equal(t, "/opt/linkerd-edge-24.1.1", versionedBinary("/opt/linkerd", "edge-24.1.1"))
}

func TestNewDriverUnknown(t *testing.T) {
	p := &Pipeline{Config: &config.Config{
		Cluster: config.Cluster{Driver: "minikube"},
	}}

	_, err := p.newDriver("meshtest-x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minikube")
}

func TestTeardownSkip(t *testing.T) {
	inv := inventory.NewFile(filepath.Join(t.TempDir(), "inventory.json"))
	drv := &fakeDriver{name: "meshtest-x"}
	ctx := context.Background()

	p := &Pipeline{
		Config:       &config.Config{},
		Inventory:    inv,
		SkipTeardown: true,
	}
	require.NoError(t, p.teardown(ctx, drv, true))
	assert.Zero(t, drv.teardowns, "skip-teardown must not touch the cluster")

	p.SkipTeardown = false
	require.NoError(t, p.teardown(ctx, drv, true))
	assert.Equal(t, 1, drv.teardowns)
}

func TestTeardownRemovesRecord(t *testing.T) {
	inv := inventory.NewFile(filepath.Join(t.TempDir(), "inventory.json"))
	drv := &fakeDriver{name: "meshtest-x"}
	ctx := context.Background()

	require.NoError(t, inv.AddCluster(ctx, inventory.Cluster{Name: drv.name, Driver: "kind"}))

	p := &Pipeline{Config: &config.Config{}, Inventory: inv}
	require.NoError(t, p.teardown(ctx, drv, true))

	_, err := inv.GetCluster(ctx, drv.name)
	var nf *inventory.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestLoadImagesRejectsBadRef(t *testing.T) {
	p := &Pipeline{Config: &config.Config{
		Images: []string{"registry.example.com/ok:v1", "not a ref!!"},
	}}

	err := p.loadImages(context.Background(), &fakeDriver{name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a ref")
}
