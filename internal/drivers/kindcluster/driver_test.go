package kindcluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"sigs.k8s.io/kind/pkg/apis/config/v1alpha4"
)

func TestNewDriverDefaults(t *testing.T) {
	dr, err := NewDriver("meshtest-abc")
	require.NoError(t, err)

	d := dr.(*driver)
	require.Equal(t, "meshtest-abc", d.Name())
	require.Equal(t, 1, d.Workers)
	require.Equal(t, 5*time.Minute, d.WaitTimeout)
}

func TestNewDriverOpts(t *testing.T) {
	dr, err := NewDriver("meshtest-abc",
		WithNodeImage("kindest/node:v1.32.0"),
		WithWorkers(3),
		WithWaitTimeout(2*time.Minute),
		WithKubeconfigDir("/tmp/kubeconfigs"),
	)
	require.NoError(t, err)

	d := dr.(*driver)
	require.Equal(t, "kindest/node:v1.32.0", d.NodeImage)
	require.Equal(t, 3, d.Workers)
	require.Equal(t, 2*time.Minute, d.WaitTimeout)
	require.Equal(t, "/tmp/kubeconfigs", d.KubeconfigDir)
}

func TestNewDriverRejectsNegativeWorkers(t *testing.T) {
	_, err := NewDriver("meshtest-abc", WithWorkers(-1))
	require.Error(t, err)
}

func TestClusterConfig(t *testing.T) {
	dr, err := NewDriver("meshtest-abc", WithNodeImage("kindest/node:v1.32.0"), WithWorkers(2))
	require.NoError(t, err)

	cfg := dr.(*driver).clusterConfig()
	require.Len(t, cfg.Nodes, 3)
	require.Equal(t, v1alpha4.ControlPlaneRole, cfg.Nodes[0].Role)
	for _, n := range cfg.Nodes[1:] {
		require.Equal(t, v1alpha4.WorkerRole, n.Role)
	}
	for _, n := range cfg.Nodes {
		require.Equal(t, "kindest/node:v1.32.0", n.Image)
	}
}
