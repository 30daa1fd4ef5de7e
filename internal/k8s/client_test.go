package k8s

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const kubeconfig = `apiVersion: v1
kind: Config
clusters:
- name: kind-meshtest
  cluster:
    server: https://127.0.0.1:6443
contexts:
- name: kind-meshtest
  context:
    cluster: kind-meshtest
    user: kind-meshtest
current-context: kind-meshtest
users:
- name: kind-meshtest
  user: {}
`

func TestFromKubeconfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, os.WriteFile(path, []byte(kubeconfig), 0o600))

	kcli, err := FromKubeconfig(path)
	require.NoError(t, err)
	require.NotNil(t, kcli)
}

func TestFromKubeconfigMissingFile(t *testing.T) {
	_, err := FromKubeconfig(filepath.Join(t.TempDir(), "nope"))
	require.ErrorContains(t, err, "building kubeconfig")
}
