package helminstall

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	helmclient "github.com/mittwald/go-helm-client"
	"github.com/stretchr/testify/require"
	"helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/repo"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"sigs.k8s.io/yaml"

	"github.com/chainguard-dev/meshtest/internal/k8s"
)

// fakeHelmClient records the repo entries and chart specs the installer
// hands to helm. Unused Client methods panic via the embedded nil.
type fakeHelmClient struct {
	helmclient.Client

	repos       []repo.Entry
	updated     bool
	specs       []*helmclient.ChartSpec
	uninstalled []string
}

func (f *fakeHelmClient) AddOrUpdateChartRepo(entry repo.Entry) error {
	f.repos = append(f.repos, entry)
	return nil
}

func (f *fakeHelmClient) UpdateChartRepos() error {
	f.updated = true
	return nil
}

func (f *fakeHelmClient) InstallOrUpgradeChart(_ context.Context, spec *helmclient.ChartSpec, _ *helmclient.GenericHelmOptions) (*release.Release, error) {
	f.specs = append(f.specs, spec)
	return nil, nil
}

func (f *fakeHelmClient) UninstallReleaseByName(name string) error {
	f.uninstalled = append(f.uninstalled, name)
	return nil
}

func TestGenerateIdentity(t *testing.T) {
	id, err := GenerateIdentity("linkerd", "")
	require.NoError(t, err)

	rootBlock, _ := pem.Decode([]byte(id.TrustAnchorsPEM))
	require.NotNil(t, rootBlock)
	root, err := x509.ParseCertificate(rootBlock.Bytes)
	require.NoError(t, err)
	require.True(t, root.IsCA)
	require.Equal(t, "identity.linkerd.cluster.local", root.Subject.CommonName)

	issuerBlock, _ := pem.Decode([]byte(id.IssuerCrtPEM))
	require.NotNil(t, issuerBlock)
	issuer, err := x509.ParseCertificate(issuerBlock.Bytes)
	require.NoError(t, err)
	require.True(t, issuer.IsCA)

	// the issuer must chain to the trust anchor
	pool := x509.NewCertPool()
	pool.AddCert(root)
	_, err = issuer.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	require.NoError(t, err)

	keyBlock, _ := pem.Decode([]byte(id.IssuerKeyPEM))
	require.NotNil(t, keyBlock)
	_, err = x509.ParseECPrivateKey(keyBlock.Bytes)
	require.NoError(t, err)
}

func TestGenerateIdentityCustomDomain(t *testing.T) {
	id, err := GenerateIdentity("linkerd", "custom.domain")
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(id.TrustAnchorsPEM))
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	require.Equal(t, "identity.linkerd.custom.domain", cert.Subject.CommonName)
}

func TestValues(t *testing.T) {
	i := &Installer{Namespace: "linkerd"}

	_, err := i.values()
	require.ErrorContains(t, err, "identity not generated")

	id, err := GenerateIdentity("linkerd", "")
	require.NoError(t, err)
	i.identity = id

	raw, err := i.values()
	require.NoError(t, err)

	var v struct {
		IdentityTrustAnchorsPEM string `json:"identityTrustAnchorsPEM"`
		Identity                struct {
			Issuer struct {
				TLS struct {
					CrtPEM string `json:"crtPEM"`
					KeyPEM string `json:"keyPEM"`
				} `json:"tls"`
			} `json:"issuer"`
		} `json:"identity"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(raw), &v))
	require.Equal(t, id.TrustAnchorsPEM, v.IdentityTrustAnchorsPEM)
	require.Equal(t, id.IssuerCrtPEM, v.Identity.Issuer.TLS.CrtPEM)
	require.Equal(t, id.IssuerKeyPEM, v.Identity.Issuer.TLS.KeyPEM)
}

func TestDefaults(t *testing.T) {
	i := &Installer{}
	require.Equal(t, "linkerd/linkerd-crds", i.crdsChart())
	require.Equal(t, "linkerd/linkerd-control-plane", i.chart())
	require.Equal(t, "linkerd-control-plane", i.releaseName())
	require.Equal(t, 10*time.Minute, i.timeout())
}

func TestInstall(t *testing.T) {
	fc := &fakeHelmClient{}
	i := &Installer{
		Namespace:    "linkerd",
		RepoURL:      "https://helm.linkerd.io/edge",
		ChartVersion: "2024.8.1",
		newClient:    func() (helmclient.Client, error) { return fc, nil },
	}

	require.NoError(t, i.Install(context.Background()))

	require.Len(t, fc.repos, 1)
	require.Equal(t, "linkerd", fc.repos[0].Name)
	require.Equal(t, "https://helm.linkerd.io/edge", fc.repos[0].URL)

	// CRDs first, then the control plane
	require.Len(t, fc.specs, 2)

	crds := fc.specs[0]
	require.Equal(t, "linkerd-crds", crds.ReleaseName)
	require.Equal(t, "linkerd/linkerd-crds", crds.ChartName)
	require.Equal(t, "linkerd", crds.Namespace)
	require.Equal(t, "2024.8.1", crds.Version)
	require.True(t, crds.CreateNamespace)
	require.True(t, crds.Wait)

	cp := fc.specs[1]
	require.Equal(t, "linkerd-control-plane", cp.ReleaseName)
	require.Equal(t, "linkerd/linkerd-control-plane", cp.ChartName)
	require.Equal(t, "2024.8.1", cp.Version)
	require.True(t, cp.Atomic)
	require.True(t, cp.Wait)

	require.NotNil(t, i.identity)
	require.Contains(t, cp.ValuesYaml, i.identity.TrustAnchorsPEM)
}

func TestUpgradeKeepsIdentity(t *testing.T) {
	fc := &fakeHelmClient{}
	i := &Installer{
		Namespace: "linkerd",
		RepoURL:   "https://helm.linkerd.io/edge",
		newClient: func() (helmclient.Client, error) { return fc, nil },
	}

	require.NoError(t, i.Install(context.Background()))
	anchors := i.identity.TrustAnchorsPEM

	i.ChartVersion = "2024.8.2"
	require.NoError(t, i.Upgrade(context.Background()))
	require.True(t, fc.updated)

	require.Len(t, fc.specs, 3)
	require.Equal(t, "2024.8.2", fc.specs[2].Version)
	require.Equal(t, anchors, i.identity.TrustAnchorsPEM)
	require.Contains(t, fc.specs[2].ValuesYaml, anchors)
}

func TestUninstall(t *testing.T) {
	fc := &fakeHelmClient{}
	i := &Installer{
		newClient: func() (helmclient.Client, error) { return fc, nil },
	}

	require.NoError(t, i.Uninstall(context.Background()))
	require.Equal(t, []string{"linkerd-control-plane", "linkerd-crds"}, fc.uninstalled)
}

func deployment(ns, name string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: name},
		Status: appsv1.DeploymentStatus{
			AvailableReplicas: 1,
			UpdatedReplicas:   1,
		},
	}
}

func controlPlanePod(ns, name string, ready bool, restarts int32) *corev1.Pod {
	status := corev1.ConditionFalse
	if ready {
		status = corev1.ConditionTrue
	}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: ns,
			Name:      name,
			Labels:    map[string]string{"linkerd.io/control-plane-ns": ns},
		},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: status}},
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: "main", RestartCount: restarts},
			},
		},
	}
}

func TestCheck(t *testing.T) {
	kcli := fake.NewClientset(
		deployment("linkerd", "linkerd-destination"),
		deployment("linkerd", "linkerd-identity"),
		deployment("linkerd", "linkerd-proxy-injector"),
		controlPlanePod("linkerd", "linkerd-destination-abc", true, 0),
		controlPlanePod("linkerd", "linkerd-identity-abc", true, 0),
		controlPlanePod("linkerd", "linkerd-proxy-injector-abc", true, 0),
	)

	i := &Installer{Namespace: "linkerd", Clientset: kcli, Timeout: 10 * time.Second}
	require.NoError(t, i.Check(context.Background(), false))
}

func TestCheckFailsOnRestartedPod(t *testing.T) {
	kcli := fake.NewClientset(
		deployment("linkerd", "linkerd-destination"),
		deployment("linkerd", "linkerd-identity"),
		deployment("linkerd", "linkerd-proxy-injector"),
		controlPlanePod("linkerd", "linkerd-destination-abc", true, 0),
		controlPlanePod("linkerd", "linkerd-identity-abc", true, 2),
		controlPlanePod("linkerd", "linkerd-proxy-injector-abc", true, 0),
	)

	i := &Installer{Namespace: "linkerd", Clientset: kcli, Timeout: 10 * time.Second}
	err := i.Check(context.Background(), false)

	var rce *k8s.RestartCountError
	require.ErrorAs(t, err, &rce)
	require.Equal(t, "linkerd-identity-abc", rce.Pod)
	require.Equal(t, int32(2), rce.Count)
}

func TestCheckPreIsNoop(t *testing.T) {
	i := &Installer{Namespace: "linkerd"}
	require.NoError(t, i.Check(context.Background(), true))
}
