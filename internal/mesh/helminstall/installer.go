// Package helminstall installs the control plane from its helm charts,
// minting the identity credentials the charts require.
package helminstall

import (
	"context"
	"fmt"
	"os"
	"time"

	helmclient "github.com/mittwald/go-helm-client"
	"helm.sh/helm/v3/pkg/repo"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/yaml"

	"github.com/chainguard-dev/meshtest/internal/k8s"
	"github.com/chainguard-dev/meshtest/internal/log"
	"github.com/chainguard-dev/meshtest/internal/mesh"
)

type Installer struct {
	// Kubeconfig pins the helm actions to one cluster.
	Kubeconfig string

	// Namespace is the control-plane namespace.
	Namespace string

	// ClusterDomain feeds the identity CN. Empty means cluster.local.
	ClusterDomain string

	// RepoURL is the chart repository, e.g. https://helm.linkerd.io/edge.
	RepoURL string

	// CRDsChart and Chart name the charts, repo-qualified. Defaults:
	// linkerd/linkerd-crds and linkerd/linkerd-control-plane.
	CRDsChart string
	Chart     string

	// ChartVersion pins both charts. Empty means latest.
	ChartVersion string

	// ReleaseName for the control-plane release.
	ReleaseName string

	// Timeout bounds each helm action.
	Timeout time.Duration

	// Clientset verifies convergence after the release lands. Optional;
	// when nil Check only trusts helm's own --wait.
	Clientset kubernetes.Interface

	// identity is minted on first Install and reused on Upgrade so the
	// trust anchors stay stable across the pipeline.
	identity *Identity

	// newClient is a test seam.
	newClient func() (helmclient.Client, error)
}

var _ mesh.Installer = (*Installer)(nil)

// deployments the control-plane chart creates, in check order.
var controlPlaneDeployments = []string{
	"linkerd-destination",
	"linkerd-identity",
	"linkerd-proxy-injector",
}

const repoName = "linkerd"

func (i *Installer) crdsChart() string {
	if i.CRDsChart == "" {
		return repoName + "/linkerd-crds"
	}
	return i.CRDsChart
}

func (i *Installer) chart() string {
	if i.Chart == "" {
		return repoName + "/linkerd-control-plane"
	}
	return i.Chart
}

func (i *Installer) releaseName() string {
	if i.ReleaseName == "" {
		return "linkerd-control-plane"
	}
	return i.ReleaseName
}

func (i *Installer) timeout() time.Duration {
	if i.Timeout <= 0 {
		return 10 * time.Minute
	}
	return i.Timeout
}

func (i *Installer) client() (helmclient.Client, error) {
	if i.newClient != nil {
		return i.newClient()
	}

	data, err := os.ReadFile(i.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("reading kubeconfig: %w", err)
	}

	return helmclient.NewClientFromKubeConf(&helmclient.KubeConfClientOptions{
		Options: &helmclient.Options{
			Namespace: i.Namespace,
		},
		KubeConfig: data,
	})
}

// values renders the control-plane chart values carrying the generated
// identity credentials.
func (i *Installer) values() (string, error) {
	if i.identity == nil {
		return "", fmt.Errorf("identity not generated")
	}

	v := map[string]any{
		"identityTrustAnchorsPEM": i.identity.TrustAnchorsPEM,
		"identity": map[string]any{
			"issuer": map[string]any{
				"tls": map[string]any{
					"crtPEM": i.identity.IssuerCrtPEM,
					"keyPEM": i.identity.IssuerKeyPEM,
				},
			},
		},
	}

	out, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling chart values: %w", err)
	}
	return string(out), nil
}

func (i *Installer) Install(ctx context.Context) error {
	client, err := i.client()
	if err != nil {
		return fmt.Errorf("creating helm client: %w", err)
	}

	log.Info(ctx, "adding chart repo", "name", repoName, "url", i.RepoURL)
	if err := client.AddOrUpdateChartRepo(repo.Entry{Name: repoName, URL: i.RepoURL}); err != nil {
		return fmt.Errorf("adding chart repo %s: %w", i.RepoURL, err)
	}

	if i.identity == nil {
		identity, err := GenerateIdentity(i.Namespace, i.ClusterDomain)
		if err != nil {
			return err
		}
		i.identity = identity
	}

	log.Info(ctx, "installing CRDs chart", "chart", i.crdsChart())
	if _, err := client.InstallOrUpgradeChart(ctx, &helmclient.ChartSpec{
		ReleaseName:     "linkerd-crds",
		ChartName:       i.crdsChart(),
		Namespace:       i.Namespace,
		Version:         i.ChartVersion,
		CreateNamespace: true,
		Wait:            true,
		Timeout:         i.timeout(),
	}, nil); err != nil {
		return fmt.Errorf("installing %s: %w", i.crdsChart(), err)
	}

	return i.installControlPlane(ctx, client)
}

// Upgrade is InstallOrUpgrade with the same identity: helm reconciles the
// release to the candidate chart while the trust anchors stay put.
func (i *Installer) Upgrade(ctx context.Context) error {
	client, err := i.client()
	if err != nil {
		return fmt.Errorf("creating helm client: %w", err)
	}

	if err := client.UpdateChartRepos(); err != nil {
		return fmt.Errorf("updating chart repos: %w", err)
	}

	return i.installControlPlane(ctx, client)
}

func (i *Installer) installControlPlane(ctx context.Context, client helmclient.Client) error {
	values, err := i.values()
	if err != nil {
		return err
	}

	log.Info(ctx, "installing control-plane chart", "chart", i.chart(), "version", i.ChartVersion)
	if _, err := client.InstallOrUpgradeChart(ctx, &helmclient.ChartSpec{
		ReleaseName:     i.releaseName(),
		ChartName:       i.chart(),
		Namespace:       i.Namespace,
		Version:         i.ChartVersion,
		ValuesYaml:      values,
		CreateNamespace: true,
		Atomic:          true,
		Wait:            true,
		Timeout:         i.timeout(),
	}, nil); err != nil {
		return fmt.Errorf("installing %s: %w", i.chart(), err)
	}

	return nil
}

// Check has no pre-install gate in helm mode; post-install it waits for the
// control-plane deployments to report available and their pods to be ready
// without restarts. A control-plane container that restarted during the
// wait is a failed install, not something to retry past.
func (i *Installer) Check(ctx context.Context, pre bool) error {
	if pre || i.Clientset == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout())
	defer cancel()

	for _, name := range controlPlaneDeployments {
		if err := k8s.WaitDeploymentAvailable(ctx, i.Clientset, i.Namespace, name); err != nil {
			k8s.DumpDiagnostics(ctx, i.Clientset, i.Namespace)
			return err
		}
	}

	selector := "linkerd.io/control-plane-ns=" + i.Namespace
	if err := k8s.CheckPodsReady(ctx, i.Clientset, i.Namespace, selector, len(controlPlaneDeployments)); err != nil {
		k8s.DumpDiagnostics(ctx, i.Clientset, i.Namespace)
		return err
	}
	return nil
}

func (i *Installer) Uninstall(ctx context.Context) error {
	client, err := i.client()
	if err != nil {
		return fmt.Errorf("creating helm client: %w", err)
	}

	log.Info(ctx, "uninstalling control-plane release", "release", i.releaseName())
	if err := client.UninstallReleaseByName(i.releaseName()); err != nil {
		return fmt.Errorf("uninstalling %s: %w", i.releaseName(), err)
	}
	if err := client.UninstallReleaseByName("linkerd-crds"); err != nil {
		return fmt.Errorf("uninstalling linkerd-crds: %w", err)
	}
	return nil
}
