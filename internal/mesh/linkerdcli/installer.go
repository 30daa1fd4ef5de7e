// Package linkerdcli installs the control plane the way the docs tell users
// to: render manifests with the linkerd CLI and apply them with kubectl.
package linkerdcli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/chainguard-dev/meshtest/internal/exec"
	"github.com/chainguard-dev/meshtest/internal/k8s"
	"github.com/chainguard-dev/meshtest/internal/log"
	"github.com/chainguard-dev/meshtest/internal/mesh"
)

type Installer struct {
	// Binary is the linkerd CLI. Defaults to "linkerd" on $PATH.
	Binary string

	// Kubeconfig pins every CLI and kubectl invocation to one cluster.
	Kubeconfig string

	// Namespace is the control-plane namespace, used for prune selectors.
	Namespace string

	// ClusterDomain is forwarded when it isn't the default cluster.local.
	ClusterDomain string

	// CNI renders and applies the CNI plugin before the control plane.
	CNI bool

	// Viz installs the viz extension after the control plane converges.
	Viz bool

	// Flags are extra arguments appended to install and upgrade.
	Flags []string

	// CheckTimeout bounds the post-install check retries.
	CheckTimeout time.Duration
}

var _ mesh.Installer = (*Installer)(nil)

func (i *Installer) binary() string {
	if i.Binary == "" {
		return "linkerd"
	}
	return i.Binary
}

func (i *Installer) checkTimeout() time.Duration {
	if i.CheckTimeout <= 0 {
		return 10 * time.Minute
	}
	return i.CheckTimeout
}

func (i *Installer) kubectl() k8s.Kubectl {
	return k8s.Kubectl{Kubeconfig: i.Kubeconfig}
}

// render runs the CLI and returns the rendered manifest on stdout.
func (i *Installer) render(ctx context.Context, args ...string) (string, error) {
	out, err := exec.Output(ctx, exec.Command{
		Name: i.binary(),
		Args: args,
		Env:  map[string]string{"KUBECONFIG": i.Kubeconfig},
	})
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", i.binary(), strings.Join(args, " "), err)
	}
	return out, nil
}

// Version returns the client version string, which also proves the binary
// runs at all before a cluster exists.
func (i *Installer) Version(ctx context.Context) (string, error) {
	out, err := i.render(ctx, "version", "--client", "--short")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// installArgs assembles the argument list for install or upgrade.
func (i *Installer) installArgs(cmd string) []string {
	args := []string{cmd}
	if i.CNI {
		args = append(args, "--linkerd-cni-enabled")
	}
	if i.ClusterDomain != "" && i.ClusterDomain != "cluster.local" {
		args = append(args, "--cluster-domain", i.ClusterDomain)
	}
	args = append(args, i.Flags...)
	return args
}

// pruneArgs limits upgrade pruning to resource kinds the control plane
// owns, so a label match on anything else can't get it deleted.
func (i *Installer) pruneArgs() []string {
	return []string{
		"--prune",
		"-l", "linkerd.io/control-plane-ns=" + i.Namespace,
		"--prune-allowlist", "rbac.authorization.k8s.io/v1/clusterrole",
		"--prune-allowlist", "rbac.authorization.k8s.io/v1/clusterrolebinding",
		"--prune-allowlist", "apiregistration.k8s.io/v1/apiservice",
	}
}

func (i *Installer) Install(ctx context.Context) error {
	if err := exec.LookPath(i.binary()); err != nil {
		return err
	}

	if i.CNI {
		if err := i.installCNI(ctx); err != nil {
			return err
		}
	}

	log.Info(ctx, "installing control plane via CLI")
	manifest, err := i.render(ctx, i.installArgs("install")...)
	if err != nil {
		return err
	}

	if out, err := i.kubectl().Apply(ctx, manifest); err != nil {
		return fmt.Errorf("applying control plane manifests: %w\n%s", err, out)
	}

	if err := i.Check(ctx, false); err != nil {
		return err
	}

	if i.Viz {
		return i.installViz(ctx)
	}
	return nil
}

func (i *Installer) Upgrade(ctx context.Context) error {
	log.Info(ctx, "upgrading control plane via CLI")

	manifest, err := i.render(ctx, i.installArgs("upgrade")...)
	if err != nil {
		return err
	}

	if out, err := i.kubectl().Apply(ctx, manifest, i.pruneArgs()...); err != nil {
		return fmt.Errorf("applying upgraded control plane manifests: %w\n%s", err, out)
	}

	return i.Check(ctx, false)
}

// Check runs the CLI's own health checks, retrying until they pass or the
// timeout lapses. --wait=0 keeps each attempt from blocking internally so
// the retry cadence stays ours.
func (i *Installer) Check(ctx context.Context, pre bool) error {
	args := []string{"check", "--wait=0"}
	if pre {
		args = []string{"check", "--pre", "--wait=0"}
	}

	ctx, cancel := context.WithTimeout(ctx, i.checkTimeout())
	defer cancel()

	var lastErr error
	err := wait.PollUntilContextCancel(ctx, 10*time.Second, true, func(ctx context.Context) (bool, error) {
		if _, err := i.render(ctx, args...); err != nil {
			lastErr = err
			log.Debug(ctx, "check not passing yet", "error", err)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if lastErr != nil {
			return fmt.Errorf("mesh check did not pass within %s: %w", i.checkTimeout(), lastErr)
		}
		return fmt.Errorf("mesh check did not pass within %s: %w", i.checkTimeout(), err)
	}
	return nil
}

func (i *Installer) installCNI(ctx context.Context) error {
	log.Info(ctx, "installing CNI plugin")

	manifest, err := i.render(ctx, "install-cni", "--use-wait-flag")
	if err != nil {
		return err
	}

	if out, err := i.kubectl().Apply(ctx, manifest); err != nil {
		return fmt.Errorf("applying CNI manifests: %w\n%s", err, out)
	}
	return nil
}

func (i *Installer) installViz(ctx context.Context) error {
	log.Info(ctx, "installing viz extension")

	manifest, err := i.render(ctx, "viz", "install")
	if err != nil {
		return err
	}

	if out, err := i.kubectl().Apply(ctx, manifest); err != nil {
		return fmt.Errorf("applying viz manifests: %w\n%s", err, out)
	}
	return nil
}

func (i *Installer) Uninstall(ctx context.Context) error {
	log.Info(ctx, "uninstalling control plane")

	if i.Viz {
		if manifest, err := i.render(ctx, "viz", "uninstall"); err == nil {
			if _, err := i.kubectl().Delete(ctx, manifest); err != nil {
				return fmt.Errorf("deleting viz manifests: %w", err)
			}
		}
	}

	manifest, err := i.render(ctx, "uninstall")
	if err != nil {
		return err
	}

	if _, err := i.kubectl().Delete(ctx, manifest); err != nil {
		return fmt.Errorf("deleting control plane manifests: %w", err)
	}
	return nil
}
