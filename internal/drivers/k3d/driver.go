// Package k3d provisions ephemeral k3d clusters by shelling out to the k3d
// CLI, the same way a developer would.
package k3d

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-containerregistry/pkg/name"
	"k8s.io/client-go/kubernetes"

	"github.com/chainguard-dev/meshtest/internal/drivers"
	"github.com/chainguard-dev/meshtest/internal/exec"
	"github.com/chainguard-dev/meshtest/internal/harness"
	"github.com/chainguard-dev/meshtest/internal/k8s"
)

type driver struct {
	NodeImage     string
	Agents        int
	WaitTimeout   time.Duration
	KubeconfigDir string

	name       string
	kubeconfig string
	kcli       kubernetes.Interface
	stack      *harness.Stack
}

type Options struct {
	NodeImage     string
	Agents        int
	WaitTimeout   time.Duration
	KubeconfigDir string
}

func NewDriver(n string, opts Options) (drivers.Driver, error) {
	d := &driver{
		NodeImage:     opts.NodeImage,
		Agents:        opts.Agents,
		WaitTimeout:   opts.WaitTimeout,
		KubeconfigDir: opts.KubeconfigDir,

		name:  n,
		stack: harness.NewStack(),
	}
	if d.Agents < 0 {
		return nil, fmt.Errorf("agent count must be >= 0, got %d", d.Agents)
	}
	if d.WaitTimeout <= 0 {
		d.WaitTimeout = 5 * time.Minute
	}

	if err := exec.LookPath("k3d"); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *driver) k3d(ctx context.Context, args ...string) error {
	clog.FromContext(ctx).Infof("k3d %v", args)
	return exec.Run(ctx, exec.Command{Name: "k3d", Args: args})
}

func (d *driver) Name() string { return d.name }

func (d *driver) KubeconfigPath() string { return d.kubeconfig }

func (d *driver) Clientset() kubernetes.Interface { return d.kcli }

func (d *driver) Setup(ctx context.Context) error {
	args := []string{
		"cluster", "create", d.name,
		fmt.Sprintf("--agents=%d", d.Agents),
		"--kubeconfig-update-default=false",
		"--kubeconfig-switch-context=false",
		"--wait",
		"--timeout=" + d.WaitTimeout.String(),
	}
	if d.NodeImage != "" {
		args = append(args, "--image="+d.NodeImage)
	}

	if err := d.k3d(ctx, args...); err != nil {
		return fmt.Errorf("k3d cluster create: %w", err)
	}

	if err := d.stack.Add(func(ctx context.Context) error {
		if err := d.k3d(ctx, "cluster", "delete", d.name); err != nil {
			return fmt.Errorf("k3d cluster delete: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	kubeconfig, err := exec.Output(ctx, exec.Command{
		Name: "k3d",
		Args: []string{"kubeconfig", "get", d.name},
	})
	if err != nil {
		return fmt.Errorf("k3d kubeconfig get: %w", err)
	}

	dir := d.KubeconfigDir
	if dir == "" {
		dir = os.TempDir()
	}
	d.kubeconfig = filepath.Join(dir, d.name+".kubeconfig")
	if err := os.WriteFile(d.kubeconfig, []byte(kubeconfig), 0o600); err != nil {
		return fmt.Errorf("writing kubeconfig: %w", err)
	}

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

func (d *driver) LoadImages(ctx context.Context, refs []name.Reference) error {
	if len(refs) == 0 {
		return nil
	}

	args := []string{"image", "import", "--cluster=" + d.name}
	for _, ref := range refs {
		args = append(args, ref.Name())
	}

	if err := d.k3d(ctx, args...); err != nil {
		return fmt.Errorf("k3d image import: %w", err)
	}
	return nil
}

// Delete removes a cluster left behind by an earlier process, identified by
// its inventory record rather than a live driver.
func Delete(ctx context.Context, name, kubeconfig string) error {
	if err := exec.LookPath("k3d"); err != nil {
		return err
	}

	// a cluster that's already gone is pruned, not an error
	if err := exec.Run(ctx, exec.Command{Name: "k3d", Args: []string{"cluster", "get", name}}); err != nil {
		clog.FromContext(ctx).Infof("k3d cluster %s no longer exists, pruning its record", name)
	} else {
		clog.FromContext(ctx).Infof("deleting k3d cluster %s", name)
		if err := exec.Run(ctx, exec.Command{Name: "k3d", Args: []string{"cluster", "delete", name}}); err != nil {
			return fmt.Errorf("deleting k3d cluster %q: %w", name, err)
		}
	}

	if kubeconfig != "" {
		if err := os.Remove(kubeconfig); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing kubeconfig: %w", err)
		}
	}
	return nil
}
