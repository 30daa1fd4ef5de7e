// Package existing runs against a cluster the caller already has, resolved
// through the usual kubeconfig loading rules. Nothing cluster-scoped is
// created or destroyed; teardown only unwinds what the harness itself made.
package existing

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/chainguard-dev/meshtest/internal/drivers"
	"github.com/chainguard-dev/meshtest/internal/harness"
)

type driver struct {
	name       string
	kubeconfig string
	kcli       kubernetes.Interface
	stack      *harness.Stack
}

func NewDriver(n string) (drivers.Driver, error) {
	d := &driver{
		name:  n,
		stack: harness.NewStack(),
	}

	config, err := rest.InClusterConfig()
	if err != nil {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		kcfg := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{})

		config, err = kcfg.ClientConfig()
		if err != nil {
			return nil, err
		}
		d.kubeconfig = rules.GetDefaultFilename()
	}

	kcli, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	d.kcli = kcli

	return d, nil
}

func (d *driver) Name() string { return d.name }

func (d *driver) KubeconfigPath() string { return d.kubeconfig }

func (d *driver) Clientset() kubernetes.Interface { return d.kcli }

// Setup only verifies the cluster is reachable and healthy.
func (d *driver) Setup(ctx context.Context) error {
	req := d.kcli.Discovery().RESTClient().Get().AbsPath("/healthz").Do(ctx)

	code := 0
	req.StatusCode(&code)

	if code != 200 {
		return fmt.Errorf("kubernetes cluster is not healthy")
	}

	return nil
}

func (d *driver) Teardown(ctx context.Context) error {
	return d.stack.Teardown(ctx)
}

// LoadImages is rejected: there are no nodes we own to side-load onto.
// Images must be pushed to a registry the cluster can pull from.
func (d *driver) LoadImages(_ context.Context, refs []name.Reference) error {
	if len(refs) == 0 {
		return nil
	}
	return fmt.Errorf("cannot load images into an existing cluster, push them to a reachable registry instead")
}
