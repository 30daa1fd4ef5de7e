// Package drivers defines the cluster lifecycle backends the harness can
// provision test clusters with.
package drivers

import (
	"context"

	"github.com/google/go-containerregistry/pkg/name"
	"k8s.io/client-go/kubernetes"
)

// SkipTeardownEnv short-circuits every driver's Teardown when set to
// "true", leaving the cluster around for debugging.
const SkipTeardownEnv = "MESHTEST_SKIP_TEARDOWN"

// Driver owns one ephemeral cluster's lifecycle.
type Driver interface {
	// Name is the backing cluster's name, usable with the driver's own
	// tooling (kind delete cluster --name, etc).
	Name() string

	// Setup provisions the cluster. It must be called before anything else.
	Setup(context.Context) error

	// Teardown destroys the cluster and everything Setup created.
	Teardown(context.Context) error

	// KubeconfigPath is the kubeconfig written during Setup, handed to the
	// subprocesses the harness delegates to.
	KubeconfigPath() string

	// Clientset talks to the provisioned cluster. Only valid after Setup.
	Clientset() kubernetes.Interface

	// LoadImages makes local images available to the cluster's nodes.
	LoadImages(context.Context, []name.Reference) error
}
