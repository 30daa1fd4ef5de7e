package k8s

import (
	"context"
	"io"
	"strings"

	"github.com/chainguard-dev/meshtest/internal/exec"
)

// Kubectl wraps the kubectl binary pinned to one cluster. Applying rendered
// manifests stays delegated to kubectl rather than reimplemented on the API,
// so the harness applies exactly what a user running the documented commands
// would.
type Kubectl struct {
	Kubeconfig string
}

// Apply pipes a rendered manifest into kubectl apply -f - with any extra
// args (prune flags, server-side) appended.
func (k Kubectl) Apply(ctx context.Context, manifest string, extra ...string) (string, error) {
	args := append([]string{"apply", "-f", "-"}, extra...)
	return k.run(ctx, strings.NewReader(manifest), args...)
}

// Delete removes the resources in a rendered manifest, tolerating ones that
// are already gone.
func (k Kubectl) Delete(ctx context.Context, manifest string) (string, error) {
	return k.run(ctx, strings.NewReader(manifest), "delete", "--ignore-not-found", "-f", "-")
}

// Run invokes kubectl with the given args.
func (k Kubectl) Run(ctx context.Context, args ...string) (string, error) {
	return k.run(ctx, nil, args...)
}

func (k Kubectl) run(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	if k.Kubeconfig != "" {
		args = append([]string{"--kubeconfig=" + k.Kubeconfig}, args...)
	}
	return exec.Output(ctx, exec.Command{
		Name:  "kubectl",
		Args:  args,
		Stdin: stdin,
	})
}
