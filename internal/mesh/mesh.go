// Package mesh abstracts how the service-mesh control plane under test gets
// onto a cluster: rendered by the mesh CLI and applied with kubectl, or
// installed from helm charts.
package mesh

import "context"

type Installer interface {
	// Install puts the control plane on the cluster.
	Install(context.Context) error

	// Upgrade moves an installed control plane to the version under test.
	Upgrade(context.Context) error

	// Check verifies the control plane's own health gates. pre runs the
	// pre-install checks against an empty cluster.
	Check(ctx context.Context, pre bool) error

	// Uninstall removes the control plane.
	Uninstall(context.Context) error
}
