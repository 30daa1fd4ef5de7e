// Package inventory is the ledger of clusters the harness has created. It
// exists so a crashed or interrupted run leaves enough behind for `meshtest
// clean` to find and delete what would otherwise leak.
package inventory

import (
	"context"
	"fmt"
	"time"
)

// Cluster is one provisioned cluster's record.
type Cluster struct {
	// RunID ties the cluster to the run that created it.
	RunID string `json:"run_id"`

	// Name is the cluster name as its driver knows it.
	Name string `json:"name"`

	// Driver names the backend that can delete it (kind, k3d).
	Driver string `json:"driver"`

	// Kubeconfig is the path written during setup.
	Kubeconfig string `json:"kubeconfig"`

	CreatedAt time.Time `json:"created_at"`
}

// Inventory persists cluster records across process lifetimes.
type Inventory interface {
	// AddCluster records a cluster. Recording an already-present name is
	// an error: it means two runs think they own the same cluster.
	AddCluster(context.Context, Cluster) error

	// RemoveCluster drops a record after successful teardown. Removing a
	// record that isn't there is not an error.
	RemoveCluster(ctx context.Context, name string) error

	// GetCluster fetches one record by cluster name.
	GetCluster(ctx context.Context, name string) (Cluster, error)

	// ListClusters returns every recorded cluster.
	ListClusters(context.Context) ([]Cluster, error)
}

// ErrNotFound is returned by GetCluster for unknown names.
type ErrNotFound struct {
	Name string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("cluster %q not found in inventory", e.Name)
}

// New builds the configured backend.
func New(backend, path string) (Inventory, error) {
	switch backend {
	case "", "file":
		return NewFile(path), nil
	case "bolt":
		return NewBolt(path)
	case "sqlite":
		return NewSqlite(path)
	default:
		return nil, fmt.Errorf("unknown inventory backend %q", backend)
	}
}
