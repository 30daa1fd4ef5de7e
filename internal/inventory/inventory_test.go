package inventory_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chainguard-dev/meshtest/internal/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/rand"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		wantErr bool
	}{
		{name: "default", backend: ""},
		{name: "file", backend: "file"},
		{name: "bolt", backend: "bolt"},
		{name: "sqlite", backend: "sqlite"},
		{name: "unknown", backend: "dynamo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inventory.New(tt.backend, filepath.Join(t.TempDir(), "inventory.db"))
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBackends(t *testing.T) {
	for _, backend := range []string{"file", "bolt", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			inv, err := inventory.New(backend, filepath.Join(t.TempDir(), "inventory.db"))
			require.NoError(t, err)

			ctx := context.Background()

			c1 := inventory.Cluster{
				RunID:      rand.String(6),
				Name:       "meshtest-" + rand.String(6),
				Driver:     "kind",
				Kubeconfig: "/tmp/kubeconfig",
				CreatedAt:  time.Now().Truncate(time.Second).UTC(),
			}
			c2 := inventory.Cluster{
				RunID:      c1.RunID,
				Name:       "meshtest-aaa",
				Driver:     "k3d",
				Kubeconfig: "/tmp/kubeconfig2",
				CreatedAt:  c1.CreatedAt,
			}

			require.NoError(t, inv.AddCluster(ctx, c1))
			require.NoError(t, inv.AddCluster(ctx, c2))

			// Duplicate names are a collision, not an upsert
			err = inv.AddCluster(ctx, c1)
			assert.Error(t, err, "expected error adding duplicate cluster")

			got, err := inv.GetCluster(ctx, c1.Name)
			require.NoError(t, err)
			assert.WithinDuration(t, c1.CreatedAt, got.CreatedAt, time.Second)
			got.CreatedAt, c1.CreatedAt = time.Time{}, time.Time{}
			assert.Equal(t, c1, got)

			// c2 sorts before the random-suffixed c1
			all, err := inv.ListClusters(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, c2.Name, all[0].Name)

			require.NoError(t, inv.RemoveCluster(ctx, c1.Name))

			_, err = inv.GetCluster(ctx, c1.Name)
			var nf *inventory.ErrNotFound
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, c1.Name, nf.Name)

			// Removing an absent record is fine
			require.NoError(t, inv.RemoveCluster(ctx, c1.Name))

			all, err = inv.ListClusters(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}
