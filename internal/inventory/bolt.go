package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/chainguard-dev/meshtest/internal/log"
)

var _ Inventory = &bolt{}

// bolt stores records in a bbolt database, which unlike the file backend is
// safe when several harness processes share one ledger.
type bolt struct {
	path string
}

var clustersBucket = []byte("clusters")

func NewBolt(path string) (Inventory, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory database: %w", err)
	}
	defer db.Close()

	return &bolt{path: path}, nil
}

// client opens the database per operation; bbolt holds an exclusive file
// lock, and the harness spends most of its life not touching the ledger.
func (b *bolt) client() (*bbolt.DB, error) {
	return bbolt.Open(b.path, 0o600, nil)
}

// AddCluster implements Inventory.
func (b *bolt) AddCluster(ctx context.Context, c Cluster) error {
	log.Info(ctx, "recording cluster in inventory", "cluster", c.Name, "driver", c.Driver)

	db, err := b.client()
	if err != nil {
		return fmt.Errorf("failed to open inventory database: %w", err)
	}
	defer db.Close()

	if err := db.Update(func(tx *bbolt.Tx) error {
		ib, err := tx.CreateBucketIfNotExists(clustersBucket)
		if err != nil {
			return fmt.Errorf("failed to create clusters bucket: %w", err)
		}

		if ib.Get([]byte(c.Name)) != nil {
			return fmt.Errorf("cluster %q already recorded", c.Name)
		}

		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal cluster: %w", err)
		}
		return ib.Put([]byte(c.Name), raw)
	}); err != nil {
		return fmt.Errorf("failed to record cluster: %w", err)
	}

	return nil
}

// RemoveCluster implements Inventory.
func (b *bolt) RemoveCluster(ctx context.Context, name string) error {
	log.Info(ctx, "removing cluster from inventory", "cluster", name)

	db, err := b.client()
	if err != nil {
		return fmt.Errorf("failed to open inventory database: %w", err)
	}
	defer db.Close()

	if err := db.Update(func(tx *bbolt.Tx) error {
		ib := tx.Bucket(clustersBucket)
		if ib == nil {
			return nil
		}
		return ib.Delete([]byte(name))
	}); err != nil {
		return fmt.Errorf("failed to remove cluster: %w", err)
	}

	return nil
}

// GetCluster implements Inventory.
func (b *bolt) GetCluster(ctx context.Context, name string) (Cluster, error) {
	db, err := b.client()
	if err != nil {
		return Cluster{}, fmt.Errorf("failed to open inventory database: %w", err)
	}
	defer db.Close()

	var c Cluster
	if err := db.View(func(tx *bbolt.Tx) error {
		ib := tx.Bucket(clustersBucket)
		if ib == nil {
			return &ErrNotFound{Name: name}
		}

		raw := ib.Get([]byte(name))
		if raw == nil {
			return &ErrNotFound{Name: name}
		}
		return json.Unmarshal(raw, &c)
	}); err != nil {
		return Cluster{}, err
	}

	return c, nil
}

// ListClusters implements Inventory.
func (b *bolt) ListClusters(ctx context.Context) ([]Cluster, error) {
	db, err := b.client()
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory database: %w", err)
	}
	defer db.Close()

	var clusters []Cluster
	if err := db.View(func(tx *bbolt.Tx) error {
		ib := tx.Bucket(clustersBucket)
		if ib == nil {
			return nil
		}

		return ib.ForEach(func(_, raw []byte) error {
			var c Cluster
			if err := json.Unmarshal(raw, &c); err != nil {
				return fmt.Errorf("failed to unmarshal cluster: %w", err)
			}
			clusters = append(clusters, c)
			return nil
		})
	}); err != nil {
		return nil, err
	}

	return clusters, nil
}
