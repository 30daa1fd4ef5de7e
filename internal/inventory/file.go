package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

var _ Inventory = &file{}

// file is the default backend: a JSON document on disk, guarded by a
// process-local mutex. Good enough for one harness process per machine,
// which is the CI reality.
type file struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) Inventory {
	return &file{path: path}
}

type fileModel struct {
	Clusters map[string]Cluster `json:"clusters"`
}

// AddCluster implements Inventory.
func (i *file) AddCluster(ctx context.Context, c Cluster) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	data, err := i.read()
	if err != nil {
		return fmt.Errorf("failed to read inventory: %w", err)
	}

	if _, ok := data.Clusters[c.Name]; ok {
		return fmt.Errorf("cluster %q already recorded", c.Name)
	}

	data.Clusters[c.Name] = c
	return i.write(data)
}

// RemoveCluster implements Inventory.
func (i *file) RemoveCluster(ctx context.Context, name string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	data, err := i.read()
	if err != nil {
		return fmt.Errorf("failed to read inventory: %w", err)
	}

	if _, ok := data.Clusters[name]; !ok {
		return nil
	}

	delete(data.Clusters, name)
	return i.write(data)
}

// GetCluster implements Inventory.
func (i *file) GetCluster(ctx context.Context, name string) (Cluster, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	data, err := i.read()
	if err != nil {
		return Cluster{}, fmt.Errorf("failed to read inventory: %w", err)
	}

	c, ok := data.Clusters[name]
	if !ok {
		return Cluster{}, &ErrNotFound{Name: name}
	}
	return c, nil
}

// ListClusters implements Inventory.
func (i *file) ListClusters(ctx context.Context) ([]Cluster, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	data, err := i.read()
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	clusters := make([]Cluster, 0, len(data.Clusters))
	for _, c := range data.Clusters {
		clusters = append(clusters, c)
	}
	sort.Slice(clusters, func(a, b int) bool { return clusters[a].Name < clusters[b].Name })
	return clusters, nil
}

func (i *file) read() (*fileModel, error) {
	f, err := os.Open(i.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileModel{Clusters: map[string]Cluster{}}, nil
		}
		return nil, fmt.Errorf("inventory open error: %w", err)
	}
	defer f.Close()

	var inv fileModel
	if err := json.NewDecoder(f).Decode(&inv); err != nil {
		return nil, fmt.Errorf("inventory decode error: %w", err)
	}
	if inv.Clusters == nil {
		inv.Clusters = map[string]Cluster{}
	}

	return &inv, nil
}

func (i *file) write(data *fileModel) error {
	f, err := os.OpenFile(i.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("inventory open error: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(data); err != nil {
		return fmt.Errorf("inventory encode error: %w", err)
	}

	return nil
}
