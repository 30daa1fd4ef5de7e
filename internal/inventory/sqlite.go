package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

var _ Inventory = &sqlite{}

const ddl = `
CREATE TABLE IF NOT EXISTS clusters (
	name TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	driver TEXT NOT NULL,
	kubeconfig TEXT NOT NULL,
	created_at INTEGER NOT NULL
);`

// sqlite stores records in a local sqlite database, for setups that want to
// query the ledger with ordinary tooling.
type sqlite struct {
	db *sql.DB
}

func NewSqlite(path string) (Inventory, error) {
	opts := url.Values{}
	opts.Set("_journal_mode", "WAL")
	opts.Set("_busy_timeout", "5000")

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?%s", path, opts.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory database: %w", err)
	}

	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("failed to open inventory database: %w", err)
	}

	db.SetMaxOpenConns(1)

	return &sqlite{db: db}, nil
}

// AddCluster implements Inventory.
func (s *sqlite) AddCluster(ctx context.Context, c Cluster) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clusters (name, run_id, driver, kubeconfig, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.Name, c.RunID, c.Driver, c.Kubeconfig, c.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record cluster %q: %w", c.Name, err)
	}
	return nil
}

// RemoveCluster implements Inventory.
func (s *sqlite) RemoveCluster(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clusters WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to remove cluster %q: %w", name, err)
	}
	return nil
}

// GetCluster implements Inventory.
func (s *sqlite) GetCluster(ctx context.Context, name string) (Cluster, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, run_id, driver, kubeconfig, created_at FROM clusters WHERE name = ?`, name)

	c, err := scanCluster(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cluster{}, &ErrNotFound{Name: name}
		}
		return Cluster{}, fmt.Errorf("failed to get cluster %q: %w", name, err)
	}
	return c, nil
}

// ListClusters implements Inventory.
func (s *sqlite) ListClusters(ctx context.Context) ([]Cluster, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, run_id, driver, kubeconfig, created_at FROM clusters ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer rows.Close()

	var clusters []Cluster
	for rows.Next() {
		c, err := scanCluster(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

func scanCluster(scan func(...any) error) (Cluster, error) {
	var c Cluster
	var createdAt int64
	if err := scan(&c.Name, &c.RunID, &c.Driver, &c.Kubeconfig, &createdAt); err != nil {
		return Cluster{}, err
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return c, nil
}
