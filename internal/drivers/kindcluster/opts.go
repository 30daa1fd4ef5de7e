package kindcluster

import (
	"fmt"
	"time"
)

type DriverOpts func(*driver) error

func WithNodeImage(image string) DriverOpts {
	return func(d *driver) error {
		d.NodeImage = image
		return nil
	}
}

func WithWorkers(n int) DriverOpts {
	return func(d *driver) error {
		if n < 0 {
			return fmt.Errorf("worker count must be >= 0, got %d", n)
		}
		d.Workers = n
		return nil
	}
}

func WithWaitTimeout(t time.Duration) DriverOpts {
	return func(d *driver) error {
		if t > 0 {
			d.WaitTimeout = t
		}
		return nil
	}
}

func WithKubeconfigDir(dir string) DriverOpts {
	return func(d *driver) error {
		d.KubeconfigDir = dir
		return nil
	}
}

// WithContainerdPatches merges toml fragments into every node's containerd
// config, e.g. to point registries at a local mirror.
func WithContainerdPatches(patches []string) DriverOpts {
	return func(d *driver) error {
		d.ContainerdPatches = patches
		return nil
	}
}
