// docker holds useful things for interacting with the local docker daemon,
// which is where the images under test live before they are loaded into a
// cluster.
package docker

import (
	"context"
	"fmt"
	"io"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/client"
	"github.com/google/go-containerregistry/pkg/name"

	"github.com/chainguard-dev/meshtest/internal/log"
)

type Client struct {
	inner *client.Client
}

func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Client{inner: cli}, nil
}

func (c *Client) Close() error {
	return c.inner.Close()
}

// HasImage reports whether the daemon already has the image locally.
func (c *Client) HasImage(ctx context.Context, ref name.Reference) (bool, error) {
	_, _, err := c.inner.ImageInspectWithRaw(ctx, ref.Name())
	if err != nil {
		if cerrdefs.IsNotFound(err) || client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspecting image %s: %w", ref, err)
	}
	return true, nil
}

// Save streams a tar archive of the given images, suitable for side-loading
// into cluster nodes. The caller closes the reader.
func (c *Client) Save(ctx context.Context, refs []name.Reference) (io.ReadCloser, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.Name())
	}

	log.Debug(ctx, "saving images", "images", ids)

	rc, err := c.inner.ImageSave(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("saving images %v: %w", ids, err)
	}
	return rc, nil
}
