// Package pipeline sequences a run: provision clusters, load images, install
// the mesh, execute suites, tear down. Failure in any phase aborts the rest
// of that group's phases, but teardown still runs and failures there
// propagate into the run's result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/chainguard-dev/meshtest/internal/config"
	"github.com/chainguard-dev/meshtest/internal/drivers"
	"github.com/chainguard-dev/meshtest/internal/drivers/existing"
	"github.com/chainguard-dev/meshtest/internal/drivers/k3d"
	"github.com/chainguard-dev/meshtest/internal/drivers/kindcluster"
	"github.com/chainguard-dev/meshtest/internal/inventory"
	"github.com/chainguard-dev/meshtest/internal/k8s"
	"github.com/chainguard-dev/meshtest/internal/log"
	"github.com/chainguard-dev/meshtest/internal/o11y"
	"github.com/chainguard-dev/meshtest/internal/suites"
)

// teardownTimeout bounds cluster deletion in a context detached from the
// run's own, so a cancelled run still gets to clean up.
const teardownTimeout = 10 * time.Minute

type Pipeline struct {
	Config    *config.Config
	Inventory inventory.Inventory

	// Parallel caps concurrently running groups. Values <= 1 run groups
	// sequentially.
	Parallel int

	// KeepGoing runs every group and suite to completion, aggregating
	// failures, instead of aborting on the first.
	KeepGoing bool

	// SkipTeardown leaves clusters (and their inventory records) behind
	// for debugging. `meshtest down` removes them later.
	SkipTeardown bool

	// Include and Exclude filter suites by label before planning.
	Include, Exclude map[string]string
}

// Run executes the full pipeline for every planned suite group.
func (p *Pipeline) Run(ctx context.Context) error {
	runID := newRunID()
	ctx = log.With(ctx, o11y.AttrRunID, runID)

	// an empty plan is an error, not a silent pass
	plan, err := suites.BuildPlan(ctx, p.Config.Suites, p.Include, p.Exclude)
	if err != nil {
		return err
	}

	ctx, span := otel.Tracer(o11y.TracerName).Start(ctx, "run",
		trace.WithAttributes(attribute.String(o11y.AttrRunID, runID)))
	defer span.End()

	log.Info(ctx, "starting run",
		"groups", len(plan.Groups), "suites", plan.Names(), "driver", p.Config.Cluster.Driver)

	var (
		mu   sync.Mutex
		errs *multierror.Error
	)

	eg, gctx := errgroup.WithContext(ctx)
	if p.KeepGoing {
		// without cancellation on first failure, every group finishes
		gctx = ctx
	}
	eg.SetLimit(max(p.Parallel, 1))

	for _, grp := range plan.Groups {
		eg.Go(func() error {
			if err := p.runGroup(gctx, runID, grp); err != nil {
				if !p.KeepGoing {
					return err
				}
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := errs.ErrorOrNil(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// runGroup takes one suite group through the whole lifecycle on its own
// cluster.
func (p *Pipeline) runGroup(ctx context.Context, runID string, grp suites.Group) (rerr error) {
	ctx, span := otel.Tracer(o11y.TracerName).Start(ctx, "group",
		trace.WithAttributes(attribute.String(o11y.AttrGroup, grp.Name)))
	defer span.End()

	clusterName := p.clusterName(runID, grp.Name)
	ctx = log.With(ctx, o11y.AttrGroup, grp.Name, o11y.AttrCluster, clusterName)

	drv, err := p.newDriver(clusterName)
	if err != nil {
		return err
	}

	recorded := p.Config.Cluster.Driver != config.DriverExisting
	if recorded {
		// record before create, so a crash mid-setup still leaves a
		// trail for `meshtest clean`
		if err := p.Inventory.AddCluster(ctx, inventory.Cluster{
			RunID:     runID,
			Name:      clusterName,
			Driver:    p.Config.Cluster.Driver,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}

	defer func() {
		rerr = multierror.Append(rerr, p.teardown(ctx, drv, recorded)).ErrorOrNil()
	}()

	if err := p.phase(ctx, "setup", drv.Setup); err != nil {
		return fmt.Errorf("provisioning cluster %q: %w", clusterName, err)
	}

	if recorded {
		// the kubeconfig path only exists after setup
		if err := p.Inventory.RemoveCluster(ctx, clusterName); err != nil {
			return err
		}
		if err := p.Inventory.AddCluster(ctx, inventory.Cluster{
			RunID:      runID,
			Name:       clusterName,
			Driver:     p.Config.Cluster.Driver,
			Kubeconfig: drv.KubeconfigPath(),
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}
	}

	if err := p.phase(ctx, "load-images", func(ctx context.Context) error {
		return p.loadImages(ctx, drv)
	}); err != nil {
		return err
	}

	if err := p.phase(ctx, "install-mesh", func(ctx context.Context) error {
		return p.installMesh(ctx, drv)
	}); err != nil {
		k8s.DumpDiagnostics(ctx, drv.Clientset(), p.Config.Mesh.Namespace)
		return err
	}

	runner := &suites.Runner{
		Dir:       p.Config.TestDir,
		KeepGoing: p.KeepGoing,
		LogsDir:   p.Config.LogsDir,
		RunID:     runID,
		Env: map[string]string{
			"KUBECONFIG":              drv.KubeconfigPath(),
			"MESHTEST_RUN_ID":         runID,
			"MESHTEST_CLUSTER":        drv.Name(),
			"MESHTEST_MESH_NAMESPACE": p.Config.Mesh.Namespace,
		},
	}

	if err := p.phase(ctx, "run-suites", func(ctx context.Context) error {
		return runner.RunGroup(ctx, grp)
	}); err != nil {
		k8s.DumpDiagnostics(ctx, drv.Clientset(), p.Config.Mesh.Namespace)
		return err
	}

	return nil
}

// teardown unwinds a group's cluster in a context detached from the run's,
// with a fresh deadline: a cancelled or timed-out run must not strand the
// cluster. Inventory records are removed only after teardown succeeds.
func (p *Pipeline) teardown(ctx context.Context, drv drivers.Driver, recorded bool) error {
	if p.SkipTeardown {
		log.Info(ctx, "leaving cluster running", "kubeconfig", drv.KubeconfigPath())
		return nil
	}

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if err := p.phase(tctx, "teardown", drv.Teardown); err != nil {
		return fmt.Errorf("tearing down cluster %q: %w", drv.Name(), err)
	}

	if recorded {
		return p.Inventory.RemoveCluster(tctx, drv.Name())
	}
	return nil
}

// Up provisions a single cluster with the mesh installed and leaves it
// running. The returned record is also in the inventory, so `meshtest down`
// finds it later.
func (p *Pipeline) Up(ctx context.Context) (inventory.Cluster, error) {
	runID := newRunID()
	ctx = log.With(ctx, o11y.AttrRunID, runID)

	clusterName := p.clusterName(runID, "up")
	drv, err := p.newDriver(clusterName)
	if err != nil {
		return inventory.Cluster{}, err
	}

	if err := p.phase(ctx, "setup", drv.Setup); err != nil {
		return inventory.Cluster{}, fmt.Errorf("provisioning cluster %q: %w", clusterName, err)
	}

	rec := inventory.Cluster{
		RunID:      runID,
		Name:       clusterName,
		Driver:     p.Config.Cluster.Driver,
		Kubeconfig: drv.KubeconfigPath(),
		CreatedAt:  time.Now().UTC(),
	}
	if p.Config.Cluster.Driver != config.DriverExisting {
		if err := p.Inventory.AddCluster(ctx, rec); err != nil {
			return inventory.Cluster{}, err
		}
	}

	if err := p.loadImages(ctx, drv); err != nil {
		return rec, err
	}
	if err := p.installMesh(ctx, drv); err != nil {
		k8s.DumpDiagnostics(ctx, drv.Clientset(), p.Config.Mesh.Namespace)
		return rec, err
	}

	log.Info(ctx, "cluster is up", "cluster", rec.Name, "kubeconfig", rec.Kubeconfig)
	return rec, nil
}

// Down deletes previously recorded clusters, addressed by cluster name or
// by the run id that created them.
func (p *Pipeline) Down(ctx context.Context, names ...string) error {
	var errs *multierror.Error
	for _, n := range names {
		recs, err := p.resolve(ctx, n)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, rec := range recs {
			if err := p.deleteCluster(ctx, rec); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			errs = multierror.Append(errs, p.Inventory.RemoveCluster(ctx, rec.Name))
		}
	}
	return errs.ErrorOrNil()
}

// resolve maps one down argument to inventory records: an exact cluster
// name wins, otherwise every cluster of a matching run id.
func (p *Pipeline) resolve(ctx context.Context, arg string) ([]inventory.Cluster, error) {
	rec, err := p.Inventory.GetCluster(ctx, arg)
	if err == nil {
		return []inventory.Cluster{rec}, nil
	}
	var nf *inventory.ErrNotFound
	if !errors.As(err, &nf) {
		return nil, err
	}

	all, err := p.Inventory.ListClusters(ctx)
	if err != nil {
		return nil, err
	}
	var recs []inventory.Cluster
	for _, r := range all {
		if r.RunID == arg {
			recs = append(recs, r)
		}
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no recorded cluster or run matches %q", arg)
	}
	return recs, nil
}

// Clean deletes every cluster the inventory knows about, regardless of which
// run created it.
func (p *Pipeline) Clean(ctx context.Context) error {
	recs, err := p.Inventory.ListClusters(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		log.Info(ctx, "inventory is empty, nothing to clean")
		return nil
	}

	var errs *multierror.Error
	for _, rec := range recs {
		if err := p.deleteCluster(ctx, rec); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		errs = multierror.Append(errs, p.Inventory.RemoveCluster(ctx, rec.Name))
	}
	return errs.ErrorOrNil()
}

func (p *Pipeline) deleteCluster(ctx context.Context, rec inventory.Cluster) error {
	switch rec.Driver {
	case config.DriverKind:
		return kindcluster.Delete(ctx, rec.Name, rec.Kubeconfig)
	case config.DriverK3d:
		return k3d.Delete(ctx, rec.Name, rec.Kubeconfig)
	default:
		return fmt.Errorf("cluster %q has unknown driver %q", rec.Name, rec.Driver)
	}
}

// phase wraps one pipeline stage in a span and contextual logging.
func (p *Pipeline) phase(ctx context.Context, phase string, f func(context.Context) error) error {
	ctx, span := otel.Tracer(o11y.TracerName).Start(ctx, phase)
	defer span.End()

	ctx = log.With(ctx, "phase", phase)
	start := time.Now()

	if err := f(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	log.Debug(ctx, "phase complete", "duration", time.Since(start).Round(time.Millisecond).String())
	return nil
}

func (p *Pipeline) loadImages(ctx context.Context, drv drivers.Driver) error {
	if len(p.Config.Images) == 0 {
		return nil
	}

	refs := make([]name.Reference, 0, len(p.Config.Images))
	for _, img := range p.Config.Images {
		ref, err := name.ParseReference(img)
		if err != nil {
			return fmt.Errorf("parsing image reference %q: %w", img, err)
		}
		refs = append(refs, ref)
	}

	return drv.LoadImages(ctx, refs)
}

func (p *Pipeline) newDriver(clusterName string) (drivers.Driver, error) {
	c := p.Config.Cluster
	switch c.Driver {
	case config.DriverKind:
		return kindcluster.NewDriver(clusterName,
			kindcluster.WithNodeImage(c.NodeImage),
			kindcluster.WithWorkers(c.Workers),
			kindcluster.WithWaitTimeout(c.WaitTimeout),
			kindcluster.WithKubeconfigDir(c.KubeconfigDir),
			kindcluster.WithContainerdPatches(c.ContainerdPatches),
		)
	case config.DriverK3d:
		return k3d.NewDriver(clusterName, k3d.Options{
			NodeImage:     c.NodeImage,
			Agents:        c.Workers,
			WaitTimeout:   c.WaitTimeout,
			KubeconfigDir: c.KubeconfigDir,
		})
	case config.DriverExisting:
		return existing.NewDriver(clusterName)
	default:
		return nil, fmt.Errorf("unknown cluster driver %q", c.Driver)
	}
}

func (p *Pipeline) clusterName(runID, group string) string {
	return fmt.Sprintf("%s-%s-%s", p.Config.Cluster.NamePrefix, slug.Make(group), runID)
}

// newRunID is short enough to embed in cluster and resource names.
func newRunID() string {
	return uuid.NewString()[:8]
}
