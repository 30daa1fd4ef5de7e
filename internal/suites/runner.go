package suites

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/meshtest/internal/exec"
	"github.com/chainguard-dev/meshtest/internal/log"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Runner executes planned suites as go test subprocesses.
type Runner struct {
	// GoBinary is the go tool to invoke. Defaults to "go".
	GoBinary string

	// Dir is the working directory for go test, typically the repo root
	// holding the integration packages.
	Dir string

	// Env is the run-level environment every suite receives (KUBECONFIG,
	// MESHTEST_* identifiers). Suite env is layered on top.
	Env map[string]string

	// KeepGoing continues past a failed suite, aggregating failures,
	// instead of aborting the group.
	KeepGoing bool

	// LogsDir and RunID place per-suite log files, when LogsDir is set.
	LogsDir string
	RunID   string
}

// SuiteError is a failed suite, preserving which one and how.
type SuiteError struct {
	Suite    string
	Code     int
	Duration time.Duration
	err      error
}

func (e *SuiteError) Error() string {
	return fmt.Sprintf("suite %q failed after %s (exit %d): %v", e.Suite, e.Duration.Round(time.Second), e.Code, e.err)
}

func (e *SuiteError) Unwrap() error { return e.err }

// RunGroup executes the group's suites in order on the cluster identified by
// the runner's environment. The first failure aborts the remainder unless
// KeepGoing is set, in which case failures are aggregated.
func (r *Runner) RunGroup(ctx context.Context, g Group) error {
	var errs *multierror.Error

	for _, s := range g.Suites {
		if err := r.runSuite(ctx, s); err != nil {
			if !r.KeepGoing {
				return err
			}
			errs = multierror.Append(errs, err)
		}
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}
	}

	return errs.ErrorOrNil()
}

func (r *Runner) runSuite(ctx context.Context, s Suite) error {
	ctx, span := otel.Tracer("meshtest").Start(ctx, "suite")
	defer span.End()
	span.SetAttributes(attribute.String("suite", s.Name), attribute.String("group", s.group()))

	ctx = log.With(ctx, "suite", s.Name)
	ctx, closeLog := log.SetupSuiteLogging(ctx, r.LogsDir, r.RunID, s.Name)
	defer closeLog()

	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	log.Info(ctx, "running suite", "path", s.Path, "timeout", s.timeout().String())
	start := time.Now()

	err := exec.Run(ctx, r.command(s))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.DeadlineExceeded) {
			return &SuiteError{Suite: s.Name, Code: -1, Duration: time.Since(start),
				err: fmt.Errorf("timed out after %s", s.timeout())}
		}

		code := -1
		var xerr *exec.Error
		if errors.As(err, &xerr) {
			code = xerr.Code
		}
		return &SuiteError{Suite: s.Name, Code: code, Duration: time.Since(start), err: err}
	}

	log.Info(ctx, "suite passed", "duration", time.Since(start).Round(time.Second).String())
	return nil
}

// command builds the go test invocation for a suite.
func (r *Runner) command(s Suite) exec.Command {
	goBin := r.GoBinary
	if goBin == "" {
		goBin = "go"
	}

	args := []string{"test", "-count=1", "-timeout", s.timeout().String()}
	args = append(args, s.Flags...)
	args = append(args, s.Path)

	env := make(map[string]string, len(r.Env)+len(s.Env)+1)
	for k, v := range r.Env {
		env[k] = v
	}
	for k, v := range s.Env {
		env[k] = v
	}
	env["MESHTEST_SUITE"] = s.Name

	return exec.Command{Name: goBin, Args: args, Dir: r.Dir, Env: env}
}
