// Package exec runs the external tools the harness delegates to (kubectl,
// k3d, the mesh CLI, go test), with context cancellation, env layering, and
// output streamed through the context logger.
package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	osexec "os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/chainguard-dev/meshtest/internal/log"
	"github.com/kballard/go-shellquote"
)

// Command describes a single subprocess invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   map[string]string // layered over the parent environment
	Stdin io.Reader

	// Stdout, when set, receives stdout verbatim instead of the logger.
	// Used when the output is an artifact (rendered manifests) rather than
	// progress noise.
	Stdout io.Writer
}

// String returns the shell-quoted command line, for logs and errors.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Run executes the command, streaming stdout and stderr line-by-line through
// the context logger. The returned error carries the command line, the exit
// status, and the tail of the output.
func Run(ctx context.Context, c Command) error {
	return run(ctx, c)
}

// Output executes the command and returns captured stdout. Stderr is still
// streamed through the logger.
func Output(ctx context.Context, c Command) (string, error) {
	var out strings.Builder
	c.Stdout = &out
	if err := run(ctx, c); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

func run(ctx context.Context, c Command) error {
	cmd := osexec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.Env = Environ(c.Env)
	// make sure cancellation reaches the whole process group, not just the
	// direct child (go test spawns the compiled test binaries)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminate(cmd) }

	tail := newTailBuffer(4096)

	stderr := log.Writer(ctx, slog.LevelInfo, "cmd", c.Name)
	defer stderr.Close()
	cmd.Stderr = io.MultiWriter(stderr, tail)

	if c.Stdout != nil {
		cmd.Stdout = io.MultiWriter(c.Stdout, tail)
	} else {
		stdout := log.Writer(ctx, slog.LevelInfo, "cmd", c.Name)
		defer stdout.Close()
		cmd.Stdout = io.MultiWriter(stdout, tail)
	}

	log.Debug(ctx, "exec", "command", c.String())

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", c.String(), ctx.Err())
		}
		return &Error{
			Command: c.String(),
			Code:    exitCode(err),
			Tail:    tail.String(),
			err:     err,
		}
	}
	return nil
}

// Error is a failed invocation.
type Error struct {
	Command string
	Code    int
	Tail    string
	err     error
}

func (e *Error) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.err)
	}
	return fmt.Sprintf("%s: %v\n%s", e.Command, e.err, e.Tail)
}

func (e *Error) Unwrap() error { return e.err }

func exitCode(err error) int {
	var xe *osexec.ExitError
	if errors.As(err, &xe) {
		return xe.ExitCode()
	}
	return -1
}

// LookPath reports whether the named binary is resolvable, with an error
// that names the tool.
func LookPath(name string) error {
	if _, err := osexec.LookPath(name); err != nil {
		return fmt.Errorf("%s not found in $PATH: %w", name, err)
	}
	return nil
}

// Environ layers extra variables over the parent environment. Keys are
// emitted in sorted order so invocations are reproducible in logs and tests.
func Environ(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// tailBuffer keeps the last n bytes written to it, for error reporting
// without holding entire subprocess output in memory. os/exec copies stdout
// and stderr on separate goroutines, and both pipes feed one tailBuffer, so
// Write and String must synchronize.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
