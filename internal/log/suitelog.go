package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/gosimple/slug"
	slogmulti "github.com/samber/slog-multi"
)

// SetupSuiteLogging tees everything logged in the suite's context, including
// the streamed go test output, into a per-suite file under logsDir. The
// returned context carries the teed logger; the cleanup func closes the
// file. An empty logsDir disables file output.
func SetupSuiteLogging(ctx context.Context, logsDir, runID, suiteName string) (context.Context, func()) {
	if logsDir == "" {
		return ctx, func() {}
	}

	runDir := filepath.Join(logsDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		clog.WarnContext(ctx, "failed to create logs directory", "path", runDir, "error", err.Error())
		return ctx, func() {}
	}

	logPath := filepath.Join(runDir, slug.Make(suiteName)+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		clog.WarnContext(ctx, "failed to create suite log file", "path", logPath, "error", err.Error())
		return ctx, func() {}
	}

	handler := slogmulti.Fanout(
		clog.FromContext(ctx).Handler(),
		&fileHandler{w: logFile},
	)

	clog.InfoContext(ctx, "logging suite output to file", "path", logPath)
	ctx = clog.WithLogger(ctx, clog.New(handler))

	return ctx, func() {
		if err := logFile.Close(); err != nil {
			clog.WarnContext(ctx, "failed to close suite log file", "path", logPath, "error", err.Error())
		}
	}
}

// fileHandler writes record messages as plain lines, so the suite log reads
// like the go test output it mostly is.
type fileHandler struct {
	w *os.File
}

func (h *fileHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *fileHandler) Handle(_ context.Context, record slog.Record) error {
	_, err := fmt.Fprintln(h.w, record.Message)
	return err
}

func (h *fileHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *fileHandler) WithGroup(string) slog.Handler { return h }
