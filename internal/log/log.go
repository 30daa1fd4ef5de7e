// Package log provides context-scoped logging helpers built on clog, plus an
// io.Writer adapter for streaming subprocess output through the logger.
package log

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/chainguard-dev/clog"
)

func Info(ctx context.Context, msg string, args ...any) {
	log(ctx, clog.FromContext(ctx), slog.LevelInfo, msg, args...)
}

func Debug(ctx context.Context, msg string, args ...any) {
	log(ctx, clog.FromContext(ctx), slog.LevelDebug, msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	log(ctx, clog.FromContext(ctx), slog.LevelWarn, msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	log(ctx, clog.FromContext(ctx), slog.LevelError, msg, args...)
}

func With(ctx context.Context, args ...any) context.Context {
	logger := clog.FromContext(ctx).With(args...)
	return clog.WithLogger(ctx, logger)
}

func log(ctx context.Context, l *clog.Logger, level slog.Level, msg string, args ...any) {
	if !l.Enabled(ctx, level) {
		return
	}

	var pc uintptr
	var pcs [1]uintptr
	// skip [runtime.Callers, this function, this function's caller]
	runtime.Callers(3, pcs[:])
	pc = pcs[0]

	r := slog.NewRecord(time.Now(), level, msg, pc)
	r.Add(args...)
	_ = l.Handler().Handle(ctx, r)
}

// Writer returns an io.WriteCloser that emits each line written to it as a
// log record at the given level. Used to stream subprocess stdout/stderr
// through the context logger without buffering whole runs in memory. Close
// flushes any trailing partial line.
func Writer(ctx context.Context, level slog.Level, args ...any) io.WriteCloser {
	pr, pw := io.Pipe()
	w := &lineWriter{pw: pw, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		l := clog.FromContext(ctx).With(args...)
		scanner := bufio.NewScanner(pr)
		// test binaries can emit lines well past the default 64k token limit
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			l.Log(ctx, level, scanner.Text())
		}
	}()

	return w
}

type lineWriter struct {
	pw   *io.PipeWriter
	done chan struct{}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *lineWriter) Close() error {
	err := w.pw.Close()
	<-w.done
	return err
}
