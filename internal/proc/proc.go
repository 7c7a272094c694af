// Package proc runs the external tools themesync drives.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// waitDelay bounds how long Wait keeps reading output after the process
// exited or was cancelled. Orphaned grandchildren may still hold the pipes.
const waitDelay = 2 * time.Second

// maxLine is the longest line buffered before it is logged unterminated
const maxLine = 1024 * 1024

// Run executes cmd and returns an error carrying its combined output on failure
func Run(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Stream executes cmd and forwards every stdout/stderr line to logger under
// the given source name. It blocks until the process exits. The process runs
// in its own group so cancelling ctx stops everything it spawned; a process
// killed that way is not reported as an error.
func Stream(ctx context.Context, cmd *exec.Cmd, logger *slog.Logger, source string) error {
	stdout := &lineWriter{logger: logger, source: source, level: slog.LevelInfo}
	stderr := &lineWriter{logger: logger, source: source, level: slog.LevelWarn}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	if err != nil && ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		logger.Debug("output still open after exit, stopped forwarding", "source", source)
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%s exited with code %d", source, exitErr.ExitCode())
	}
	return err
}

// lineWriter logs every complete line written to it
type lineWriter struct {
	logger *slog.Logger
	source string
	level  slog.Level

	mu  sync.Mutex
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) >= maxLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

// Flush logs a trailing line that was not newline-terminated
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(w.buf)
	w.buf = nil
}

func (w *lineWriter) emit(b []byte) {
	line := strings.TrimRight(string(b), "\r")
	if line == "" {
		return
	}
	w.logger.Log(context.Background(), w.level, line, "source", w.source)
}
