//go:build integration

package tier1

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const (
	shimLogName    = "shim.log"
	defaultTimeout = 2 * time.Minute
)

// themeShim records every Theme Kit invocation. THEME_SHIM_EXIT makes
// deploy fail with that code.
const themeShim = `#!/bin/sh
echo "theme $@" >> "$SHIM_LOG"
if [ "$1" = "deploy" ] && [ -n "$THEME_SHIM_EXIT" ]; then
  echo "deploy rejected" >&2
  exit "$THEME_SHIM_EXIT"
fi
if [ "$1" = "watch" ]; then
  trap 'exit 0' TERM INT
  while :; do sleep 1; done
fi
exit 0
`

// bundlerShim records every bundler invocation and blocks in watch mode
const bundlerShim = `#!/bin/sh
echo "bundler $@" >> "$SHIM_LOG"
for arg in "$@"; do
  if [ "$arg" = "--watch" ]; then
    trap 'exit 0' TERM INT
    while :; do sleep 1; done
  fi
done
exit 0
`

// Harness runs the themesync binary against a throwaway theme project with
// shims standing in for Theme Kit and the bundler.
type Harness struct {
	t          *testing.T
	binary     string
	ProjectDir string
	shimLog    string
	env        []string
}

// NewHarness builds the binary and lays out an empty project
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	root := t.TempDir()
	h := &Harness{
		t:          t,
		binary:     filepath.Join(root, "bin", "themesync"),
		ProjectDir: filepath.Join(root, "project"),
		shimLog:    filepath.Join(root, shimLogName),
	}
	h.env = append(os.Environ(), "SHIM_LOG="+h.shimLog)

	if err := h.build(); err != nil {
		t.Fatalf("build themesync: %v", err)
	}
	h.writeShim(filepath.Join(root, "bin", "theme"), themeShim)
	h.writeShim(filepath.Join(root, "bin", "bundler"), bundlerShim)

	h.WriteFile("themesync.yaml", fmt.Sprintf(`theme:
  command: %q
bundler:
  command: %q
  args: []
watch:
  interval: 50ms
  settle: 50ms
`, filepath.Join(root, "bin", "theme"), filepath.Join(root, "bin", "bundler")))

	return h
}

func (h *Harness) build() error {
	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/themesync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}
	return cmd.Run()
}

func (h *Harness) writeShim(path, script string) {
	h.t.Helper()
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		h.t.Fatalf("write shim %s: %v", path, err)
	}
}

// SetEnv adds an environment variable for subsequent runs
func (h *Harness) SetEnv(key, value string) {
	h.env = append(h.env, key+"="+value)
}

// Command prepares a themesync invocation in the project directory
func (h *Harness) Command(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{"--project-dir", h.ProjectDir}, args...)
	cmd := exec.CommandContext(ctx, h.binary, full...)
	cmd.Dir = h.ProjectDir
	cmd.Env = h.env
	return cmd
}

// Run executes themesync and returns its output and exit code
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()

	cmd := h.Command(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes themesync and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

// WriteFile writes a file relative to the project directory
func (h *Harness) WriteFile(rel, content string) {
	h.t.Helper()
	path := filepath.Join(h.ProjectDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		h.t.Fatalf("write file: %v", err)
	}
}

// ReadFile reads a file relative to the project directory
func (h *Harness) ReadFile(rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(h.ProjectDir, filepath.FromSlash(rel)))
	return string(data), err
}

// FileExists checks if a file exists relative to the project directory
func (h *Harness) FileExists(rel string) bool {
	info, err := os.Stat(filepath.Join(h.ProjectDir, filepath.FromSlash(rel)))
	return err == nil && !info.IsDir()
}

// WaitForFile polls until rel holds want or the context ends
func (h *Harness) WaitForFile(ctx context.Context, rel, want string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if got, err := h.ReadFile(rel); err == nil && got == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", rel, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ReadShimLog reads and parses the shim log
func (h *Harness) ReadShimLog() ([]ShimLogEntry, error) {
	h.t.Helper()
	content, err := os.ReadFile(h.shimLog)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []ShimLogEntry
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		entries = append(entries, ShimLogEntry{Tool: fields[0], Args: fields[1:]})
	}

	return entries, scanner.Err()
}

// ClearShimLog clears the shim log
func (h *Harness) ClearShimLog() error {
	err := os.Remove(h.shimLog)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ShimLogEntry is one recorded shim invocation
type ShimLogEntry struct {
	Tool string
	Args []string
}

// String returns a human-readable representation
func (e ShimLogEntry) String() string {
	return fmt.Sprintf("%s %s", e.Tool, strings.Join(e.Args, " "))
}

// HasArgs checks if the entry starts with the given arguments
func (e ShimLogEntry) HasArgs(args ...string) bool {
	if len(e.Args) < len(args) {
		return false
	}
	for i, arg := range args {
		if e.Args[i] != arg {
			return false
		}
	}
	return true
}

// ContainsArg checks if the entry contains a specific argument anywhere
func (e ShimLogEntry) ContainsArg(arg string) bool {
	for _, a := range e.Args {
		if a == arg {
			return true
		}
	}
	return false
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	// Get the directory of this source file
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)

	// Walk up the directory tree looking for go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root without finding go.mod
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
