package themekit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/schaermu/themesync/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeTheme installs an executable "theme" script that records its
// arguments and exits with code.
func fakeTheme(t *testing.T, code int) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	record := filepath.Join(dir, "args.txt")
	script := "#!/bin/sh\necho \"$@\" >> " + record + "\nexit " + strconv.Itoa(code) + "\n"
	bin := filepath.Join(dir, "theme")
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default(dir)
	cfg.Theme.Command = bin
	return cfg, record
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestCommands(t *testing.T) {
	cfg, record := fakeTheme(t, 0)
	c := NewShellClient(cfg, testLogger())
	ctx := context.Background()

	if err := c.Deploy(ctx, cfg.Paths.Dist); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if err := c.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Download(ctx, cfg.Paths.Src); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if err := c.Watch(ctx, cfg.Paths.Dist); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	want := []string{
		"deploy --env theme --dir " + cfg.Paths.Dist,
		"open --env theme",
		"download --env theme --dir " + cfg.Paths.Src,
		"watch --env theme --dir " + cfg.Paths.Dist,
	}
	got := readArgs(t, record)
	if len(got) != len(want) {
		t.Fatalf("got %d invocations, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("invocation %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCommands_ConfigFile(t *testing.T) {
	cfg, record := fakeTheme(t, 0)
	cfg.Theme.ConfigFile = "config.yml"
	cfg.Theme.Env = "staging"
	c := NewShellClient(cfg, testLogger())

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := "open --env staging --config " + filepath.Join(cfg.ProjectDir, "config.yml")
	if got := readArgs(t, record); got[0] != want {
		t.Errorf("args = %q, want %q", got[0], want)
	}
}

func TestDeploy_Failure(t *testing.T) {
	cfg, _ := fakeTheme(t, 1)
	c := NewShellClient(cfg, testLogger())

	err := c.Deploy(context.Background(), cfg.Paths.Dist)
	if err == nil || !strings.Contains(err.Error(), "theme deploy failed") {
		t.Fatalf("expected deploy failure, got %v", err)
	}
}

func TestIsAvailable(t *testing.T) {
	cfg, _ := fakeTheme(t, 0)
	ok, err := NewShellClient(cfg, testLogger()).IsAvailable(context.Background())
	if !ok || err != nil {
		t.Errorf("IsAvailable() = %v, %v", ok, err)
	}

	cfg.Theme.Command = filepath.Join(t.TempDir(), "no-such-theme")
	ok, err = NewShellClient(cfg, testLogger()).IsAvailable(context.Background())
	if ok || err == nil {
		t.Errorf("IsAvailable() for missing binary = %v, %v", ok, err)
	}
}
