package bundler

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/schaermu/themesync/internal/config"
	"github.com/schaermu/themesync/internal/proc"
)

// Bundler compiles the scripts and styles owned by the asset pipeline
type Bundler interface {
	// Build runs a one-off production build
	Build(ctx context.Context) error
	// Watch runs a development build in watch mode until ctx is cancelled
	// or the bundler exits
	Watch(ctx context.Context) error
}

// ShellBundler implements Bundler by shelling out to the configured command
type ShellBundler struct {
	dir        string
	command    string
	args       []string
	prodConfig string
	devConfig  string
	logger     *slog.Logger
}

// NewShellBundler creates a bundler that runs in the project directory
func NewShellBundler(cfg *config.Config, logger *slog.Logger) *ShellBundler {
	return &ShellBundler{
		dir:        cfg.ProjectDir,
		command:    cfg.Bundler.Command,
		args:       cfg.Bundler.Args,
		prodConfig: cfg.BundlerProdConfigPath(),
		devConfig:  cfg.BundlerDevConfigPath(),
		logger:     logger,
	}
}

// Build runs the bundler with the production config
func (b *ShellBundler) Build(ctx context.Context) error {
	cmd := b.newCmd(ctx, "--config", b.prodConfig)
	b.logger.Debug("running bundler", "args", cmd.Args)
	if err := proc.Run(cmd); err != nil {
		return fmt.Errorf("bundler build failed: %w", err)
	}
	return nil
}

// Watch runs the bundler with the development config in watch mode. Output
// is forwarded to the logger line by line.
func (b *ShellBundler) Watch(ctx context.Context) error {
	cmd := b.newCmd(ctx, "--config", b.devConfig, "--watch")
	b.logger.Debug("running bundler", "args", cmd.Args)
	if err := proc.Stream(ctx, cmd, b.logger, "bundler"); err != nil {
		return fmt.Errorf("bundler watch failed: %w", err)
	}
	return nil
}

func (b *ShellBundler) newCmd(ctx context.Context, extra ...string) *exec.Cmd {
	args := make([]string, 0, len(b.args)+len(extra))
	args = append(args, b.args...)
	args = append(args, extra...)
	cmd := exec.CommandContext(ctx, b.command, args...)
	cmd.Dir = b.dir
	return cmd
}
