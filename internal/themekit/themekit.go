package themekit

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/schaermu/themesync/internal/config"
	"github.com/schaermu/themesync/internal/proc"
)

// Client provides the Theme Kit operations used to publish a theme
type Client interface {
	// Deploy uploads dir to the remote theme, replacing its contents
	Deploy(ctx context.Context, dir string) error
	// Watch uploads changes under dir until ctx is cancelled
	Watch(ctx context.Context, dir string) error
	// Open opens the theme preview in a browser
	Open(ctx context.Context) error
	// Download fetches the remote theme into dir
	Download(ctx context.Context, dir string) error
	// IsAvailable checks if the theme command can be found
	IsAvailable(ctx context.Context) (bool, error)
}

// ShellClient implements Client by shelling out to the theme command
type ShellClient struct {
	command    string
	env        string
	configFile string
	workDir    string
	logger     *slog.Logger
}

// NewShellClient creates a new Theme Kit client
func NewShellClient(cfg *config.Config, logger *slog.Logger) *ShellClient {
	return &ShellClient{
		command:    cfg.Theme.Command,
		env:        cfg.Theme.Env,
		configFile: cfg.ThemeConfigPath(),
		workDir:    cfg.ProjectDir,
		logger:     logger,
	}
}

// Deploy runs theme deploy against dir
func (c *ShellClient) Deploy(ctx context.Context, dir string) error {
	cmd := c.newCmd(ctx, "deploy", "--dir", dir)
	if err := proc.Run(cmd); err != nil {
		return fmt.Errorf("theme deploy failed: %w", err)
	}
	return nil
}

// Watch runs theme watch against dir and forwards its output to the logger
func (c *ShellClient) Watch(ctx context.Context, dir string) error {
	cmd := c.newCmd(ctx, "watch", "--dir", dir)
	if err := proc.Stream(ctx, cmd, c.logger, "theme"); err != nil {
		return fmt.Errorf("theme watch failed: %w", err)
	}
	return nil
}

// Open runs theme open
func (c *ShellClient) Open(ctx context.Context) error {
	cmd := c.newCmd(ctx, "open")
	if err := proc.Run(cmd); err != nil {
		return fmt.Errorf("theme open failed: %w", err)
	}
	return nil
}

// Download runs theme download into dir
func (c *ShellClient) Download(ctx context.Context, dir string) error {
	cmd := c.newCmd(ctx, "download", "--dir", dir)
	if err := proc.Run(cmd); err != nil {
		return fmt.Errorf("theme download failed: %w", err)
	}
	return nil
}

// IsAvailable checks if the theme command is on PATH
func (c *ShellClient) IsAvailable(_ context.Context) (bool, error) {
	if _, err := exec.LookPath(c.command); err != nil {
		return false, fmt.Errorf("%s not available: %w", c.command, err)
	}
	return true, nil
}

func (c *ShellClient) newCmd(ctx context.Context, sub string, args ...string) *exec.Cmd {
	full := []string{sub, "--env", c.env}
	if c.configFile != "" {
		full = append(full, "--config", c.configFile)
	}
	full = append(full, args...)

	c.logger.Debug("running theme command", "command", c.command, "args", full)
	cmd := exec.CommandContext(ctx, c.command, full...)
	cmd.Dir = c.workDir
	return cmd
}
