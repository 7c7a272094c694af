package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/themesync/internal/bundler"
	"github.com/schaermu/themesync/internal/config"
	"github.com/schaermu/themesync/internal/console"
	"github.com/schaermu/themesync/internal/ignoreset"
	"github.com/schaermu/themesync/internal/pathmap"
	"github.com/schaermu/themesync/internal/sync"
	"github.com/schaermu/themesync/internal/themekit"
	"github.com/schaermu/themesync/internal/watch"
)

var (
	// errBuildFailed marks a bundler failure that has already been reported
	errBuildFailed = errors.New("build failed")

	errThemeKitMissing = errors.New("theme kit not available")
)

// app wires the collaborators behind every command
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	console *console.Console
	bundler bundler.Bundler
	theme   themekit.Client
	ignore  *ignoreset.Set
	engine  *sync.Engine

	// sessionOpts is adjusted by tests
	sessionOpts watch.Options
}

type buildOptions struct {
	dryRun bool
	clean  bool
}

func newApp(cfg *config.Config, logger *slog.Logger, out io.Writer) (*app, error) {
	routing, err := pathmap.ParseMediaRouting(cfg.Watch.MediaRouting)
	if err != nil {
		return nil, err
	}

	ignore := ignoreset.Resolve(cfg.Paths.Src, cfg.Watch.OwnedDirs, cfg.Watch.Ignore, logger)
	mapper := pathmap.NewMapper(pathmap.NewIndex(), routing)

	return &app{
		cfg:         cfg,
		logger:      logger,
		console:     console.New(out),
		bundler:     bundler.NewShellBundler(cfg, logger),
		theme:       themekit.NewShellClient(cfg, logger),
		ignore:      ignore,
		engine:      sync.NewEngine(cfg, mapper, ignore, logger),
		sessionOpts: watch.OptionsFromConfig(cfg),
	}, nil
}

func (a *app) ensureDist() error {
	if err := os.MkdirAll(a.cfg.Paths.Dist, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	return nil
}

// cleanDist removes everything inside the destination tree but keeps the
// directory itself.
func (a *app) cleanDist() error {
	entries, err := os.ReadDir(a.cfg.Paths.Dist)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read destination directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(a.cfg.Paths.Dist, e.Name())); err != nil {
			return fmt.Errorf("failed to clean destination directory: %w", err)
		}
	}
	a.logger.Info("destination cleaned", "dist", a.cfg.Paths.Dist, "entries", len(entries))
	return nil
}

// watch runs the file session next to the bundler and Theme Kit watchers.
// Only a failure of the file session ends the command.
func (a *app) watch(ctx context.Context) error {
	if err := a.ensureDist(); err != nil {
		return err
	}

	themeErr := a.requireTheme(ctx)

	session := watch.NewSession(a.sessionOpts, a.engine, a.ignore, a.logger)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.upstream(gctx, "bundler watch", a.bundler.Watch)
		return nil
	})
	g.Go(func() error {
		return session.Run(gctx)
	})
	if themeErr != nil {
		a.logger.Warn("running without theme watch", "error", themeErr)
		return g.Wait()
	}
	g.Go(func() error {
		a.upstream(gctx, "theme watch", func(ctx context.Context) error {
			return a.theme.Watch(ctx, a.cfg.Paths.Dist)
		})
		return nil
	})
	g.Go(func() error {
		a.upstream(gctx, "theme open", a.theme.Open)
		return nil
	})

	return g.Wait()
}

// requireTheme checks that Theme Kit can be run and reports it on the
// console when it cannot.
func (a *app) requireTheme(ctx context.Context) error {
	available, err := a.theme.IsAvailable(ctx)
	if err == nil && available {
		return nil
	}
	a.logger.Error("theme kit not available", "command", a.cfg.Theme.Command, "error", err)
	a.console.Warn("WARNING: THEME KIT NOT FOUND")
	if err != nil {
		return fmt.Errorf("%w: %w", errThemeKitMissing, err)
	}
	return errThemeKitMissing
}

// upstream runs an external collaborator and reports its failure without
// propagating it.
func (a *app) upstream(ctx context.Context, name string, run func(context.Context) error) {
	err := run(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		a.logger.Error(name+" failed", "error", err)
		a.console.Warn("WARNING: " + strings.ToUpper(name) + " FAILED")
		return
	}
	a.logger.Debug(name + " finished")
}

// build mirrors the theme and runs the production bundle. A bundler
// failure is reported on the console and returned wrapped in
// errBuildFailed.
func (a *app) build(ctx context.Context, opts buildOptions) error {
	if opts.clean {
		if opts.dryRun {
			a.logger.Info("dry-run, destination not cleaned", "dist", a.cfg.Paths.Dist)
		} else if err := a.cleanDist(); err != nil {
			return err
		}
	}
	if !opts.dryRun {
		if err := a.ensureDist(); err != nil {
			return err
		}
	}

	if _, err := a.engine.Mirror(ctx, opts.dryRun); err != nil {
		return err
	}
	if opts.dryRun {
		return nil
	}

	a.console.Info("Building bundles...")
	if err := a.bundler.Build(ctx); err != nil {
		a.logger.Error("bundler build failed", "error", err)
		a.console.Warn("WARNING: BUILD FAILED")
		return fmt.Errorf("%w: %w", errBuildFailed, err)
	}
	a.console.Success("Build successful")
	return nil
}

// deploy builds and uploads the theme. Upstream failures are reported and
// end the deployment without an error.
func (a *app) deploy(ctx context.Context, opts buildOptions) error {
	a.console.Info("Starting deployment process...")
	if !opts.dryRun {
		if err := a.requireTheme(ctx); err != nil {
			a.logger.Warn("deployment aborted")
			return nil
		}
		a.console.Warn("WARNING: STOPPING THE DEPLOYMENT PROCESS CAN RESULT IN FILE LOSS")
	}

	if err := a.build(ctx, opts); err != nil {
		if errors.Is(err, errBuildFailed) {
			a.logger.Warn("deployment aborted")
			return nil
		}
		return err
	}
	if opts.dryRun {
		a.logger.Info("dry-run, skipping upload")
		return nil
	}

	a.console.Info("Finished building bundles. Uploading...")
	if err := a.theme.Deploy(ctx, a.cfg.Paths.Dist); err != nil {
		a.logger.Error("deployment failed", "error", err)
		a.console.Warn("WARNING: DEPLOYMENT FAILED")
		return nil
	}
	a.console.Success("Deployment successful")

	if err := a.theme.Open(ctx); err != nil {
		a.logger.Warn("failed to open theme preview", "error", err)
	}
	return nil
}

func (a *app) open(ctx context.Context) error {
	if err := a.requireTheme(ctx); err != nil {
		return err
	}
	return a.theme.Open(ctx)
}

func (a *app) download(ctx context.Context) error {
	if err := a.requireTheme(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(a.cfg.Paths.Src, 0755); err != nil {
		return fmt.Errorf("failed to create source directory: %w", err)
	}
	a.console.Info("Downloading theme...")
	if err := a.theme.Download(ctx, a.cfg.Paths.Src); err != nil {
		return err
	}
	a.console.Success("Download successful")
	return nil
}
