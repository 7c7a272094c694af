package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/schaermu/themesync/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile    string
	logLevel   string
	logFormat  string
	projectDir string

	// build and deploy flags
	dryRun bool
	clean  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "themesync",
	Short: "Build, watch and deploy a Shopify theme",
	Long: `themesync keeps the deployable dist/ tree of a Shopify theme in step with its
src/ tree and drives the asset bundler and Theme Kit around it.

Raw theme files are mirrored into dist/, nested templates are flattened into
their top-level folder and media files are routed into assets/. Directories
produced by the bundler are left alone.`,
	SilenceUsage: true,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Mirror source changes and upload them while you work",
	Long: `Watch runs the bundler in watch mode, mirrors every change under src/ into
dist/ and runs "theme watch" on dist/ so changes reach the development theme.

A failing bundler or Theme Kit process is reported but does not stop the file
watcher. Stop the session with Ctrl+C.`,
	RunE: runWatch,
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Mirror the theme and run a production bundle",
	Long: `Build mirrors every theme file from src/ into dist/ and then runs the bundler
with its production configuration.`,
	RunE: runBuild,
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Build the theme and upload it with Theme Kit",
	Long: `Deploy runs a full build and uploads dist/ with "theme deploy". On success the
theme preview is opened. A failed build or upload is reported and nothing else
is attempted.`,
	RunE: runDeploy,
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the theme preview in a browser",
	RunE:  runOpen,
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the remote theme into the source tree",
	RunE:  runDownload,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("themesync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <project-dir>/"+config.DefaultFileName+" when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project-dir", ".", "theme project directory")

	for _, cmd := range []*cobra.Command{buildCmd, deployCmd} {
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be mirrored without making changes")
		cmd.Flags().BoolVar(&clean, "clean", false, "empty the destination tree before building")
	}

	// Add commands
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(versionCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setupApp()
	if err != nil {
		return err
	}
	return a.watch(ctx)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setupApp()
	if err != nil {
		return err
	}
	return a.build(ctx, buildOptions{dryRun: dryRun, clean: clean})
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setupApp()
	if err != nil {
		return err
	}
	return a.deploy(ctx, buildOptions{dryRun: dryRun, clean: clean})
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setupApp()
	if err != nil {
		return err
	}
	return a.open(ctx)
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setupApp()
	if err != nil {
		return err
	}
	return a.download(ctx)
}

func setupApp() (*app, error) {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return newApp(cfg, logger, os.Stdout)
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if cfgFile != "" {
		logger.Info("loading configuration", "path", cfgFile)
		cfg, err = config.Load(cfgFile)
	} else {
		dir, absErr := filepath.Abs(projectDir)
		if absErr != nil {
			return nil, fmt.Errorf("failed to resolve project directory: %w", absErr)
		}
		logger.Debug("looking for configuration", "project_dir", dir)
		cfg, err = config.LoadOrDefault(dir)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"project_dir", cfg.ProjectDir,
		"src", cfg.Paths.Src,
		"dist", cfg.Paths.Dist,
		"watch_mode", cfg.Watch.Mode,
		"media_routing", cfg.Watch.MediaRouting)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
