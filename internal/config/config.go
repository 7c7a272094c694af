package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/themesync/internal/ignoreset"
)

// DefaultFileName is the config file looked up in the project directory
// when no explicit --config path is given.
const DefaultFileName = "themesync.yaml"

// WatchMode selects how filesystem changes are detected
type WatchMode string

const (
	WatchPoll   WatchMode = "poll"
	WatchNotify WatchMode = "notify"
)

// Config represents the complete themesync configuration
type Config struct {
	ProjectDir string        `yaml:"project_dir"`
	Paths      PathsConfig   `yaml:"paths"`
	Theme      ThemeConfig   `yaml:"theme"`
	Bundler    BundlerConfig `yaml:"bundler"`
	Watch      WatchConfig   `yaml:"watch"`
}

// PathsConfig configures the source and destination trees
type PathsConfig struct {
	Src  string `yaml:"src"`
	Dist string `yaml:"dist"`
}

// ThemeConfig configures the Theme Kit CLI
type ThemeConfig struct {
	Command    string `yaml:"command"`
	Env        string `yaml:"env"`
	ConfigFile string `yaml:"config_file"`
}

// BundlerConfig configures the asset bundler invocation
type BundlerConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	ProdConfig string   `yaml:"prod_config"`
	DevConfig  string   `yaml:"dev_config"`
}

// WatchConfig configures the file sync session
type WatchConfig struct {
	Mode         WatchMode     `yaml:"mode"`
	Interval     time.Duration `yaml:"interval"`
	Settle       time.Duration `yaml:"settle"`
	MediaRouting string        `yaml:"media_routing"`
	OwnedDirs    []string      `yaml:"owned_dirs"`
	Ignore       []string      `yaml:"ignore"`
}

// Default returns a configuration rooted at projectDir with every default applied
func Default(projectDir string) *Config {
	cfg := &Config{ProjectDir: projectDir}
	cfg.applyDefaults()
	cfg.resolvePaths("")
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg.resolvePaths(filepath.Dir(absPath))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads projectDir/themesync.yaml when it exists and falls
// back to Default otherwise.
func LoadOrDefault(projectDir string) (*Config, error) {
	path := filepath.Join(projectDir, DefaultFileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(projectDir), nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	return Load(path)
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.ProjectDir = os.ExpandEnv(c.ProjectDir)
	c.Paths.Src = os.ExpandEnv(c.Paths.Src)
	c.Paths.Dist = os.ExpandEnv(c.Paths.Dist)
	c.Theme.Command = os.ExpandEnv(c.Theme.Command)
	c.Theme.Env = os.ExpandEnv(c.Theme.Env)
	c.Theme.ConfigFile = os.ExpandEnv(c.Theme.ConfigFile)
	c.Bundler.Command = os.ExpandEnv(c.Bundler.Command)
	c.Bundler.ProdConfig = os.ExpandEnv(c.Bundler.ProdConfig)
	c.Bundler.DevConfig = os.ExpandEnv(c.Bundler.DevConfig)
	for i, arg := range c.Bundler.Args {
		c.Bundler.Args[i] = os.ExpandEnv(arg)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Paths.Src == "" {
		c.Paths.Src = "src"
	}
	if c.Paths.Dist == "" {
		c.Paths.Dist = "dist"
	}
	if c.Theme.Command == "" {
		c.Theme.Command = "theme"
	}
	if c.Theme.Env == "" {
		c.Theme.Env = "theme"
	}
	if c.Bundler.Command == "" {
		c.Bundler.Command = "npx"
		if len(c.Bundler.Args) == 0 {
			c.Bundler.Args = []string{"webpack"}
		}
	}
	if c.Bundler.ProdConfig == "" {
		c.Bundler.ProdConfig = "webpack.prod.js"
	}
	if c.Bundler.DevConfig == "" {
		c.Bundler.DevConfig = "webpack.dev.js"
	}
	if c.Watch.Mode == "" {
		c.Watch.Mode = WatchPoll
	}
	if c.Watch.Interval == 0 {
		c.Watch.Interval = time.Second
	}
	if c.Watch.Settle == 0 {
		c.Watch.Settle = time.Second
	}
	if c.Watch.MediaRouting == "" {
		c.Watch.MediaRouting = "intended"
	}
	if c.Watch.OwnedDirs == nil {
		c.Watch.OwnedDirs = append([]string(nil), ignoreset.DefaultOwnedDirs...)
	}
}

// resolvePaths makes ProjectDir absolute (relative to base, or the working
// directory when base is empty) and anchors Src and Dist under it.
func (c *Config) resolvePaths(base string) {
	if c.ProjectDir == "" {
		c.ProjectDir = "."
	}
	if !filepath.IsAbs(c.ProjectDir) {
		if base != "" {
			c.ProjectDir = filepath.Join(base, c.ProjectDir)
		} else if abs, err := filepath.Abs(c.ProjectDir); err == nil {
			c.ProjectDir = abs
		}
	}
	c.ProjectDir = filepath.Clean(c.ProjectDir)

	if !filepath.IsAbs(c.Paths.Src) {
		c.Paths.Src = filepath.Join(c.ProjectDir, c.Paths.Src)
	}
	if !filepath.IsAbs(c.Paths.Dist) {
		c.Paths.Dist = filepath.Join(c.ProjectDir, c.Paths.Dist)
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if !filepath.IsAbs(c.Paths.Src) {
		return fmt.Errorf("paths.src must resolve to an absolute path: %s", c.Paths.Src)
	}
	if !filepath.IsAbs(c.Paths.Dist) {
		return fmt.Errorf("paths.dist must resolve to an absolute path: %s", c.Paths.Dist)
	}
	if filepath.Clean(c.Paths.Src) == filepath.Clean(c.Paths.Dist) {
		return fmt.Errorf("paths.src and paths.dist must differ")
	}
	if isWithin(c.Paths.Src, c.Paths.Dist) {
		return fmt.Errorf("paths.dist must not be inside paths.src: %s", c.Paths.Dist)
	}

	switch c.Watch.Mode {
	case WatchPoll, WatchNotify:
		// valid
	default:
		return fmt.Errorf("invalid watch.mode: %s (must be poll or notify)", c.Watch.Mode)
	}

	switch c.Watch.MediaRouting {
	case "intended", "literal":
		// valid
	default:
		return fmt.Errorf("invalid watch.media_routing: %s (must be intended or literal)", c.Watch.MediaRouting)
	}

	if c.Watch.Interval < 0 {
		return fmt.Errorf("watch.interval must not be negative")
	}
	if c.Watch.Settle < 0 {
		return fmt.Errorf("watch.settle must not be negative")
	}

	for _, dir := range c.Watch.OwnedDirs {
		if dir == "" || path.IsAbs(dir) || strings.HasPrefix(path.Clean(dir), "..") {
			return fmt.Errorf("watch.owned_dirs entries must be relative to paths.src: %q", dir)
		}
	}

	if c.Theme.Env == "" {
		return fmt.Errorf("theme.env is required")
	}

	return nil
}

// BundlerProdConfigPath returns the production bundler config resolved
// against the project directory.
func (c *Config) BundlerProdConfigPath() string {
	return c.projectPath(c.Bundler.ProdConfig)
}

// BundlerDevConfigPath returns the development bundler config resolved
// against the project directory.
func (c *Config) BundlerDevConfigPath() string {
	return c.projectPath(c.Bundler.DevConfig)
}

// ThemeConfigPath returns the Theme Kit config file, or "" when unset
func (c *Config) ThemeConfigPath() string {
	if c.Theme.ConfigFile == "" {
		return ""
	}
	return c.projectPath(c.Theme.ConfigFile)
}

func (c *Config) projectPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

// isWithin reports whether target lies inside dir
func isWithin(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
