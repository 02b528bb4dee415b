// internal/config/config.go
//
// This package handles configuration and the .relive directory structure.
// Every project that uses relive gets a .relive/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// ProjectDirName is the name of the directory we create in each project
	ProjectDirName = ".relive"

	DefaultFilter       = "*.go"
	DefaultDebounce     = 500 * time.Millisecond
	DefaultPollInterval = time.Second
	DefaultStopGrace    = 2 * time.Second
	DefaultArtifact     = "view.go"
	DefaultSourceDir    = "view"
)

const defaultProjectConfigYAML = `# relive project configuration
version: 1

# Source tree watched for changes. Paths are relative to the project root.
watch:
  root: .
  filter: "*.go"
  debounce: 500ms
  ignore: [.git, .relive, node_modules, vendor]

# Build tool. Leave command empty to use the bundled "relive bundle --watch",
# which merges the package in source_dir into a single artifact.
# Set watch: false for one-shot tools; relive then reruns them on every change.
build:
  command: []
  watch: true
  source_dir: view
  output_dir: .relive/bin
  artifact: view.go
  stop_grace: 2s

# How often the artifact fingerprint is checked.
poll:
  interval: 1s

host:
  title: ""
  headless: false

log:
  file: .relive/logs/reload.log
  verbose: false
`

// WatchConfig describes the source tree observed for changes.
type WatchConfig struct {
	Root     string        `yaml:"root"`
	Filter   string        `yaml:"filter"`
	Debounce time.Duration `yaml:"debounce"`
	Ignore   []string      `yaml:"ignore,omitempty"`
}

// BuildConfig describes the external build tool and where it writes.
type BuildConfig struct {
	Command   []string      `yaml:"command,omitempty"`
	Watch     bool          `yaml:"watch"`
	SourceDir string        `yaml:"source_dir"`
	OutputDir string        `yaml:"output_dir"`
	Artifact  string        `yaml:"artifact"`
	StopGrace time.Duration `yaml:"stop_grace"`
}

// PollConfig tunes the artifact fingerprint check.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// HostConfig tunes the surface that displays produced content.
type HostConfig struct {
	Title    string `yaml:"title"`
	Headless bool   `yaml:"headless"`
}

// LogConfig tunes the reload log.
type LogConfig struct {
	File    string `yaml:"file"`
	Verbose bool   `yaml:"verbose"`
}

// ProjectConfig models .relive/config.yaml.
type ProjectConfig struct {
	Version int         `yaml:"version"`
	Watch   WatchConfig `yaml:"watch"`
	Build   BuildConfig `yaml:"build"`
	Poll    PollConfig  `yaml:"poll"`
	Host    HostConfig  `yaml:"host"`
	Log     LogConfig   `yaml:"log"`
}

// Config holds the runtime configuration for relive.
type Config struct {
	// ProjectDir is the directory being reloaded
	ProjectDir string

	// ReliveDir is ProjectDir/.relive
	ReliveDir string

	Project ProjectConfig
}

// InitProjectDir creates the .relive directory structure in the given project
// directory and writes a default config.yaml when none exists.
//
// Structure created:
// .relive/
// ├── bin/     <- redirected build output, wiped on every start
// └── logs/    <- reload log
func InitProjectDir(projectDir string) error {
	info, err := os.Stat(projectDir)
	if err != nil {
		return fmt.Errorf("config: project dir %s: %w", projectDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: project dir %s is not a directory", projectDir)
	}
	root := filepath.Join(projectDir, ProjectDirName)
	dirs := []string{
		filepath.Join(root, "bin"),
		filepath.Join(root, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// NewConfig loads the project config, then .env and RELIVE_* overrides.
// A missing config.yaml yields defaults; a missing project dir is an error.
func NewConfig(projectDir string) (*Config, error) {
	abs, err := filepath.Abs(strings.TrimSpace(projectDir))
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("config: project dir %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config: project dir %s is not a directory", abs)
	}

	cfg := &Config{
		ProjectDir: abs,
		ReliveDir:  filepath.Join(abs, ProjectDirName),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}

	_ = godotenv.Load(filepath.Join(abs, ".env"))
	cfg.Project.applyEnvOverrides()
	cfg.Project.applyDefaults()
	cfg.Project.normalize(abs)
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ReliveDir, "config.yaml")
}

// OutputDir returns the redirected build output directory.
func (c *Config) OutputDir() string {
	return c.Project.Build.OutputDir
}

// ArtifactPath returns the full path of the artifact the loader reads.
func (c *Config) ArtifactPath() string {
	return filepath.Join(c.Project.Build.OutputDir, c.Project.Build.Artifact)
}

// BuildCommand returns the configured build command, or the bundled
// "<self> bundle" invocation when none is configured.
func (c *Config) BuildCommand(self string) []string {
	if len(c.Project.Build.Command) > 0 {
		return append([]string(nil), c.Project.Build.Command...)
	}
	command := []string{self, "bundle", "--src", c.Project.Build.SourceDir, "--out", c.ArtifactPath()}
	if c.Project.Build.Watch {
		command = append(command, "--watch", "--debounce", c.Project.Watch.Debounce.String())
	}
	return command
}

// LogPath returns the reload log location.
func (c *Config) LogPath() string {
	return c.Project.Log.File
}

// Title returns the host title, defaulting to the project directory name.
func (c *Config) Title() string {
	if title := strings.TrimSpace(c.Project.Host.Title); title != "" {
		return title
	}
	return filepath.Base(c.ProjectDir)
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Watch: WatchConfig{
			Root:     ".",
			Filter:   DefaultFilter,
			Debounce: DefaultDebounce,
			Ignore:   []string{".git", ProjectDirName, "node_modules", "vendor"},
		},
		Build: BuildConfig{
			Watch:     true,
			SourceDir: DefaultSourceDir,
			OutputDir: filepath.Join(ProjectDirName, "bin"),
			Artifact:  DefaultArtifact,
			StopGrace: DefaultStopGrace,
		},
		Poll: PollConfig{Interval: DefaultPollInterval},
		Log:  LogConfig{File: filepath.Join(ProjectDirName, "logs", "reload.log")},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Watch.Root) == "" {
		pc.Watch.Root = "."
	}
	if strings.TrimSpace(pc.Watch.Filter) == "" {
		pc.Watch.Filter = DefaultFilter
	}
	if pc.Watch.Debounce <= 0 {
		pc.Watch.Debounce = DefaultDebounce
	}
	if strings.TrimSpace(pc.Build.SourceDir) == "" {
		pc.Build.SourceDir = DefaultSourceDir
	}
	if strings.TrimSpace(pc.Build.OutputDir) == "" {
		pc.Build.OutputDir = filepath.Join(ProjectDirName, "bin")
	}
	if strings.TrimSpace(pc.Build.Artifact) == "" {
		pc.Build.Artifact = DefaultArtifact
	}
	if pc.Build.StopGrace <= 0 {
		pc.Build.StopGrace = DefaultStopGrace
	}
	if pc.Poll.Interval <= 0 {
		pc.Poll.Interval = DefaultPollInterval
	}
	if strings.TrimSpace(pc.Log.File) == "" {
		pc.Log.File = filepath.Join(ProjectDirName, "logs", "reload.log")
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Watch.Root = resolvePath(base, pc.Watch.Root)
	pc.Watch.Filter = strings.TrimSpace(pc.Watch.Filter)
	ignore := make([]string, 0, len(pc.Watch.Ignore))
	for _, name := range pc.Watch.Ignore {
		if trimmed := strings.TrimSpace(name); trimmed != "" && !contains(ignore, trimmed) {
			ignore = append(ignore, trimmed)
		}
	}
	pc.Watch.Ignore = ignore
	command := make([]string, 0, len(pc.Build.Command))
	for _, arg := range pc.Build.Command {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			command = append(command, trimmed)
		}
	}
	pc.Build.Command = command
	pc.Build.SourceDir = resolvePath(base, pc.Build.SourceDir)
	pc.Build.OutputDir = resolvePath(base, pc.Build.OutputDir)
	pc.Build.Artifact = strings.TrimSpace(pc.Build.Artifact)
	pc.Host.Title = strings.TrimSpace(pc.Host.Title)
	pc.Log.File = resolvePath(base, pc.Log.File)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if _, err := filepath.Match(pc.Watch.Filter, "view.go"); err != nil {
		return fmt.Errorf("watch.filter %q: %w", pc.Watch.Filter, err)
	}
	if strings.ContainsRune(pc.Build.Artifact, os.PathSeparator) || pc.Build.Artifact == "." || pc.Build.Artifact == ".." {
		return fmt.Errorf("build.artifact must be a file name, got %q", pc.Build.Artifact)
	}
	if pc.Build.OutputDir == pc.Watch.Root {
		return fmt.Errorf("build.output_dir must not be the watch root")
	}
	if rel, inside := within(pc.Watch.Root, pc.Build.OutputDir); inside && !pc.ignores(rel) {
		return fmt.Errorf("build.output_dir %s is watched: add one of its directories to watch.ignore", rel)
	}
	return nil
}

// ignores reports whether the watcher skips rel, a path below the watch root.
// An empty ignore list means the watcher's defaults.
func (pc *ProjectConfig) ignores(rel string) bool {
	ignore := pc.Watch.Ignore
	if len(ignore) == 0 {
		ignore = defaultProjectConfig().Watch.Ignore
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if contains(ignore, part) {
			return true
		}
	}
	return false
}

func within(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func (pc *ProjectConfig) applyEnvOverrides() {
	if value := strings.TrimSpace(os.Getenv("RELIVE_POLL_INTERVAL")); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			pc.Poll.Interval = d
		}
	}
	if value := strings.TrimSpace(os.Getenv("RELIVE_DEBOUNCE")); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			pc.Watch.Debounce = d
		}
	}
	if value := strings.TrimSpace(os.Getenv("RELIVE_BUILD_WATCH")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			pc.Build.Watch = enabled
		}
	}
	if value := strings.TrimSpace(os.Getenv("RELIVE_HEADLESS")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			pc.Host.Headless = enabled
		}
	}
	if value := strings.TrimSpace(os.Getenv("RELIVE_VERBOSE")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			pc.Log.Verbose = enabled
		}
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
