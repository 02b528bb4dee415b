package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.Project.Poll.Interval != DefaultPollInterval {
		t.Fatalf("poll interval = %s, want %s", c.Project.Poll.Interval, DefaultPollInterval)
	}
	if c.Project.Watch.Debounce != DefaultDebounce {
		t.Fatalf("debounce = %s, want %s", c.Project.Watch.Debounce, DefaultDebounce)
	}
	if want := filepath.Join(c.ProjectDir, ".relive", "bin", "view.go"); c.ArtifactPath() != want {
		t.Fatalf("artifact path = %s, want %s", c.ArtifactPath(), want)
	}
	if !c.Project.Build.Watch {
		t.Fatalf("expected watch-mode build by default")
	}
	if c.Title() != filepath.Base(c.ProjectDir) {
		t.Fatalf("title should default to the project dir name, got %q", c.Title())
	}
}

func TestInitProjectDirWritesParsableConfig(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitProjectDir(projectDir); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, dir := range []string{"bin", "logs"} {
		if info, err := os.Stat(filepath.Join(projectDir, ".relive", dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected .relive/%s to exist: %v", dir, err)
		}
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("default config must parse: %v", err)
	}
	if len(c.Project.Watch.Ignore) != 4 {
		t.Fatalf("expected 4 ignored dirs, got %v", c.Project.Watch.Ignore)
	}
	if len(c.Project.Build.Command) != 0 {
		t.Fatalf("default command should be empty, got %v", c.Project.Build.Command)
	}
}

func TestNewConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	reliveDir := filepath.Join(projectDir, ".relive")
	if err := os.MkdirAll(reliveDir, 0o755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
watch:
  root: src
  filter: "*.tmpl"
  debounce: 250ms
build:
  command: ["make", "  live  "]
  watch: false
  output_dir: out/live
  artifact: bundle.go
poll:
  interval: 200ms
host:
  title: "  Demo  "
`)
	if err := os.WriteFile(filepath.Join(reliveDir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if !strings.HasPrefix(c.Project.Watch.Root, c.ProjectDir) {
		t.Fatalf("expected watch root to be resolved, got %s", c.Project.Watch.Root)
	}
	if c.Project.Watch.Debounce != 250*time.Millisecond {
		t.Fatalf("debounce = %s", c.Project.Watch.Debounce)
	}
	if got := strings.Join(c.Project.Build.Command, " "); got != "make live" {
		t.Fatalf("command = %q", got)
	}
	if c.Project.Build.Watch {
		t.Fatalf("expected rerun mode")
	}
	if c.ArtifactPath() != filepath.Join(c.ProjectDir, "out", "live", "bundle.go") {
		t.Fatalf("artifact path = %s", c.ArtifactPath())
	}
	if c.Project.Poll.Interval != 200*time.Millisecond {
		t.Fatalf("poll = %s", c.Project.Poll.Interval)
	}
	if c.Title() != "Demo" {
		t.Fatalf("title = %q", c.Title())
	}
}

func TestNewConfigValidation(t *testing.T) {
	projectDir := t.TempDir()
	reliveDir := filepath.Join(projectDir, ".relive")
	if err := os.MkdirAll(reliveDir, 0o755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
build:
  artifact: nested/view.go
`)
	if err := os.WriteFile(filepath.Join(reliveDir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewConfig(projectDir); err == nil {
		t.Fatalf("expected validation error but got none")
	}
}

func TestOutputDirMustNotFeedTheWatcher(t *testing.T) {
	cases := []struct {
		name  string
		yaml  string
		valid bool
	}{
		{"watched output", "version: 1\nbuild:\n  output_dir: out\n", false},
		{"nested watched output", "version: 1\nbuild:\n  output_dir: gen/live\n", false},
		{"ignored output", "version: 1\nwatch:\n  ignore: [out]\nbuild:\n  output_dir: out\n", true},
		{"ignored parent", "version: 1\nwatch:\n  ignore: [gen]\nbuild:\n  output_dir: gen/live\n", true},
		{"default ignore", "version: 1\nbuild:\n  output_dir: vendor/live\n", true},
		{"outside root", "version: 1\nwatch:\n  root: src\nbuild:\n  output_dir: out\n", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			projectDir := t.TempDir()
			reliveDir := filepath.Join(projectDir, ".relive")
			if err := os.MkdirAll(reliveDir, 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(reliveDir, "config.yaml"), []byte(tc.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := NewConfig(projectDir)
			if tc.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.valid && (err == nil || !strings.Contains(err.Error(), "watch.ignore")) {
				t.Fatalf("expected output_dir to be rejected, got %v", err)
			}
		})
	}
}

func TestNewConfigRejectsMissingProject(t *testing.T) {
	if _, err := NewConfig(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing project dir")
	}
}

func TestEnvOverrides(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv("RELIVE_POLL_INTERVAL", "150ms")
	t.Setenv("RELIVE_BUILD_WATCH", "false")
	t.Setenv("RELIVE_HEADLESS", "true")
	if err := os.WriteFile(filepath.Join(projectDir, ".env"), []byte("RELIVE_DEBOUNCE=50ms\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("RELIVE_DEBOUNCE") })
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if c.Project.Poll.Interval != 150*time.Millisecond {
		t.Fatalf("poll override ignored: %s", c.Project.Poll.Interval)
	}
	if c.Project.Watch.Debounce != 50*time.Millisecond {
		t.Fatalf(".env override ignored: %s", c.Project.Watch.Debounce)
	}
	if c.Project.Build.Watch {
		t.Fatalf("build watch override ignored")
	}
	if !c.Project.Host.Headless {
		t.Fatalf("headless override ignored")
	}
}

func TestBuildCommandDefaultsToBundler(t *testing.T) {
	projectDir := t.TempDir()
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	got := strings.Join(c.BuildCommand("/usr/bin/relive"), " ")
	want := "/usr/bin/relive bundle --src " + filepath.Join(c.ProjectDir, "view") +
		" --out " + filepath.Join(c.ProjectDir, ".relive", "bin", "view.go") + " --watch --debounce 500ms"
	if got != want {
		t.Fatalf("unexpected default command\n got: %s\nwant: %s", got, want)
	}
	c.Project.Build.Watch = false
	if cmd := c.BuildCommand("relive"); cmd[len(cmd)-1] == "500ms" {
		t.Fatalf("rerun mode must not pass --watch: %v", cmd)
	}
	c.Project.Build.Command = []string{"make", "live"}
	if cmd := c.BuildCommand("relive"); strings.Join(cmd, " ") != "make live" {
		t.Fatalf("configured command must win: %v", cmd)
	}
}
