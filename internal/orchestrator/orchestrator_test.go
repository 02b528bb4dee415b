//go:build !windows

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/relive/internal/build"
	"github.com/kingrea/relive/internal/config"
	"github.com/kingrea/relive/internal/logbook"
	"github.com/kingrea/relive/internal/uiloop"
	"github.com/kingrea/relive/live"
	"github.com/kingrea/relive/plugins"
	"github.com/stretchr/testify/require"
)

type fakeSurface struct {
	loop *uiloop.Loop

	mu      sync.Mutex
	results []plugins.Result
}

func newFakeSurface(t *testing.T) *fakeSurface {
	t.Helper()
	loop := uiloop.New()
	go loop.Run(context.Background())
	t.Cleanup(loop.Stop)
	return &fakeSurface{loop: loop}
}

func (s *fakeSurface) Post(fn func()) { s.loop.Post(fn) }

func (s *fakeSurface) SetContent(result plugins.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

func (s *fakeSurface) Host() live.Host { return live.Host{Title: "fake", Width: 80, Height: 24} }

func (s *fakeSurface) last() (plugins.Result, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return plugins.Result{}, 0
	}
	return s.results[len(s.results)-1], len(s.results)
}

func viewSource(message string) string {
	return `package main

import "github.com/kingrea/relive/live"

type page struct{}

func (page) ProduceContent(host *live.Host) (string, error) {
	return "` + message + ` for " + host.Title, nil
}

func init() {
	live.Register(func() live.View { return page{} })
}
`
}

// newProject lays out a project whose build step copies view/view.go into
// the output directory, rerun on every source change.
func newProject(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "view"), 0o755))
	writeView(t, dir, viewSource("v1"))
	cfg, err := config.NewConfig(dir)
	require.NoError(t, err)
	cfg.Project.Build.Command = []string{"sh", "-c", `cp "$RELIVE_PROJECT/view/view.go" "$RELIVE_OUT/.view.tmp" && mv "$RELIVE_OUT/.view.tmp" "$RELIVE_OUT/view.go"`}
	cfg.Project.Build.Watch = false
	cfg.Project.Build.StopGrace = 200 * time.Millisecond
	cfg.Project.Watch.Debounce = 100 * time.Millisecond
	cfg.Project.Poll.Interval = 100 * time.Millisecond
	return cfg
}

func writeView(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "view", "view.go"), []byte(body), 0o644))
}

func TestReloadPipelineEndToEnd(t *testing.T) {
	cfg := newProject(t)
	surface := newFakeSurface(t)
	book, err := logbook.New(cfg.LogPath())
	require.NoError(t, err)
	tr := &transitions{}
	var o *Orchestrator
	var swapMu sync.Mutex
	var appliedAtResume []int
	resumed := func(from, to State) {
		if from == StateReloading && to == StateWatching {
			swapMu.Lock()
			appliedAtResume = append(appliedAtResume, o.Applied())
			swapMu.Unlock()
		}
	}
	o = New(cfg, surface, WithObserver(tr.record), WithObserver(resumed), WithLogbook(book))

	require.NoError(t, o.Start(context.Background()))
	require.Equal(t, []string{"idle>building", "building>watching"}, tr.list()[:2])

	require.Eventually(t, func() bool {
		res, _ := surface.last()
		return res.Content == "v1 for fake"
	}, 5*time.Second, 20*time.Millisecond)

	// A source edit reaches the surface within one debounce plus one poll,
	// allowing for the build step itself.
	const buildAllowance = 750 * time.Millisecond
	bound := cfg.Project.Poll.Interval + cfg.Project.Watch.Debounce + buildAllowance
	edited := time.Now()
	writeView(t, cfg.ProjectDir, viewSource("v2"))
	require.Eventually(t, func() bool {
		res, _ := surface.last()
		return res.Content == "v2 for fake"
	}, 5*time.Second, 10*time.Millisecond)
	require.LessOrEqual(t, time.Since(edited), bound, "reload latency")

	writeView(t, cfg.ProjectDir, "package main\n\nfunc broken(")
	require.Eventually(t, func() bool {
		res, _ := surface.last()
		return res.Fallback
	}, 5*time.Second, 20*time.Millisecond)
	res, applied := surface.last()
	require.Equal(t, plugins.StageEvaluate, res.Stage())

	// A broken artifact stays displayed until a different one appears.
	time.Sleep(3 * cfg.Project.Poll.Interval)
	_, stillApplied := surface.last()
	require.Equal(t, applied, stillApplied)
	require.Equal(t, applied, tr.count("watching>reloading"), "one reload per artifact version")
	swapMu.Lock()
	for i, n := range appliedAtResume {
		require.GreaterOrEqual(t, n, i+1, "watching resumed before swap %d ran", i+1)
	}
	swapMu.Unlock()

	require.NoError(t, o.Shutdown("test done"))
	require.NoError(t, o.Shutdown("again"))
	require.Equal(t, StateShuttingDown, o.State())
	require.Equal(t, 1, tr.count(tr.list()[len(tr.list())-1]))
	require.True(t, strings.HasSuffix(tr.list()[len(tr.list())-1], ">shutting-down"))

	lines, _ := book.Tail(100)
	require.NotEmpty(t, lines)
	select {
	case <-o.Done():
	default:
		t.Fatalf("done must be closed after shutdown")
	}
}

func TestStartFailsWhenBuildToolMissing(t *testing.T) {
	cfg := newProject(t)
	cfg.Project.Build.Command = []string{"relive-no-such-build-tool"}
	tr := &transitions{}
	o := New(cfg, newFakeSurface(t), WithObserver(tr.record))
	require.Error(t, o.Start(context.Background()))
	require.Equal(t, StateShuttingDown, o.State())
	require.Equal(t, []string{"idle>building", "building>shutting-down"}, tr.list())
	require.NoError(t, o.Shutdown("again"))
}

func TestStartFailsWhenWatchRootMissing(t *testing.T) {
	cfg := newProject(t)
	cfg.Project.Watch.Root = filepath.Join(cfg.ProjectDir, "missing")
	builder := build.NewManager(cfg.Project.Build.Command, build.WithOutputDir(cfg.OutputDir()))
	o := New(cfg, newFakeSurface(t), WithBuilder(builder))
	require.Error(t, o.Start(context.Background()))
	require.Equal(t, StateShuttingDown, o.State())
}

func TestShutdownBeforeStart(t *testing.T) {
	cfg := newProject(t)
	o := New(cfg, newFakeSurface(t))
	require.NoError(t, o.Shutdown("never started"))
	require.Error(t, o.Start(context.Background()))
}

func TestConcurrentShutdownAndFail(t *testing.T) {
	cfg := newProject(t)
	o := New(cfg, newFakeSurface(t))
	require.NoError(t, o.Start(context.Background()))
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = o.Shutdown("signal")
			} else {
				_ = o.Fail(context.Canceled)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, StateShuttingDown, o.State())
}

func TestStaleResultsAreDropped(t *testing.T) {
	cfg := newProject(t)
	surface := newFakeSurface(t)
	o := New(cfg, surface)
	surface.loop.Do(func() {
		o.apply(2, plugins.Result{Content: "newer"})
		o.apply(1, plugins.Result{Content: "older"})
	})
	res, n := surface.last()
	require.Equal(t, 1, n)
	require.Equal(t, "newer", res.Content)
	require.Equal(t, 1, o.Applied())
}

func TestTransitionsFollowLifecycle(t *testing.T) {
	require.True(t, canTransition(StateIdle, StateBuilding))
	require.True(t, canTransition(StateReloading, StateWatching))
	require.True(t, canTransition(StateWatching, StateShuttingDown))
	require.False(t, canTransition(StateIdle, StateReloading))
	require.False(t, canTransition(StateShuttingDown, StateShuttingDown))
	require.False(t, canTransition(StateShuttingDown, StateWatching))
	require.Equal(t, "shutting-down", StateShuttingDown.String())
}
