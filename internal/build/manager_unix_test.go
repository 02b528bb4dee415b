//go:build !windows

package build

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func shell(script string) []string {
	return []string{"sh", "-c", script}
}

func TestStartWipesOutputAndExportsEnvironment(t *testing.T) {
	project := t.TempDir()
	stale := filepath.Join(project, ".relive", "bin", "stale.go")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	out := &syncBuffer{}
	m := NewManager(shell(`echo "building $RELIVE_PROJECT"; echo artifact > "$RELIVE_OUT/view.go"`), WithOutput(out))
	s, err := m.Start(context.Background(), project)
	require.NoError(t, err)
	defer m.Stop(s)

	require.Equal(t, filepath.Join(project, ".relive", "bin"), s.OutputDir)
	require.NoFileExists(t, stale)
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(s.OutputDir, "view.go"))
		return err == nil && strings.TrimSpace(string(data)) == "artifact"
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "building "+project)
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return !s.Running() }, 3*time.Second, 20*time.Millisecond)
}

func TestCustomOutputDirResolvesAgainstProject(t *testing.T) {
	project := t.TempDir()
	m := NewManager(shell("true"), WithOutputDir("out/live"))
	s, err := m.Start(context.Background(), project)
	require.NoError(t, err)
	defer m.Stop(s)
	require.Equal(t, filepath.Join(project, "out", "live"), s.OutputDir)
	require.DirExists(t, s.OutputDir)
}

func TestStopIsIdempotent(t *testing.T) {
	m := NewManager(shell("sleep 30"), WithStopGrace(200*time.Millisecond))
	s, err := m.Start(context.Background(), t.TempDir())
	require.NoError(t, err)
	require.True(t, s.Running())
	require.NoError(t, m.Stop(s))
	require.NoError(t, m.Stop(s))
	require.False(t, s.Running())
	require.Error(t, m.Rebuild(s))
}

func TestStopAfterToolExited(t *testing.T) {
	m := NewManager(shell("exit 3"))
	s, err := m.Start(context.Background(), t.TempDir())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !s.Running() }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, m.Stop(s))
}

func TestRebuildRelaunchesTool(t *testing.T) {
	project := t.TempDir()
	m := NewManager(shell(`echo run >> "$RELIVE_PROJECT/runs.log"; sleep 30`), WithStopGrace(200*time.Millisecond))
	s, err := m.Start(context.Background(), project)
	require.NoError(t, err)
	defer m.Stop(s)
	firstPid := s.Pid()

	require.NoError(t, m.Rebuild(s))
	require.Equal(t, 2, s.Runs())
	require.NotEqual(t, firstPid, s.Pid())
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(project, "runs.log"))
		return err == nil && strings.Count(string(data), "run") == 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestCancelledContextStopsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(shell("sleep 30"), WithStopGrace(200*time.Millisecond))
	s, err := m.Start(ctx, t.TempDir())
	require.NoError(t, err)
	cancel()
	require.Eventually(t, func() bool { return !s.Running() }, 3*time.Second, 20*time.Millisecond)
}
