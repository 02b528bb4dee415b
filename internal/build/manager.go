// Package build supervises the external incremental-build tool that turns
// project sources into a loadable artifact.
//
// The tool runs in its own process group with the reload-private output
// directory exported as RELIVE_OUT. Stopping a session terminates the whole
// process tree, not just the direct child, so watch-mode tools that fork
// compilers or file watchers never outlive the host.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultStopGrace is how long a build tree gets to exit after the polite
// termination request.
const DefaultStopGrace = 2 * time.Second

// Environment variables exported to the build tool.
const (
	EnvOutputDir  = "RELIVE_OUT"
	EnvProjectDir = "RELIVE_PROJECT"
)

// ErrNoCommand is returned when no build command is configured.
var ErrNoCommand = errors.New("build: no command configured")

// Logger is the minimal logging surface the manager needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Manager launches build sessions.
type Manager struct {
	command   []string
	outputDir string
	grace     time.Duration
	env       []string
	output    io.Writer
	logger    Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithOutputDir overrides the artifact directory. Relative paths resolve
// against the project directory.
func WithOutputDir(dir string) Option {
	return func(m *Manager) {
		m.outputDir = strings.TrimSpace(dir)
	}
}

// WithStopGrace sets the delay between the termination request and the
// forced kill of the process tree.
func WithStopGrace(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithOutput receives the tool's combined stdout and stderr.
func WithOutput(w io.Writer) Option {
	return func(m *Manager) {
		if w != nil {
			m.output = w
		}
	}
}

// WithEnv appends KEY=VALUE pairs to the tool's environment.
func WithEnv(kv ...string) Option {
	return func(m *Manager) {
		m.env = append(m.env, kv...)
	}
}

// WithLogger routes lifecycle messages to l.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager returns a manager for command (program followed by arguments).
func NewManager(command []string, opts ...Option) *Manager {
	m := &Manager{
		command: append([]string(nil), command...),
		grace:   DefaultStopGrace,
		output:  io.Discard,
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Session is one supervised build tool. It is owned by the caller of Start
// and must be released with Stop.
type Session struct {
	WorkDir   string
	OutputDir string
	Command   []string

	manager *Manager
	ctx     context.Context

	mu      sync.Mutex
	current *process
	runs    int
	stopped bool
	closed  chan struct{}
	halted  chan struct{}
}

// Start wipes and recreates the output directory, then launches the build
// tool in projectDir. Tool-not-found and invalid directories are returned
// synchronously. Cancelling ctx stops the session.
func (m *Manager) Start(ctx context.Context, projectDir string) (*Session, error) {
	if len(m.command) == 0 || strings.TrimSpace(m.command[0]) == "" {
		return nil, ErrNoCommand
	}
	workDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("build: resolve %s: %w", projectDir, err)
	}
	info, err := os.Stat(workDir)
	if err != nil {
		return nil, fmt.Errorf("build: stat project %s: %w", workDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build: project %s is not a directory", workDir)
	}
	if _, err := exec.LookPath(m.command[0]); err != nil {
		return nil, fmt.Errorf("build: locate %s: %w", m.command[0], err)
	}
	outputDir := m.outputDir
	if outputDir == "" {
		outputDir = filepath.Join(workDir, ".relive", "bin")
	} else if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(workDir, outputDir)
	}
	if err := resetDir(outputDir); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Session{
		WorkDir:   workDir,
		OutputDir: outputDir,
		Command:   append([]string(nil), m.command...),
		manager:   m,
		ctx:       ctx,
		closed:    make(chan struct{}),
		halted:    make(chan struct{}),
	}
	if err := s.launch(); err != nil {
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = m.Stop(s)
		case <-s.closed:
		}
	}()
	return s, nil
}

// Stop terminates the session's whole process tree. Stopping a nil or exited
// session is a no-op; stopping one that is already being stopped waits for
// that termination to finish.
func (m *Manager) Stop(s *Session) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.halted
		return nil
	}
	s.stopped = true
	close(s.closed)
	current := s.current
	s.current = nil
	s.mu.Unlock()
	defer close(s.halted)
	if current != nil {
		current.terminate(m.grace, m.logger)
	}
	return nil
}

// Rebuild terminates any in-flight run of the tool and launches a fresh one.
// It is used when the tool builds once and exits instead of watching.
func (m *Manager) Rebuild(s *Session) error {
	if s == nil {
		return fmt.Errorf("build: rebuild: nil session")
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("build: rebuild: session stopped")
	}
	previous := s.current
	s.current = nil
	s.mu.Unlock()
	if previous != nil {
		previous.terminate(m.grace, m.logger)
	}
	return s.launch()
}

// Running reports whether the current run of the tool is still alive.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false
	}
	select {
	case <-s.current.done:
		return false
	default:
		return true
	}
}

// Pid returns the process id of the current run, or 0.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.cmd.Process == nil {
		return 0
	}
	return s.current.cmd.Process.Pid
}

// Runs counts how many times the tool has been launched.
func (s *Session) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Session) launch() error {
	m := s.manager
	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	cmd.Dir = s.WorkDir
	cmd.Env = append(os.Environ(),
		EnvOutputDir+"="+s.OutputDir,
		EnvProjectDir+"="+s.WorkDir,
	)
	cmd.Env = append(cmd.Env, m.env...)
	cmd.Stdout = m.output
	cmd.Stderr = m.output
	cmd.SysProcAttr = sysProcAttr()
	// Bounds Wait when an orphaned descendant keeps the output pipe open.
	cmd.WaitDelay = m.grace

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("build: launch: session stopped")
	}
	if err := startCommand(cmd); err != nil {
		return fmt.Errorf("build: start %s: %w", strings.Join(s.Command, " "), err)
	}
	s.runs++
	p := &process{cmd: cmd, done: make(chan struct{})}
	s.current = p
	m.logger.Printf("build: started %s (pid %d)", filepath.Base(s.Command[0]), cmd.Process.Pid)
	go func() {
		p.err = cmd.Wait()
		close(p.done)
		if p.err != nil && !p.killed() {
			m.logger.Printf("build: %s exited: %v", filepath.Base(s.Command[0]), p.err)
		}
	}()
	return nil
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	mu         sync.Mutex
	terminated bool
}

func (p *process) killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func (p *process) terminate(grace time.Duration, logger Logger) {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	p.terminated = true
	p.mu.Unlock()
	if p.cmd.Process == nil {
		return
	}
	if err := terminateTree(p.cmd.Process.Pid, p.done, grace); err != nil {
		logger.Printf("build: stop pid %d: %v", p.cmd.Process.Pid, err)
	}
	<-p.done
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("build: clear output %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("build: create output %s: %w", dir, err)
	}
	return nil
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
