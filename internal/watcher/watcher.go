// Package watcher turns filesystem events under a project tree into
// debounced reload signals.
//
// A Watcher runs one session at a time. Start walks the target root, adds
// every directory that is not ignored to an fsnotify watch set and returns a
// channel of capacity one. Bursts of relevant events are coalesced: a signal
// is emitted once the tree has been quiet for the debounce window, and if the
// consumer has not yet drained the previous signal the new one is dropped
// because the pending one already means "something changed".
//
// Stop ends the session, drops any pending debounce timer and closes the
// channel. A stopped Watcher can be started again.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 500 * time.Millisecond

// ErrRunning is returned by Start while a session is active.
var ErrRunning = errors.New("watcher: already running")

// DefaultIgnore lists directory names never descended into.
var DefaultIgnore = []string{".git", ".relive", "node_modules", "vendor"}

// Signal carries no payload; receiving one means the sources changed.
type Signal struct{}

// Target describes what a session watches. It is copied on Start.
type Target struct {
	Root   string
	Filter string
	Ignore []string
}

// Logger is the minimal logging surface the watcher needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Watcher watches one Target at a time.
type Watcher struct {
	debounce time.Duration
	logger   Logger

	mu      sync.Mutex
	session *session
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger routes watch errors to l.
func WithLogger(l Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New returns an idle watcher.
func New(opts ...Option) *Watcher {
	w := &Watcher{debounce: DefaultDebounce, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Running reports whether a session is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session != nil
}

// Start begins watching target and returns the session's signal channel.
func (w *Watcher) Start(target Target) (<-chan Signal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session != nil {
		return nil, ErrRunning
	}
	target, err := normalizeTarget(target)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create: %w", err)
	}
	s := &session{
		target:   target,
		debounce: w.debounce,
		logger:   w.logger,
		fsw:      fsw,
		out:      make(chan Signal, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if _, err := s.addTree(target.Root); err != nil {
		fsw.Close()
		return nil, err
	}
	w.session = s
	go s.run()
	return s.out, nil
}

// Stop ends the active session. Calling Stop on an idle watcher is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	s := w.session
	w.session = nil
	w.mu.Unlock()
	if s == nil {
		return
	}
	close(s.stop)
	<-s.done
}

func normalizeTarget(t Target) (Target, error) {
	root := strings.TrimSpace(t.Root)
	if root == "" {
		return Target{}, fmt.Errorf("watcher: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Target{}, fmt.Errorf("watcher: resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Target{}, fmt.Errorf("watcher: stat root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return Target{}, fmt.Errorf("watcher: root %s is not a directory", abs)
	}
	filter := strings.TrimSpace(t.Filter)
	if filter == "" {
		filter = "*"
	}
	if _, err := filepath.Match(filter, "view.go"); err != nil {
		return Target{}, fmt.Errorf("watcher: filter %q: %w", filter, err)
	}
	ignore := t.Ignore
	if ignore == nil {
		ignore = DefaultIgnore
	}
	return Target{Root: abs, Filter: filter, Ignore: append([]string(nil), ignore...)}, nil
}

type session struct {
	target   Target
	debounce time.Duration
	logger   Logger
	fsw      *fsnotify.Watcher
	out      chan Signal
	stop     chan struct{}
	done     chan struct{}
}

func (s *session) run() {
	defer close(s.done)
	defer close(s.out)
	defer s.fsw.Close()

	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-s.stop:
			return
		case event, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if !s.relevant(event) {
				continue
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.debounce)
			pending = true
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.logger.Printf("watcher: %v", err)
		case <-timer.C:
			pending = false
			select {
			case s.out <- Signal{}:
			default:
			}
		}
	}
}

// relevant reports whether event should restart the debounce window. New
// directories are added to the watch set as a side effect.
func (s *session) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if s.ignored(filepath.Base(event.Name)) {
				return false
			}
			matches, err := s.addTree(event.Name)
			if err != nil {
				s.logger.Printf("%v", err)
			}
			return matches > 0
		}
	}
	return s.matches(event.Name)
}

func (s *session) matches(path string) bool {
	ok, _ := filepath.Match(s.target.Filter, filepath.Base(path))
	return ok
}

func (s *session) ignored(name string) bool {
	for _, skip := range s.target.Ignore {
		if name == skip {
			return true
		}
	}
	return false
}

// addTree watches dir and its non-ignored subdirectories, returning how many
// files matching the filter it saw.
func (s *session) addTree(dir string) (int, error) {
	matches := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if s.matches(path) {
				matches++
			}
			return nil
		}
		if path != s.target.Root && s.ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := s.fsw.Add(path); err != nil {
			return fmt.Errorf("watcher: watch %s: %w", path, err)
		}
		return nil
	})
	return matches, err
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
