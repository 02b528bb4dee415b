// Package orchestrator drives the reload pipeline: it starts the build tool,
// watches sources, checks the artifact, loads new versions and hands the
// produced content to the host surface on the surface's own UI context.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kingrea/relive/internal/artifact"
	"github.com/kingrea/relive/internal/build"
	"github.com/kingrea/relive/internal/config"
	"github.com/kingrea/relive/internal/logbook"
	"github.com/kingrea/relive/internal/watcher"
	"github.com/kingrea/relive/live"
	"github.com/kingrea/relive/plugins"
	"golang.org/x/sync/errgroup"
)

// Surface is the host that displays content. Post runs fn on the surface's
// UI context; SetContent is only called from inside a posted function. Host
// may be called from any goroutine.
type Surface interface {
	Post(fn func())
	SetContent(result plugins.Result)
	Host() live.Host
}

// SourceWatcher reports debounced source changes.
type SourceWatcher interface {
	Start(target watcher.Target) (<-chan watcher.Signal, error)
	Stop()
}

// Builder supervises the build tool.
type Builder interface {
	Start(ctx context.Context, projectDir string) (*build.Session, error)
	Stop(session *build.Session) error
	Rebuild(session *build.Session) error
}

// ChangeDetector reports new artifact versions.
type ChangeDetector interface {
	Check(path string) (bool, artifact.Fingerprint)
}

// ModuleLoader turns an artifact into content.
type ModuleLoader interface {
	Load(ctx context.Context, path string, host live.Host) plugins.Result
}

var errStartInterrupted = errors.New("orchestrator: start: shut down while starting")

// Orchestrator owns one reload session from Start to Shutdown.
type Orchestrator struct {
	config  *config.Config
	surface Surface
	log     *logbook.Logbook

	watcher  SourceWatcher
	builder  Builder
	detector ChangeDetector
	loader   ModuleLoader

	pollInterval time.Duration
	observers    []Observer

	stateMu  sync.Mutex
	state    State
	notifyMu sync.Mutex

	session  *build.Session
	cancel   context.CancelFunc
	group    *errgroup.Group
	trigger  chan struct{}
	starting bool
	started  chan struct{}

	seq         atomic.Int64
	applied     atomic.Int64
	lastApplied int64

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers fn for every state transition.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// WithLogbook records pipeline activity in book.
func WithLogbook(book *logbook.Logbook) Option {
	return func(o *Orchestrator) {
		o.log = book
	}
}

// WithWatcher replaces the source watcher.
func WithWatcher(w SourceWatcher) Option {
	return func(o *Orchestrator) {
		if w != nil {
			o.watcher = w
		}
	}
}

// WithBuilder replaces the build process manager.
func WithBuilder(b Builder) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.builder = b
		}
	}
}

// WithDetector replaces the artifact change detector.
func WithDetector(d ChangeDetector) Option {
	return func(o *Orchestrator) {
		if d != nil {
			o.detector = d
		}
	}
}

// WithLoader replaces the module loader.
func WithLoader(l ModuleLoader) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.loader = l
		}
	}
}

// New wires the default pipeline for cfg. Components not overridden through
// options are built from the configuration and log to the logbook.
func New(cfg *config.Config, surface Surface, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config:       cfg,
		surface:      surface,
		pollInterval: cfg.Project.Poll.Interval,
		trigger:      make(chan struct{}, 1),
		started:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.pollInterval <= 0 {
		o.pollInterval = config.DefaultPollInterval
	}
	o.lastApplied = -1
	if o.watcher == nil {
		o.watcher = watcher.New(
			watcher.WithDebounce(cfg.Project.Watch.Debounce),
			watcher.WithLogger(o.log),
		)
	}
	if o.builder == nil {
		o.builder = build.NewManager(cfg.Project.Build.Command,
			build.WithOutputDir(cfg.OutputDir()),
			build.WithStopGrace(cfg.Project.Build.StopGrace),
			build.WithOutput(o.log.Writer(logbook.LevelInfo, "build │ ")),
			build.WithLogger(o.log),
		)
	}
	if o.detector == nil {
		o.detector = artifact.NewDetector(artifact.WithLogger(o.log))
	}
	if o.loader == nil {
		o.loader = plugins.NewLoader(plugins.WithOutput(
			o.log.Writer(logbook.LevelInfo, "view │ "),
			o.log.Writer(logbook.LevelWarn, "view │ "),
		))
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

// Done is closed once Shutdown has completed.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Applied counts the results handed to the surface.
func (o *Orchestrator) Applied() int {
	return int(o.applied.Load())
}

// Start launches the build tool and the source watcher, then begins checking
// for artifacts. Any startup failure is fatal: the session is shut down and
// the error returned. A Shutdown that arrives while Start is running waits
// for it and then releases whatever Start acquired.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.begin() {
		return fmt.Errorf("orchestrator: start: already %s", o.State())
	}
	reason, err := o.start(ctx)
	close(o.started)
	if err != nil {
		_ = o.Shutdown(reason)
		return err
	}
	o.kick()
	return nil
}

func (o *Orchestrator) start(ctx context.Context) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	o.stateMu.Lock()
	o.cancel = cancel
	o.group = group
	o.stateMu.Unlock()

	project := o.config.Project
	o.log.Info("starting build in %s", o.config.ProjectDir)
	session, err := o.builder.Start(ctx, o.config.ProjectDir)
	if err != nil {
		o.log.Error("build failed to start: %v", err)
		return "build failed to start", fmt.Errorf("orchestrator: start build: %w", err)
	}
	o.stateMu.Lock()
	o.session = session
	stopping := o.state == StateShuttingDown
	o.stateMu.Unlock()
	if stopping {
		return "shut down while starting", errStartInterrupted
	}

	signals, err := o.watcher.Start(watcher.Target{
		Root:   project.Watch.Root,
		Filter: project.Watch.Filter,
		Ignore: project.Watch.Ignore,
	})
	if err != nil {
		o.log.Error("watcher failed to start: %v", err)
		return "watcher failed to start", fmt.Errorf("orchestrator: start watcher: %w", err)
	}
	if !o.transition(StateBuilding, StateWatching) {
		return "shut down while starting", errStartInterrupted
	}
	o.log.Info("watching %s for %s", project.Watch.Root, project.Watch.Filter)

	group.Go(func() error { return o.forwardSignals(ctx, signals) })
	group.Go(func() error { return o.poll(ctx) })
	group.Go(func() error { return o.pipeline(ctx) })
	return "", nil
}

// Shutdown stops the watcher, terminates the build tree and waits for the
// pipeline goroutines. Only the first call does any work; later and
// concurrent calls return its result.
func (o *Orchestrator) Shutdown(reason string) error {
	o.shutdownOnce.Do(func() {
		if o.enterShutdown() {
			<-o.started
		}
		o.log.Info("shutting down: %s", reason)
		o.watcher.Stop()

		o.stateMu.Lock()
		session, cancel, group := o.session, o.cancel, o.group
		o.stateMu.Unlock()

		var errs []error
		if session != nil {
			if err := o.builder.Stop(session); err != nil {
				o.log.Warn("stop build: %v", err)
				errs = append(errs, err)
			}
		}
		if cancel != nil {
			cancel()
		}
		if group != nil {
			if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		}
		o.shutdownErr = errors.Join(errs...)
		close(o.done)
	})
	return o.shutdownErr
}

// Fail reports a fatal host error and shuts the session down.
func (o *Orchestrator) Fail(err error) error {
	if err == nil {
		return o.Shutdown("host closed")
	}
	o.log.Error("host failed: %v", err)
	return o.Shutdown("host failed")
}

func (o *Orchestrator) forwardSignals(ctx context.Context, signals <-chan watcher.Signal) error {
	rerun := !o.config.Project.Build.Watch
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-signals:
			if !ok {
				return nil
			}
			o.log.Info("source change detected")
			if rerun {
				o.stateMu.Lock()
				session := o.session
				o.stateMu.Unlock()
				if err := o.builder.Rebuild(session); err != nil && ctx.Err() == nil {
					o.log.Warn("rebuild: %v", err)
				}
			}
			o.kick()
		}
	}
}

func (o *Orchestrator) poll(ctx context.Context) error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.kick()
		}
	}
}

// kick requests an artifact check. Requests coalesce while one is pending.
func (o *Orchestrator) kick() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) pipeline(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.trigger:
			o.reloadIfChanged(ctx)
		}
	}
}

func (o *Orchestrator) reloadIfChanged(ctx context.Context) {
	path := o.config.ArtifactPath()
	changed, fingerprint := o.detector.Check(path)
	if !changed {
		if o.config.Project.Log.Verbose {
			o.log.Info("artifact unchanged")
		}
		return
	}
	if !o.transition(StateWatching, StateReloading) {
		return
	}
	seq := o.seq.Add(1)
	host := o.surface.Host()
	host.Reloads = o.Applied()
	host.Version = fingerprint.Short()

	o.log.Info("reloading %s (%s)", path, fingerprint.Short())
	result := o.loader.Load(ctx, path, host)
	if ctx.Err() != nil {
		return
	}
	if result.Fallback {
		o.log.Warn("reload %d fell back: %v", seq, result.Err)
	} else {
		o.log.Info("reload %d produced content in %s", seq, result.Duration.Round(time.Millisecond))
	}
	swapped := make(chan struct{})
	o.surface.Post(func() {
		defer close(swapped)
		o.apply(seq, result)
	})
	select {
	case <-swapped:
		o.transition(StateReloading, StateWatching)
	case <-ctx.Done():
	}
}

// apply runs on the surface's UI context. Results older than the last one
// applied are discarded.
func (o *Orchestrator) apply(seq int64, result plugins.Result) {
	if seq <= o.lastApplied {
		o.log.Warn("dropping stale reload %d", seq)
		return
	}
	o.lastApplied = seq
	o.applied.Add(1)
	o.surface.SetContent(result)
}

func (o *Orchestrator) transition(from, to State) bool {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	o.stateMu.Lock()
	if o.state != from || !canTransition(from, to) {
		o.stateMu.Unlock()
		return false
	}
	o.state = to
	o.stateMu.Unlock()
	o.notify(from, to)
	return true
}

// begin moves an idle orchestrator to building and marks a Start in flight.
func (o *Orchestrator) begin() bool {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	o.stateMu.Lock()
	if o.state != StateIdle {
		o.stateMu.Unlock()
		return false
	}
	o.state = StateBuilding
	o.starting = true
	o.stateMu.Unlock()
	o.notify(StateIdle, StateBuilding)
	return true
}

// enterShutdown moves to shutting-down and reports whether a Start call has
// to be waited for.
func (o *Orchestrator) enterShutdown() bool {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	o.stateMu.Lock()
	starting := o.starting
	from := o.state
	if !canTransition(from, StateShuttingDown) {
		o.stateMu.Unlock()
		return starting
	}
	o.state = StateShuttingDown
	o.stateMu.Unlock()
	o.notify(from, StateShuttingDown)
	return starting
}

func (o *Orchestrator) notify(from, to State) {
	for _, fn := range o.observers {
		fn(from, to)
	}
}
