package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/relive/internal/config"
	"github.com/kingrea/relive/internal/logbook"
	"github.com/kingrea/relive/internal/orchestrator"
	"github.com/kingrea/relive/internal/tui"
)

type runOptions struct {
	project  string
	headless bool
	verbose  bool
	poll     time.Duration
	debounce time.Duration
}

func (o *runOptions) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&o.project, "project", "p", "", "project directory (defaults to the working directory)")
	flags.BoolVar(&o.headless, "headless", false, "print content to stdout instead of starting the terminal UI")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "log every artifact check and mirror the log to stderr when headless")
	flags.DurationVar(&o.poll, "poll", 0, "artifact poll interval (overrides config)")
	flags.DurationVar(&o.debounce, "debounce", 0, "source change quiet period (overrides config)")
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch, rebuild and live-reload the project's view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReload(cmd, opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("headless") {
		cfg.Project.Host.Headless = o.headless
	}
	if flags.Changed("verbose") {
		cfg.Project.Log.Verbose = o.verbose
	}
	if o.poll > 0 {
		cfg.Project.Poll.Interval = o.poll
	}
	if o.debounce > 0 {
		cfg.Project.Watch.Debounce = o.debounce
	}
}

func loadProject(project string) (*config.Config, error) {
	if project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		project = cwd
	}
	abs, err := filepath.Abs(project)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	if err := config.InitProjectDir(abs); err != nil {
		return nil, fmt.Errorf("init %s: %w", config.ProjectDirName, err)
	}
	return config.NewConfig(abs)
}

func runReload(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadProject(opts.project)
	if err != nil {
		return err
	}
	opts.apply(cmd, cfg)

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate relive executable: %w", err)
	}
	cfg.Project.Build.Command = cfg.BuildCommand(self)

	var logOpts []logbook.Option
	if cfg.Project.Host.Headless && cfg.Project.Log.Verbose {
		logOpts = append(logOpts, logbook.WithMirror(cmd.ErrOrStderr()))
	}
	book, err := logbook.New(cfg.LogPath(), logOpts...)
	if err != nil {
		return err
	}
	book.Info("session opened · project %s · relive %s", cfg.ProjectDir, version)

	// SIGHUP covers the controlling terminal going away.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if cfg.Project.Host.Headless {
		return runHeadless(ctx, cmd, cfg, book)
	}
	return runTerminal(ctx, cfg, book)
}

func runHeadless(ctx context.Context, cmd *cobra.Command, cfg *config.Config, book *logbook.Logbook) error {
	surface := tui.NewHeadless(cfg, cmd.OutOrStdout())
	orch := orchestrator.New(cfg, surface, orchestrator.WithLogbook(book))
	hostDone := make(chan error, 1)
	go func() { hostDone <- surface.Run(ctx) }()
	defer surface.Stop()

	if err := orch.Start(ctx); err != nil {
		return err
	}
	return awaitHeadless(ctx, orch, hostDone)
}

type supervisor interface {
	Shutdown(reason string) error
	Fail(err error) error
}

// awaitHeadless blocks until a signal arrives or the headless host stops,
// then shuts the session down. A host failure is returned.
func awaitHeadless(ctx context.Context, orch supervisor, hostDone <-chan error) error {
	select {
	case <-ctx.Done():
		return orch.Shutdown("signal received")
	case err := <-hostDone:
		if err == nil {
			return orch.Shutdown("host closed")
		}
		return errors.Join(err, orch.Fail(err))
	}
}

func runTerminal(ctx context.Context, cfg *config.Config, book *logbook.Logbook) error {
	app := tui.NewApp(cfg, book)
	program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx), tea.WithoutSignalHandler())
	app.Attach(program)
	orch := orchestrator.New(cfg, app,
		orchestrator.WithLogbook(book),
		orchestrator.WithObserver(app.ObserveState),
	)

	startErr := make(chan error, 1)
	go func() {
		err := orch.Start(ctx)
		if err != nil {
			program.Send(tui.FatalMsg{Err: err})
		}
		startErr <- err
	}()

	_, runErr := program.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		// Cancelled by a process signal; a normal shutdown.
		runErr = nil
	}
	if runErr == nil {
		runErr = app.Err()
	}
	var shutdownErr error
	if runErr != nil {
		shutdownErr = orch.Fail(runErr)
	} else {
		shutdownErr = orch.Shutdown("host closed")
	}
	if err := <-startErr; err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("terminal host: %w", runErr)
	}
	return shutdownErr
}
