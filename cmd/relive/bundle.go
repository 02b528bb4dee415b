package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/relive/internal/build"
	"github.com/kingrea/relive/internal/bundle"
	"github.com/kingrea/relive/internal/config"
)

type bundleOptions struct {
	src      string
	out      string
	watch    bool
	debounce time.Duration
}

func newBundleCmd() *cobra.Command {
	opts := &bundleOptions{}
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Merge a Go package into a single reloadable artifact",
		Long: "Merge the Go files of one package directory into a single artifact.\n" +
			"With --watch the artifact is rebuilt whenever the sources change. Without\n" +
			"--out the artifact is written to $" + build.EnvOutputDir + "/" + config.DefaultArtifact + ".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.src, "src", config.DefaultSourceDir, "package directory to bundle")
	flags.StringVar(&opts.out, "out", "", "artifact path")
	flags.BoolVar(&opts.watch, "watch", false, "keep rebuilding on source changes")
	flags.DurationVar(&opts.debounce, "debounce", config.DefaultDebounce, "quiet period before rebuilding")
	return cmd
}

func (o *bundleOptions) run(cmd *cobra.Command) error {
	out := o.out
	if out == "" {
		dir := os.Getenv(build.EnvOutputDir)
		if dir == "" {
			return errors.New("bundle: --out is required when $" + build.EnvOutputDir + " is not set")
		}
		out = filepath.Join(dir, config.DefaultArtifact)
	}
	logger := &lineLogger{cmd: cmd}
	if !o.watch {
		written, err := bundle.Build(o.src, out)
		if err != nil {
			return err
		}
		if written {
			logger.Printf("wrote %s", out)
		}
		return nil
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return bundle.Watch(ctx, o.src, out, o.debounce, logger)
}

// lineLogger prints one line per message. The parent relive process adds
// timestamps when it copies these lines into its log.
type lineLogger struct {
	cmd *cobra.Command
}

func (l *lineLogger) Printf(format string, args ...any) {
	fmt.Fprintf(l.cmd.OutOrStdout(), format+"\n", args...)
}
