package bundle

import (
	"context"
	"fmt"
	"time"

	"github.com/kingrea/relive/internal/watcher"
)

// Logger is the minimal logging surface the bundler needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Build bundles src into out. It reports whether the artifact was rewritten.
// On any error out is left untouched so the last good artifact survives.
func Build(src, out string) (bool, error) {
	data, err := Bundle(src)
	if err != nil {
		return false, err
	}
	return WriteFile(out, data)
}

// Watch builds once, then rebuilds whenever a Go file under src changes,
// until ctx is cancelled. Build failures are logged and do not stop the
// loop.
func Watch(ctx context.Context, src, out string, debounce time.Duration, logger Logger) error {
	if logger == nil {
		logger = nopLogger{}
	}
	w := watcher.New(watcher.WithDebounce(debounce), watcher.WithLogger(logger))
	signals, err := w.Start(watcher.Target{Root: src, Filter: "*.go"})
	if err != nil {
		return fmt.Errorf("bundle: watch %s: %w", src, err)
	}
	defer w.Stop()

	rebuild := func() {
		start := time.Now()
		written, err := Build(src, out)
		switch {
		case err != nil:
			logger.Printf("build failed: %v", err)
		case written:
			logger.Printf("wrote %s in %s", out, time.Since(start).Round(time.Millisecond))
		default:
			logger.Printf("%s unchanged", out)
		}
	}
	rebuild()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-signals:
			if !ok {
				return nil
			}
			rebuild()
		}
	}
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
