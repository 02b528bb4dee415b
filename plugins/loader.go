// Package plugins evaluates reload artifacts and turns them into displayable
// content.
//
// Every Load gets a fresh yaegi interpreter and a fresh capability registry,
// so nothing an artifact does at package level survives into the next
// version. Whatever goes wrong (unreadable artifact, interpreter error,
// missing or duplicate View, panic while producing content) is returned as a
// fallback Result instead of an error: the host always has something to show.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kingrea/relive/internal/artifact"
	"github.com/kingrea/relive/live"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

var (
	// ErrNoImplementation means the artifact registered no View.
	ErrNoImplementation = errors.New("no implementation found")
	// ErrAmbiguousImplementation means the artifact registered more than one
	// View. The loader never guesses which one was meant.
	ErrAmbiguousImplementation = errors.New("ambiguous implementation")
)

// Stage names the step of a load that failed.
type Stage string

const (
	StageRead      Stage = "read"
	StageEvaluate  Stage = "evaluate"
	StageDiscover  Stage = "discover"
	StageConstruct Stage = "construct"
	StageProduce   Stage = "produce"
)

// LoadError describes a failed load.
type LoadError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugin: %s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Result is the outcome of one load. Fallback results carry a rendered
// diagnostic in Content and the cause in Err.
type Result struct {
	Content     string
	Fallback    bool
	Err         error
	Fingerprint artifact.Fingerprint
	Path        string
	Duration    time.Duration
}

// Stage reports which step produced a fallback, or "" on success.
func (r Result) Stage() Stage {
	var loadErr *LoadError
	if errors.As(r.Err, &loadErr) {
		return loadErr.Stage
	}
	return ""
}

// Loader evaluates artifacts.
type Loader struct {
	stdout io.Writer
	stderr io.Writer
	clock  func() time.Time
}

// Option customizes a Loader.
type Option func(*Loader)

// WithOutput routes what interpreted code prints. By default it is discarded
// so artifacts cannot scribble over a terminal UI.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(l *Loader) {
		if stdout != nil {
			l.stdout = stdout
		}
		if stderr != nil {
			l.stderr = stderr
		}
	}
}

// WithClock overrides the time source used for Result.Duration.
func WithClock(clock func() time.Time) Option {
	return func(l *Loader) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewLoader returns a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{stdout: io.Discard, stderr: io.Discard, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Load reads the artifact at path, evaluates it, constructs its single View
// and asks it for content anchored to host.
func (l *Loader) Load(ctx context.Context, path string, host live.Host) Result {
	start := l.clock()
	res := Result{Path: path}
	content, err := l.load(ctx, path, host, &res)
	res.Duration = l.clock().Sub(start)
	if err != nil {
		res.Fallback = true
		res.Err = err
		res.Content = RenderFallback(err)
		return res
	}
	res.Content = content
	return res
}

// module is one evaluated artifact. It is dropped when load returns.
type module struct {
	interp   *interp.Interpreter
	registry *live.Registry
}

func (l *Loader) load(ctx context.Context, path string, host live.Host, res *Result) (content string, err error) {
	stage := StageRead
	defer func() {
		if r := recover(); r != nil {
			err = &LoadError{Stage: stage, Path: path, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	fail := func(cause error) error {
		return &LoadError{Stage: stage, Path: path, Err: cause}
	}

	code, err := os.ReadFile(path)
	if err != nil {
		return "", fail(err)
	}
	res.Fingerprint = artifact.Sum(code)
	if len(strings.TrimSpace(string(code))) == 0 {
		return "", fail(errors.New("artifact is empty"))
	}

	stage = StageEvaluate
	mod, err := l.evaluate(ctx, string(code))
	if err != nil {
		return "", fail(err)
	}

	stage = StageDiscover
	factories := mod.registry.Factories()
	switch {
	case len(factories) == 0:
		return "", fail(ErrNoImplementation)
	case len(factories) > 1:
		return "", fail(fmt.Errorf("%w: %d views registered", ErrAmbiguousImplementation, len(factories)))
	}

	stage = StageConstruct
	view := factories[0]()
	if view == nil {
		return "", fail(errors.New("factory returned nil view"))
	}

	stage = StageProduce
	if err := ctx.Err(); err != nil {
		return "", fail(err)
	}
	out, err := view.ProduceContent(&host)
	if err != nil {
		return "", fail(err)
	}
	return out, nil
}

func (l *Loader) evaluate(ctx context.Context, src string) (*module, error) {
	reg := live.NewRegistry()
	i := interp.New(interp.Options{Stdout: l.stdout, Stderr: l.stderr})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("use stdlib: %w", err)
	}
	if err := i.Use(live.Symbols(reg)); err != nil {
		return nil, fmt.Errorf("use %s: %w", live.ImportPath, err)
	}
	if _, err := i.EvalWithContext(ctx, src); err != nil {
		return nil, err
	}
	return &module{interp: i, registry: reg}, nil
}

// RenderFallback turns a load failure into the diagnostic shown in place of
// content.
func RenderFallback(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		fmt.Fprintf(&b, "Reload failed at the %s step.\n", loadErr.Stage)
		fmt.Fprintf(&b, "Artifact: %s\n\n", loadErr.Path)
		b.WriteString(loadErr.Err.Error())
		return b.String()
	}
	b.WriteString("Reload failed.\n\n")
	b.WriteString(err.Error())
	return b.String()
}
