package artifact

import (
	"errors"
	"io/fs"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultTrackedPaths = 64

// Logger is the minimal logging surface the detector needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Detector remembers the last fingerprint seen per path.
//
// HasChanged reports true the first time an existing artifact is observed and
// whenever its content differs from the previous observation. A missing
// artifact is "not ready yet": it reports false and keeps the remembered
// fingerprint, so a byte-identical reappearance is not a change.
type Detector struct {
	mu     sync.Mutex
	seen   *lru.Cache[string, Fingerprint]
	logger Logger
}

// Option customizes a Detector.
type Option func(*Detector)

// WithLogger routes read failures to l.
func WithLogger(l Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithCapacity bounds how many paths are remembered.
func WithCapacity(n int) Option {
	return func(d *Detector) {
		if n <= 0 {
			return
		}
		if cache, err := lru.New[string, Fingerprint](n); err == nil {
			d.seen = cache
		}
	}
}

// NewDetector returns a detector with no observations.
func NewDetector(opts ...Option) *Detector {
	cache, _ := lru.New[string, Fingerprint](defaultTrackedPaths)
	d := &Detector{seen: cache, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// HasChanged fingerprints path and compares it with the last observation.
func (d *Detector) HasChanged(path string) bool {
	changed, _ := d.Check(path)
	return changed
}

// Check is HasChanged that also returns the current fingerprint (empty when
// the artifact is missing or unreadable).
func (d *Detector) Check(path string) (bool, Fingerprint) {
	current, err := FingerprintFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.logger.Printf("artifact: %v", err)
		}
		return false, ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	previous, ok := d.seen.Get(path)
	if ok && previous == current {
		return false, current
	}
	d.seen.Add(path, current)
	return true, current
}

// Fingerprint returns the last fingerprint observed for path.
func (d *Detector) Fingerprint(path string) (Fingerprint, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen.Get(path)
}

// Forget drops the observation for path so the next check reports a change.
func (d *Detector) Forget(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Remove(path)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
