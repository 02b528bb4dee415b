// Package live is the contract between relive and the project being reloaded.
//
// A reloadable project exposes exactly one View implementation and registers
// a parameterless factory for it from an init function:
//
//	package main
//
//	import "github.com/kingrea/relive/live"
//
//	type greeting struct{}
//
//	func (greeting) ProduceContent(host *live.Host) (string, error) {
//		return "Hello from " + host.Title, nil
//	}
//
//	func init() {
//		live.Register(func() live.View { return greeting{} })
//	}
//
// Each reload evaluates the artifact in a fresh interpreter, so package level
// state never survives from one version to the next.
package live

import (
	"fmt"
	"sync"
)

// View is the capability every reloadable artifact implements once.
type View interface {
	ProduceContent(host *Host) (string, error)
}

// Factory constructs a fresh View. It must not take arguments.
type Factory func() View

// Host describes the live surface the produced content is anchored to.
type Host struct {
	Title      string
	ProjectDir string
	Width      int
	Height     int
	// Reloads counts how many artifacts have been applied before this one.
	Reloads int
	// Version is the short fingerprint of the artifact being rendered.
	Version string
}

// Registry collects the factories an artifact registers while it is being
// evaluated. The loader creates one per load.
type Registry struct {
	mu        sync.Mutex
	factories []Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register records a factory. Nil factories are ignored and reported as false.
func (r *Registry) Register(factory Factory) bool {
	if r == nil || factory == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, factory)
	return true
}

// Factories returns a copy of every registered factory in registration order.
func (r *Registry) Factories() []Factory {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Factory, len(r.factories))
	copy(out, r.factories)
	return out
}

// Len reports how many factories were registered.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.factories)
}

var defaultRegistry = NewRegistry()

// Register adds factory to the process-wide registry. Inside a reload session
// the interpreter rebinds Register to the registry of that load, so this
// default only matters when the project is compiled natively.
func Register(factory Factory) bool {
	return defaultRegistry.Register(factory)
}

// Default returns the process-wide registry used by natively compiled code.
func Default() *Registry {
	return defaultRegistry
}

// String renders the host for diagnostics.
func (h Host) String() string {
	return fmt.Sprintf("%s (%dx%d, reload #%d, version %s)", h.Title, h.Width, h.Height, h.Reloads, h.Version)
}
