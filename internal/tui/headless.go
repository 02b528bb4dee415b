package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/kingrea/relive/internal/config"
	"github.com/kingrea/relive/internal/uiloop"
	"github.com/kingrea/relive/live"
	"github.com/kingrea/relive/plugins"
)

const headlessWidth = 80

// Headless is a Surface that prints each produced content to a writer. Its
// UI context is a uiloop.Loop.
type Headless struct {
	loop *uiloop.Loop
	out  io.Writer
	host live.Host

	mu      sync.Mutex
	reloads int
	last    plugins.Result
}

// NewHeadless returns a headless surface for cfg writing to out.
func NewHeadless(cfg *config.Config, out io.Writer) *Headless {
	return &Headless{
		loop: uiloop.New(),
		out:  out,
		host: live.Host{Title: cfg.Title(), ProjectDir: cfg.ProjectDir, Width: headlessWidth},
	}
}

// Run executes posted work until ctx is cancelled or Stop is called. A panic
// in posted work, rendering included, ends Run with an error.
func (h *Headless) Run(ctx context.Context) error {
	if err := h.loop.Run(ctx); err != nil {
		return fmt.Errorf("headless host: %w", err)
	}
	return nil
}

// Stop lets Run return once queued work has drained.
func (h *Headless) Stop() {
	h.loop.Stop()
}

// Done is closed when Run returned.
func (h *Headless) Done() <-chan struct{} {
	return h.loop.Done()
}

func (h *Headless) Post(fn func()) {
	h.loop.Post(fn)
}

func (h *Headless) Host() live.Host {
	return h.host
}

func (h *Headless) SetContent(res plugins.Result) {
	h.mu.Lock()
	h.reloads++
	h.last = res
	n := h.reloads
	h.mu.Unlock()

	rule := lipgloss.NewStyle().Foreground(muted).Render(
		fmt.Sprintf("── %s · reload #%d · %s %s", h.host.Title, n, res.Fingerprint.Short(), strings.Repeat("─", 20)),
	)
	fmt.Fprintf(h.out, "%s\n%s\n", rule, RenderResult(res, headlessWidth))
}

// Last returns the most recently displayed result and how many were shown.
func (h *Headless) Last() (plugins.Result, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.reloads
}
