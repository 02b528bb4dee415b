// internal/tui/app.go
//
// The terminal host for relive. bubbletea's Update loop is the single UI
// context: the orchestrator reaches it through Post, which wraps work in a
// message, so every content swap happens in Update and nowhere else.

package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kingrea/relive/internal/config"
	"github.com/kingrea/relive/internal/logbook"
	"github.com/kingrea/relive/internal/orchestrator"
	"github.com/kingrea/relive/live"
	"github.com/kingrea/relive/plugins"
)

const (
	logRefreshInterval = time.Second
	logPanelLines      = 6
	chromeHeight       = 4
)

// runMsg carries work posted to the UI context.
type runMsg struct{ fn func() }

type stateMsg struct{ from, to orchestrator.State }

type logTickMsg struct{}

// FatalMsg stops the program with an error, for failures outside Update.
type FatalMsg struct{ Err error }

// App is the bubbletea model and the orchestrator's Surface.
type App struct {
	config  *config.Config
	logbook *logbook.Logbook
	program *tea.Program

	hostMu sync.Mutex
	host   live.Host

	content   viewport.Model
	spinner   spinner.Model
	state     orchestrator.State
	result    plugins.Result
	hasResult bool
	reloads   int
	logLines  []string
	statusMsg string
	err       error

	width  int
	height int
}

// NewApp creates the terminal host for cfg.
func NewApp(cfg *config.Config, book *logbook.Logbook) *App {
	spin := spinner.New(spinner.WithSpinner(spinner.Dot))
	spin.Style = lipgloss.NewStyle().Foreground(accent)
	return &App{
		config:    cfg,
		logbook:   book,
		host:      live.Host{Title: cfg.Title(), ProjectDir: cfg.ProjectDir},
		content:   viewport.New(80, 20),
		spinner:   spin,
		statusMsg: "Waiting for the first build…",
	}
}

// Attach binds the program that runs this model. Post is a no-op before.
func (a *App) Attach(p *tea.Program) {
	a.program = p
}

// Post runs fn inside Update.
func (a *App) Post(fn func()) {
	if a.program == nil || fn == nil {
		return
	}
	a.program.Send(runMsg{fn: fn})
}

// SetContent swaps the displayed content. It must run inside Update.
func (a *App) SetContent(res plugins.Result) {
	a.result = res
	a.hasResult = true
	a.reloads++
	a.content.SetContent(RenderResult(res, a.content.Width))
	a.content.GotoTop()
	if res.Fallback {
		a.statusMsg = fmt.Sprintf("Reload #%d failed · showing diagnostics", a.reloads)
	} else {
		a.statusMsg = fmt.Sprintf("Reload #%d · %s · %s", a.reloads, res.Fingerprint.Short(), res.Duration.Round(time.Millisecond))
	}
}

// Host returns the surface description handed to views.
func (a *App) Host() live.Host {
	a.hostMu.Lock()
	defer a.hostMu.Unlock()
	return a.host
}

// ObserveState forwards orchestrator transitions into the UI.
func (a *App) ObserveState(from, to orchestrator.State) {
	if a.program == nil {
		return
	}
	a.program.Send(stateMsg{from: from, to: to})
}

// Err returns the fatal error that stopped the program, if any.
func (a *App) Err() error {
	return a.err
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, scheduleLogRefresh(), tea.SetWindowTitle("relive · "+a.config.Title()))
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			a.statusMsg = "Shutting down…"
			return a, tea.Quit
		}
		var cmd tea.Cmd
		a.content, cmd = a.content.Update(msg)
		return a, cmd

	case runMsg:
		msg.fn()
		a.refreshLog()
		return a, nil

	case stateMsg:
		a.state = msg.to
		if msg.to == orchestrator.StateBuilding {
			a.statusMsg = "Starting build tool…"
		}
		return a, nil

	case logTickMsg:
		a.refreshLog()
		return a, scheduleLogRefresh()

	case FatalMsg:
		a.err = msg.Err
		return a, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

// View renders the current state of the app.
func (a *App) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Bold(true).Foreground(danger).Render("⟳ RELIVE"),
		"  ",
		lipgloss.NewStyle().Bold(true).Render(a.config.Title()),
		"  ",
		renderState(a.state, a.spinner.View()),
	)
	body := a.content.View()
	if !a.hasResult {
		body = lipgloss.NewStyle().Foreground(muted).Render("No content yet. Edit a view source to trigger a reload.")
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(frame).
		Padding(0, 1).
		Width(max(20, a.width-2)).
		Render(body)
	sections := []string{header, box}
	if panel := renderLog(filepath.Base(a.logbook.Path()), a.logLines, a.width); panel != "" {
		sections = append(sections, panel)
	}
	footer := lipgloss.NewStyle().
		Foreground(muted).
		Render(a.statusMsg + "    q → quit")
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) resize(width, height int) {
	a.width = width
	a.height = height
	contentHeight := height - chromeHeight - logPanelLines - 4
	a.content.Width = max(20, width-6)
	a.content.Height = max(3, contentHeight)
	if a.hasResult {
		a.content.SetContent(RenderResult(a.result, a.content.Width))
	}
	a.hostMu.Lock()
	a.host.Width = a.content.Width
	a.host.Height = a.content.Height
	a.hostMu.Unlock()
}

func (a *App) refreshLog() {
	if a.logbook == nil {
		return
	}
	a.logLines, _ = a.logbook.Tail(logPanelLines)
}

func scheduleLogRefresh() tea.Cmd {
	return tea.Tick(logRefreshInterval, func(time.Time) tea.Msg { return logTickMsg{} })
}
