package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/kingrea/relive/internal/orchestrator"
	"github.com/kingrea/relive/plugins"
)

var (
	accent   = lipgloss.Color("#5B8DEF")
	danger   = lipgloss.Color("#FF6B6B")
	muted    = lipgloss.Color("#888888")
	dim      = lipgloss.Color("#AAAAAA")
	frame    = lipgloss.Color("#444444")
	positive = lipgloss.Color("#7BD88F")
)

// RenderResult formats a load result for display. Fallbacks are framed in a
// red diagnostic box so a broken version is never mistaken for content.
func RenderResult(res plugins.Result, width int) string {
	if !res.Fallback {
		return res.Content
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(danger).
		Render("⚠ RELOAD FAILED")
	body := lipgloss.NewStyle().
		Foreground(dim).
		Width(max(20, width-4)).
		Render(res.Content)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(danger).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func renderState(state orchestrator.State, spin string) string {
	color := muted
	label := state.String()
	switch state {
	case orchestrator.StateBuilding, orchestrator.StateReloading:
		color = accent
		label = spin + " " + label
	case orchestrator.StateWatching:
		color = positive
	case orchestrator.StateShuttingDown:
		color = danger
	}
	return lipgloss.NewStyle().Foreground(color).Render(label)
}

func renderLog(title string, lines []string, width int) string {
	if len(lines) == 0 {
		return ""
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(accent).
		Render(fmt.Sprintf("LOG · %s", title))
	body := lipgloss.NewStyle().
		Foreground(dim).
		MaxWidth(max(20, width-4)).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(frame).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}
