// Package tui renders the calibration workbench in a terminal and keeps it
// current from the daemon's event stream.
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/smarteye/smarteye/pkg/calibration"
)

// Palette, tuned for dark terminals.
var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
)

var (
	AccentStyle  = lipgloss.NewStyle().Foreground(purple)
	SuccessStyle = lipgloss.NewStyle().Foreground(green)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red)
	WarnStyle    = lipgloss.NewStyle().Foreground(yellow)
	MutedStyle   = lipgloss.NewStyle().Foreground(dim)
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(purple)
	PanelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(dim).Padding(0, 1)
)

func SuccessMsg(format string, a ...any) string {
	return SuccessStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

func WarnMsg(format string, a ...any) string {
	return WarnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

func ErrorMsg(format string, a ...any) string {
	return ErrorStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

func InfoMsg(format string, a ...any) string {
	return AccentStyle.Render("●") + " " + fmt.Sprintf(format, a...)
}

// Badge renders a step status as a short colored marker. running is what a
// running step shows, usually a spinner frame.
func Badge(s calibration.Status, running string) string {
	switch s {
	case calibration.StatusPass:
		return SuccessStyle.Render("✓ pass")
	case calibration.StatusFail:
		return ErrorStyle.Render("✗ fail")
	case calibration.StatusRunning:
		return AccentStyle.Render(running + " running")
	}
	return MutedStyle.Render("○ pending")
}
