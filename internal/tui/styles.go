package tui

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true) // blue
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))            // cyan
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))             // red
	thinkStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // gray
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var spinnerChars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
