// Package ui holds the terminal styles shared by the CLI commands.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Pass renders a success line with a check mark.
func Pass(format string, args ...any) string {
	return passStyle.Render("✓") + " " + fmt.Sprintf(format, args...)
}

// Warn renders a warning line.
func Warn(format string, args ...any) string {
	return warnStyle.Render("⚠") + " " + fmt.Sprintf(format, args...)
}

// Fail renders an error line.
func Fail(format string, args ...any) string {
	return failStyle.Render("✗") + " " + fmt.Sprintf(format, args...)
}

// Accent highlights an identifier or value inside command output.
func Accent(s string) string {
	return accentStyle.Render(s)
}

// Faint de-emphasizes secondary detail.
func Faint(s string) string {
	return faintStyle.Render(s)
}

// Header renders a table or section heading.
func Header(s string) string {
	return headerStyle.Render(s)
}
