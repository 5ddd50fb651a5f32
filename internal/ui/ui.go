// Package ui holds the terminal styles shared by every crewsync command.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/crewsync/crewsync/internal/model"
)

func init() {
	// Respect NO_COLOR and friends; everything below degrades to plain
	// text when color is off.
	if termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

var (
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headingStyle = lipgloss.NewStyle().Bold(true).Underline(true)

	pendingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	inProgressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	completedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders s as a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s as a warning.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderErr renders s as an error.
func RenderErr(s string) string { return errStyle.Render(s) }

// RenderMuted renders s de-emphasized.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderHeading renders a section heading.
func RenderHeading(s string) string { return headingStyle.Render(s) }

// RenderStatus renders a task status in its conventional color.
func RenderStatus(s model.Status) string {
	switch s {
	case model.StatusPending:
		return pendingStyle.Render(string(s))
	case model.StatusInProgress:
		return inProgressStyle.Render(string(s))
	case model.StatusCompleted:
		return completedStyle.Render(string(s))
	}
	return string(s)
}

// ShortID abbreviates a UUID for list output.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RenderRole renders an employee role, highlighting elevated ones.
func RenderRole(r model.Role) string {
	switch r {
	case model.RoleOwner, model.RoleSuperAdmin:
		return accentStyle.Render(string(r))
	case model.RoleManager:
		return inProgressStyle.Render(string(r))
	}
	return string(r)
}

// Pluralize renders "n word(s)" with a naive plural.
func Pluralize(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
