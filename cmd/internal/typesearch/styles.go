package typesearch

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("39")
	colorSecondary = lipgloss.Color("86")
	colorError     = lipgloss.Color("196")
	colorDim       = lipgloss.Color("241")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorSecondary)

	kindStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Width(10)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	promptBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("237")).
			Padding(0, 1)
)
