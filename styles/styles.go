package styles

import "github.com/charmbracelet/lipgloss"

var (
	TITLE = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5a3fd6"))

	INFO = lipgloss.NewStyle().
		Italic(true).
		Foreground(lipgloss.Color("8"))

	SUCCESS = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	// WARNING is for expected outcomes such as no loader answering.
	WARNING = lipgloss.NewStyle().
		Foreground(lipgloss.Color("3"))

	ERROR = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("9"))
)
