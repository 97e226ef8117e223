package ui

import "github.com/charmbracelet/lipgloss"

// Catppuccin Mocha palette.
var (
	ColorGreen  = lipgloss.Color("#a6e3a1")
	ColorBlue   = lipgloss.Color("#89b4fa")
	ColorYellow = lipgloss.Color("#f9e2af")
	ColorRed    = lipgloss.Color("#f38ba8")
	ColorTeal   = lipgloss.Color("#94e2d5")
	ColorMauve  = lipgloss.Color("#cba6f7")
	ColorMuted  = lipgloss.Color("#5a6278")
	ColorDim    = lipgloss.Color("#3a4055")
	ColorBright = lipgloss.Color("#cdd6f4")
)

type styles struct {
	header  lipgloss.Style
	label   lipgloss.Style
	divider lipgloss.Style
	value   lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	failed  lipgloss.Style
	active  lipgloss.Style
	pending lipgloss.Style
}

// newStyles builds the styles against r, which decides the color profile
// from its output (plain text when it is not a terminal or NO_COLOR is set).
func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:  r.NewStyle().Bold(true).Foreground(ColorBright),
		label:   r.NewStyle().Foreground(ColorMauve),
		divider: r.NewStyle().Foreground(ColorDim),
		value:   r.NewStyle().Foreground(ColorBright),
		muted:   r.NewStyle().Foreground(ColorMuted),
		ok:      r.NewStyle().Foreground(ColorGreen),
		failed:  r.NewStyle().Foreground(ColorRed).Bold(true),
		active:  r.NewStyle().Foreground(ColorBlue),
		pending: r.NewStyle().Foreground(ColorYellow).Italic(true),
	}
}
