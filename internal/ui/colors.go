package ui

import "github.com/charmbracelet/lipgloss"

// Semantic colors for status indication
const (
	ColorSuccess lipgloss.Color = "2" // Green
	ColorError   lipgloss.Color = "1" // Red
	ColorWarning lipgloss.Color = "3" // Yellow
	ColorInfo    lipgloss.Color = "6" // Cyan
)

// Text colors for content hierarchy
const (
	ColorPrimary   lipgloss.Color = "7" // White/default
	ColorSecondary lipgloss.Color = "4" // Blue
	ColorMuted     lipgloss.Color = "8" // Gray (bright black)
)

var colorsEnabled = true

// DisableColors makes every renderer in this package emit plain text.
func DisableColors() { colorsEnabled = false }

// EnableColors undoes DisableColors.
func EnableColors() { colorsEnabled = true }

// ColorsEnabled reports whether styled output is on.
func ColorsEnabled() bool { return colorsEnabled }

// Style returns a foreground style for c, or an empty style when colors
// are disabled.
func Style(c lipgloss.Color) lipgloss.Style {
	if !colorsEnabled {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(c)
}

// Thresholds color a percentage. Values at or above Crit are red, at or
// above Warn yellow, anything lower green.
type Thresholds struct {
	Warn float64
	Crit float64
}

// DefaultThresholds apply to metrics without a configured alert level.
var DefaultThresholds = Thresholds{Warn: 60, Crit: 80}

// ThresholdsFor derives thresholds from a configured alert level. The warn
// band starts at three quarters of it.
func ThresholdsFor(alert float64) Thresholds {
	if alert <= 0 {
		return DefaultThresholds
	}
	return Thresholds{Warn: alert * 0.75, Crit: alert}
}

// Color returns the color for v.
func (t Thresholds) Color(v float64) lipgloss.Color {
	switch {
	case v >= t.Crit:
		return ColorError
	case v >= t.Warn:
		return ColorWarning
	default:
		return ColorSuccess
	}
}
