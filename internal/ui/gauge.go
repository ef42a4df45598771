package ui

import (
	"fmt"
	"strings"
)

// Gauge block characters.
const (
	gaugeFilled = '█'
	gaugeEmpty  = '░'
)

// RenderGauge draws a percentage as a bar followed by the value, colored by
// th. percent is clamped to 0-100 for the bar only.
//
//	[████████░░░░]  67%
func RenderGauge(percent float64, width int, th Thresholds) string {
	if width <= 0 {
		return ""
	}

	clamped := percent
	if clamped < 0 {
		clamped = 0
	} else if clamped > 100 {
		clamped = 100
	}

	filled := int((clamped / 100.0) * float64(width))

	var sb strings.Builder
	sb.Grow(width*3 + 2)
	sb.WriteRune('[')
	for i := 0; i < width; i++ {
		if i < filled {
			sb.WriteRune(gaugeFilled)
		} else {
			sb.WriteRune(gaugeEmpty)
		}
	}
	sb.WriteRune(']')

	return Style(th.Color(percent)).Render(sb.String()) + fmt.Sprintf(" %3.0f%%", percent)
}

// FormatValue renders an optional metric value. Missing values print as a
// muted dash.
func FormatValue(v *float64) string {
	if v == nil {
		return Style(ColorMuted).Render("-")
	}
	return fmt.Sprintf("%.2f", *v)
}

// FormatPercent renders an optional percentage colored by th.
func FormatPercent(v *float64, th Thresholds) string {
	if v == nil {
		return Style(ColorMuted).Render("-")
	}
	return Style(th.Color(*v)).Render(fmt.Sprintf("%.1f%%", *v))
}

// FormatMbps renders a rate in megabits per second.
func FormatMbps(v float64) string {
	if v >= 1000 {
		return fmt.Sprintf("%.2f Gbps", v/1000)
	}
	return fmt.Sprintf("%.2f Mbps", v)
}
