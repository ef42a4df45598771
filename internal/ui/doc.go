// Package ui renders proxymon's human-facing CLI output: fleet tables,
// percentage gauges, sparklines and a spinner for ad hoc collections.
//
// Colors are ANSI codes so they follow the terminal theme:
//
//	ColorSuccess (green)  - healthy values, completed cycles
//	ColorWarning (yellow) - values past the warn threshold
//	ColorError   (red)    - failed hosts, values past the critical threshold
//	ColorMuted   (gray)   - timing and secondary text
//
// Call DisableColors when output is not a terminal or --json is set.
package ui
