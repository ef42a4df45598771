package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Host answered every probe
	SymbolFail     = "✗" // Host failed
	SymbolPending  = "○" // Task stopped or not yet run
	SymbolProgress = "◐" // Task starting or stopping
	SymbolComplete = "●" // Task running
	SymbolPartial  = "◑" // Host answered some probes
)

// StateSymbol maps a task state to its colored symbol.
func StateSymbol(state string) string {
	switch state {
	case "running":
		return Style(ColorSuccess).Render(SymbolComplete)
	case "starting", "stopping":
		return Style(ColorWarning).Render(SymbolProgress)
	default:
		return Style(ColorMuted).Render(SymbolPending)
	}
}

// HostSymbol marks a collected host: failed, partially probed or healthy.
func HostSymbol(failed bool, probeErr string) string {
	switch {
	case failed:
		return Style(ColorError).Render(SymbolFail)
	case probeErr != "":
		return Style(ColorWarning).Render(SymbolPartial)
	default:
		return Style(ColorSuccess).Render(SymbolSuccess)
	}
}
