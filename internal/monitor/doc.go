// Package monitor implements the live fleet dashboard behind 'proxymon top'.
//
// The dashboard polls a Source for the newest stored sample of every proxy
// and renders a table of utilisation gauges, counts and interface rates, with
// a sparkline of recent CPU history per proxy. It does not probe the fleet
// itself; a running 'proxymon serve' keeps the store fresh.
//
// # Architecture
//
// The package uses the Bubble Tea framework (Model-Update-View):
//
//   - Model: fleet targets, latest samples, selection and sort order
//   - Update: processes keystrokes, refresh ticks and fetched samples
//   - View: renders the list or the detail view of the selected proxy
//
// # Message Flow
//
//  1. tickMsg fires at the refresh interval
//  2. fetchCmd reads the latest sample of every proxy in parallel
//  3. samplesMsg arrives; samples newer than the last seen one are pushed
//     into History
//  4. View re-renders
//
// # Proxy States
//
//	waiting     no sample stored yet
//	reporting   a recent sample without probe errors
//	degraded    a recent sample where some probes failed
//	stale       the newest sample is older than the stale window
//	unreadable  the store read for this proxy failed
package monitor
