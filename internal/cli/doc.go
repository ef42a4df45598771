// Package cli implements the proxymon command-line interface.
//
// Commands fall into two groups. Local commands load the config and build
// the collection stack in-process:
//
//	proxymon serve      - Run scheduled collection, retention and the HTTP API
//	proxymon collect    - Collect from the fleet once and print the results
//	proxymon samples    - Query the sample store
//	proxymon prune      - Run one retention pass
//	proxymon top        - Live dashboard over the sample store
//	proxymon init       - Write an example proxymon.yaml
//
// Remote commands talk to a running 'proxymon serve' over HTTP:
//
//	proxymon status     - Task status (--fleet lists the configured proxies)
//	proxymon task start - Start a named task
//	proxymon task stop  - Stop a named task
//	proxymon watch      - Stream status events over the websocket
//
// # Flag Handling
//
// Global flags (--config, --verbose, --no-color, --json) are defined on the
// root command. With --json every command writes a JSONEnvelope to stdout
// and errors are mapped to stable machine-readable codes.
package cli
