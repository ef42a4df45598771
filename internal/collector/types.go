package collector

import (
	"time"
)

// InterfaceRate is the bandwidth of one interface in megabits per second.
type InterfaceRate struct {
	InMbps  float64 `json:"in_mbps"`
	OutMbps float64 `json:"out_mbps"`
}

// Sample is one host's result for one cycle. Values holds one entry per
// configured metric key; a nil value means that probe failed.
type Sample struct {
	ProxyID     int64                    `json:"proxy_id"`
	CollectedAt time.Time                `json:"collected_at"`
	Values      map[string]*float64      `json:"values"`
	Interfaces  map[string]InterfaceRate `json:"interfaces,omitempty"`
	Community   string                   `json:"community"`
	Probes      map[string]string        `json:"probes"`
	Error       string                   `json:"error,omitempty"`
}

// Value returns the value for key and whether it is present.
func (s Sample) Value(key string) (float64, bool) {
	v, ok := s.Values[key]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// Result summarizes one fleet collection. Samples holds successful hosts
// only; failed hosts appear in Errors.
type Result struct {
	Requested int              `json:"requested"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Errors    map[int64]string `json:"errors"`
	Samples   []Sample         `json:"samples"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
}

// ProbeObserver receives the outcome of every probe.
type ProbeObserver interface {
	ObserveProbe(metric string, ok bool, took time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveProbe(string, bool, time.Duration) {}
