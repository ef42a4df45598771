package monitor

import (
	"sync"

	"github.com/rileyhilliard/proxymon/internal/collector"
)

// DefaultHistorySize is the number of points kept per metric.
const DefaultHistorySize = 60

// Series names for summed interface throughput.
const (
	SeriesNetIn  = "net_in"
	SeriesNetOut = "net_out"
)

// History keeps recent values per proxy and metric in ring buffers.
type History struct {
	mu      sync.RWMutex
	size    int
	proxies map[int64]*proxyHistory
}

type proxyHistory struct {
	last   collector.Sample
	series map[string]*ringBuffer
}

// ringBuffer is a fixed-size circular buffer for float64 values.
type ringBuffer struct {
	data  []float64
	head  int
	count int
	size  int
}

// NewHistory creates a history with size points per series.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{
		size:    size,
		proxies: make(map[int64]*proxyHistory),
	}
}

// Push records smp. A sample that is not newer than the last one pushed for
// the proxy is ignored, so polling the same stored row twice adds one point.
// It reports whether the sample was recorded.
func (h *History) Push(smp collector.Sample) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	hist, ok := h.proxies[smp.ProxyID]
	if !ok {
		hist = &proxyHistory{series: make(map[string]*ringBuffer)}
		h.proxies[smp.ProxyID] = hist
	} else if !smp.CollectedAt.After(hist.last.CollectedAt) {
		return false
	}
	hist.last = smp

	for key := range smp.Values {
		if v, ok := smp.Value(key); ok {
			h.seriesLocked(hist, key).push(v)
		}
	}
	if smp.Interfaces != nil {
		var in, out float64
		for _, r := range smp.Interfaces {
			in += r.InMbps
			out += r.OutMbps
		}
		h.seriesLocked(hist, SeriesNetIn).push(in)
		h.seriesLocked(hist, SeriesNetOut).push(out)
	}
	return true
}

// Get returns up to count values of a series, oldest first.
func (h *History) Get(proxyID int64, key string, count int) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	hist, ok := h.proxies[proxyID]
	if !ok {
		return nil
	}
	rb, ok := hist.series[key]
	if !ok {
		return nil
	}
	return rb.getLast(count)
}

// Count returns how many samples were recorded for a proxy, capped at the
// history size.
func (h *History) Count(proxyID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	hist, ok := h.proxies[proxyID]
	if !ok {
		return 0
	}
	n := 0
	for _, rb := range hist.series {
		if rb.count > n {
			n = rb.count
		}
	}
	return n
}

// Clear drops the history of one proxy.
func (h *History) Clear(proxyID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.proxies, proxyID)
}

// Must be called with h.mu held.
func (h *History) seriesLocked(hist *proxyHistory, key string) *ringBuffer {
	rb, ok := hist.series[key]
	if !ok {
		rb = newRingBuffer(h.size)
		hist.series[key] = rb
	}
	return rb
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{
		data: make([]float64, size),
		size: size,
	}
}

func (r *ringBuffer) push(value float64) {
	r.data[r.head] = value
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// getLast returns the last count values in chronological order. head is the
// next write position.
func (r *ringBuffer) getLast(count int) []float64 {
	if count <= 0 || r.count == 0 {
		return nil
	}
	if count > r.count {
		count = r.count
	}

	result := make([]float64, count)
	start := (r.head - count + r.size) % r.size
	for i := 0; i < count; i++ {
		result[i] = r.data[(start+i)%r.size]
	}
	return result
}
