package monitor

import (
	"testing"
	"time"

	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/stretchr/testify/assert"
)

func fptr(v float64) *float64 { return &v }

func sampleAt(id int64, at time.Time, cpu float64) collector.Sample {
	return collector.Sample{
		ProxyID:     id,
		CollectedAt: at,
		Values:      map[string]*float64{"cpu": fptr(cpu), "cc": nil},
	}
}

func TestHistory_Push(t *testing.T) {
	h := NewHistory(3)
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	assert.True(t, h.Push(sampleAt(1, base, 10)))
	assert.False(t, h.Push(sampleAt(1, base, 99)), "same collected_at is not a new point")
	assert.False(t, h.Push(sampleAt(1, base.Add(-time.Second), 99)), "older sample is ignored")
	assert.True(t, h.Push(sampleAt(1, base.Add(time.Minute), 20)))

	assert.Equal(t, []float64{10, 20}, h.Get(1, "cpu", 10))
	assert.Nil(t, h.Get(1, "cc", 10), "nil values are not recorded")
	assert.Equal(t, 2, h.Count(1))
}

func TestHistory_Wraps(t *testing.T) {
	h := NewHistory(3)
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		h.Push(sampleAt(7, base.Add(time.Duration(i)*time.Minute), float64(i)))
	}

	assert.Equal(t, []float64{2, 3, 4}, h.Get(7, "cpu", 10))
	assert.Equal(t, []float64{3, 4}, h.Get(7, "cpu", 2))
	assert.Nil(t, h.Get(7, "cpu", 0))
	assert.Equal(t, 3, h.Count(7))
}

func TestHistory_Interfaces(t *testing.T) {
	h := NewHistory(0)
	smp := sampleAt(1, time.Now(), 1)
	smp.Interfaces = map[string]collector.InterfaceRate{
		"eth0": {InMbps: 10, OutMbps: 1},
		"eth1": {InMbps: 5, OutMbps: 2},
	}
	h.Push(smp)

	assert.Equal(t, []float64{15}, h.Get(1, SeriesNetIn, 5))
	assert.Equal(t, []float64{3}, h.Get(1, SeriesNetOut, 5))
}

func TestHistory_Clear(t *testing.T) {
	h := NewHistory(5)
	h.Push(sampleAt(1, time.Now(), 1))
	h.Clear(1)

	assert.Equal(t, 0, h.Count(1))
	assert.Nil(t, h.Get(1, "cpu", 5))
	assert.Nil(t, h.Get(2, "cpu", 5))
}
