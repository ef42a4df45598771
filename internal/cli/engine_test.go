package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rileyhilliard/proxymon/internal/config"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/logger"
	"github.com/rileyhilliard/proxymon/internal/probe/probetest"
	"github.com/rileyhilliard/proxymon/internal/ui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cpuOID   = "1.3.6.1.4.1.2021.11.9.0"
	connsOID = "1.3.6.1.4.1.3495.1.3.2.1.1.0"
)

// plainOutput turns off colors and machine mode for the test.
func plainOutput(t *testing.T) {
	t.Helper()
	ui.DisableColors()
	oldMode := machineMode
	machineMode = false
	t.Cleanup(func() {
		ui.EnableColors()
		machineMode = oldMode
	})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	active, inactive := true, false
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "samples.db")
	cfg.SSH.ConfigFile = filepath.Join(t.TempDir(), "ssh_config")
	cfg.Metrics.Probes = map[string]string{"cpu": cpuOID, "cc": connsOID}
	cfg.Metrics.Thresholds = map[string]float64{"cpu": 80}
	cfg.Fleet = []config.ProxyConfig{
		{ID: 1, Name: "edge-1", Host: "10.0.0.1", Active: &active},
		{ID: 2, Name: "edge-2", Host: "10.0.0.2"},
		{ID: 3, Name: "spare", Host: "10.0.0.3", Active: &inactive},
	}
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, persist bool) (*engine, *probetest.CounterReader) {
	t.Helper()
	counters := probetest.NewCounterReader()
	e, err := buildEngine(cfg, engineOptions{
		persist:  persist,
		counters: counters,
		commands: probetest.NewCommandRunner(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e, counters
}

func TestBuildEngine(t *testing.T) {
	cfg := testConfig(t)

	e, _ := newTestEngine(t, cfg, true)
	require.NotNil(t, e.store)
	require.NotNil(t, e.retention)
	assert.Empty(t, e.fanout.Sinks())
	assert.Equal(t, []string{"cc", "cpu"}, e.spec.Keys())

	all, err := e.targets(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := e.targets(context.Background(), []int64{2})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, 161, some[0].SNMPPort)

	_, err = e.targets(context.Background(), []int64{9})
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	noStore, _ := newTestEngine(t, testConfig(t), false)
	assert.Nil(t, noStore.store)
	assert.Nil(t, noStore.retention)
}

func TestBuildEngine_InvalidSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = nil

	_, err := buildEngine(cfg, engineOptions{persist: true, sinks: true, counters: probetest.NewCounterReader()})
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestRunCollect(t *testing.T) {
	plainOutput(t)
	e, counters := newTestEngine(t, testConfig(t), true)
	counters.SetValue("10.0.0.1", cpuOID, 42)
	counters.SetValue("10.0.0.1", connsOID, 120)
	counters.SetDown("10.0.0.2", true)

	var out bytes.Buffer
	require.NoError(t, runCollect(context.Background(), e, nil, &out, false))

	text := out.String()
	assert.Contains(t, text, "edge-1")
	assert.Contains(t, text, "42.0%")
	assert.Contains(t, text, "120.00")
	assert.Contains(t, text, "edge-2")
	assert.Contains(t, text, "timed out")
	assert.NotContains(t, text, "spare", "inactive proxies are not probed")
	assert.Contains(t, text, "2 requested, 1 succeeded, 1 failed")

	n, err := e.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRunCollect_JSON(t *testing.T) {
	plainOutput(t)
	machineMode = true
	e, counters := newTestEngine(t, testConfig(t), false)
	counters.SetValue("10.0.0.1", cpuOID, 10)
	counters.SetValue("10.0.0.1", connsOID, 3)

	var out bytes.Buffer
	require.NoError(t, runCollect(context.Background(), e, []int64{1}, &out, false))

	var env struct {
		Success bool `json:"success"`
		Data    struct {
			Requested int `json:"requested"`
			Succeeded int `json:"succeeded"`
			Samples   []struct {
				ProxyID int64              `json:"proxy_id"`
				Values  map[string]float64 `json:"values"`
			} `json:"samples"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, 1, env.Data.Requested)
	require.Len(t, env.Data.Samples, 1)
	assert.Equal(t, 10.0, env.Data.Samples[0].Values["cpu"])
}

func TestRunCollect_AllFailed(t *testing.T) {
	plainOutput(t)
	e, counters := newTestEngine(t, testConfig(t), false)
	counters.SetDown("10.0.0.1", true)
	counters.SetDown("10.0.0.2", true)

	var out bytes.Buffer
	err := runCollect(context.Background(), e, nil, &out, false)
	assert.True(t, errors.IsCode(err, errors.ErrTransport))
	assert.Contains(t, out.String(), "0 succeeded, 2 failed")
}

func TestRunCollect_UnknownProxy(t *testing.T) {
	plainOutput(t)
	e, _ := newTestEngine(t, testConfig(t), false)

	var out bytes.Buffer
	err := runCollect(context.Background(), e, []int64{42}, &out, false)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
	assert.Empty(t, out.String())
}

func TestStartConfiguredTasks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tasks = map[string]config.TaskConfig{
		"edge":   {ProxyIDs: []int64{1}, Interval: time.Minute, Autostart: true},
		"all":    {Autostart: true},
		"manual": {},
		"bad":    {ProxyIDs: []int64{9}, Autostart: true},
	}
	e, _ := newTestEngine(t, cfg, false)
	log := logger.NewBufferLogger()

	started := startConfiguredTasks(context.Background(), e, log)

	assert.Equal(t, 2, started)
	assert.True(t, e.scheduler.IsRunning("edge"))
	assert.True(t, e.scheduler.IsRunning("all"))
	assert.False(t, e.scheduler.IsRunning("manual"))
	assert.False(t, e.scheduler.IsRunning("bad"))
	assert.True(t, log.Contains("error", "task bad"))
	assert.True(t, log.Contains("info", "task edge started: 1 proxies every 60s"))

	all := e.scheduler.Status("all")
	assert.Equal(t, []int64{1, 2, 3}, all.TargetIDs)
}
