package web

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffypooo/iotemitter/internal/emitter"
	"github.com/jeffypooo/iotemitter/internal/registry"
	"github.com/jeffypooo/iotemitter/internal/scenario"
)

func TestCycleDisplayWaiting(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, CycleDisplay(nil, nil).Render(context.Background(), &sb))
	assert.Contains(t, sb.String(), "waiting for the first collection cycle")
}

func TestCycleDisplayAttack(t *testing.T) {
	rep := &emitter.Report{
		Sequence:      3,
		At:            time.Unix(50, 0).UTC(),
		Scenario:      scenario.BruteForce,
		Profile:       scenario.Output{Scenario: scenario.BruteForce, Code: 2, LoginFailures: 7},
		Hazard:        scenario.Reading{PPM: 2500, Hazardous: true},
		LoginFailures: 7,
	}
	points := []registry.Point{
		{Name: registry.MetricAttackType, Kind: registry.KindGauge, Labels: map[string]string{"device_id": "<node>"}, Value: 2},
		{Name: registry.MetricCPUUsage, Kind: registry.KindGauge, Labels: map[string]string{"device_id": "<node>"}, Value: 15.25},
	}

	var sb strings.Builder
	require.NoError(t, CycleDisplay(rep, points).Render(context.Background(), &sb))
	out := sb.String()

	assert.Contains(t, out, "cycle #3")
	assert.Contains(t, out, `class="attack"`)
	assert.Contains(t, out, "brute_force")
	assert.Contains(t, out, "7 failed logins")
	assert.Contains(t, out, "CO2 hazard: 2500 ppm")
	assert.Contains(t, out, "15.25")
	assert.NotContains(t, out, "<node>", "label values are escaped")
	assert.NotContains(t, out, "\n")
}

func TestIndex(t *testing.T) {
	var sb strings.Builder
	err := Index(Status{
		DeviceID:       "node-1",
		Room:           "kitchen",
		RunID:          "run-123",
		Mode:           "time",
		Interval:       5 * time.Second,
		StreamInterval: "5s",
	}).Render(context.Background(), &sb)
	require.NoError(t, err)

	out := sb.String()
	assert.True(t, strings.HasPrefix(out, "<!doctype html>"))
	assert.Contains(t, out, "node-1")
	assert.Contains(t, out, "run-123")
	assert.Contains(t, out, `data-stream="/api/cycles/sse?interval=5s"`)
	assert.Contains(t, out, "waiting for the first collection cycle")
}

func TestStreamURL(t *testing.T) {
	assert.Equal(t, "/api/cycles/sse?interval=5s", streamURL("5s"))
	assert.Equal(t, "/api/cycles/sse?interval=1m0s", streamURL("1m0s"))
	assert.Equal(t, "/api/cycles/sse?interval=1+s%26x", streamURL("1 s&x"))
}
