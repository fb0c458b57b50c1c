package emitter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffypooo/iotemitter/internal/metrics"
	"github.com/jeffypooo/iotemitter/internal/registry"
	"github.com/jeffypooo/iotemitter/internal/scenario"
)

const testDevice = "node-1"

var (
	idLabels     = registry.Labels{registry.LabelDeviceID: testDevice}
	failedLabels = registry.Labels{registry.LabelDeviceID: testDevice, registry.LabelStatus: registry.StatusFailed}
	co2Labels    = registry.Labels{registry.LabelDeviceID: testDevice, registry.LabelRoom: "kitchen"}
)

func quietLogger() *log.Logger {
	l := log.New("test")
	l.SetOutput(io.Discard)
	return l
}

// fixedSource always returns the same draw.
type fixedSource struct{ f float64 }

func (s fixedSource) Float64() float64 { return s.f }
func (s fixedSource) IntN(n int) int   { return int(s.f * float64(n)) }

// scriptedSource replays fixed draws in order, wrapping around when exhausted.
type scriptedSource struct {
	floats []float64
	ints   []int
	fi, ii int
}

func (s *scriptedSource) Float64() float64 {
	v := s.floats[s.fi%len(s.floats)]
	s.fi++
	return v
}

func (s *scriptedSource) IntN(n int) int {
	v := s.ints[s.ii%len(s.ints)]
	s.ii++
	return v % n
}

type stubSampler struct {
	samples []metrics.Sample
	errs    []error
	calls   int
}

func (s *stubSampler) Sample(context.Context) (metrics.Sample, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return metrics.Sample{}, s.errs[i]
	}
	if len(s.samples) == 0 {
		return metrics.Sample{}, nil
	}
	return s.samples[i%len(s.samples)], nil
}

func hostSample() metrics.Sample {
	return metrics.Sample{CPUPercent: 0.7, MemUsedBytes: 1 << 30, MemTotalBytes: 4 << 30, NetBytesSent: 123_456}
}

func newTestCollector(t *testing.T, sampler metrics.Sampler, src scenario.Source, logger *log.Logger) (*Collector, *registry.Registry) {
	t.Helper()
	return newSelectorCollector(t, scenario.DefaultTimeWindows(), sampler, src, logger)
}

func newSelectorCollector(t *testing.T, sel scenario.Selector, sampler metrics.Sampler, src scenario.Source, logger *log.Logger) (*Collector, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, registry.DeclareDeviceMetrics(reg, testDevice))
	if logger == nil {
		logger = quietLogger()
	}
	c, err := NewCollector(Options{
		DeviceID: testDevice,
		Room:     "kitchen",
		Sampler:  sampler,
		Selector: sel,
		Entropy:  src,
		Registry: reg,
		Logger:   logger,
	})
	require.NoError(t, err)
	return c, reg
}

func value(t *testing.T, reg *registry.Registry, name string, labels registry.Labels) float64 {
	t.Helper()
	v, ok, err := reg.Value(name, labels)
	require.NoError(t, err)
	require.True(t, ok, "%s%v not set", name, labels)
	return v
}

func TestCycleBenignWindow(t *testing.T) {
	c, reg := newTestCollector(t, &stubSampler{samples: []metrics.Sample{hostSample()}}, scenario.NewSource(1), nil)

	rep, err := c.RunCycle(context.Background(), time.Unix(10, 0))
	require.NoError(t, err)

	assert.Equal(t, scenario.Benign, rep.Scenario)
	assert.Zero(t, rep.LoginFailures)
	assert.Equal(t, 0.0, value(t, reg, registry.MetricAttackType, idLabels))
	assert.Equal(t, 0.0, value(t, reg, registry.MetricLoginAttempts, failedLabels))
	assert.Equal(t, 0.7, value(t, reg, registry.MetricCPUUsage, idLabels), "benign keeps the real cpu")
	assert.Equal(t, 123_456.0, value(t, reg, registry.MetricNetTransmit, idLabels))
	assert.Equal(t, float64(1<<30), value(t, reg, registry.MetricRAMUsage, idLabels))
	assert.Equal(t, float64(4<<30), value(t, reg, registry.MetricRAMTotal, idLabels))
}

func TestCycleBotnetWindow(t *testing.T) {
	c, reg := newTestCollector(t, &stubSampler{samples: []metrics.Sample{hostSample()}}, scenario.NewSource(2), nil)

	rep, err := c.RunCycle(context.Background(), time.Unix(35, 0))
	require.NoError(t, err)

	assert.Equal(t, scenario.BotnetFlood, rep.Scenario)
	assert.Equal(t, 1.0, value(t, reg, registry.MetricAttackType, idLabels))
	cpu := value(t, reg, registry.MetricCPUUsage, idLabels)
	assert.True(t, cpu >= 80 && cpu <= 100, "cpu %v", cpu)
	net := value(t, reg, registry.MetricNetTransmit, idLabels)
	assert.True(t, net >= 5e6 && net <= 1.5e7, "net %v", net)
	assert.Equal(t, float64(1<<30), value(t, reg, registry.MetricRAMUsage, idLabels), "memory is never synthetic")
	assert.Equal(t, 0.0, value(t, reg, registry.MetricLoginAttempts, failedLabels))
}

func TestCycleBruteForceWindow(t *testing.T) {
	c, reg := newTestCollector(t, &stubSampler{samples: []metrics.Sample{hostSample()}}, scenario.NewSource(3), nil)

	var total float64
	for i := 0; i < 5; i++ {
		before := value(t, reg, registry.MetricLoginAttempts, failedLabels)
		rep, err := c.RunCycle(context.Background(), time.Unix(50+int64(i)*60, 0))
		require.NoError(t, err)
		after := value(t, reg, registry.MetricLoginAttempts, failedLabels)

		assert.Equal(t, scenario.BruteForce, rep.Scenario)
		assert.Equal(t, 2.0, value(t, reg, registry.MetricAttackType, idLabels))
		delta := after - before
		assert.Equal(t, float64(rep.LoginFailures), delta)
		assert.True(t, delta >= 5 && delta <= 20, "increments %v", delta)
		assert.GreaterOrEqual(t, after, before)
		total += delta
	}
	assert.Equal(t, total, value(t, reg, registry.MetricLoginAttempts, failedLabels))
}

func TestCycleRandomMode(t *testing.T) {
	// draw order per cycle: selector, profile cpu, profile net, [logins], hazard roll, ppm
	src := &scriptedSource{
		floats: []float64{
			0.92, 0.5, 0.5, 0.5,
			0.97, 0.5, 0.5, 0.5,
			0.10, 0.5, 0.5, 0.5,
		},
		ints: []int{0, 0, 7, 0},
	}
	c, reg := newSelectorCollector(t, scenario.DefaultWeights(), &stubSampler{samples: []metrics.Sample{hostSample()}}, src, nil)
	ctx := context.Background()

	// the wall clock says benign, the weighted draw decides
	rep, err := c.RunCycle(ctx, time.Unix(10, 0))
	require.NoError(t, err)
	assert.Equal(t, scenario.BotnetFlood, rep.Scenario)
	assert.Equal(t, 1.0, value(t, reg, registry.MetricAttackType, idLabels))
	assert.Equal(t, 90.0, value(t, reg, registry.MetricCPUUsage, idLabels))
	assert.Equal(t, 5_000_000.0, value(t, reg, registry.MetricNetTransmit, idLabels))
	assert.Equal(t, 600.0, value(t, reg, registry.MetricCO2, co2Labels))
	assert.Equal(t, 0.0, value(t, reg, registry.MetricLoginAttempts, failedLabels))

	rep, err = c.RunCycle(ctx, time.Unix(11, 0))
	require.NoError(t, err)
	assert.Equal(t, scenario.BruteForce, rep.Scenario)
	assert.Equal(t, 2.0, value(t, reg, registry.MetricAttackType, idLabels))
	assert.Equal(t, 15.0, value(t, reg, registry.MetricCPUUsage, idLabels))
	assert.Equal(t, 20_000.0, value(t, reg, registry.MetricNetTransmit, idLabels))
	assert.Equal(t, 12, rep.LoginFailures)
	assert.Equal(t, 12.0, value(t, reg, registry.MetricLoginAttempts, failedLabels))

	rep, err = c.RunCycle(ctx, time.Unix(12, 0))
	require.NoError(t, err)
	assert.Equal(t, scenario.Benign, rep.Scenario)
	assert.Equal(t, 0.0, value(t, reg, registry.MetricAttackType, idLabels))
	assert.Equal(t, 0.7, value(t, reg, registry.MetricCPUUsage, idLabels), "benign keeps the real cpu")
	assert.Equal(t, 123_456.0, value(t, reg, registry.MetricNetTransmit, idLabels))
	assert.Equal(t, 12.0, value(t, reg, registry.MetricLoginAttempts, failedLabels), "counter only grows in brute force")
	assert.Equal(t, float64(1<<30), value(t, reg, registry.MetricRAMUsage, idLabels))
}

func TestCycleHazardUsesRoomLabel(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New("test")
	logger.SetOutput(&buf)

	c, reg := newTestCollector(t, &stubSampler{}, fixedSource{f: 0.01}, logger)
	rep, err := c.RunCycle(context.Background(), time.Unix(5, 0))
	require.NoError(t, err)

	assert.True(t, rep.Hazard.Hazardous)
	ppm := value(t, reg, registry.MetricCO2, co2Labels)
	assert.InDelta(t, 2030.0, ppm, 1e-9)
	assert.Contains(t, buf.String(), "hazard_spike")
	assert.Contains(t, buf.String(), "scenario_change")
}

func TestSampleFailureReusesLastKnownGood(t *testing.T) {
	boom := errors.New("procfs unavailable")
	first := hostSample()
	second := hostSample()
	second.MemUsedBytes = 2 << 30
	sampler := &stubSampler{
		samples: []metrics.Sample{{}, first, {}, second},
		errs:    []error{boom, nil, boom},
	}
	c, reg := newTestCollector(t, sampler, scenario.NewSource(4), nil)
	ctx := context.Background()

	rep, err := c.RunCycle(ctx, time.Unix(0, 0))
	require.NoError(t, err)
	assert.Nil(t, rep.Sample)
	assert.Equal(t, boom.Error(), rep.SampleError)
	_, ok, err := reg.Value(registry.MetricRAMUsage, idLabels)
	require.NoError(t, err)
	assert.False(t, ok, "no sample yet, memory stays unset")
	cpu := value(t, reg, registry.MetricCPUUsage, idLabels)
	assert.True(t, cpu >= 1 && cpu <= 5, "falls back to the benign profile, got %v", cpu)

	_, err = c.RunCycle(ctx, time.Unix(1, 0))
	require.NoError(t, err)

	rep, err = c.RunCycle(ctx, time.Unix(2, 0))
	require.NoError(t, err)
	assert.True(t, rep.SampleStale)
	assert.Equal(t, float64(1<<30), value(t, reg, registry.MetricRAMUsage, idLabels))

	rep, err = c.RunCycle(ctx, time.Unix(3, 0))
	require.NoError(t, err)
	assert.False(t, rep.SampleStale)
	assert.Equal(t, float64(2<<30), value(t, reg, registry.MetricRAMUsage, idLabels))
	assert.Equal(t, uint64(4), rep.Sequence)
}

func TestFreshRegistryStartsEmpty(t *testing.T) {
	c, reg := newTestCollector(t, &stubSampler{samples: []metrics.Sample{hostSample()}}, scenario.NewSource(5), nil)
	_, err := c.RunCycle(context.Background(), time.Unix(50, 0))
	require.NoError(t, err)
	assert.Positive(t, value(t, reg, registry.MetricLoginAttempts, failedLabels))

	_, fresh := newTestCollector(t, &stubSampler{}, scenario.NewSource(5), nil)
	assert.Zero(t, value(t, fresh, registry.MetricLoginAttempts, failedLabels))
	_, ok, err := fresh.Value(registry.MetricAttackType, idLabels)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok = (&Collector{}).LastReport()
	assert.False(t, ok)
}

func TestLastReport(t *testing.T) {
	c, _ := newTestCollector(t, &stubSampler{}, scenario.NewSource(6), nil)
	want, err := c.RunCycle(context.Background(), time.Unix(31, 0))
	require.NoError(t, err)

	got, ok := c.LastReport()
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestUndeclaredRegistryIsConsistencyError(t *testing.T) {
	c, err := NewCollector(Options{
		DeviceID: testDevice,
		Room:     "kitchen",
		Sampler:  &stubSampler{},
		Selector: scenario.DefaultTimeWindows(),
		Entropy:  scenario.NewSource(7),
		Registry: registry.New(),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	_, err = c.RunCycle(context.Background(), time.Unix(0, 0))
	require.Error(t, err)
	assert.True(t, registry.IsConsistencyError(err))
}

func TestNewCollectorValidates(t *testing.T) {
	_, err := NewCollector(Options{Room: "kitchen"})
	assert.Error(t, err)
	_, err = NewCollector(Options{DeviceID: testDevice, Room: "kitchen"})
	assert.Error(t, err)
}
