package emitter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffypooo/iotemitter/internal/metrics"
	"github.com/jeffypooo/iotemitter/internal/registry"
	"github.com/jeffypooo/iotemitter/internal/scenario"
)

type cycleFunc func(ctx context.Context, now time.Time) (Report, error)

func (f cycleFunc) RunCycle(ctx context.Context, now time.Time) (Report, error) {
	return f(ctx, now)
}

func TestSchedulerFixedDelay(t *testing.T) {
	start := time.Unix(1_000, 0)
	clock := NewSimulatedClock(start)

	var seen []time.Time
	s := NewScheduler(cycleFunc(func(_ context.Context, now time.Time) (Report, error) {
		seen = append(seen, now)
		clock.Advance(300 * time.Millisecond) // cycle run time is not compensated
		return Report{}, nil
	}), clock, 5*time.Second, quietLogger())
	s.MaxCycles = 4

	require.NoError(t, s.Run(context.Background()))
	require.Len(t, seen, 4)
	for i := 1; i < len(seen); i++ {
		assert.Equal(t, 5300*time.Millisecond, seen[i].Sub(seen[i-1]))
	}
}

func TestSchedulerSurvivesFailingCycles(t *testing.T) {
	calls := 0
	s := NewScheduler(cycleFunc(func(context.Context, time.Time) (Report, error) {
		calls++
		switch calls {
		case 2:
			panic("sensor exploded")
		case 3:
			return Report{}, errors.New("transient")
		}
		return Report{}, nil
	}), NewSimulatedClock(time.Unix(0, 0)), time.Second, quietLogger())
	s.MaxCycles = 5

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 5, calls)
}

func TestSchedulerStopsOnConsistencyError(t *testing.T) {
	calls := 0
	s := NewScheduler(cycleFunc(func(context.Context, time.Time) (Report, error) {
		calls++
		if calls == 3 {
			return Report{}, fmt.Errorf("writing x: %w", registry.ErrInconsistentLabels)
		}
		return Report{}, nil
	}), NewSimulatedClock(time.Unix(0, 0)), time.Second, quietLogger())

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrInconsistentLabels)
	assert.Equal(t, 3, calls)
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	s := NewScheduler(cycleFunc(func(context.Context, time.Time) (Report, error) {
		calls++
		cancel()
		return Report{}, nil
	}), SystemClock{}, time.Hour, quietLogger())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.Equal(t, 1, calls)
}

func TestSimulatedMinuteOfCycles(t *testing.T) {
	c, reg := newTestCollector(t, &stubSampler{samples: []metrics.Sample{hostSample()}}, scenario.NewSource(9), nil)
	clock := NewSimulatedClock(time.Unix(0, 0))
	s := NewScheduler(c, clock, 5*time.Second, quietLogger())
	s.MaxCycles = 12 * 10

	require.NoError(t, s.Run(context.Background()))

	rep, ok := c.LastReport()
	require.True(t, ok)
	assert.Equal(t, uint64(120), rep.Sequence)

	// per minute: seconds 45 50 55 are brute force
	logins := value(t, reg, registry.MetricLoginAttempts, failedLabels)
	assert.True(t, logins >= 10*3*5 && logins <= 10*3*20, "logins %v", logins)
}
