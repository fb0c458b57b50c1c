package emitter

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/jeffypooo/iotemitter/internal/registry"
)

// Cycler runs one collection cycle at the given time.
type Cycler interface {
	RunCycle(ctx context.Context, now time.Time) (Report, error)
}

// Scheduler repeats a Cycler with a fixed delay after each cycle ends. The
// delay does not account for the cycle's own run time.
type Scheduler struct {
	cycler   Cycler
	clock    Clock
	interval time.Duration
	logger   *log.Logger

	// MaxCycles stops Run after that many cycles when positive.
	MaxCycles int
}

func NewScheduler(cycler Cycler, clock Clock, interval time.Duration, logger *log.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.New("scheduler")
	}
	return &Scheduler{
		cycler:   cycler,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Run loops until ctx is done, MaxCycles is reached, or a cycle fails with a
// registry consistency error. Other failures, panics included, are logged
// and the loop carries on.
func (s *Scheduler) Run(ctx context.Context) error {
	for n := 1; ; n++ {
		if ctx.Err() != nil {
			return nil
		}

		if err := s.runOnce(ctx); err != nil {
			if registry.IsConsistencyError(err) {
				return fmt.Errorf("collection cycle %d: %w", n, err)
			}
			s.logger.Errorj(log.JSON{
				"event": "cycle_error",
				"cycle": n,
				"error": err.Error(),
			})
		}

		if s.MaxCycles > 0 && n >= s.MaxCycles {
			return nil
		}
		if err := s.clock.Sleep(ctx, s.interval); err != nil {
			return nil
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	_, err = s.cycler.RunCycle(ctx, s.clock.Now())
	return err
}
