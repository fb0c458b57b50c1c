package scenario

import (
	"fmt"
	"time"
)

type Mode string

const (
	ModeTime   Mode = "time"
	ModeRandom Mode = "random"
)

// Selector picks the scenario for one collection cycle.
type Selector interface {
	Select(now time.Time, src Source) Scenario
}

// NewSelector returns the default selector for mode.
func NewSelector(mode Mode) (Selector, error) {
	switch mode {
	case ModeTime, "":
		return DefaultTimeWindows(), nil
	case ModeRandom:
		return DefaultWeights(), nil
	}
	return nil, fmt.Errorf("unknown scenario mode %q", mode)
}

// Band maps the seconds [Start, End) of the window to a scenario.
type Band struct {
	Start    int64
	End      int64
	Scenario Scenario
}

// TimeWindowSelector partitions a repeating wall-clock window into bands.
// The result depends only on unix seconds modulo the window length.
type TimeWindowSelector struct {
	WindowSeconds int64
	Bands         []Band
}

func DefaultTimeWindows() *TimeWindowSelector {
	return &TimeWindowSelector{
		WindowSeconds: 60,
		Bands: []Band{
			{Start: 0, End: 30, Scenario: Benign},
			{Start: 30, End: 45, Scenario: BotnetFlood},
			{Start: 45, End: 60, Scenario: BruteForce},
		},
	}
}

func (s *TimeWindowSelector) Select(now time.Time, _ Source) Scenario {
	return s.At(now.Unix())
}

// At returns the scenario for a unix second.
func (s *TimeWindowSelector) At(unixSeconds int64) Scenario {
	off := unixSeconds % s.WindowSeconds
	if off < 0 {
		off += s.WindowSeconds
	}
	for _, b := range s.Bands {
		if off >= b.Start && off < b.End {
			return b.Scenario
		}
	}
	return Benign
}

// Weight is the relative chance of one scenario in a probabilistic draw.
type Weight struct {
	Scenario Scenario
	Weight   float64
}

// ProbabilisticSelector makes an independent weighted draw every cycle.
type ProbabilisticSelector struct {
	Weights []Weight
}

func DefaultWeights() *ProbabilisticSelector {
	return &ProbabilisticSelector{
		Weights: []Weight{
			{Scenario: Benign, Weight: 0.90},
			{Scenario: BotnetFlood, Weight: 0.05},
			{Scenario: BruteForce, Weight: 0.05},
		},
	}
}

func (s *ProbabilisticSelector) Select(_ time.Time, src Source) Scenario {
	var total float64
	for _, w := range s.Weights {
		total += w.Weight
	}
	if total <= 0 {
		return Benign
	}
	x := src.Float64() * total
	for _, w := range s.Weights {
		if x < w.Weight {
			return w.Scenario
		}
		x -= w.Weight
	}
	return s.Weights[len(s.Weights)-1].Scenario
}
