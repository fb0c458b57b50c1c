// Package emitter runs the collection cycle that blends host samples with
// synthetic scenarios and writes them to the metric registry.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/jeffypooo/iotemitter/internal/metrics"
	"github.com/jeffypooo/iotemitter/internal/registry"
	"github.com/jeffypooo/iotemitter/internal/scenario"
)

// Report describes everything one cycle produced.
type Report struct {
	Sequence uint64            `json:"sequence"`
	At       time.Time         `json:"at"`
	Scenario scenario.Scenario `json:"scenario"`
	Profile  scenario.Output   `json:"profile"`
	Hazard   scenario.Reading  `json:"hazard"`

	// Sample is nil when the host has never been sampled successfully.
	Sample      *metrics.Sample `json:"sample,omitempty"`
	SampleStale bool            `json:"sample_stale,omitempty"`
	SampleError string          `json:"sample_error,omitempty"`

	// Values written to the CPU and network gauges.
	CPUPercent    float64 `json:"cpu_percent"`
	NetworkBytes  float64 `json:"network_bytes"`
	LoginFailures int     `json:"login_failures"`
}

type Options struct {
	DeviceID string
	Room     string
	Sampler  metrics.Sampler
	Selector scenario.Selector
	Hazard   scenario.HazardModel
	Entropy  scenario.Source
	Registry *registry.Registry
	Logger   *log.Logger
}

// Collector runs collection cycles. Cycles are serialized; LastReport may be
// called from any goroutine.
type Collector struct {
	deviceID string
	room     string
	sampler  metrics.Sampler
	selector scenario.Selector
	hazard   scenario.HazardModel
	entropy  scenario.Source
	reg      *registry.Registry
	logger   *log.Logger

	mu           sync.Mutex
	seq          uint64
	lastSample   *metrics.Sample
	lastScenario *scenario.Scenario

	reportMu sync.RWMutex
	last     *Report
}

func NewCollector(opts Options) (*Collector, error) {
	switch {
	case opts.DeviceID == "":
		return nil, errors.New("collector: device id is required")
	case opts.Room == "":
		return nil, errors.New("collector: room is required")
	case opts.Sampler == nil, opts.Selector == nil, opts.Entropy == nil, opts.Registry == nil:
		return nil, errors.New("collector: sampler, selector, entropy and registry are required")
	}
	if opts.Hazard == (scenario.HazardModel{}) {
		opts.Hazard = scenario.DefaultHazard()
	}
	if opts.Logger == nil {
		opts.Logger = log.New("emitter")
	}
	return &Collector{
		deviceID: opts.DeviceID,
		room:     opts.Room,
		sampler:  opts.Sampler,
		selector: opts.Selector,
		hazard:   opts.Hazard,
		entropy:  opts.Entropy,
		reg:      opts.Registry,
		logger:   opts.Logger,
	}, nil
}

// RunCycle samples the host, picks a scenario for now, draws a hazard reading
// and writes every value to the registry.
func (c *Collector) RunCycle(ctx context.Context, now time.Time) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	rep := Report{Sequence: c.seq, At: now}

	sample, err := c.sampler.Sample(ctx)
	if err == nil {
		c.lastSample = &sample
		rep.Sample = &sample
	} else {
		rep.SampleError = err.Error()
		if c.lastSample != nil {
			stale := *c.lastSample
			rep.Sample = &stale
			rep.SampleStale = true
		}
		c.logger.Warnj(log.JSON{
			"event":      "sample_failed",
			"device_id":  c.deviceID,
			"error":      err.Error(),
			"reuse_last": rep.SampleStale,
		})
	}

	rep.Scenario = c.selector.Select(now, c.entropy)
	rep.Profile = scenario.Generate(rep.Scenario, c.entropy)
	rep.Hazard = c.hazard.Draw(c.entropy)

	// synthetic CPU and network replace the real ones outside Benign
	rep.CPUPercent = rep.Profile.CPUPercent
	rep.NetworkBytes = float64(rep.Profile.NetworkBytes)
	if rep.Scenario == scenario.Benign && rep.Sample != nil {
		rep.CPUPercent = rep.Sample.CPUPercent
		rep.NetworkBytes = float64(rep.Sample.NetBytesSent)
	}
	rep.LoginFailures = rep.Profile.LoginFailures

	if err := c.write(rep); err != nil {
		return rep, err
	}

	c.logTransitions(rep)

	c.reportMu.Lock()
	c.last = &rep
	c.reportMu.Unlock()
	return rep, nil
}

// LastReport returns the most recent completed cycle.
func (c *Collector) LastReport() (Report, bool) {
	c.reportMu.RLock()
	defer c.reportMu.RUnlock()
	if c.last == nil {
		return Report{}, false
	}
	return *c.last, true
}

func (c *Collector) write(rep Report) error {
	id := registry.Labels{registry.LabelDeviceID: c.deviceID}

	type gaugeWrite struct {
		name   string
		labels registry.Labels
		value  float64
	}
	var writes []gaugeWrite
	if rep.Sample != nil {
		writes = append(writes,
			gaugeWrite{registry.MetricRAMUsage, id, float64(rep.Sample.MemUsedBytes)},
			gaugeWrite{registry.MetricRAMTotal, id, float64(rep.Sample.MemTotalBytes)},
		)
	}
	writes = append(writes,
		gaugeWrite{registry.MetricCPUUsage, id, rep.CPUPercent},
		gaugeWrite{registry.MetricNetTransmit, id, rep.NetworkBytes},
		gaugeWrite{registry.MetricAttackType, id, float64(rep.Profile.Code)},
		gaugeWrite{registry.MetricCO2, registry.Labels{registry.LabelDeviceID: c.deviceID, registry.LabelRoom: c.room}, rep.Hazard.PPM},
	)
	for _, w := range writes {
		if err := c.reg.Set(w.name, w.labels, w.value); err != nil {
			return fmt.Errorf("writing %s: %w", w.name, err)
		}
	}

	failed := registry.Labels{registry.LabelDeviceID: c.deviceID, registry.LabelStatus: registry.StatusFailed}
	// one increment per simulated attempt
	for i := 0; i < rep.LoginFailures; i++ {
		if err := c.reg.Inc(registry.MetricLoginAttempts, failed); err != nil {
			return fmt.Errorf("writing %s: %w", registry.MetricLoginAttempts, err)
		}
	}
	return nil
}

func (c *Collector) logTransitions(rep Report) {
	if c.lastScenario == nil || *c.lastScenario != rep.Scenario {
		from := "none"
		if c.lastScenario != nil {
			from = c.lastScenario.String()
		}
		lvl := c.logger.Infoj
		if rep.Scenario != scenario.Benign {
			lvl = c.logger.Warnj
		}
		lvl(log.JSON{
			"event":     "scenario_change",
			"device_id": c.deviceID,
			"from":      from,
			"to":        rep.Scenario.String(),
			"code":      rep.Profile.Code,
		})
		s := rep.Scenario
		c.lastScenario = &s
	}

	if rep.Hazard.Hazardous {
		c.logger.Warnj(log.JSON{
			"event":     "hazard_spike",
			"device_id": c.deviceID,
			"room":      c.room,
			"co2_ppm":   int(rep.Hazard.PPM),
		})
	}

	c.logger.Debugj(log.JSON{
		"event":          "cycle_complete",
		"device_id":      c.deviceID,
		"sequence":       rep.Sequence,
		"scenario":       rep.Scenario.String(),
		"cpu_percent":    rep.CPUPercent,
		"login_failures": rep.LoginFailures,
		"co2_ppm":        int(rep.Hazard.PPM),
	})
}
