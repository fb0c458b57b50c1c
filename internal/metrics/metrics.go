package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

var ErrNoInterfaces = errors.New("no network counters reported")

// Sampler returns the current host facts.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SystemSampler reads CPU, memory and network counters through gopsutil.
type SystemSampler struct {
	mu  sync.Mutex
	now func() time.Time
}

func NewSystemSampler() *SystemSampler {
	return &SystemSampler{now: time.Now}
}

// Sample takes one snapshot. It is thread-safe.
func (s *SystemSampler) Sample(ctx context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Percent(0) reports usage since the previous call
	cpuUsage, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("error getting CPU usage: %w", err)
	}
	if len(cpuUsage) == 0 {
		return Sample{}, errors.New("error getting CPU usage: empty result")
	}

	memUsage, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("error getting memory usage: %w", err)
	}

	netStats, err := net.IOCountersWithContext(ctx, false) // false = aggregated
	if err != nil {
		return Sample{}, fmt.Errorf("error getting network usage: %w", err)
	}
	if len(netStats) == 0 {
		return Sample{}, fmt.Errorf("error getting network usage: %w", ErrNoInterfaces)
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return Sample{
		CPUPercent:    cpuUsage[0],
		MemUsedBytes:  memUsage.Used,
		MemTotalBytes: memUsage.Total,
		NetBytesSent:  netStats[0].BytesSent,
		TakenAt:       now(),
	}, nil
}

// LookupHost describes the machine the emitter runs on.
func LookupHost(ctx context.Context) (HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return HostInfo{}, fmt.Errorf("error getting host info: %w", err)
	}
	return HostInfo{
		Hostname:      info.Hostname,
		Platform:      info.Platform + " " + info.PlatformVersion,
		KernelArch:    info.KernelArch,
		UptimeSeconds: info.Uptime,
	}, nil
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (Sample, error)

func (f SamplerFunc) Sample(ctx context.Context) (Sample, error) {
	return f(ctx)
}
