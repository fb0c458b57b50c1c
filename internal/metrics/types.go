package metrics

import "time"

// Sample is a snapshot of the real host facts the emitter reports.
type Sample struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemUsedBytes  uint64    `json:"mem_used_bytes"`
	MemTotalBytes uint64    `json:"mem_total_bytes"`
	NetBytesSent  uint64    `json:"net_bytes_sent"`
	TakenAt       time.Time `json:"taken_at"`
}

type HostInfo struct {
	Hostname      string `json:"hostname"`
	Platform      string `json:"platform"`
	KernelArch    string `json:"kernel_arch"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
}
