// Package web renders the emitter's status page and the live cycle panel.
// The components live in web.templ; run `templ generate` after editing it.
package web

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jeffypooo/iotemitter/internal/emitter"
	"github.com/jeffypooo/iotemitter/internal/metrics"
	"github.com/jeffypooo/iotemitter/internal/registry"
)

// Status is everything the index page shows.
type Status struct {
	DeviceID  string
	Room      string
	RunID     string
	Mode      string
	Interval  time.Duration
	StartedAt time.Time
	Host      *metrics.HostInfo
	// StreamInterval is passed through to the SSE endpoint.
	StreamInterval string
	Last           *emitter.Report
	Points         []registry.Point
}

func streamURL(interval string) string {
	return "/api/cycles/sse?" + url.Values{"interval": {interval}}.Encode()
}

func scenarioLine(rep *emitter.Report) string {
	line := fmt.Sprintf("scenario %s (code %d)", rep.Scenario, rep.Profile.Code)
	if rep.LoginFailures > 0 {
		line += fmt.Sprintf(" · %d failed logins", rep.LoginFailures)
	}
	return line
}

func formatPPM(ppm float64) string {
	return strconv.FormatFloat(ppm, 'f', 0, 64)
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
