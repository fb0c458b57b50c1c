package registry

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

var (
	ErrUnknownMetric      = errors.New("unknown metric")
	ErrKindMismatch       = errors.New("metric kind mismatch")
	ErrInconsistentLabels = errors.New("inconsistent label set")
	ErrDuplicateMetric    = errors.New("metric already registered")
)

type Kind string

const (
	KindGauge   Kind = "gauge"
	KindCounter Kind = "counter"
)

// Labels maps label dimension names to concrete values.
type Labels = prometheus.Labels

// Desc declares a metric: its kind, label dimensions and help text.
type Desc struct {
	Name   string
	Help   string
	Kind   Kind
	Labels []string
}

// Point is a single labeled value as currently held by the registry.
type Point struct {
	Name   string            `json:"name"`
	Kind   Kind              `json:"kind"`
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"value"`
}

// Registry owns a private prometheus registry plus the gauge and counter
// vectors declared on it. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	prom     *prometheus.Registry
	gauges   map[string]*prometheus.GaugeVec
	counters map[string]*prometheus.CounterVec
}

func New() *Registry {
	return &Registry{
		prom:     prometheus.NewRegistry(),
		gauges:   make(map[string]*prometheus.GaugeVec),
		counters: make(map[string]*prometheus.CounterVec),
	}
}

// Register declares one metric. Each name may only be registered once.
func (r *Registry) Register(d Desc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.gauges[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMetric, d.Name)
	}
	if _, ok := r.counters[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMetric, d.Name)
	}

	switch d.Kind {
	case KindGauge:
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: d.Name, Help: d.Help}, d.Labels)
		if err := r.prom.Register(vec); err != nil {
			return fmt.Errorf("registering gauge %s: %w", d.Name, err)
		}
		r.gauges[d.Name] = vec
	case KindCounter:
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: d.Name, Help: d.Help}, d.Labels)
		if err := r.prom.Register(vec); err != nil {
			return fmt.Errorf("registering counter %s: %w", d.Name, err)
		}
		r.counters[d.Name] = vec
	default:
		return fmt.Errorf("registering %s: unsupported kind %q", d.Name, d.Kind)
	}
	return nil
}

// Set overwrites the gauge value for the given label assignment.
func (r *Registry) Set(name string, labels Labels, v float64) error {
	r.mu.RLock()
	vec, ok := r.gauges[name]
	_, isCounter := r.counters[name]
	r.mu.RUnlock()

	if !ok {
		if isCounter {
			return fmt.Errorf("%w: %s is a counter", ErrKindMismatch, name)
		}
		return fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	g, err := vec.GetMetricWith(labels)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInconsistentLabels, name, err)
	}
	g.Set(v)
	return nil
}

// Inc adds one to the counter for the given label assignment.
func (r *Registry) Inc(name string, labels Labels) error {
	c, err := r.counter(name, labels)
	if err != nil {
		return err
	}
	c.Inc()
	return nil
}

// Touch makes sure a counter series exists, at zero if it was never incremented.
func (r *Registry) Touch(name string, labels Labels) error {
	_, err := r.counter(name, labels)
	return err
}

func (r *Registry) counter(name string, labels Labels) (prometheus.Counter, error) {
	r.mu.RLock()
	vec, ok := r.counters[name]
	_, isGauge := r.gauges[name]
	r.mu.RUnlock()

	if !ok {
		if isGauge {
			return nil, fmt.Errorf("%w: %s is a gauge", ErrKindMismatch, name)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	c, err := vec.GetMetricWith(labels)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInconsistentLabels, name, err)
	}
	return c, nil
}

// Value returns the current value of one series. The bool is false when the
// series has never been written.
func (r *Registry) Value(name string, labels Labels) (float64, bool, error) {
	points, err := r.Snapshot()
	if err != nil {
		return 0, false, err
	}
	for _, p := range points {
		if p.Name == name && sameLabels(p.Labels, labels) {
			return p.Value, true, nil
		}
	}
	return 0, false, nil
}

// Snapshot gathers every series currently held, sorted by name.
func (r *Registry) Snapshot() ([]Point, error) {
	families, err := r.prom.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	var points []Point
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			p := Point{
				Name:   mf.GetName(),
				Labels: make(map[string]string, len(m.GetLabel())),
			}
			for _, lp := range m.GetLabel() {
				p.Labels[lp.GetName()] = lp.GetValue()
			}
			switch mf.GetType() {
			case dto.MetricType_GAUGE:
				p.Kind = KindGauge
				p.Value = m.GetGauge().GetValue()
			case dto.MetricType_COUNTER:
				p.Kind = KindCounter
				p.Value = m.GetCounter().GetValue()
			default:
				continue
			}
			points = append(points, p)
		}
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Name < points[j].Name
	})
	return points, nil
}

// Gatherer exposes the underlying prometheus registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prom
}

// Handler serves the text exposition format for this registry only.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

func sameLabels(have map[string]string, want Labels) bool {
	if len(have) != len(want) {
		return false
	}
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// IsConsistencyError reports whether err comes from writing a metric that
// does not match its declaration.
func IsConsistencyError(err error) bool {
	return errors.Is(err, ErrInconsistentLabels) ||
		errors.Is(err, ErrUnknownMetric) ||
		errors.Is(err, ErrKindMismatch)
}
