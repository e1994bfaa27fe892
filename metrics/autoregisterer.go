package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// autoRegisterer lazily creates and registers a Prometheus collector the
// first time a given stat name is seen, and hands back the same
// collector on every later call for that name. promScope needs this
// because Scope.Inc/Gauge/Timing take a bare name per call rather than
// a pre-declared collector.
type autoRegisterer struct {
	mu        sync.Mutex
	reg       prometheus.Registerer
	counters  map[string]*prometheus.CounterVec
	gauges    map[string]*prometheus.GaugeVec
	summaries map[string]*prometheus.SummaryVec
}

func newAutoRegisterer(reg prometheus.Registerer) *autoRegisterer {
	return &autoRegisterer{
		reg:       reg,
		counters:  make(map[string]*prometheus.CounterVec),
		gauges:    make(map[string]*prometheus.GaugeVec),
		summaries: make(map[string]*prometheus.SummaryVec),
	}
}

func (a *autoRegisterer) autoCounter(name string) prometheus.Counter {
	a.mu.Lock()
	defer a.mu.Unlock()
	vec, ok := a.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: sanitize(name)}, nil)
		a.reg.MustRegister(vec)
		a.counters[name] = vec
	}
	return vec.WithLabelValues()
}

func (a *autoRegisterer) autoGauge(name string) prometheus.Gauge {
	a.mu.Lock()
	defer a.mu.Unlock()
	vec, ok := a.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: sanitize(name)}, nil)
		a.reg.MustRegister(vec)
		a.gauges[name] = vec
	}
	return vec.WithLabelValues()
}

func (a *autoRegisterer) autoSummary(name string) prometheus.Observer {
	a.mu.Lock()
	defer a.mu.Unlock()
	vec, ok := a.summaries[name]
	if !ok {
		vec = prometheus.NewSummaryVec(prometheus.SummaryOpts{Name: sanitize(name)}, nil)
		a.reg.MustRegister(vec)
		a.summaries[name] = vec
	}
	return vec.WithLabelValues()
}

// sanitize replaces the dot-separated-scope characters promScope builds
// names out of with underscores, since Prometheus metric names can't
// contain dots.
func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if c := name[i]; c == '.' || c == '-' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
