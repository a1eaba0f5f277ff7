// Package telemetry provides the production implementation of core.Telemetry, translating the
// generic Record(name, measurements, metadata) sink into Prometheus gauges, grounded on the
// teacher's promauto usage in internal/database/postgres/metrics.go and
// internal/api/middleware/metrics.go.
package telemetry

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/klabs/labelqueue/internal/core"
)

// Prometheus implements core.Telemetry by lazily registering one GaugeVec per measurement name
// the first time it is observed, using the sorted metadata keys as that vec's label set. Callers
// that always pass the same metadata keys for a given name (the normal case - see the fixed call
// sites in dispatcher, workers, export, and bridge) get a stable, low-cardinality metric; a name
// observed with a different key set later is dropped silently rather than panicking.
type Prometheus struct {
	namespace string
	registry  prometheus.Registerer

	mu    sync.Mutex
	gauges map[string]*registeredGauge
}

type registeredGauge struct {
	vec    *prometheus.GaugeVec
	labels []string // sorted
}

func NewPrometheus(registry prometheus.Registerer, namespace string) *Prometheus {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &Prometheus{
		namespace: namespace,
		registry:  registry,
		gauges:    make(map[string]*registeredGauge),
	}
}

func (p *Prometheus) Record(name string, measurements map[string]float64, metadata map[string]string) {
	labels := make([]string, 0, len(metadata))
	for k := range metadata {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	for metric, value := range measurements {
		g := p.gaugeFor(sanitizeName(name)+"_"+sanitizeName(metric), labels)
		if g == nil {
			continue
		}
		values := make([]string, len(labels))
		for i, k := range labels {
			values[i] = metadata[k]
		}
		g.vec.WithLabelValues(values...).Set(value)
	}
}

func (p *Prometheus) gaugeFor(name string, labels []string) *registeredGauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.gauges[name]; ok {
		if sameLabels(g.labels, labels) {
			return g
		}
		return nil
	}

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      "labelqueue telemetry measurement " + name,
	}, labels)
	if err := p.registry.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				g := &registeredGauge{vec: existing, labels: labels}
				p.gauges[name] = g
				return g
			}
		}
		return nil
	}
	g := &registeredGauge{vec: vec, labels: labels}
	p.gauges[name] = g
	return g
}

func sameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

var _ core.Telemetry = (*Prometheus)(nil)
