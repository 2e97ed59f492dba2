package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter serves the turnsync collectors from a private registry.
type Exporter struct {
	registry *prometheus.Registry
}

type exporterOptions struct {
	instanceID string
	runtime    bool
}

// ExporterOption tunes NewExporter.
type ExporterOption func(*exporterOptions)

// WithInstanceLabel stamps every turnsync series with instance_id so
// replicas sharing a room bus can be told apart after federation.
func WithInstanceLabel(id string) ExporterOption {
	return func(o *exporterOptions) { o.instanceID = id }
}

// WithoutRuntimeCollectors leaves out the Go and process collectors.
func WithoutRuntimeCollectors() ExporterOption {
	return func(o *exporterOptions) { o.runtime = false }
}

// NewExporter registers the turnsync collectors, plus the Go runtime and
// process collectors unless disabled, in a fresh registry.
func NewExporter(opts ...ExporterOption) *Exporter {
	o := exporterOptions{runtime: true}
	for _, opt := range opts {
		opt(&o)
	}

	reg := prometheus.NewRegistry()
	var own prometheus.Registerer = reg
	if o.instanceID != "" {
		own = prometheus.WrapRegistererWith(prometheus.Labels{"instance_id": o.instanceID}, reg)
	}
	own.MustRegister(allMetrics...)
	if o.runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return &Exporter{registry: reg}
}

// Registry exposes the registry for Gather in tests.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Handler serves /metrics in OpenMetrics when the scraper asks for it.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
