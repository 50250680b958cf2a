// Package telemetry exposes Prometheus metrics behind small interfaces so
// that instrumented code never checks whether metrics are enabled: until
// Initialize installs a registry, every metric is a no-op.
package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var registry *prometheus.Registry

type Histogram interface {
	Observe(float64)
}

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
}

type CounterVec interface {
	With(labels ...string) Counter
}

type NoopStat struct{}

func (NoopStat) Observe(float64) {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Inc()            {}
func (NoopStat) Dec()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Sub(float64)     {}

type noopCounterVec struct{}

func (noopCounterVec) With(labels ...string) Counter { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

func NewCounter(name string, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "apubsub",
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	})

	registry.MustRegister(ret)
	return ret
}

func NewGauge(name string, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "apubsub",
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	})

	registry.MustRegister(ret)
	return ret
}

func NewHistogram(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "apubsub",
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: constLabels,
	})

	registry.MustRegister(ret)
	return ret
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}

	ret := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "apubsub",
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	}, labels)

	registry.MustRegister(ret)
	return &prometheusCounterVec{vec: ret}
}

var constLabels prometheus.Labels

// Initialize installs the registry, registers runtime collectors and binds
// every package metric to a real Prometheus series. Origin labels all series
// with the emitting node.
func Initialize(origin string) {
	constLabels = prometheus.Labels{"origin": origin}
	registry = prometheus.NewRegistry()

	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	initMetrics()

	log.Info().Str("origin", origin).Msg("Prometheus metrics enabled")
}

// Handler returns the HTTP handler serving the registry, or nil when metrics
// are disabled.
func Handler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Serve starts the metrics endpoint on addr:port in a background goroutine.
func Serve(addr string, port int) {
	handler := Handler()
	if handler == nil {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	bind := fmt.Sprintf("%s:%d", addr, port)
	go func() {
		if err := http.ListenAndServe(bind, mux); err != nil {
			log.Error().Err(err).Str("bind", bind).Msg("metrics endpoint stopped")
		}
	}()
	log.Info().Str("bind", bind).Msg("serving metrics endpoint")
}
