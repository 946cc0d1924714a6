// Package metrics exposes Prometheus counters for stage derivation and panel sync.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "panel"

type Metrics struct {
	registry *prometheus.Registry

	derivations   *prometheus.CounterVec
	navigation    *prometheus.CounterVec
	syncBatches   *prometheus.CounterVec
	syncUpserted  prometheus.Counter
	syncDropped   prometheus.Counter
	upstreamFetch *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.derivations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_derivations_total",
		Help:      "Derived stage statuses served, by stage and status.",
	}, []string{"stage", "status"})

	m.navigation = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "navigation_checks_total",
		Help:      "Stage navigation checks, by stage and outcome.",
	}, []string{"stage", "allowed"})

	m.syncBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_batches_total",
		Help:      "Panel sync batches written to the store, by result.",
	}, []string{"result"})

	m.syncUpserted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_upserted_total",
		Help:      "Panels inserted or changed by sync batches.",
	})

	m.syncDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_dropped_total",
		Help:      "Panels dropped because the sync queue was full or a batch failed.",
	})

	m.upstreamFetch = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_fetches_total",
		Help:      "Requests to the upstream panel API, by result.",
	}, []string{"result"})

	m.registry.MustRegister(
		m.derivations,
		m.navigation,
		m.syncBatches,
		m.syncUpserted,
		m.syncDropped,
		m.upstreamFetch,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveStage(stage, status string) {
	if m == nil {
		return
	}
	m.derivations.WithLabelValues(stage, status).Inc()
}

func (m *Metrics) ObserveNavigation(stage string, allowed bool) {
	if m == nil {
		return
	}
	m.navigation.WithLabelValues(stage, strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) ObserveBatch(upserted int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.syncBatches.WithLabelValues("error").Inc()
		return
	}
	m.syncBatches.WithLabelValues("ok").Inc()
	m.syncUpserted.Add(float64(upserted))
}

func (m *Metrics) ObserveDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.syncDropped.Add(float64(n))
}

func (m *Metrics) ObserveUpstream(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.upstreamFetch.WithLabelValues(result).Inc()
}
