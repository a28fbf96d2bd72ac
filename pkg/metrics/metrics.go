// Package metrics exposes the engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "poolsync"

// Metrics groups the collectors shared by reconcilers and the action builder.
type Metrics struct {
	registry *prometheus.Registry

	rebuilds        *prometheus.CounterVec
	rebuildDuration *prometheus.HistogramVec
	workingSet      *prometheus.GaugeVec
	subscriptions   *prometheus.GaugeVec
	readFailures    *prometheus.CounterVec
	triggers        *prometheus.CounterVec
	actions         *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "rebuilds_total",
			Help:      "Working-set rebuilds by view and outcome.",
		}, []string{"view", "outcome"}),
		rebuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "rebuild_duration_seconds",
			Help:      "Wall time of a full rebuild.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"view"}),
		workingSet: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "working_set_records",
			Help:      "Records in the current snapshot.",
		}, []string{"view"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "subscriptions",
			Help:      "Live event subscriptions held by the view.",
		}, []string{"view"}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "read_failures_total",
			Help:      "Per-identifier reads omitted from a rebuild.",
		}, []string{"view"}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "triggers_total",
			Help:      "Rebuild triggers by source; coalesced triggers are counted as dropped.",
		}, []string{"view", "source"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "submitted_total",
			Help:      "Ledger writes by action and outcome.",
		}, []string{"action", "outcome"}),
	}
	m.registry.MustRegister(
		m.rebuilds,
		m.rebuildDuration,
		m.workingSet,
		m.subscriptions,
		m.readFailures,
		m.triggers,
		m.actions,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRebuild(view string, took time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rebuilds.WithLabelValues(view, outcome).Inc()
	m.rebuildDuration.WithLabelValues(view).Observe(took.Seconds())
}

func (m *Metrics) SetWorkingSet(view string, records int) {
	if m == nil {
		return
	}
	m.workingSet.WithLabelValues(view).Set(float64(records))
}

func (m *Metrics) SetSubscriptions(view string, n int) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(view).Set(float64(n))
}

func (m *Metrics) IncReadFailure(view string) {
	if m == nil {
		return
	}
	m.readFailures.WithLabelValues(view).Inc()
}

// IncTrigger counts a trigger. source is "timer", "event", "session", "manual"
// or "dropped".
func (m *Metrics) IncTrigger(view, source string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(view, source).Inc()
}

func (m *Metrics) ObserveAction(action string, err error) {
	if m == nil {
		return
	}
	outcome := "submitted"
	if err != nil {
		outcome = "failed"
	}
	m.actions.WithLabelValues(action, outcome).Inc()
}
