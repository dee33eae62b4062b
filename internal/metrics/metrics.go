// Package metrics exposes Prometheus collectors for the reconciliation engine.
//
// All methods are safe on a nil *Collector so components can run without
// metrics in tests and one-shot CLI commands.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reconcile"

// Collector owns a private registry and the engine's metric families.
type Collector struct {
	registry *prometheus.Registry

	lookupsTotal        *prometheus.CounterVec
	lookupDuration      prometheus.Histogram
	operationsTotal     *prometheus.CounterVec
	operationsActive    prometheus.Gauge
	mappingWritesTotal  *prometheus.CounterVec
	cascadeConflicts    prometheus.Counter
	candidateRejections prometheus.Counter
	rowsClassified      *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		lookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Candidate lookups against the authority by outcome.",
		}, []string{"outcome"}),
		lookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Latency of candidate lookups.",
			Buckets:   prometheus.DefBuckets,
		}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Batch operations by terminal status.",
		}, []string{"status"}),
		operationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operations_active",
			Help:      "Batch operations currently pending or running.",
		}),
		mappingWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_writes_total",
			Help:      "Mapping store writes by result.",
		}, []string{"result"}),
		cascadeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_conflicts_total",
			Help:      "Mapping writes refused because materialized dependents exist.",
		}),
		candidateRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_rejections_total",
			Help:      "Candidates rejected by an operator.",
		}),
		rowsClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_classified_total",
			Help:      "Rows classified by batch runs, by bucket.",
		}, []string{"bucket"}),
	}
	registry.MustRegister(
		c.lookupsTotal,
		c.lookupDuration,
		c.operationsTotal,
		c.operationsActive,
		c.mappingWritesTotal,
		c.cascadeConflicts,
		c.candidateRejections,
		c.rowsClassified,
		prometheus.NewGoCollector(),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveLookup records one authority call.
func (c *Collector) ObserveLookup(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.lookupsTotal.WithLabelValues(outcome).Inc()
	c.lookupDuration.Observe(elapsed.Seconds())
}

// OperationStarted increments the active gauge.
func (c *Collector) OperationStarted() {
	if c == nil {
		return
	}
	c.operationsActive.Inc()
}

// OperationFinished decrements the active gauge and counts the terminal status.
func (c *Collector) OperationFinished(status string) {
	if c == nil {
		return
	}
	c.operationsActive.Dec()
	c.operationsTotal.WithLabelValues(status).Inc()
}

// MappingWrite counts a mapping store write ("changed", "noop", "conflict", "error").
func (c *Collector) MappingWrite(result string) {
	if c == nil {
		return
	}
	c.mappingWritesTotal.WithLabelValues(result).Inc()
	if result == "conflict" {
		c.cascadeConflicts.Inc()
	}
}

// CandidateRejected counts a reject advisory.
func (c *Collector) CandidateRejected() {
	if c == nil {
		return
	}
	c.candidateRejections.Inc()
}

// RowClassified counts one row placed in bucket by a batch run.
func (c *Collector) RowClassified(bucket string) {
	if c == nil {
		return
	}
	c.rowsClassified.WithLabelValues(bucket).Inc()
}
