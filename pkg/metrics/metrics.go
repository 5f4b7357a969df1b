// Package metrics records run telemetry in a private Prometheus registry
// and exports it in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crosscal"

// Metrics implements grid.Recorder and the batch runner's timing hooks
type Metrics struct {
	registry *prometheus.Registry

	cells         *prometheus.CounterVec
	overlaps      *prometheus.CounterVec
	batches       *prometheus.CounterVec
	batchDuration prometheus.Histogram
	observations  prometheus.Counter
}

// New creates the collectors and registers them with a fresh registry
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.cells = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cells_total",
		Help:      "Grid cells visited, by outcome.",
	}, []string{"status"})

	m.overlaps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "overlaps_total",
		Help:      "Residual cross-calibration rule evaluations, by rule and outcome.",
	}, []string{"rule", "outcome"})

	m.batches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_total",
		Help:      "Input files processed, by result.",
	}, []string{"result"})

	m.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_duration_seconds",
		Help:      "Wall time spent per input file.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	})

	m.observations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "observations_total",
		Help:      "Observations loaded across all input files.",
	})

	for _, c := range []prometheus.Collector{m.cells, m.overlaps, m.batches, m.batchDuration, m.observations} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// CellDone counts a visited cell
func (m *Metrics) CellDone(status string) {
	m.cells.WithLabelValues(status).Inc()
}

// Overlap counts a Stage B rule evaluation
func (m *Metrics) Overlap(rule, outcome string) {
	m.overlaps.WithLabelValues(rule, outcome).Inc()
}

// BatchDone records the result and duration of one input file
func (m *Metrics) BatchDone(err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.batches.WithLabelValues(result).Inc()
	m.batchDuration.Observe(elapsed.Seconds())
}

// Loaded counts loaded observations
func (m *Metrics) Loaded(n int) {
	m.observations.Add(float64(n))
}

// WriteTextfile writes every metric to path for the textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("error writing metrics textfile: %w", err)
	}
	return nil
}
