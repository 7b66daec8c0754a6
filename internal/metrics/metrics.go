// Package metrics holds the prometheus collectors of one anonymization run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Unit statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run is a set of collectors registered on a private registry, so runs in
// the same process (and tests) never share counters.
type Run struct {
	Registry *prometheus.Registry

	Entities            *prometheus.CounterVec
	Units               *prometheus.CounterVec
	RecognitionFailures *prometheus.CounterVec
	UnitDuration        prometheus.Histogram
}

// New registers the run collectors on a fresh registry.
func New() *Run {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Run{
		Registry: reg,
		Entities: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anon_entities_total",
				Help: "Entity occurrences replaced, by entity type",
			},
			[]string{"entity_type"},
		),
		Units: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anon_units_total",
				Help: "Text units processed, by status",
			},
			[]string{"status"},
		),
		RecognitionFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anon_recognition_failures_total",
				Help: "Recognizer failures, by source",
			},
			[]string{"source"},
		),
		UnitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "anon_unit_duration_seconds",
			Help:    "Time to anonymize one text unit",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveUnit records one finished unit. A nil Run records nothing.
func (r *Run) ObserveUnit(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.Units.WithLabelValues(status).Inc()
	r.UnitDuration.Observe(d.Seconds())
}

// AddEntity counts one replaced occurrence.
func (r *Run) AddEntity(entityType string) {
	if r == nil {
		return
	}
	r.Entities.WithLabelValues(entityType).Inc()
}

// RecognitionFailed counts a recognizer failure by source ("model" or
// "pattern:<name>").
func (r *Run) RecognitionFailed(source string) {
	if r == nil {
		return
	}
	r.RecognitionFailures.WithLabelValues(source).Inc()
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (r *Run) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.Registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
