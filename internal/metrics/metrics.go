// Package metrics exposes the submission tracker's operational counters
// as Prometheus collectors, registered into a caller-supplied registry
// rather than the global default one.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gpuspy/submission-tracker/internal/handle"
)

// Metrics is the tracker's Prometheus-backed instrumentation. It
// implements tracker.MetricsRecorder.
type Metrics struct {
	poolSlotsFree              *prometheus.GaugeVec
	submissionsEmitted         prometheus.Counter
	submissionsDroppedNotReady prometheus.Counter
	markersCutoff              prometheus.Counter
	droppedSamples             prometheus.Counter
	completionLatency          prometheus.Histogram
}

// New creates a Metrics instance and registers every collector into reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		poolSlotsFree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gpuspy",
			Name:      "pool_slots_free",
			Help:      "Number of free timer query slots, per device.",
		}, []string{"device"}),
		submissionsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpuspy",
			Name:      "submissions_emitted_total",
			Help:      "Total queue submissions fully resolved and emitted.",
		}),
		submissionsDroppedNotReady: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpuspy",
			Name:      "submissions_dropped_not_ready_total",
			Help:      "Total submissions re-enqueued because a timestamp was not yet ready.",
		}),
		markersCutoff: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpuspy",
			Name:      "markers_cutoff_total",
			Help:      "Total debug marker regions cut off by the local marker-depth limit.",
		}),
		droppedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpuspy",
			Name:      "timestamp_samples_dropped_total",
			Help:      "Total timestamp writes skipped because the query pool was exhausted.",
		}),
		completionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gpuspy",
			Name:      "completion_latency_seconds",
			Help:      "Time from a submission's pre-submit CPU timestamp to its event being emitted.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.poolSlotsFree,
		m.submissionsEmitted,
		m.submissionsDroppedNotReady,
		m.markersCutoff,
		m.droppedSamples,
		m.completionLatency,
	)

	return m
}

// SetPoolSlotsFree records device's current free-slot count, for a caller
// polling querypool.Manager.FreeSlotCount on a ticker.
func (m *Metrics) SetPoolSlotsFree(device handle.Device, count int) {
	m.poolSlotsFree.WithLabelValues(fmt.Sprintf("%#x", uintptr(device))).Set(float64(count))
}

func (m *Metrics) RecordSubmissionEmitted()        { m.submissionsEmitted.Inc() }
func (m *Metrics) RecordSubmissionDroppedNotReady() { m.submissionsDroppedNotReady.Inc() }
func (m *Metrics) RecordMarkerCutOff()              { m.markersCutoff.Inc() }
func (m *Metrics) RecordDroppedSample()             { m.droppedSamples.Inc() }
func (m *Metrics) RecordCompletionLatency(seconds float64) {
	m.completionLatency.Observe(seconds)
}
