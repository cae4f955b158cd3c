// Package dagmetrics is the ambient Prometheus instrumentation shared by the
// executors: batch counts, execution latency, and first-error occurrences.
// Grounded on the teacher's convention of keeping cross-cutting concerns in
// their own small package rather than scattered across call sites
// (dagerr for errors, this package for metrics), generalized from lvlath's
// (metrics-free) library surface using the rest of the example pack's
// client_golang usage.
package dagmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the metrics surface an executor run reports through. A nil
// *Recorder is valid and records nothing, so instrumentation is always
// optional for a library caller.
type Recorder struct {
	batchesTotal   *prometheus.CounterVec
	batchDuration  *prometheus.HistogramVec
	nodeErrorTotal *prometheus.CounterVec
}

// NewRecorder builds a Recorder and registers its collectors with reg. Pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to publish on the process-wide /metrics
// endpoint.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dagflow",
			Name:      "batches_total",
			Help:      "Batches processed per node kind.",
		}, []string{"kind"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dagflow",
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of one node's one-batch Apply/Process call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		nodeErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dagflow",
			Name:      "node_errors_total",
			Help:      "Errors surfaced by a node's Apply/Process/Finish call.",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{r.batchesTotal, r.batchDuration, r.nodeErrorTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveBatch records one completed batch for a node of the given kind,
// taking the duration it took to apply.
func (r *Recorder) ObserveBatch(kind string, seconds float64) {
	if r == nil {
		return
	}
	r.batchesTotal.WithLabelValues(kind).Inc()
	r.batchDuration.WithLabelValues(kind).Observe(seconds)
}

// ObserveError records one failed node invocation.
func (r *Recorder) ObserveError(kind string) {
	if r == nil {
		return
	}
	r.nodeErrorTotal.WithLabelValues(kind).Inc()
}
