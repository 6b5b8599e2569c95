package metrics

import (
	"net/http"
	"time"

	"github.com/adverant/nexus/configextract-worker/internal/extract"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the worker's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	JobsTotal       *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	PairsExtracted  prometheus.Counter
	LinesDiscarded  *prometheus.CounterVec
	FramesProcessed prometheus.Counter
	FramesSkipped   prometheus.Counter
	EmptyResults    prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics registers the collectors on reg, or on a fresh registry when
// reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "configextract_jobs_total",
				Help: "Extraction jobs by source kind and final status",
			},
			[]string{"kind", "status"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "configextract_job_duration_seconds",
				Help:    "Wall time of one extraction job",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		PairsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "configextract_pairs_extracted_total",
			Help: "Option/value pairs in finished mappings",
		}),
		LinesDiscarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "configextract_lines_discarded_total",
				Help: "OCR lines that produced no pair, by reason",
			},
			[]string{"reason"},
		),
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "configextract_frames_processed_total",
			Help: "Video frames sent through OCR",
		}),
		FramesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "configextract_frames_skipped_total",
			Help: "Sampled video frames dropped as near-duplicates",
		}),
		EmptyResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "configextract_empty_results_total",
			Help: "Jobs that finished with no pairs found",
		}),
		registry: reg,
	}
}

// Registry exposes the backing registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveJob records a finished job.
func (m *Metrics) ObserveJob(kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(kind, status).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveExtraction records the outcome of one pair-extraction pass.
func (m *Metrics) ObserveExtraction(pairs int, diag extract.Diagnostics) {
	if m == nil {
		return
	}
	m.PairsExtracted.Add(float64(pairs))
	for reason, n := range diag.Discarded {
		m.LinesDiscarded.WithLabelValues(string(reason)).Add(float64(n))
	}
	if pairs == 0 {
		m.EmptyResults.Inc()
	}
}

// ObserveFrames records video frame counts.
func (m *Metrics) ObserveFrames(processed, skipped int) {
	if m == nil {
		return
	}
	m.FramesProcessed.Add(float64(processed))
	m.FramesSkipped.Add(float64(skipped))
}
