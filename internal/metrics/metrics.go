// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rewired-gh/chodetect/internal/models"
)

const metricPrefix = "chodetect_"

var (
	registerOnce sync.Once

	eventsTotal     *prometheus.CounterVec
	detectionLevels *prometheus.CounterVec
	reportsTotal    *prometheus.CounterVec
	activeSegments  prometheus.Gauge
	eventLatency    prometheus.Histogram
)

// Init registers the pipeline metrics with reg. Only the first call has an
// effect; until then every recorder is a no-op.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		eventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Total events fed into the pipeline by kind",
			},
			[]string{"kind"},
		)
		detectionLevels = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "detection_levels_total",
				Help: "Total emitted detection levels by signal and level",
			},
			[]string{"signal", "level"},
		)
		reportsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "segment_reports_total",
				Help: "Total segment reports by whether the segment had references",
			},
			[]string{"has_data"},
		)
		activeSegments = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "active_segments",
			Help: "Segments currently active in the pipeline",
		})
		eventLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "event_seconds",
			Help:    "Time spent pushing one event through the pipeline",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		})

		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			eventsTotal,
			detectionLevels,
			reportsTotal,
			activeSegments,
			eventLatency,
		)
	})
}

// ObserveEvent counts an input event and the time it took to process.
func ObserveEvent(kind models.Kind, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if eventsTotal != nil {
		eventsTotal.WithLabelValues(string(kind)).Inc()
	}
	if eventLatency != nil {
		eventLatency.Observe(duration.Seconds())
	}
}

// IncDetection counts an emitted detection level.
func IncDetection(signal models.SignalID, level float64) {
	if detectionLevels != nil {
		detectionLevels.WithLabelValues(string(signal), strconv.FormatFloat(level, 'f', -1, 64)).Inc()
	}
}

// IncReport counts a segment report.
func IncReport(r models.Report) {
	if reportsTotal != nil {
		reportsTotal.WithLabelValues(strconv.FormatBool(r.HasData)).Inc()
	}
}

// SetActiveSegments sets the number of tracked segments.
func SetActiveSegments(n int) {
	if activeSegments != nil {
		activeSegments.Set(float64(n))
	}
}
