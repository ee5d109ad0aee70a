package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels analyses that returned a downstream result.
	OutcomeSuccess = "success"
	// OutcomeFallback labels analyses that ended in a fallback response.
	OutcomeFallback = "fallback"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phiguard",
			Name:      "analyses_total",
			Help:      "Total number of Analyze invocations, partitioned by outcome and error category.",
		},
		[]string{"outcome", "category"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "phiguard",
			Name:      "analysis_seconds",
			Help:      "End-to-end Analyze latency in seconds, including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30},
		},
	)

	counterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phiguard",
			Name:      "events_total",
			Help:      "Middleware counters mirrored from the in-process recorder.",
		},
		[]string{"metric", "dependency"},
	)

	gaugeValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "phiguard",
			Name:      "gauge",
			Help:      "Middleware gauges mirrored from the in-process recorder.",
		},
		[]string{"metric", "dependency"},
	)

	timerSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "phiguard",
			Name:      "timer_seconds",
			Help:      "Middleware timers mirrored from the in-process recorder.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"metric", "dependency"},
	)
)

// Register attaches phiguard collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		counterTotal,
		gaugeValue,
		timerSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an Analyze duration with its outcome and fallback category.
func ObserveAnalysis(duration time.Duration, outcome, category string) {
	label := outcome
	if label != OutcomeFallback {
		label = OutcomeSuccess
		category = ""
	}
	analysesTotal.WithLabelValues(label, category).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}
