package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WindowsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "validator_windows_processed_total",
		Help: "Number of epoch windows the engine has finished processing.",
	})

	PublicationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validator_publications_total",
		Help: "Weight publications by result.",
	}, []string{"result"})

	OutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validator_verification_outcomes_total",
		Help: "Verification outcomes by status.",
	}, []string{"status"})

	UnsubmittedOutcomes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "validator_unsubmitted_outcomes_total",
		Help: "Outcomes that exhausted the coordination submission retry budget.",
	})

	InflightVerifications = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "validator_inflight_verifications",
		Help: "Sandbox calls currently outstanding.",
	})

	LastTickTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "validator_last_tick_timestamp_seconds",
		Help: "Unix time of the last successful engine tick.",
	})

	EngineStalled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "validator_engine_stalled",
		Help: "1 when the tick loop has been quiet past the watchdog threshold.",
	})
)

const (
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
	ResultAbandoned = "abandoned"
)
