package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Analysis metrics
	analysisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_analysis_requests_total",
		Help: "Total number of emotion analysis requests",
	}, []string{"modality", "status"})

	analysisLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "companion_analysis_latency_seconds",
		Help:    "Emotion analysis round-trip latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"modality"})

	// Capture metrics
	capturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_captures_total",
		Help: "Total number of completed captures",
	}, []string{"modality", "trigger"}) // trigger: "manual" or "auto"

	activeCaptureSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "companion_active_capture_sessions",
		Help: "Capture sessions currently in a non-idle state (0 or 1 per modality)",
	}, []string{"modality"})

	// Transcript metrics
	transcriptMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "companion_transcript_messages",
		Help: "Number of chat messages held in the local transcript",
	})

	// Speech-out metrics
	speechSynthRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_speech_synth_requests_total",
		Help: "Total number of speech synthesis requests",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "companion_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// RecordAnalysis records one analysis round trip
func RecordAnalysis(modality string, success bool, started time.Time) {
	status := "success"
	if !success {
		status = "error"
	}
	analysisRequests.WithLabelValues(modality, status).Inc()
	analysisLatency.WithLabelValues(modality).Observe(time.Since(started).Seconds())
}

// RecordCapture records a completed capture
func RecordCapture(modality string, auto bool) {
	trigger := "manual"
	if auto {
		trigger = "auto"
	}
	capturesTotal.WithLabelValues(modality, trigger).Inc()
}

// SetSessionActive tracks whether a capture session is in a non-idle state
func SetSessionActive(modality string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	activeCaptureSessions.WithLabelValues(modality).Set(value)
}

// SetTranscriptSize tracks the local transcript length
func SetTranscriptSize(n int) {
	transcriptMessages.Set(float64(n))
}

// RecordSpeechSynth records a speech synthesis attempt
func RecordSpeechSynth(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	speechSynthRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
