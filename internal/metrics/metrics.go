package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recording_sessions_active",
		Help: "Currently active recording sessions",
	})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recording_sessions_total",
		Help: "Recording sessions started, by kind",
	}, []string{"kind"})

	PermissionDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_permission_denials_total",
		Help: "Camera permission requests the user denied",
	})

	CaptureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_failures_total",
		Help: "Stream failures by role",
	}, []string{"role"})

	KeyMoments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "key_moments_total",
		Help: "Key moments extracted, by kind",
	}, []string{"kind"})

	JobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analysis_job_outcomes_total",
		Help: "Terminal analysis outcomes",
	}, []string{"outcome"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "analysis_job_duration_seconds",
		Help:    "Submit-to-terminal latency of analysis jobs",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	})

	PollRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analysis_poll_requests_total",
		Help: "Status polls issued against the analysis service",
	})
)
