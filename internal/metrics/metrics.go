// Package metrics holds the Prometheus collectors exported by Kestrel.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "kestrel_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
			Objectives: map[float64]float64{
				0.5:  0.05,
				0.9:  0.01,
				0.95: 0.005,
				0.99: 0.001,
			},
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	// CreditScores counts scoring outcomes by tier and source.
	CreditScores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_credit_scores_total",
			Help: "Credit scores produced, by tier and source",
		},
		[]string{"tier", "source"},
	)

	// PredictorFallbacks counts calls answered by the fallback predictor after a primary failure.
	PredictorFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_predictor_fallbacks_total",
			Help: "Predictions served by the fallback after the primary failed",
		},
	)

	// RiskAssessments counts transaction risk assessments.
	RiskAssessments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_risk_assessments_total",
			Help: "Transaction risk assessments, by whether they alerted",
		},
		[]string{"alerted"},
	)

	// KYCChecks counts document verifications.
	KYCChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_kyc_checks_total",
			Help: "KYC document checks, by verification outcome",
		},
		[]string{"verified"},
	)

	// WorkerMessages counts bus messages handled by the async worker.
	WorkerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_worker_messages_total",
			Help: "Bus messages processed by the worker, by outcome",
		},
		[]string{"outcome"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		code := strconv.Itoa(rw.status)

		httpDuration.WithLabelValues(r.Method, path, code).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(r.Method, path, code).Inc()
	})
}

// Bool renders a boolean label value.
func Bool(v bool) string {
	return strconv.FormatBool(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
