// Package metrics exposes Prometheus counters for tutor sessions, payments
// and study generation. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Tutor metrics
	TutorSessionsActive prometheus.Gauge
	TutorTransitions    *prometheus.CounterVec
	TutorFrames         *prometheus.CounterVec
	TutorAudioBytes     *prometheus.CounterVec

	// Payment metrics
	PaymentsTotal  *prometheus.CounterVec
	PointsCredited prometheus.Counter

	// Study metrics
	StudyCallsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "studytutor"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"route", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route"},
	)

	tutorSessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tutor_sessions_active",
			Help:      "Number of connected tutor clients",
		},
	)

	tutorTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tutor_transitions_total",
			Help:      "Tutor state transitions",
		},
		[]string{"to", "cause"},
	)

	tutorFrames := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tutor_frames_total",
			Help:      "Captured microphone frames by outcome",
		},
		[]string{"outcome"},
	)

	tutorAudioBytes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tutor_audio_bytes_total",
			Help:      "Audio bytes relayed through tutor sessions",
		},
		[]string{"direction"},
	)

	paymentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment intents by outcome",
		},
		[]string{"outcome"},
	)

	pointsCredited := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_credited_total",
			Help:      "Points credited from verified payments",
		},
	)

	studyCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "study_calls_total",
			Help:      "Study generation calls",
		},
		[]string{"op", "status"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		tutorSessionsActive,
		tutorTransitions,
		tutorFrames,
		tutorAudioBytes,
		paymentsTotal,
		pointsCredited,
		studyCallsTotal,
	)

	return &Metrics{
		registry:            registry,
		RequestsTotal:       requestsTotal,
		RequestDuration:     requestDuration,
		TutorSessionsActive: tutorSessionsActive,
		TutorTransitions:    tutorTransitions,
		TutorFrames:         tutorFrames,
		TutorAudioBytes:     tutorAudioBytes,
		PaymentsTotal:       paymentsTotal,
		PointsCredited:      pointsCredited,
		StudyCallsTotal:     studyCallsTotal,
	}
}

// Registry exposes the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed API request
func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// TutorConnected records a new tutor client
func (m *Metrics) TutorConnected() {
	if m == nil {
		return
	}
	m.TutorSessionsActive.Inc()
}

// TutorDisconnected records a tutor client leaving
func (m *Metrics) TutorDisconnected() {
	if m == nil {
		return
	}
	m.TutorSessionsActive.Dec()
}

// RecordTransition records a tutor state change. cause is the failure code or "".
func (m *Metrics) RecordTransition(to, cause string) {
	if m == nil {
		return
	}
	m.TutorTransitions.WithLabelValues(to, cause).Inc()
}

// RecordFrames adds captured frame counts by outcome
func (m *Metrics) RecordFrames(sent, muted, dropped int64) {
	if m == nil {
		return
	}
	if sent > 0 {
		m.TutorFrames.WithLabelValues("sent").Add(float64(sent))
	}
	if muted > 0 {
		m.TutorFrames.WithLabelValues("muted").Add(float64(muted))
	}
	if dropped > 0 {
		m.TutorFrames.WithLabelValues("dropped").Add(float64(dropped))
	}
}

// RecordAudio records audio bytes in a direction ("in" or "out")
func (m *Metrics) RecordAudio(direction string, bytes int) {
	if m == nil {
		return
	}
	m.TutorAudioBytes.WithLabelValues(direction).Add(float64(bytes))
}

// RecordPayment records a payment outcome and the points it credited
func (m *Metrics) RecordPayment(outcome string, points int) {
	if m == nil {
		return
	}
	m.PaymentsTotal.WithLabelValues(outcome).Inc()
	if points > 0 {
		m.PointsCredited.Add(float64(points))
	}
}

// RecordStudyCall records a study generation call
func (m *Metrics) RecordStudyCall(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StudyCallsTotal.WithLabelValues(op, status).Inc()
}

// ResponseWriter wraps http.ResponseWriter to capture the status code
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
}

// NewResponseWriter creates a new ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

// WriteHeader captures the status code
func (rw *ResponseWriter) WriteHeader(code int) {
	rw.StatusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Instrument wraps next, recording one request per call under route
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := NewResponseWriter(w)
		next.ServeHTTP(rw, r)
		m.RecordRequest(route, rw.StatusCode, time.Since(start))
	})
}
