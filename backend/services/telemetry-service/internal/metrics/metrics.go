package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/service"
)

// Metrics records ingestion, query and HTTP metrics.
type Metrics struct {
	registry        *prometheus.Registry
	ingestTotal     *prometheus.CounterVec
	historyRetries  *prometheus.CounterVec
	queryTotal      *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	eventsPublished *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_ingest_total",
			Help: "Readings processed by device class and outcome.",
		}, []string{"class", "outcome"}),
		historyRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_history_retries_total",
			Help: "History append retries after transient storage errors.",
		}, []string{"class"}),
		queryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_queries_total",
			Help: "Analytics queries by operation and result.",
		}, []string{"op", "result"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "telemetry_query_duration_seconds",
			Help:    "Analytics query latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_events_published_total",
			Help: "Ingest events handed to the event stream by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.ingestTotal,
		m.historyRetries,
		m.queryTotal,
		m.queryDuration,
		m.httpRequests,
		m.httpDuration,
		m.eventsPublished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIngest counts one processed reading.
func (m *Metrics) ObserveIngest(class models.DeviceClass, outcome models.Outcome) {
	m.ingestTotal.WithLabelValues(classLabel(class), string(outcome)).Inc()
}

// ObserveHistoryRetry counts one history append retry.
func (m *Metrics) ObserveHistoryRetry(class models.DeviceClass) {
	m.historyRetries.WithLabelValues(classLabel(class)).Inc()
}

// ObserveQuery records one analytics query.
func (m *Metrics) ObserveQuery(op string, err error, took time.Duration) {
	m.queryTotal.WithLabelValues(op, queryResult(err)).Inc()
	m.queryDuration.WithLabelValues(op).Observe(took.Seconds())
}

// ObservePublish counts one event handed to the stream.
func (m *Metrics) ObservePublish(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.eventsPublished.WithLabelValues(result).Inc()
}

// Middleware wraps a whole mux, labelling requests by the matched pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// classLabel bounds label cardinality to the known classes.
func classLabel(class models.DeviceClass) string {
	if class.Valid() {
		return string(class)
	}
	return "unknown"
}

func queryResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, service.ErrValidationRejected):
		return "rejected"
	case errors.Is(err, service.ErrDeviceUnknown),
		errors.Is(err, service.ErrNoDataInWindow),
		errors.Is(err, service.ErrNoActiveMapping),
		errors.Is(err, service.ErrAmbiguousMapping),
		errors.Is(err, service.ErrDivisionUndefined):
		return "undefined"
	default:
		return "error"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
