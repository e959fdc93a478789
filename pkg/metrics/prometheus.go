package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the global metrics container for the route-planning engine.
type Metrics struct {
	// HTTP transport metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Plan assembly
	PlanCreationsTotal *prometheus.CounterVec
	PlanAssemblyDuration *prometheus.HistogramVec
	ParcelsPerPlan     *prometheus.HistogramVec

	// Routing engine calls
	RoutingEngineCallsTotal    *prometheus.CounterVec
	RoutingEngineCallDuration  *prometheus.HistogramVec

	// Parcel lifecycle
	ParcelTransitionsTotal *prometheus.CounterVec

	// Office fallback
	OfficeFallbackAssignmentsTotal *prometheus.CounterVec

	// System metrics
	MemoryUsage *prometheus.GaugeVec
	Goroutines  prometheus.Gauge

	// Service info
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics initializes and registers all metrics for the given namespace/subsystem.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),

		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		PlanCreationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "plan_creations_total",
				Help:      "Total number of daily route plans assembled",
			},
			[]string{"company_id", "status"},
		),

		PlanAssemblyDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "plan_assembly_duration_seconds",
				Help:      "Duration of clustering, truck allocation, and route assembly for a plan",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"company_id"},
		),

		ParcelsPerPlan: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "parcels_per_plan",
				Help:      "Number of parcels assigned per driver in an assembled plan",
				Buckets:   []float64{1, 5, 10, 20, 30, 50, 75, 100},
			},
			[]string{"company_id"},
		),

		RoutingEngineCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "routing_engine_calls_total",
				Help:      "Total number of calls to the external routing engine",
			},
			[]string{"status"},
		),

		RoutingEngineCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "routing_engine_call_duration_seconds",
				Help:      "Latency of calls to the external routing engine",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
			},
			[]string{"status"},
		),

		ParcelTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "parcel_transitions_total",
				Help:      "Total number of parcel lifecycle transitions",
			},
			[]string{"from_status", "to_status"},
		),

		OfficeFallbackAssignmentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "office_fallback_assignments_total",
				Help:      "Total number of parcels routed to an office after a failed delivery attempt",
			},
			[]string{"company_id"},
		),

		MemoryUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage",
			},
			[]string{"type"},
		),

		Goroutines: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "goroutines",
				Help:      "Current number of goroutines",
			},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance, initializing it with defaults if needed.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("routeplan", "")
	}
	return defaultMetrics
}

// RecordHTTPRequest records an HTTP request's outcome and duration.
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordPlanCreation records the outcome of assembling a company's daily plan.
func (m *Metrics) RecordPlanCreation(companyID string, success bool, duration time.Duration, parcelCounts []int) {
	status := "success"
	if !success {
		status = "error"
	}

	m.PlanCreationsTotal.WithLabelValues(companyID, status).Inc()
	m.PlanAssemblyDuration.WithLabelValues(companyID).Observe(duration.Seconds())
	for _, count := range parcelCounts {
		m.ParcelsPerPlan.WithLabelValues(companyID).Observe(float64(count))
	}
}

// RecordRoutingEngineCall records the outcome and latency of a routing-engine call.
func (m *Metrics) RecordRoutingEngineCall(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RoutingEngineCallsTotal.WithLabelValues(status).Inc()
	m.RoutingEngineCallDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordParcelTransition records a parcel lifecycle state transition.
func (m *Metrics) RecordParcelTransition(from, to string) {
	m.ParcelTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordOfficeFallbackAssignment records a parcel being routed to an office.
func (m *Metrics) RecordOfficeFallbackAssignment(companyID string) {
	m.OfficeFallbackAssignmentsTotal.WithLabelValues(companyID).Inc()
}

// SetServiceInfo sets the service version/environment info gauge.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts a standalone HTTP server exposing /metrics.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, write failures are not actionable
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
