package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/permittrack/permit-api/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	guardDecisions *prometheus.CounterVec
	guardBodyBytes prometheus.Histogram

	archiveRecords      prometheus.Counter
	archiveDropped      prometheus.Counter
	archiveFlushes      prometheus.Counter
	archiveFlushErrors  prometheus.Counter
	archiveLastFlushTs  prometheus.Gauge
	archiveFlushLatency prometheus.Histogram

	profilingActive prometheus.Gauge
}

// New returns a fresh registry with Go/process collectors and the service
// metrics. Labels are bounded: method is normalized, route is a chi pattern
// or "unmatched", never a raw path.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total requests rejected because the rate limiter visitor table was full",
		}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "request_guard_decisions_total",
			Help: "Request guard outcomes by stage and error kind",
		}, []string{"outcome", "stage", "kind"}),
		guardBodyBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "request_guard_declared_body_bytes",
			Help:    "Declared Content-Length of requests that passed the guard",
			Buckets: []float64{0, 256, 1024, 16384, 131072, 524288, 1048576, 2097152},
		}),
		archiveRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_archive_records_total",
			Help: "Rejection records written to the audit archive",
		}),
		archiveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_archive_dropped_total",
			Help: "Rejection records dropped because the archive buffer was full",
		}),
		archiveFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_archive_flushes_total",
			Help: "Successful audit archive uploads",
		}),
		archiveFlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_archive_flush_errors_total",
			Help: "Failed audit archive uploads",
		}),
		archiveLastFlushTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_archive_last_flush_timestamp_seconds",
			Help: "Unix timestamp of the last successful audit archive upload",
		}),
		archiveFlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_archive_flush_duration_seconds",
			Help:    "Time to upload one audit archive object",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.guardDecisions,
		m.guardBodyBytes,
		m.archiveRecords,
		m.archiveDropped,
		m.archiveFlushes,
		m.archiveFlushErrors,
		m.archiveLastFlushTs,
		m.archiveFlushLatency,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        vi.App,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_id":   vi.BuildID,
		"build_date": vi.BuildDate,
		"go_version": vi.GoVersion,
		"vcs_dirty":  dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHTTPPanic() { m.httpPanicTotal.Inc() }

func (m *ServerMetrics) IncRateLimitDenied() { m.ratelimitDeniedTotal.Inc() }

func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacityTotal.Inc() }

// ObserveGuardDecision counts one guard outcome. declaredBytes is only
// recorded for passing requests with a known length.
func (m *ServerMetrics) ObserveGuardDecision(outcome, stage, kind string, declaredBytes int64) {
	if stage == "" {
		stage = "none"
	}
	m.guardDecisions.WithLabelValues(outcome, stage, kind).Inc()
	if outcome == "pass" && declaredBytes >= 0 {
		m.guardBodyBytes.Observe(float64(declaredBytes))
	}
}

func (m *ServerMetrics) IncArchiveRecords() { m.archiveRecords.Inc() }

func (m *ServerMetrics) IncArchiveDropped() { m.archiveDropped.Inc() }

// ObserveArchiveFlush records one upload attempt.
func (m *ServerMetrics) ObserveArchiveFlush(d time.Duration, err error) {
	m.archiveFlushLatency.Observe(d.Seconds())
	if err != nil {
		m.archiveFlushErrors.Inc()
		return
	}
	m.archiveFlushes.Inc()
	m.archiveLastFlushTs.Set(float64(time.Now().Unix()))
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}
