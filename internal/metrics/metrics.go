package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "byte"

// Upstream call outcomes.
const (
	OutcomeOK                = "ok"
	OutcomeUpstreamError     = "upstream_error"
	OutcomeTransportError    = "transport_error"
	OutcomeMissingCredential = "missing_credential"
)

// Stream frame kinds.
const (
	FrameDelta   = "delta"
	FrameDone    = "done"
	FrameError   = "error"
	FrameDropped = "dropped"
)

// Metrics holds the proxy's collectors on a private registry.
//
// Metrics:
//   - byte_http_requests_total: requests by handler, method and status code
//   - byte_http_request_duration_seconds: handler latency (streams included)
//   - byte_upstream_requests_total: upstream calls by mode and outcome
//   - byte_stream_frames_total: SSE frames written or dropped, by kind
//   - byte_upstream_tokens_total: usage reported by non-streaming completions
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	upstreamRequests *prometheus.CounterVec
	streamFrames     *prometheus.CounterVec
	tokens           *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests handled",
			},
			[]string{"handler", "method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"handler"},
		),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Upstream chat-completion calls by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		streamFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "frames_total",
				Help:      "SSE frames relayed to clients, or dropped, by kind",
			},
			[]string{"kind"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "tokens_total",
				Help:      "Tokens reported by upstream usage",
			},
			[]string{"type"},
		),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.upstreamRequests,
		m.streamFrames,
		m.tokens,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveHTTP(handler, method string, code int, d time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(handler).Observe(d.Seconds())
}

func (m *Metrics) UpstreamCall(mode, outcome string) {
	m.upstreamRequests.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) Frame(kind string) {
	m.streamFrames.WithLabelValues(kind).Inc()
}

func (m *Metrics) Tokens(prompt, completion int) {
	if prompt > 0 {
		m.tokens.WithLabelValues("prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.tokens.WithLabelValues("completion").Add(float64(completion))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
