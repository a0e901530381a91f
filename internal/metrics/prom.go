package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Generation outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

// Metrics holds the relay's collectors. Each server constructs its own and
// registers it into its own registry, so tests and multiple servers in one
// process do not share counters.
type Metrics struct {
	buildInfo      *prometheus.GaugeVec
	generations    *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	codeBytes      *prometheus.CounterVec
	events         *prometheus.CounterVec
	malformedLines prometheus.Counter
	upstreamErrors *prometheus.CounterVec
	inflight       prometheus.Gauge
}

// New constructs the relay collectors.
func New() *Metrics {
	return &Metrics{
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "uigen_build_info",
				Help:        "Build information",
				ConstLabels: prometheus.Labels{"component": "server"},
			},
			[]string{"date", "sha", "version"},
		),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uigen_generations_total",
				Help: "Generations by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uigen_generation_duration_seconds",
				Help:    "Generation duration from request to terminal event",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120},
			},
			[]string{"model", "outcome"},
		),
		codeBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uigen_code_bytes_total",
				Help: "Bytes of generated code relayed to clients",
			},
			[]string{"model"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uigen_relay_events_total",
				Help: "Relay events written to clients by stage and transport",
			},
			[]string{"stage", "transport"},
		),
		malformedLines: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "uigen_upstream_malformed_lines_total",
				Help: "Upstream SSE data lines skipped because they could not be decoded",
			},
		),
		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uigen_upstream_errors_total",
				Help: "Upstream failures by HTTP status (0 for transport errors)",
			},
			[]string{"status"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "uigen_generations_inflight",
				Help: "Generations currently streaming",
			},
		),
	}
}

// Register registers all collectors with r.
func (m *Metrics) Register(r prometheus.Registerer) {
	r.MustRegister(m.buildInfo, m.generations, m.duration, m.codeBytes, m.events, m.malformedLines, m.upstreamErrors, m.inflight)
}

// SetBuildInfo sets the build info metric.
func (m *Metrics) SetBuildInfo(version, sha, date string) {
	m.buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// GenerationStarted marks a generation as in flight.
func (m *Metrics) GenerationStarted() { m.inflight.Inc() }

// GenerationFinished records the outcome of a started generation.
func (m *Metrics) GenerationFinished(model, outcome string, d time.Duration, codeBytes int) {
	m.inflight.Dec()
	m.generations.WithLabelValues(model, outcome).Inc()
	m.duration.WithLabelValues(model, outcome).Observe(d.Seconds())
	if codeBytes > 0 {
		m.codeBytes.WithLabelValues(model).Add(float64(codeBytes))
	}
}

// GenerationRejected counts a request refused before streaming started.
func (m *Metrics) GenerationRejected(model string) {
	m.generations.WithLabelValues(model, OutcomeRejected).Inc()
}

// RecordEvent counts one relay event written on transport.
func (m *Metrics) RecordEvent(stage, transport string) {
	m.events.WithLabelValues(stage, transport).Inc()
}

// RecordMalformedLine counts one skipped upstream line.
func (m *Metrics) RecordMalformedLine() { m.malformedLines.Inc() }

// MalformedLines exposes the skipped-line counter.
func (m *Metrics) MalformedLines() prometheus.Counter { return m.malformedLines }

// RecordUpstreamError counts an upstream failure; status is 0 for transport errors.
func (m *Metrics) RecordUpstreamError(status int) {
	m.upstreamErrors.WithLabelValues(statusLabel(status)).Inc()
}

func statusLabel(status int) string {
	if status <= 0 {
		return "transport"
	}
	return strconv.Itoa(status)
}
