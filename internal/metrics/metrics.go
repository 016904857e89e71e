// Package metrics exposes Prometheus counters and histograms for turns,
// tool calls, provider failures and rules retrieval.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a registry and the collectors registered on it.
// A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	turnsTotal     *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	toolCallsTotal *prometheus.CounterVec
	toolLoopRounds prometheus.Histogram
	providerErrors *prometheus.CounterVec
	retrievals     *prometheus.CounterVec
}

// New creates a recorder with its own registry
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyvern_turns_total",
				Help: "Chat turns by provider and outcome",
			},
			[]string{"provider", "outcome"}, // ok | fallback | failed
		),
		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wyvern_turn_duration_seconds",
				Help:    "Duration of a chat turn in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
			},
			[]string{"provider"},
		),
		toolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyvern_tool_calls_total",
				Help: "Function calls returned by the model by tool and outcome",
			},
			[]string{"tool", "outcome"}, // ok | error | unknown
		),
		toolLoopRounds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wyvern_tool_loop_rounds",
				Help:    "Generate calls made by one turn's tool loop",
				Buckets: []float64{1, 2, 3, 4, 6, 8, 10},
			},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyvern_provider_errors_total",
				Help: "Provider failures by provider and error type",
			},
			[]string{"provider", "type"},
		),
		retrievals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyvern_rules_retrievals_total",
				Help: "Rules retrievals by outcome",
			},
			[]string{"outcome"}, // hit | empty | failed
		),
	}

	r.registry.MustRegister(
		r.turnsTotal, r.turnDuration,
		r.toolCallsTotal, r.toolLoopRounds,
		r.providerErrors, r.retrievals,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records a finished turn
func (r *Recorder) ObserveTurn(provider, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.turnsTotal.WithLabelValues(provider, outcome).Inc()
	r.turnDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ToolCall records one function call
func (r *Recorder) ToolCall(tool, outcome string) {
	if r == nil {
		return
	}
	r.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// ToolLoop records how many generate rounds a turn used
func (r *Recorder) ToolLoop(rounds int) {
	if r == nil {
		return
	}
	r.toolLoopRounds.Observe(float64(rounds))
}

// ProviderError records a failed provider call
func (r *Recorder) ProviderError(provider, errorType string) {
	if r == nil {
		return
	}
	r.providerErrors.WithLabelValues(provider, errorType).Inc()
}

// Retrieval records a rules retrieval outcome
func (r *Recorder) Retrieval(outcome string) {
	if r == nil {
		return
	}
	r.retrievals.WithLabelValues(outcome).Inc()
}
