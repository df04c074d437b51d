package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the gateway exposes. Registering
// them is the caller's responsibility (see NewMetrics + RegisterWith) so
// tests and multiple gateway instances in one process don't collide on
// prometheus' default registry.
type Metrics struct {
	RetryAttempts   *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	TasksByStatus   *prometheus.GaugeVec
	CLISubprocessRC *prometheus.CounterVec
}

// NewMetrics constructs the collector set without registering it.
func NewMetrics() *Metrics {
	return &Metrics{
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_retry_attempts_total",
			Help: "Number of provider invocation attempts by stage and outcome.",
		}, []string{"stage", "outcome"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state per binding (0=closed,1=half_open,2=open).",
		}, []string{"binding"}),
		TasksByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_async_tasks",
			Help: "Async task count by status.",
		}, []string{"status"}),
		CLISubprocessRC: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cli_subprocess_exit_total",
			Help: "CLI subprocess completions by exit classification.",
		}, []string{"result"}),
	}
}

// RegisterWith registers every collector against reg.
func (m *Metrics) RegisterWith(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.RetryAttempts, m.BreakerState, m.TasksByStatus, m.CLISubprocessRC} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// HooksWithMetrics wraps base (which may be nil) so that Metrics are
// updated in addition to any logging behavior base already provides.
func HooksWithMetrics(base *Hooks, m *Metrics) *Hooks {
	if m == nil {
		return base
	}
	h := &Hooks{}
	if base != nil {
		*h = *base
	}
	prevRetry := h.OnLLMRetry
	h.OnLLMRetry = func(ctx context.Context, provider, model string, attempt int, err error) {
		if prevRetry != nil {
			prevRetry(ctx, provider, model, attempt, err)
		}
	}
	prevBreaker := h.OnBreakerStateChange
	h.OnBreakerStateChange = func(ctx context.Context, binding, from, to string) {
		if prevBreaker != nil {
			prevBreaker(ctx, binding, from, to)
		}
		m.BreakerState.WithLabelValues(binding).Set(breakerStateValue(to))
	}
	prevTask := h.OnTaskStatusChange
	h.OnTaskStatusChange = func(ctx context.Context, taskID, from, to string) {
		if prevTask != nil {
			prevTask(ctx, taskID, from, to)
		}
		if from != "" {
			m.TasksByStatus.WithLabelValues(from).Dec()
		}
		m.TasksByStatus.WithLabelValues(to).Inc()
	}
	return h
}

func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half_open":
		return 1
	default:
		return 0
	}
}

// RecordRetryAttempt is a convenience helper for retry.Engine to call
// directly (it doesn't go through Hooks because it needs the stage label,
// which Hooks' OnLLMRetry signature doesn't carry).
func (m *Metrics) RecordRetryAttempt(stage string, outcome string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(stage, outcome).Inc()
}

// RecordCLIExit records a CLI subprocess completion classification.
func (m *Metrics) RecordCLIExit(result string) {
	if m == nil {
		return
	}
	m.CLISubprocessRC.WithLabelValues(result).Inc()
}
