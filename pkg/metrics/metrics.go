// Package metrics exports store and provider activity to Prometheus. The
// Collector is a statesync.Logger, so it is installed with
// statesync.WithLogger, usually next to a slog logger via
// statesync.MultiLogger.
package metrics

import (
	statesync "github.com/goliatone/go-statesync"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is used when NewCollector is given an empty namespace.
const DefaultNamespace = "statesync"

const (
	resultOK    = "ok"
	resultError = "error"
)

// Collector counts mutations, provider calls, history navigation,
// configuration errors, hook failures and expression evaluations.
type Collector struct {
	mutations       *prometheus.CounterVec
	mutationLatency *prometheus.HistogramVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	history         *prometheus.CounterVec
	configErrors    prometheus.Counter
	hookFailures    *prometheus.CounterVec
	evaluations     *prometheus.CounterVec
}

var (
	_ statesync.Logger     = (*Collector)(nil)
	_ prometheus.Collector = (*Collector)(nil)
)

// NewCollector builds an unregistered collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Collector{
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "mutations_total",
				Help:      "Mutations by action, context tag and result",
			},
			[]string{"action", "context", "result"},
		),
		mutationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "mutation_duration_seconds",
				Help:      "Time spent applying a mutation, side effects included",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"action"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "calls_total",
				Help:      "Backend calls by provider label, operation and result",
			},
			[]string{"label", "op", "result"},
		),
		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "call_duration_seconds",
				Help:      "Backend call latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"label", "op"},
		),
		history: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "history",
				Name:      "operations_total",
				Help:      "History rewinds and replay steps by result",
			},
			[]string{"op", "result"},
		),
		configErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "configuration_errors_total",
				Help:      "Rejected definitions and bindings",
			},
		),
		hookFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "hook_failures_total",
				Help:      "Change hook and activity hook failures by hook",
			},
			[]string{"hook"},
		),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "eval",
				Name:      "evaluations_total",
				Help:      "Expression evaluations by result",
			},
			[]string{"result"},
		),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.mutations,
		c.mutationLatency,
		c.providerCalls,
		c.providerLatency,
		c.history,
		c.configErrors,
		c.hookFailures,
		c.evaluations,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range c.collectors() {
		collector.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range c.collectors() {
		collector.Collect(ch)
	}
}

// Log implements statesync.Logger.
func (c *Collector) Log(event statesync.LogEvent) {
	result := resultOK
	if event.Err != nil {
		result = resultError
	}
	switch event.Kind {
	case statesync.LogKindMutation:
		if event.Label != "" {
			// hook failures are logged as mutation events carrying the hook name
			if event.Err != nil {
				c.hookFailures.WithLabelValues(event.Label).Inc()
			}
			return
		}
		c.mutations.WithLabelValues(string(event.Action), event.Context, result).Inc()
		if event.Err == nil {
			c.mutationLatency.WithLabelValues(string(event.Action)).Observe(event.Duration.Seconds())
		}
	case statesync.LogKindProvider:
		c.providerCalls.WithLabelValues(event.Label, event.Op, result).Inc()
		c.providerLatency.WithLabelValues(event.Label, event.Op).Observe(event.Duration.Seconds())
	case statesync.LogKindHistory:
		c.history.WithLabelValues(event.Op, result).Inc()
	case statesync.LogKindConfig:
		if event.Err != nil {
			c.configErrors.Inc()
		}
	case statesync.LogKindEval:
		c.evaluations.WithLabelValues(result).Inc()
	}
}

// Mutations returns the mutation counter.
func (c *Collector) Mutations() *prometheus.CounterVec { return c.mutations }

// ProviderCalls returns the backend call counter.
func (c *Collector) ProviderCalls() *prometheus.CounterVec { return c.providerCalls }

// History returns the history operation counter.
func (c *Collector) History() *prometheus.CounterVec { return c.history }

// ConfigErrors returns the configuration error counter.
func (c *Collector) ConfigErrors() prometheus.Counter { return c.configErrors }

// HookFailures returns the hook failure counter.
func (c *Collector) HookFailures() *prometheus.CounterVec { return c.hookFailures }

// Evaluations returns the expression evaluation counter.
func (c *Collector) Evaluations() *prometheus.CounterVec { return c.evaluations }
