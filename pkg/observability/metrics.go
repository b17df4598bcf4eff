package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/listiago/atendechat/pkg/domain"
)

// Metrics holds the collectors fed by Hooks.
type Metrics struct {
	registry *prometheus.Registry

	nodeVisits  *prometheus.CounterVec
	dispatches  *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	transcodes  *prometheus.HistogramVec
}

// NewMetrics creates the collectors under the given namespace ("atendechat" when empty).
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "atendechat"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_visits_total",
				Help:      "Total number of node visits",
			},
			[]string{"kind"},
		),
		dispatches: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of outbound sends",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"payload", "outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_transitions_total",
				Help:      "Execution context status transitions",
			},
			[]string{"from", "to"},
		),
		transcodes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transcode_duration_seconds",
				Help:      "Duration of audio transcoder runs",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"profile", "outcome"},
		),
	}
	m.registry.MustRegister(
		m.nodeVisits,
		m.dispatches,
		m.transitions,
		m.transcodes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Hooks returns lifecycle hooks recording into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			m.nodeVisits.WithLabelValues(string(e.Kind)).Inc()
		},
		OnDispatch: func(ctx context.Context, e *domain.DispatchEvent) {
			m.dispatches.WithLabelValues(string(e.Payload), outcome(e.Err)).Observe(e.Duration.Seconds())
		},
		OnStatusChange: func(ctx context.Context, e *domain.StatusEvent) {
			m.transitions.WithLabelValues(string(e.From), string(e.To)).Inc()
		},
		OnTranscode: func(ctx context.Context, e *domain.TranscodeEvent) {
			m.transcodes.WithLabelValues(string(e.Profile), outcome(e.Err)).Observe(e.Duration.Seconds())
		},
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
