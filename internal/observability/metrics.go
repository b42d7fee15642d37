package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "statusbot"

// Metrics turns events into Prometheus counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	deliveries    *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_deliveries_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"result"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_fetch_errors_total",
			Help:      "Failed backend fetches by source and environment.",
		}, []string{"source", "env"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Subscription store failures by operation.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		m.deliveries,
		m.fetchErrors,
		m.storageErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Report(_ context.Context, ev Event) {
	switch ev.Kind {
	case KindDelivery:
		m.deliveries.WithLabelValues(orUnknown(ev.Context["result"])).Inc()
	case KindFetchError:
		m.fetchErrors.WithLabelValues(orUnknown(ev.Context["source"]), orUnknown(ev.Context["env"])).Inc()
	case KindStorageError:
		m.storageErrors.WithLabelValues(orUnknown(ev.Context["op"])).Inc()
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
