// Package metrics holds the Prometheus instrumentation for graph operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Paths label which flavor of an operation ran.
const (
	PathNormal    = "normal"
	PathSynthetic = "synthetic"
)

// Metrics holds all Prometheus metrics for the graph service.
type Metrics struct {
	UsersRegistered prometheus.Counter
	UsersSpawned    prometheus.Counter
	NodeUpdates     *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	RegistrySize    prometheus.Gauge
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on a caller-supplied registry; tests pass a
// fresh one to avoid duplicate registration.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UsersRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "vicinity_users_registered_total",
			Help: "Total number of identities registered through the normal path",
		}),
		UsersSpawned: factory.NewCounter(prometheus.CounterOpts{
			Name: "vicinity_synthetic_users_spawned_total",
			Help: "Total number of synthetic users spawned via the dev capability",
		}),
		NodeUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vicinity_node_updates_total",
			Help: "Total number of successful node updates by path",
		}, []string{"path"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vicinity_operations_rejected_total",
			Help: "Total number of rejected operations by failure code",
		}, []string{"reason"}),
		RegistrySize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vicinity_registry_size",
			Help: "Number of identities currently registered",
		}),
	}
}

// ObserveRejection counts a failed operation; nil-safe so the service can run
// without metrics wired.
func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRegistration() {
	if m == nil {
		return
	}
	m.UsersRegistered.Inc()
}

func (m *Metrics) SetRegistrySize(size int) {
	if m == nil {
		return
	}
	m.RegistrySize.Set(float64(size))
}

func (m *Metrics) ObserveSpawn() {
	if m == nil {
		return
	}
	m.UsersSpawned.Inc()
}

func (m *Metrics) ObserveUpdate(path string) {
	if m == nil {
		return
	}
	m.NodeUpdates.WithLabelValues(path).Inc()
}
