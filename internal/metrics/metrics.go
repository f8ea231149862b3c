package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "bridge"

type Metricer interface {
	RecordDeposit(chainID uint64, kind string)
	RecordFinalization(chainID uint64)
	RecordRejection(operation, reason string)
	RecordDeployment(contract string, deployed bool)
	RecordUpgradeCall(name, status string)
	RecordRootLookup(cached bool)
}

// Metrics is the prometheus-backed Metricer. Every component of one process
// shares a single instance so the migrate job can export them together.
type Metrics struct {
	registry *prometheus.Registry

	Deposits      *prometheus.CounterVec
	Finalizations *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	Deployments   *prometheus.CounterVec
	UpgradeCalls  *prometheus.CounterVec
	RootLookups   *prometheus.CounterVec
}

var _ Metricer = (*Metrics)(nil)

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Deposits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "deposits_total",
			Help:      "Deposits accepted by the ledger",
		}, []string{"chain", "kind"}),
		Finalizations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "withdrawals_finalized_total",
			Help:      "Withdrawals finalized by the ledger",
		}, []string{"chain"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rejections_total",
			Help:      "Operations rejected, by reason",
		}, []string{"operation", "reason"}),
		Deployments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "deployments_total",
			Help:      "Deterministic deployments, split by whether code was already present",
		}, []string{"contract", "outcome"}),
		UpgradeCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "upgrade_calls_total",
			Help:      "Upgrade calls issued by the orchestrator",
		}, []string{"call", "status"}),
		RootLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "message_root_lookups_total",
			Help:      "Message root oracle lookups",
		}, []string{"source"}),
	}
}

func (m *Metrics) RecordDeposit(chainID uint64, kind string) {
	m.Deposits.WithLabelValues(strconv.FormatUint(chainID, 10), kind).Inc()
}

func (m *Metrics) RecordFinalization(chainID uint64) {
	m.Finalizations.WithLabelValues(strconv.FormatUint(chainID, 10)).Inc()
}

func (m *Metrics) RecordRejection(operation, reason string) {
	if reason == "" {
		reason = "internal"
	}
	m.Rejections.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) RecordDeployment(contract string, deployed bool) {
	outcome := "existing"
	if deployed {
		outcome = "deployed"
	}
	m.Deployments.WithLabelValues(contract, outcome).Inc()
}

func (m *Metrics) RecordUpgradeCall(name, status string) {
	m.UpgradeCalls.WithLabelValues(name, status).Inc()
}

func (m *Metrics) RecordRootLookup(cached bool) {
	source := "oracle"
	if cached {
		source = "cache"
	}
	m.RootLookups.WithLabelValues(source).Inc()
}

// WriteTextfile dumps the registry in the node-exporter textfile format, the
// usual way to publish metrics from a short-lived job.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

type noopMetrics struct{}

// NoopMetrics discards everything.
var NoopMetrics Metricer = noopMetrics{}

func (noopMetrics) RecordDeposit(uint64, string)     {}
func (noopMetrics) RecordFinalization(uint64)        {}
func (noopMetrics) RecordRejection(string, string)   {}
func (noopMetrics) RecordDeployment(string, bool)    {}
func (noopMetrics) RecordUpgradeCall(string, string) {}
func (noopMetrics) RecordRootLookup(bool)            {}
