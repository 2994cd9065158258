package schemaregistry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = `schemaregistry`

const (
	resultRegistered   = `registered`
	resultIncompatible = `incompatible`
	resultInvalid      = `invalid`
	resultCompatible   = `compatible`
)

// metrics holds the registry collectors. Collectors are always created, they
// are only exposed when a Registerer is given.
type metrics struct {
	registrations  *prometheus.CounterVec
	checks         *prometheus.CounterVec
	checkDuration  *prometheus.HistogramVec
	schemas        *prometheus.CounterVec
	syncedVersions *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      `registrations_total`,
			Help:      `Version registrations by format and result.`,
		}, []string{`format`, `result`}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      `compatibility_checks_total`,
			Help:      `Compatibility checks by mode and result.`,
		}, []string{`mode`, `result`}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      `compatibility_check_duration_seconds`,
			Help:      `Time spent comparing a candidate with prior versions.`,
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{`format`}),
		schemas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      `schema_operations_total`,
			Help:      `Schema create, update and delete operations.`,
		}, []string{`operation`}),
		syncedVersions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      `sync_imported_versions_total`,
			Help:      `Versions imported from a remote registry by subject.`,
		}, []string{`subject`}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.registrations, m.checks, m.checkDuration, m.schemas, m.syncedVersions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}
