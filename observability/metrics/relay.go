package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics covers the oracle relay's attestation intake.
type RelayMetrics struct {
	attestations *prometheus.CounterVec
	lag          prometheus.Histogram
}

var (
	relayOnce     sync.Once
	relayRegistry *RelayMetrics
)

func Relay() *RelayMetrics {
	relayOnce.Do(func() {
		relayRegistry = &RelayMetrics{
			attestations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hm",
				Subsystem: "oracle_relay",
				Name:      "attestations_total",
				Help:      "Meter attestations by outcome.",
			}, []string{"outcome"}),
			lag: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "hm",
				Subsystem: "oracle_relay",
				Name:      "submit_duration_seconds",
				Help:      "Time from accepting an attestation to its ledger receipt.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(relayRegistry.attestations, relayRegistry.lag)
	})
	return relayRegistry
}

func (m *RelayMetrics) ObserveAttestation(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attestations.WithLabelValues(outcome).Inc()
	if outcome == "submitted" {
		m.lag.Observe(elapsed.Seconds())
	}
}
