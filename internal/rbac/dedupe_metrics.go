package rbac

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeHit    = "hit"
	outcomeShared = "shared"
	outcomeMiss   = "miss"
	outcomeError  = "error"
)

// DedupeMetrics counts how deduplicated reads were served.
type DedupeMetrics struct {
	requests *prometheus.CounterVec
}

// NewDedupeMetrics registers the deduplicator counters on reg. A collector
// registered earlier under the same name is reused.
func NewDedupeMetrics(reg prometheus.Registerer) (*DedupeMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "estatedesk_rbac_dedupe_requests_total",
		Help: "Permission and role reads by cache key family and outcome.",
	}, []string{"family", "outcome"})
	if err := reg.Register(requests); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("rbac: register dedupe metrics: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("rbac: dedupe metrics: unexpected collector type %T", already.ExistingCollector)
		}
		requests = existing
	}
	return &DedupeMetrics{requests: requests}, nil
}

func (m *DedupeMetrics) observe(key, outcome string) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.WithLabelValues(keyFamily(key), outcome).Inc()
}
