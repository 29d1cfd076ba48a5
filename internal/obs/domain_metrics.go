package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// EvaluationsTotal counts document evaluations by outcome
	// (applied, no_promo, stripped, error).
	EvaluationsTotal *prometheus.CounterVec
	// RuleResolutionsTotal counts resolver outcomes (matched, none).
	RuleResolutionsTotal *prometheus.CounterVec
	// FreeQtyAwarded records the free quantity awarded per materialized promotion.
	FreeQtyAwarded prometheus.Histogram
	// RuleAuditsTotal counts background rule audit outcomes.
	RuleAuditsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		EvaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Count of document evaluations by outcome.",
		}, []string{"outcome"})
		RuleResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_resolutions_total",
			Help:      "Count of promotion rule resolutions by result.",
		}, []string{"result"})
		FreeQtyAwarded = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "free_qty_awarded",
			Help:      "Distribution of free quantities awarded by materialized promotions.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		})
		RuleAuditsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_audits_total",
			Help:      "Count of background rule audit outcomes.",
		}, []string{"result"})
		reg.MustRegister(EvaluationsTotal, RuleResolutionsTotal, FreeQtyAwarded, RuleAuditsTotal)
	})
}
