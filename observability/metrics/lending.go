package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics groups the collectors the lending daemon exports. Refresh
// counters are labelled by outcome so rejected oracle reads and math failures
// stay visible next to the success rate.
type LendingMetrics struct {
	reserveRefreshes    *prometheus.CounterVec
	obligationRefreshes *prometheus.CounterVec
	refreshDuration     prometheus.Histogram
	oracleRejections    *prometheus.CounterVec
	reserveBorrowRate   *prometheus.GaugeVec
	reserveUtilization  *prometheus.GaugeVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process-wide lending metrics registry.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			reserveRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_reserve_refresh_total",
				Help: "Count of reserve refresh attempts by outcome.",
			}, []string{"outcome"}),
			obligationRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_obligation_refresh_total",
				Help: "Count of obligation refresh attempts by outcome.",
			}, []string{"outcome"}),
			refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "lending_refresh_duration_seconds",
				Help:    "Wall time spent executing a refresh, load to persist.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			}),
			oracleRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_oracle_rejections_total",
				Help: "Count of rejected price feed readings by reason.",
			}, []string{"reason"}),
			reserveBorrowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_reserve_borrow_rate",
				Help: "Annualized borrow rate per reserve after the last refresh.",
			}, []string{"reserve"}),
			reserveUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_reserve_utilization",
				Help: "Pool utilization per reserve after the last refresh.",
			}, []string{"reserve"}),
		}
		prometheus.MustRegister(
			lendingRegistry.reserveRefreshes,
			lendingRegistry.obligationRefreshes,
			lendingRegistry.refreshDuration,
			lendingRegistry.oracleRejections,
			lendingRegistry.reserveBorrowRate,
			lendingRegistry.reserveUtilization,
		)
	})
	return lendingRegistry
}

// ObserveReserveRefresh records one reserve refresh attempt.
func (m *LendingMetrics) ObserveReserveRefresh(outcome string, seconds float64) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.reserveRefreshes.WithLabelValues(outcome).Inc()
	m.refreshDuration.Observe(seconds)
}

// ObserveObligationRefresh records one obligation refresh attempt.
func (m *LendingMetrics) ObserveObligationRefresh(outcome string, seconds float64) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.obligationRefreshes.WithLabelValues(outcome).Inc()
	m.refreshDuration.Observe(seconds)
}

// IncOracleRejection counts a rejected feed reading.
func (m *LendingMetrics) IncOracleRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.oracleRejections.WithLabelValues(reason).Inc()
}

// SetReserveRates publishes the post-refresh curve position of a reserve.
func (m *LendingMetrics) SetReserveRates(reserve string, borrowRate, utilization float64) {
	if m == nil {
		return
	}
	if reserve == "" {
		reserve = "unknown"
	}
	m.reserveBorrowRate.WithLabelValues(reserve).Set(borrowRate)
	m.reserveUtilization.WithLabelValues(reserve).Set(utilization)
}
