package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics tracks lending ledger activity. It satisfies the Metrics hook
// of the lending graph.
type LendingMetrics struct {
	operations   *prometheus.CounterVec
	supplyIndex  *prometheus.GaugeVec
	borrowIndex  *prometheus.GaugeVec
	liquidations *prometheus.CounterVec
	repaid       *prometheus.CounterVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// Lending returns the lazily-initialised lending metrics registry.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mm",
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Count of lending operations segmented by market, action and outcome.",
			}, []string{"market", "action", "outcome"}),
			supplyIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "mm",
				Subsystem: "lending",
				Name:      "supply_index",
				Help:      "Latest supply index per market, as a multiple of one.",
			}, []string{"market"}),
			borrowIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "mm",
				Subsystem: "lending",
				Name:      "borrow_index",
				Help:      "Latest borrow index per market, as a multiple of one.",
			}, []string{"market"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mm",
				Subsystem: "lending",
				Name:      "liquidations_total",
				Help:      "Count of liquidations segmented by debt and collateral market.",
			}, []string{"market", "collateral"}),
			repaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mm",
				Subsystem: "lending",
				Name:      "liquidated_debt_total",
				Help:      "Debt repaid through liquidations, in underlying units.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.supplyIndex,
			lendingRegistry.borrowIndex,
			lendingRegistry.liquidations,
			lendingRegistry.repaid,
		)
	})
	return lendingRegistry
}

// ObserveOperation records the outcome of a lending entry point.
func (m *LendingMetrics) ObserveOperation(market, action string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(labelOrUnknown(market), labelOrUnknown(action), outcome).Inc()
}

// ObserveIndices publishes the market's indices scaled down by one (1e18).
func (m *LendingMetrics) ObserveIndices(market string, supplyIndex, borrowIndex *big.Int) {
	if m == nil {
		return
	}
	label := labelOrUnknown(market)
	m.supplyIndex.WithLabelValues(label).Set(fixedToFloat(supplyIndex))
	m.borrowIndex.WithLabelValues(label).Set(fixedToFloat(borrowIndex))
}

// ObserveLiquidation counts a liquidation and the debt it repaid.
func (m *LendingMetrics) ObserveLiquidation(debtMarket, collateralMarket string, repay *big.Int) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(labelOrUnknown(debtMarket), labelOrUnknown(collateralMarket)).Inc()
	if amount := bigToFloat(repay); amount > 0 {
		m.repaid.WithLabelValues(labelOrUnknown(debtMarket)).Add(amount)
	}
}

func labelOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

var fixedPointOne = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

func fixedToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	scaled, _ := new(big.Float).Quo(new(big.Float).SetInt(value), fixedPointOne).Float64()
	if math.IsNaN(scaled) || math.IsInf(scaled, 0) {
		return 0
	}
	return scaled
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
