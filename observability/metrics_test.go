package observability

import (
	"errors"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestLendingOperationCounters(t *testing.T) {
	m := Lending()
	if Lending() != m {
		t.Fatalf("expected singleton registry")
	}
	ok := m.operations.WithLabelValues("mTOK", "supply", "success")
	failed := m.operations.WithLabelValues("mTOK", "supply", "error")
	beforeOK, beforeFailed := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	m.ObserveOperation("mTOK", "supply", nil)
	m.ObserveOperation("mTOK", "supply", errors.New("boom"))
	m.ObserveOperation("mTOK", "supply", nil)

	if diff := testutil.ToFloat64(ok) - beforeOK; diff != 2 {
		t.Fatalf("expected 2 successes, got %f", diff)
	}
	if diff := testutil.ToFloat64(failed) - beforeFailed; diff != 1 {
		t.Fatalf("expected 1 failure, got %f", diff)
	}
}

func TestLendingIndexGauges(t *testing.T) {
	m := Lending()
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	supply := new(big.Int).Quo(new(big.Int).Mul(one, big.NewInt(3)), big.NewInt(2))
	m.ObserveIndices("mIDX", supply, one)

	var metric dto.Metric
	if err := m.supplyIndex.WithLabelValues("mIDX").Write(&metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := metric.GetGauge().GetValue(); got != 1.5 {
		t.Fatalf("expected supply index 1.5, got %f", got)
	}
	if got := testutil.ToFloat64(m.borrowIndex.WithLabelValues("mIDX")); got != 1 {
		t.Fatalf("expected borrow index 1, got %f", got)
	}
}

func TestLendingLiquidationCounters(t *testing.T) {
	m := Lending()
	count := m.liquidations.WithLabelValues("mDEBT", "mCOL")
	repaid := m.repaid.WithLabelValues("mDEBT")
	beforeCount, beforeRepaid := testutil.ToFloat64(count), testutil.ToFloat64(repaid)

	m.ObserveLiquidation("mDEBT", "mCOL", big.NewInt(250))

	if diff := testutil.ToFloat64(count) - beforeCount; diff != 1 {
		t.Fatalf("expected one liquidation, got %f", diff)
	}
	if diff := testutil.ToFloat64(repaid) - beforeRepaid; diff != 250 {
		t.Fatalf("expected 250 repaid, got %f", diff)
	}
}

func TestEventCounter(t *testing.T) {
	counter := Events().committed.WithLabelValues("lending.supply")
	before := testutil.ToFloat64(counter)
	Events().Record(" Lending.Supply ")
	if diff := testutil.ToFloat64(counter) - before; diff != 1 {
		t.Fatalf("expected one recorded event, got %f", diff)
	}
}

func TestNilRegistriesAreSafe(t *testing.T) {
	var m *LendingMetrics
	m.ObserveOperation("m", "supply", nil)
	m.ObserveIndices("m", nil, nil)
	m.ObserveLiquidation("m", "c", nil)
	var e *eventMetrics
	e.Record("x")
}
