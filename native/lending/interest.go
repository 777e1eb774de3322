package lending

import "math/big"

// RateModel is a linear per-block borrow rate anchored at BaseRate when
// utilisation is zero and rising by Multiplier per unit of utilisation. Both
// values are fixed-point per-block rates.
type RateModel struct {
	BaseRate   *big.Int
	Multiplier *big.Int
}

// NewRateModel converts annual figures into per-block rates using the number of
// blocks produced per year, e.g. an annual base rate of One/1000*blocksPerYear
// yields a per-block base rate of One/1000.
func NewRateModel(annualBaseRate, blocksPerYear, annualMultiplier *big.Int) RateModel {
	if blocksPerYear == nil || blocksPerYear.Sign() <= 0 {
		return RateModel{BaseRate: copyInt(annualBaseRate), Multiplier: copyInt(annualMultiplier)}
	}
	return RateModel{
		BaseRate:   new(big.Int).Quo(orZero(annualBaseRate), blocksPerYear),
		Multiplier: new(big.Int).Quo(orZero(annualMultiplier), blocksPerYear),
	}
}

// Clone returns a deep copy of the rate model.
func (m RateModel) Clone() RateModel {
	return RateModel{BaseRate: copyInt(m.BaseRate), Multiplier: copyInt(m.Multiplier)}
}

// UtilizationRate returns borrows / (cash + borrows - reserves) in fixed point,
// or zero when nothing is borrowed.
func (m RateModel) UtilizationRate(cash, borrows, reserves *big.Int) *big.Int {
	if borrows == nil || borrows.Sign() == 0 {
		return big.NewInt(0)
	}
	denominator := new(big.Int).Add(orZero(cash), borrows)
	denominator.Sub(denominator, orZero(reserves))
	if denominator.Sign() <= 0 {
		return big.NewInt(0)
	}
	return DivFactor(borrows, denominator)
}

// BorrowRate returns the per-block borrow rate at the given pool composition.
func (m RateModel) BorrowRate(cash, borrows, reserves *big.Int) *big.Int {
	utilization := m.UtilizationRate(cash, borrows, reserves)
	rate := MulFactor(utilization, orZero(m.Multiplier))
	return rate.Add(rate, orZero(m.BaseRate))
}

// SupplyRate returns the per-block rate earned by suppliers: the borrow rate
// scaled by utilisation. No reserve share is carved out.
func (m RateModel) SupplyRate(cash, borrows, reserves *big.Int) *big.Int {
	utilization := m.UtilizationRate(cash, borrows, reserves)
	return MulFactor(utilization, m.BorrowRate(cash, borrows, reserves))
}
