package lending

import (
	"math/big"

	"moneymarket/crypto"
)

// Queries never mutate the market. The Updated* variants and the rate
// queries project accrual to the current block height.

func (m *Market) Owner() crypto.Address { return m.owner }

// Controller returns the configured risk engine, or nil.
func (m *Market) Controller() RiskEngine {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return m.controller
}

func (m *Market) Unrestricted() bool {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return m.unrestricted
}

func (m *Market) RateModel() RateModel {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return m.rates.Clone()
}

// UtilizationRate, BorrowRate and SupplyRate evaluate the market's rate model
// at an arbitrary pool composition.
func (m *Market) UtilizationRate(cash, borrows, reserves *big.Int) *big.Int {
	return m.RateModel().UtilizationRate(cash, borrows, reserves)
}

func (m *Market) BorrowRate(cash, borrows, reserves *big.Int) *big.Int {
	return m.RateModel().BorrowRate(cash, borrows, reserves)
}

func (m *Market) SupplyRate(cash, borrows, reserves *big.Int) *big.Int {
	return m.RateModel().SupplyRate(cash, borrows, reserves)
}

// BorrowRatePerBlock is the current borrow rate for the live pool composition.
func (m *Market) BorrowRatePerBlock() *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	p := m.project(m.graph.height)
	return m.rates.BorrowRate(m.cash(), p.totalBorrows, nil)
}

func (m *Market) SupplyRatePerBlock() *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	p := m.project(m.graph.height)
	return m.rates.SupplyRate(m.cash(), p.totalBorrows, nil)
}

// Cash is the underlying balance custodied by the market.
func (m *Market) Cash() *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return m.cash()
}

// SupplyOf values the account's shares at the stored supply index.
func (m *Market) SupplyOf(account crypto.Address) *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return MulFactor(m.sharesOf(account), m.supplyIndex)
}

// UpdatedSupplyOf values the account's shares at the supply index projected
// to the current block.
func (m *Market) UpdatedSupplyOf(account crypto.Address) *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return MulFactor(m.sharesOf(account), m.project(m.graph.height).supplyIndex)
}

func (m *Market) SharesOf(account crypto.Address) *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return copyInt(m.sharesOf(account))
}

// BorrowBy returns the account's debt at the stored borrow index.
func (m *Market) BorrowBy(account crypto.Address) *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return m.borrowBalance(account)
}

func (m *Market) UpdatedBorrowBy(account crypto.Address) *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return m.borrows[account].balance(m.project(m.graph.height).borrowIndex)
}

// TotalSupply values every outstanding share at the stored supply index.
func (m *Market) TotalSupply() *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return MulFactor(m.totalShares, m.supplyIndex)
}

func (m *Market) UpdatedTotalSupply() *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return MulFactor(m.totalShares, m.project(m.graph.height).supplyIndex)
}

func (m *Market) TotalSupplyShares() *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return copyInt(m.totalShares)
}

func (m *Market) TotalBorrows() *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return copyInt(m.totalBorrows)
}

func (m *Market) UpdatedTotalBorrows() *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return m.project(m.graph.height).totalBorrows
}

func (m *Market) SupplyIndex() *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return copyInt(m.supplyIndex)
}

func (m *Market) BorrowIndex() *big.Int {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return copyInt(m.borrowIndex)
}

func (m *Market) AccrualBlock() uint64 {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return m.accrualBlock
}

// Position reports whether the account currently supplies, borrows, both or
// neither.
func (m *Market) Position(account crypto.Address) Position {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	supplies := m.sharesOf(account).Sign() > 0
	_, borrows := m.borrows[account]
	switch {
	case supplies && borrows:
		return PositionSupplierBorrower
	case supplies:
		return PositionSupplier
	case borrows:
		return PositionBorrower
	default:
		return PositionNone
	}
}

// Accounts lists every account holding shares or debt, ordered by address.
func (m *Market) Accounts() []crypto.Address {
	m.graph.mu.RLock()
	defer m.graph.mu.RUnlock()
	return m.accounts()
}

// AccountSnapshot implements ValuationSource. The graph lock must already be
// held by the caller.
func (m *Market) AccountSnapshot(account crypto.Address) (supply, borrow *big.Int) {
	p := m.project(m.graph.height)
	supply = MulFactor(m.sharesOf(account), p.supplyIndex)
	borrow = m.borrows[account].balance(p.borrowIndex)
	return supply, borrow
}

func (m *Market) accounts() []crypto.Address {
	seen := make(map[crypto.Address]struct{}, len(m.shares)+len(m.borrows))
	out := make([]crypto.Address, 0, len(m.shares)+len(m.borrows))
	for addr := range m.shares {
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	for addr := range m.borrows {
		if _, ok := seen[addr]; !ok {
			out = append(out, addr)
		}
	}
	sortAddresses(out)
	return out
}
