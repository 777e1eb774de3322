package lending

import (
	"math/big"

	"moneymarket/crypto"
)

// Asset is the fungible token ledger a market custodies. Implementations must
// leave balances untouched when a transfer fails.
type Asset interface {
	Address() crypto.Address
	BalanceOf(owner crypto.Address) *big.Int
	Transfer(from, to crypto.Address, amount *big.Int) error
	TransferFrom(spender, from, to crypto.Address, amount *big.Int) error
}

// ValuationSource is what a risk engine needs from a market to value an
// account. AccountSnapshot reports interest-updated supply and borrow
// balances in underlying units without mutating the source, and is invoked
// while the graph lock is already held.
type ValuationSource interface {
	Address() crypto.Address
	Underlying() crypto.Address
	AccountSnapshot(account crypto.Address) (supply, borrow *big.Int)
}

// RiskEngine prices markets and authorises solvency sensitive operations on
// their behalf. Methods are invoked with the graph lock held.
type RiskEngine interface {
	Address() crypto.Address
	// Trusts reports whether caller may move supply shares between accounts
	// inside a market governed by this engine.
	Trusts(caller crypto.Address) bool
	AuthorizeRedeem(market ValuationSource, account crypto.Address, amount *big.Int) error
	AuthorizeBorrow(market ValuationSource, account crypto.Address, amount *big.Int) error
	AuthorizeLiquidation(market ValuationSource, borrower crypto.Address) error
	// SeizeAmount converts a repayment in the debt market into the amount of
	// collateral, in underlying units of the collateral market, awarded to
	// the liquidator.
	SeizeAmount(debt, collateral ValuationSource, repay *big.Int) (*big.Int, error)
}

// MarketConfig captures the construction parameters of a market.
type MarketConfig struct {
	Name  string
	Owner crypto.Address
	Asset Asset
	Rates RateModel
	// Unrestricted lets redeem and borrow proceed without a controller. It
	// exists for bootstrapping and must be enabled explicitly.
	Unrestricted bool
	// Address overrides the address derived from Name.
	Address crypto.Address
}

// Position is the implicit per-account state of a market, derived from the
// stored share and borrow balances.
type Position uint8

const (
	PositionNone Position = iota
	PositionSupplier
	PositionBorrower
	PositionSupplierBorrower
)

func (p Position) String() string {
	switch p {
	case PositionSupplier:
		return "supplier"
	case PositionBorrower:
		return "borrower"
	case PositionSupplierBorrower:
		return "supplier+borrower"
	default:
		return "none"
	}
}

// borrowSnapshot records the debt of an account as of the borrow index at its
// last update.
type borrowSnapshot struct {
	principal     *big.Int
	interestIndex *big.Int
}

func (s borrowSnapshot) balance(borrowIndex *big.Int) *big.Int {
	if s.principal == nil || s.principal.Sign() == 0 {
		return big.NewInt(0)
	}
	if s.interestIndex == nil || s.interestIndex.Sign() == 0 {
		return copyInt(s.principal)
	}
	return MulDiv(s.principal, borrowIndex, s.interestIndex)
}

// Metrics receives operational signals from a graph. Implementations must be
// safe for concurrent use.
type Metrics interface {
	ObserveOperation(market, action string, err error)
	ObserveIndices(market string, supplyIndex, borrowIndex *big.Int)
	ObserveLiquidation(debtMarket, collateralMarket string, repay *big.Int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, error) {}
func (noopMetrics) ObserveIndices(string, *big.Int, *big.Int) {}
func (noopMetrics) ObserveLiquidation(string, string, *big.Int) {}
