package lending

import (
	"errors"

	nativecommon "moneymarket/native/common"
)

var (
	ErrUnauthorized = errors.New("lending: caller not authorized")

	ErrInvalidAmount           = errors.New("lending: amount must be positive")
	ErrUnknownMarket           = errors.New("lending: market not listed")
	ErrDuplicateAsset          = errors.New("lending: asset already has a market")
	ErrInvalidMarket           = errors.New("lending: not a market")
	ErrSelfLiquidation         = errors.New("lending: borrower cannot liquidate itself")
	ErrZeroPrice               = errors.New("lending: market price is zero")
	ErrInvalidFactor           = errors.New("lending: invalid factor")
	ErrBlockRegression         = errors.New("lending: block height cannot decrease")
	ErrRiskEngineNotConfigured = errors.New("lending: controller not configured and market is restricted")
	ErrInvalidSnapshot         = errors.New("lending: invalid snapshot")

	ErrInsufficientBalanceOrAllowance = errors.New("lending: asset transfer failed, insufficient balance or allowance")
	ErrInsufficientCash               = errors.New("lending: insufficient cash in market")
	ErrInsufficientSupply             = errors.New("lending: insufficient supply balance")

	ErrInsufficientLiquidity  = errors.New("lending: insufficient liquidity")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")

	ErrBorrowerNotLiquidatable = errors.New("lending: borrower not eligible for liquidation")
	ErrExceedsBorrowerDebt     = errors.New("lending: amount exceeds borrower debt")

	ErrNoOutstandingBorrow = errors.New("lending: no outstanding borrow to repay")
)

// Kind groups errors into the categories callers are expected to branch on.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindValidation
	KindInsufficientFunds
	KindInsufficientLiquidity
	KindLiquidation
	KindNoOutstandingBorrow
	KindPaused
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindInsufficientLiquidity:
		return "insufficient_liquidity"
	case KindLiquidation:
		return "liquidation"
	case KindNoOutstandingBorrow:
		return "no_outstanding_borrow"
	case KindPaused:
		return "paused"
	default:
		return "unknown"
	}
}

var errorKinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnauthorized, KindAuthorization},
	{ErrInvalidAmount, KindValidation},
	{ErrUnknownMarket, KindValidation},
	{ErrDuplicateAsset, KindValidation},
	{ErrInvalidMarket, KindValidation},
	{ErrSelfLiquidation, KindValidation},
	{ErrZeroPrice, KindValidation},
	{ErrInvalidFactor, KindValidation},
	{ErrBlockRegression, KindValidation},
	{ErrRiskEngineNotConfigured, KindValidation},
	{ErrInvalidSnapshot, KindValidation},
	{ErrInsufficientBalanceOrAllowance, KindInsufficientFunds},
	{ErrInsufficientCash, KindInsufficientFunds},
	{ErrInsufficientSupply, KindInsufficientFunds},
	{ErrInsufficientLiquidity, KindInsufficientLiquidity},
	{ErrInsufficientCollateral, KindInsufficientLiquidity},
	{ErrBorrowerNotLiquidatable, KindLiquidation},
	{ErrExceedsBorrowerDebt, KindLiquidation},
	{ErrNoOutstandingBorrow, KindNoOutstandingBorrow},
	{nativecommon.ErrModulePaused, KindPaused},
}

// KindOf classifies err. Wrapped errors are unwrapped with errors.Is.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, entry := range errorKinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindUnknown
}
