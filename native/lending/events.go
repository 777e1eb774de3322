package lending

import (
	"math/big"
	"strconv"

	"moneymarket/core/types"
	"moneymarket/crypto"
)

const (
	EventTypeSupply          = "lending.supply"
	EventTypeRedeem          = "lending.redeem"
	EventTypeBorrow          = "lending.borrow"
	EventTypePayBorrow       = "lending.pay_borrow"
	EventTypeLiquidateBorrow = "lending.liquidate_borrow"
	EventTypeTransfer        = "lending.transfer"
	EventTypeAccrue          = "lending.accrue"
	EventTypeMarketListed    = "lending.market_listed"
	EventTypePriceSet        = "lending.price_set"
	EventTypeFactorSet       = "lending.factor_set"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// SupplyEvent records a deposit and the shares minted for it.
type SupplyEvent struct {
	Market crypto.Address
	User   crypto.Address
	Amount *big.Int
	Shares *big.Int
}

func (SupplyEvent) EventType() string { return EventTypeSupply }

func (e SupplyEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeSupply, Attributes: map[string]string{
		"market": e.Market.String(),
		"user":   e.User.String(),
		"amount": formatAmount(e.Amount),
		"shares": formatAmount(e.Shares),
	}}
}

// RedeemEvent records a withdrawal and the shares burnt for it.
type RedeemEvent struct {
	Market crypto.Address
	User   crypto.Address
	Amount *big.Int
	Shares *big.Int
}

func (RedeemEvent) EventType() string { return EventTypeRedeem }

func (e RedeemEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeRedeem, Attributes: map[string]string{
		"market": e.Market.String(),
		"user":   e.User.String(),
		"amount": formatAmount(e.Amount),
		"shares": formatAmount(e.Shares),
	}}
}

type BorrowEvent struct {
	Market crypto.Address
	User   crypto.Address
	Amount *big.Int
}

func (BorrowEvent) EventType() string { return EventTypeBorrow }

func (e BorrowEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeBorrow, Attributes: map[string]string{
		"market": e.Market.String(),
		"user":   e.User.String(),
		"amount": formatAmount(e.Amount),
	}}
}

// PayBorrowEvent carries the amount actually applied to the debt, which
// excludes any overpayment.
type PayBorrowEvent struct {
	Market crypto.Address
	User   crypto.Address
	Amount *big.Int
}

func (PayBorrowEvent) EventType() string { return EventTypePayBorrow }

func (e PayBorrowEvent) Event() *types.Event {
	return &types.Event{Type: EventTypePayBorrow, Attributes: map[string]string{
		"market": e.Market.String(),
		"user":   e.User.String(),
		"amount": formatAmount(e.Amount),
	}}
}

type LiquidateBorrowEvent struct {
	Market           crypto.Address
	Borrower         crypto.Address
	Liquidator       crypto.Address
	Amount           *big.Int
	CollateralMarket crypto.Address
	CollateralAmount *big.Int
}

func (LiquidateBorrowEvent) EventType() string { return EventTypeLiquidateBorrow }

func (e LiquidateBorrowEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeLiquidateBorrow, Attributes: map[string]string{
		"market":           e.Market.String(),
		"borrower":         e.Borrower.String(),
		"liquidator":       e.Liquidator.String(),
		"amount":           formatAmount(e.Amount),
		"collateralMarket": e.CollateralMarket.String(),
		"collateralAmount": formatAmount(e.CollateralAmount),
	}}
}

// TransferEvent records supply shares moving between accounts inside a
// market, the settlement leg of a liquidation.
type TransferEvent struct {
	Market crypto.Address
	From   crypto.Address
	To     crypto.Address
	Amount *big.Int
	Shares *big.Int
}

func (TransferEvent) EventType() string { return EventTypeTransfer }

func (e TransferEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"market": e.Market.String(),
		"from":   e.From.String(),
		"to":     e.To.String(),
		"amount": formatAmount(e.Amount),
		"shares": formatAmount(e.Shares),
	}}
}

// AccrueEvent is emitted whenever accrual moves a market's indices forward.
type AccrueEvent struct {
	Market       crypto.Address
	FromBlock    uint64
	ToBlock      uint64
	Interest     *big.Int
	TotalBorrows *big.Int
	SupplyIndex  *big.Int
	BorrowIndex  *big.Int
}

func (AccrueEvent) EventType() string { return EventTypeAccrue }

func (e AccrueEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeAccrue, Attributes: map[string]string{
		"market":       e.Market.String(),
		"fromBlock":    strconv.FormatUint(e.FromBlock, 10),
		"toBlock":      strconv.FormatUint(e.ToBlock, 10),
		"interest":     formatAmount(e.Interest),
		"totalBorrows": formatAmount(e.TotalBorrows),
		"supplyIndex":  formatAmount(e.SupplyIndex),
		"borrowIndex":  formatAmount(e.BorrowIndex),
	}}
}

type MarketListedEvent struct {
	Controller crypto.Address
	Market     crypto.Address
	Asset      crypto.Address
}

func (MarketListedEvent) EventType() string { return EventTypeMarketListed }

func (e MarketListedEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeMarketListed, Attributes: map[string]string{
		"controller": e.Controller.String(),
		"market":     e.Market.String(),
		"asset":      e.Asset.String(),
	}}
}

type PriceSetEvent struct {
	Controller crypto.Address
	Market     crypto.Address
	Price      *big.Int
}

func (PriceSetEvent) EventType() string { return EventTypePriceSet }

func (e PriceSetEvent) Event() *types.Event {
	return &types.Event{Type: EventTypePriceSet, Attributes: map[string]string{
		"controller": e.Controller.String(),
		"market":     e.Market.String(),
		"price":      formatAmount(e.Price),
	}}
}

// FactorSetEvent covers the collateral and liquidation factors and the
// liquidation incentive. Factor names the parameter that changed.
type FactorSetEvent struct {
	Controller crypto.Address
	Factor     string
	Value      *big.Int
}

func (FactorSetEvent) EventType() string { return EventTypeFactorSet }

func (e FactorSetEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeFactorSet, Attributes: map[string]string{
		"controller": e.Controller.String(),
		"factor":     e.Factor,
		"value":      formatAmount(e.Value),
	}}
}
