package lending

import (
	"fmt"
	"log/slog"
	"math/big"

	"moneymarket/crypto"
)

const (
	FactorCollateral           = "collateral"
	FactorLiquidation          = "liquidation"
	FactorLiquidationIncentive = "liquidation_incentive"
)

var defaultLiquidationIncentive = MulDiv(one, big.NewInt(105), big.NewInt(100))

// Controller registers markets, prices them and values accounts across every
// market it lists. It is the RiskEngine markets consult before releasing
// collateral or debt.
type Controller struct {
	graph   *Graph
	address crypto.Address
	owner   crypto.Address

	markets []ValuationSource
	listed  map[crypto.Address]ValuationSource
	byAsset map[crypto.Address]ValuationSource
	prices  map[crypto.Address]*big.Int

	collateralFactor     *big.Int
	liquidationFactor    *big.Int
	liquidationIncentive *big.Int
}

func newController(g *Graph, addr, owner crypto.Address) *Controller {
	return &Controller{
		graph:                g,
		address:              addr,
		owner:                owner,
		listed:               make(map[crypto.Address]ValuationSource),
		byAsset:              make(map[crypto.Address]ValuationSource),
		prices:               make(map[crypto.Address]*big.Int),
		collateralFactor:     big.NewInt(0),
		liquidationFactor:    big.NewInt(0),
		liquidationIncentive: copyInt(defaultLiquidationIncentive),
	}
}

func (c *Controller) Address() crypto.Address { return c.address }

func (c *Controller) Owner() crypto.Address { return c.owner }

// nilChecker is implemented by sources that can be typed nil pointers.
type nilChecker interface {
	IsNil() bool
}

// AddMarket lists a market. Each underlying asset may be listed once. Sources
// other than *Market that may be passed as typed nil pointers must implement
// IsNil() bool.
func (c *Controller) AddMarket(caller crypto.Address, market ValuationSource) error {
	return c.graph.update(c.address.String(), ActionAdmin, func() error {
		if caller != c.owner {
			return ErrUnauthorized
		}
		if market == nil {
			return fmt.Errorf("%w: nil market", ErrInvalidMarket)
		}
		if n, ok := market.(nilChecker); ok && n.IsNil() {
			return fmt.Errorf("%w: nil market", ErrInvalidMarket)
		}
		if m, ok := market.(*Market); ok {
			if m == nil {
				return fmt.Errorf("%w: nil market", ErrInvalidMarket)
			}
			if m.graph != c.graph {
				return fmt.Errorf("%w: market belongs to another graph", ErrInvalidMarket)
			}
		}
		addr := market.Address()
		asset := market.Underlying()
		if addr.IsZero() || asset.IsZero() {
			return fmt.Errorf("%w: market must expose an address and an underlying asset", ErrInvalidMarket)
		}
		if _, ok := c.listed[addr]; ok {
			return fmt.Errorf("%w: market %s already listed", ErrDuplicateAsset, addr)
		}
		if existing, ok := c.byAsset[asset]; ok {
			return fmt.Errorf("%w: asset %s listed by %s", ErrDuplicateAsset, asset, existing.Address())
		}

		prevLen := len(c.markets)
		c.graph.record(func() {
			c.markets = c.markets[:prevLen]
			delete(c.listed, addr)
			delete(c.byAsset, asset)
		})
		c.markets = append(c.markets, market)
		c.listed[addr] = market
		c.byAsset[asset] = market

		c.graph.emit(MarketListedEvent{Controller: c.address, Market: addr, Asset: asset})
		c.graph.logger.Info("lending market listed",
			slog.String("controller", c.address.String()),
			slog.String("market", addr.String()),
			slog.String("asset", asset.String()))
		return nil
	})
}

// SetPrice sets the value of one unit of the market's underlying asset.
func (c *Controller) SetPrice(caller crypto.Address, market crypto.Address, price *big.Int) error {
	return c.graph.update(c.address.String(), ActionAdmin, func() error {
		if caller != c.owner {
			return ErrUnauthorized
		}
		if price == nil || price.Sign() < 0 {
			return fmt.Errorf("%w: price must not be negative", ErrInvalidAmount)
		}
		if _, ok := c.listed[market]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMarket, market)
		}
		prev, existed := c.prices[market]
		c.graph.record(func() {
			if existed {
				c.prices[market] = prev
				return
			}
			delete(c.prices, market)
		})
		c.prices[market] = copyInt(price)
		c.graph.emit(PriceSetEvent{Controller: c.address, Market: market, Price: copyInt(price)})
		return nil
	})
}

// SetCollateralFactor sets the weight applied to supply value when computing
// borrowing power. Values above One are accepted but logged.
func (c *Controller) SetCollateralFactor(caller crypto.Address, factor *big.Int) error {
	return c.setFactor(caller, FactorCollateral, factor, &c.collateralFactor)
}

// SetLiquidationFactor sets the weight applied to supply value when deciding
// whether an account may be liquidated.
func (c *Controller) SetLiquidationFactor(caller crypto.Address, factor *big.Int) error {
	return c.setFactor(caller, FactorLiquidation, factor, &c.liquidationFactor)
}

// SetLiquidationIncentive sets the multiplier applied to repaid value when
// seizing collateral. It must be at least One.
func (c *Controller) SetLiquidationIncentive(caller crypto.Address, incentive *big.Int) error {
	if incentive != nil && incentive.Cmp(one) < 0 {
		return fmt.Errorf("%w: liquidation incentive below one", ErrInvalidFactor)
	}
	return c.setFactor(caller, FactorLiquidationIncentive, incentive, &c.liquidationIncentive)
}

func (c *Controller) setFactor(caller crypto.Address, name string, value *big.Int, slot **big.Int) error {
	return c.graph.update(c.address.String(), ActionAdmin, func() error {
		if caller != c.owner {
			return ErrUnauthorized
		}
		if value == nil || value.Sign() < 0 {
			return fmt.Errorf("%w: %s factor must not be negative", ErrInvalidFactor, name)
		}
		if name != FactorLiquidationIncentive && value.Cmp(one) > 0 {
			c.graph.logger.Warn("lending factor above one",
				slog.String("controller", c.address.String()),
				slog.String("factor", name),
				slog.String("value", value.String()))
		}
		prev := *slot
		c.graph.record(func() { *slot = prev })
		*slot = copyInt(value)
		c.graph.emit(FactorSetEvent{Controller: c.address, Factor: name, Value: copyInt(value)})
		return nil
	})
}

// GetAccountValues sums the account's price weighted supply and borrow
// balances across every listed market, in listing order.
func (c *Controller) GetAccountValues(account crypto.Address) (supplyValue, borrowValue *big.Int) {
	c.graph.mu.RLock()
	defer c.graph.mu.RUnlock()
	return c.accountValues(account)
}

// GetAccountLiquidity returns the collateral weighted supply value in excess
// of the borrow value, floored at zero.
func (c *Controller) GetAccountLiquidity(account crypto.Address) *big.Int {
	c.graph.mu.RLock()
	defer c.graph.mu.RUnlock()
	supplyValue, borrowValue := c.accountValues(account)
	return SubFloor(MulFactor(supplyValue, c.collateralFactor), borrowValue)
}

// GetAccountHealth returns the liquidation weighted supply value over the
// borrow value, scaled by Mantissa. Accounts without debt report zero.
func (c *Controller) GetAccountHealth(account crypto.Address) *big.Int {
	c.graph.mu.RLock()
	defer c.graph.mu.RUnlock()
	supplyValue, borrowValue := c.accountValues(account)
	if borrowValue.Sign() == 0 {
		return big.NewInt(0)
	}
	return MulDiv(MulFactor(supplyValue, c.liquidationFactor), mantissa, borrowValue)
}

func (c *Controller) IsListed(market crypto.Address) bool {
	c.graph.mu.RLock()
	defer c.graph.mu.RUnlock()
	_, ok := c.listed[market]
	return ok
}

// Markets returns the listed markets in listing order.
func (c *Controller) Markets() []ValuationSource {
	c.graph.mu.RLock()
	defer c.graph.mu.RUnlock()
	return append([]ValuationSource(nil), c.markets...)
}

func (c *Controller) MarketCount() int {
	c.graph.mu.RLock()
	defer c.graph.mu.RUnlock()
	return len(c.markets)
}

func (c *Controller) MarketAt(i int) (ValuationSource, bool) {
	c.graph.mu.RLock()
	defer c.graph.mu.RUnlock()
	if i < 0 || i >= len(c.markets) {
		return nil, false
	}
	return c.markets[i], true
}

func (c *Controller) MarketByAsset(asset crypto.Address) (ValuationSource, bool) {
	c.graph.mu.RLock()
	defer c.graph.mu.RUnlock()
	m, ok := c.byAsset[asset]
	return m, ok
}

// Price returns the market's price, zero when unset.
func (c *Controller) Price(market crypto.Address) *big.Int {
	c.graph.mu.RLock()
	defer c.graph.mu.RUnlock()
	return c.priceOf(market)
}

func (c *Controller) CollateralFactor() *big.Int {
	c.graph.mu.RLock()
	defer c.graph.mu.RUnlock()
	return copyInt(c.collateralFactor)
}

func (c *Controller) LiquidationFactor() *big.Int {
	c.graph.mu.RLock()
	defer c.graph.mu.RUnlock()
	return copyInt(c.liquidationFactor)
}

func (c *Controller) LiquidationIncentive() *big.Int {
	c.graph.mu.RLock()
	defer c.graph.mu.RUnlock()
	return copyInt(c.liquidationIncentive)
}

// Trusts implements RiskEngine: the controller itself and every market it
// lists may move supply between accounts.
func (c *Controller) Trusts(caller crypto.Address) bool {
	if caller == c.address {
		return true
	}
	_, ok := c.listed[caller]
	return ok
}

// AuthorizeRedeem implements RiskEngine. The account's supply value is
// reduced by the redeemed amount at the market's price and the remaining
// collateral weighted value must still cover its borrows.
func (c *Controller) AuthorizeRedeem(market ValuationSource, account crypto.Address, amount *big.Int) error {
	addr := market.Address()
	if _, ok := c.listed[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, addr)
	}
	supplyValue, borrowValue := c.accountValues(account)
	redeemed := new(big.Int).Mul(orZero(amount), c.priceOf(addr))
	power := MulFactor(SubFloor(supplyValue, redeemed), c.collateralFactor)
	if power.Cmp(borrowValue) < 0 {
		return fmt.Errorf("%w: borrowing power %s after redeem, borrows %s", ErrInsufficientLiquidity, power, borrowValue)
	}
	return nil
}

// AuthorizeBorrow implements RiskEngine.
func (c *Controller) AuthorizeBorrow(market ValuationSource, account crypto.Address, amount *big.Int) error {
	addr := market.Address()
	if _, ok := c.listed[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, addr)
	}
	supplyValue, borrowValue := c.accountValues(account)
	borrowValue.Add(borrowValue, new(big.Int).Mul(orZero(amount), c.priceOf(addr)))
	power := MulFactor(supplyValue, c.collateralFactor)
	if power.Cmp(borrowValue) < 0 {
		return fmt.Errorf("%w: borrowing power %s, borrows after %s", ErrInsufficientCollateral, power, borrowValue)
	}
	return nil
}

// AuthorizeLiquidation implements RiskEngine. A borrower is liquidatable once
// the liquidation weighted supply value no longer exceeds the borrow value.
func (c *Controller) AuthorizeLiquidation(market ValuationSource, borrower crypto.Address) error {
	addr := market.Address()
	if _, ok := c.listed[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, addr)
	}
	supplyValue, borrowValue := c.accountValues(borrower)
	if borrowValue.Sign() == 0 {
		return fmt.Errorf("%w: no borrows", ErrBorrowerNotLiquidatable)
	}
	if weighted := MulFactor(supplyValue, c.liquidationFactor); weighted.Cmp(borrowValue) > 0 {
		return fmt.Errorf("%w: weighted supply %s exceeds borrows %s", ErrBorrowerNotLiquidatable, weighted, borrowValue)
	}
	return nil
}

// SeizeAmount implements RiskEngine:
// repay * debtPrice * incentive / One / collateralPrice.
func (c *Controller) SeizeAmount(debt, collateral ValuationSource, repay *big.Int) (*big.Int, error) {
	for _, m := range []ValuationSource{debt, collateral} {
		if _, ok := c.listed[m.Address()]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, m.Address())
		}
	}
	collateralPrice := c.priceOf(collateral.Address())
	if collateralPrice.Sign() == 0 {
		return nil, fmt.Errorf("%w: collateral market %s", ErrZeroPrice, collateral.Address())
	}
	value := new(big.Int).Mul(orZero(repay), c.priceOf(debt.Address()))
	value = MulFactor(value, c.liquidationIncentive)
	return value.Quo(value, collateralPrice), nil
}

func (c *Controller) accountValues(account crypto.Address) (*big.Int, *big.Int) {
	supplyValue := big.NewInt(0)
	borrowValue := big.NewInt(0)
	for _, market := range c.markets {
		price := c.priceOf(market.Address())
		supply, borrow := market.AccountSnapshot(account)
		supplyValue.Add(supplyValue, new(big.Int).Mul(orZero(supply), price))
		borrowValue.Add(borrowValue, new(big.Int).Mul(orZero(borrow), price))
	}
	return supplyValue, borrowValue
}

func (c *Controller) priceOf(market crypto.Address) *big.Int {
	if price, ok := c.prices[market]; ok {
		return copyInt(price)
	}
	return big.NewInt(0)
}
