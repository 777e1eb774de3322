package lending

import (
	"fmt"
	"log/slog"
	"math/big"

	"moneymarket/crypto"
)

// Market is a single-asset pool. Suppliers hold shares valued through the
// supply index; borrowers hold a principal snapshot valued through the borrow
// index. All state is guarded by the owning graph.
type Market struct {
	graph   *Graph
	name    string
	address crypto.Address
	owner   crypto.Address
	asset   Asset

	controller   RiskEngine
	unrestricted bool
	rates        RateModel

	totalShares *big.Int
	shares      map[crypto.Address]*big.Int

	supplyIndex  *big.Int
	borrowIndex  *big.Int
	totalBorrows *big.Int
	borrows      map[crypto.Address]borrowSnapshot
	accrualBlock uint64
}

func newMarket(g *Graph, name string, addr crypto.Address, cfg MarketConfig) *Market {
	return &Market{
		graph:        g,
		name:         name,
		address:      addr,
		owner:        cfg.Owner,
		asset:        cfg.Asset,
		unrestricted: cfg.Unrestricted,
		rates:        cfg.Rates.Clone(),
		totalShares:  big.NewInt(0),
		shares:       make(map[crypto.Address]*big.Int),
		supplyIndex:  One(),
		borrowIndex:  One(),
		totalBorrows: big.NewInt(0),
		borrows:      make(map[crypto.Address]borrowSnapshot),
		accrualBlock: g.height,
	}
}

func (m *Market) Name() string { return m.name }

func (m *Market) Address() crypto.Address { return m.address }

// Underlying returns the address of the custodied asset.
func (m *Market) Underlying() crypto.Address { return m.asset.Address() }

// Asset returns the custodied asset ledger.
func (m *Market) Asset() Asset { return m.asset }

// AccrueInterest brings the indices and total borrows up to the current block
// height. Calling it twice within a block is a no-op.
func (m *Market) AccrueInterest() error {
	return m.graph.update(m.name, ActionAccrue, func() error {
		m.accrueInterest()
		return nil
	})
}

// Supply pulls amount of the underlying asset from caller and credits shares
// at the current supply index.
func (m *Market) Supply(caller crypto.Address, amount *big.Int) error {
	return m.graph.update(m.name, ActionSupply, func() error {
		if err := m.graph.guard(ActionSupply); err != nil {
			return err
		}
		if !isPositive(amount) {
			return ErrInvalidAmount
		}
		m.accrueInterest()
		minted, err := m.mintFor(caller, amount)
		if err != nil {
			return err
		}
		m.graph.emit(SupplyEvent{Market: m.address, User: caller, Amount: copyInt(amount), Shares: minted})
		return m.pull(caller, amount)
	})
}

// Redeem burns enough shares to withdraw amount of the underlying asset,
// rounding the burn up.
func (m *Market) Redeem(caller crypto.Address, amount *big.Int) error {
	return m.graph.update(m.name, ActionRedeem, func() error {
		if err := m.graph.guard(ActionRedeem); err != nil {
			return err
		}
		if !isPositive(amount) {
			return ErrInvalidAmount
		}
		m.accrueInterest()
		held := m.sharesOf(caller)
		if balance := MulFactor(held, m.supplyIndex); balance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s supplies %s, requested %s", ErrInsufficientSupply, caller, balance, amount)
		}
		if cash := m.cash(); cash.Cmp(amount) < 0 {
			return fmt.Errorf("%w: cash %s, requested %s", ErrInsufficientCash, cash, amount)
		}
		engine, err := m.riskEngine(ActionRedeem)
		if err != nil {
			return err
		}
		if engine != nil {
			if err := engine.AuthorizeRedeem(m, caller, amount); err != nil {
				return err
			}
		}
		burnt := DivFactorUp(amount, m.supplyIndex)
		if burnt.Cmp(held) > 0 {
			burnt = copyInt(held)
		}
		m.setShares(caller, new(big.Int).Sub(held, burnt))
		m.setTotalShares(SubFloor(m.totalShares, burnt))
		m.graph.emit(RedeemEvent{Market: m.address, User: caller, Amount: copyInt(amount), Shares: burnt})
		return m.push(caller, amount)
	})
}

// Borrow lends amount of the market's cash to caller once the risk engine
// confirms the resulting position stays collateralised.
func (m *Market) Borrow(caller crypto.Address, amount *big.Int) error {
	return m.graph.update(m.name, ActionBorrow, func() error {
		if err := m.graph.guard(ActionBorrow); err != nil {
			return err
		}
		if !isPositive(amount) {
			return ErrInvalidAmount
		}
		m.accrueInterest()
		if cash := m.cash(); cash.Cmp(amount) < 0 {
			return fmt.Errorf("%w: cash %s, requested %s", ErrInsufficientCash, cash, amount)
		}
		engine, err := m.riskEngine(ActionBorrow)
		if err != nil {
			return err
		}
		if engine != nil {
			if err := engine.AuthorizeBorrow(m, caller, amount); err != nil {
				return err
			}
		}
		debt := m.borrowBalance(caller)
		m.setBorrow(caller, new(big.Int).Add(debt, amount))
		m.setTotalBorrows(new(big.Int).Add(m.totalBorrows, amount))
		m.graph.emit(BorrowEvent{Market: m.address, User: caller, Amount: copyInt(amount)})
		return m.push(caller, amount)
	})
}

// PayBorrow repays up to the caller's outstanding debt. Any excess is
// supplied on the caller's behalf instead of being refunded.
func (m *Market) PayBorrow(caller crypto.Address, amount *big.Int) error {
	return m.graph.update(m.name, ActionRepay, func() error {
		if err := m.graph.guard(ActionRepay); err != nil {
			return err
		}
		if !isPositive(amount) {
			return ErrInvalidAmount
		}
		m.accrueInterest()
		debt := m.borrowBalance(caller)
		if debt.Sign() == 0 {
			return ErrNoOutstandingBorrow
		}
		repaid := MinInt(amount, debt)
		m.setBorrow(caller, new(big.Int).Sub(debt, repaid))
		m.setTotalBorrows(SubFloor(m.totalBorrows, repaid))
		m.graph.emit(PayBorrowEvent{Market: m.address, User: caller, Amount: copyInt(repaid)})

		pulled := copyInt(repaid)
		if excess := new(big.Int).Sub(amount, repaid); excess.Sign() > 0 {
			// Dust that would mint no shares stays with the caller.
			if minted, err := m.mintFor(caller, excess); err == nil {
				m.graph.emit(SupplyEvent{Market: m.address, User: caller, Amount: excess, Shares: minted})
				pulled.Add(pulled, excess)
			}
		}
		return m.pull(caller, pulled)
	})
}

// LiquidateBorrow repays amount of the borrower's debt on their behalf and
// awards the liquidator the borrower's supply in collateral, valued at the
// price ratio between the two markets plus the liquidation incentive.
func (m *Market) LiquidateBorrow(caller, borrower crypto.Address, amount *big.Int, collateral *Market) error {
	return m.graph.update(m.name, ActionLiquidate, func() error {
		if err := m.graph.guard(ActionLiquidate); err != nil {
			return err
		}
		if !isPositive(amount) {
			return ErrInvalidAmount
		}
		if caller == borrower {
			return ErrSelfLiquidation
		}
		if collateral == nil || collateral.graph != m.graph {
			return fmt.Errorf("%w: collateral market not part of this graph", ErrInvalidMarket)
		}
		if m.controller == nil {
			return fmt.Errorf("%w: %s on %s", ErrRiskEngineNotConfigured, ActionLiquidate, m.name)
		}
		if collateral.controller != m.controller {
			return fmt.Errorf("%w: collateral market governed by a different controller", ErrInvalidMarket)
		}

		m.accrueInterest()
		debt := m.borrowBalance(borrower)
		if amount.Cmp(debt) > 0 {
			return fmt.Errorf("%w: debt %s, requested %s", ErrExceedsBorrowerDebt, debt, amount)
		}
		if err := m.controller.AuthorizeLiquidation(m, borrower); err != nil {
			return err
		}
		seized, err := m.controller.SeizeAmount(m, collateral, amount)
		if err != nil {
			return err
		}

		m.setBorrow(borrower, new(big.Int).Sub(debt, amount))
		m.setTotalBorrows(SubFloor(m.totalBorrows, amount))
		if seized.Sign() > 0 {
			if err := collateral.transferTo(m.address, borrower, caller, seized); err != nil {
				return err
			}
		}
		m.graph.emit(LiquidateBorrowEvent{
			Market:           m.address,
			Borrower:         borrower,
			Liquidator:       caller,
			Amount:           copyInt(amount),
			CollateralMarket: collateral.address,
			CollateralAmount: seized,
		})
		return m.pull(caller, amount)
	})
}

// TransferTo moves amount of underlying value worth of supply shares from one
// account to another. Only the governing controller and the markets it lists
// may call it.
func (m *Market) TransferTo(caller, from, to crypto.Address, amount *big.Int) error {
	return m.graph.update(m.name, ActionTransfer, func() error {
		return m.transferTo(caller, from, to, amount)
	})
}

// SetController attaches the risk engine consulted by redeem, borrow and
// liquidation. A nil engine detaches it.
func (m *Market) SetController(caller crypto.Address, engine RiskEngine) error {
	return m.graph.update(m.name, ActionAdmin, func() error {
		if caller != m.owner {
			return ErrUnauthorized
		}
		if c, ok := engine.(*Controller); ok {
			if c == nil {
				engine = nil
			} else if c.graph != m.graph {
				return fmt.Errorf("%w: controller belongs to another graph", ErrInvalidMarket)
			}
		}
		prev := m.controller
		m.graph.record(func() { m.controller = prev })
		m.controller = engine
		if engine == nil {
			m.graph.logger.Warn("lending market detached from controller", slog.String("market", m.name))
			return nil
		}
		m.graph.logger.Info("lending market controller set",
			slog.String("market", m.name),
			slog.String("controller", engine.Address().String()))
		return nil
	})
}

// SetUnrestricted toggles whether redeem and borrow may proceed without a
// controller.
func (m *Market) SetUnrestricted(caller crypto.Address, unrestricted bool) error {
	return m.graph.update(m.name, ActionAdmin, func() error {
		if caller != m.owner {
			return ErrUnauthorized
		}
		prev := m.unrestricted
		m.graph.record(func() { m.unrestricted = prev })
		m.unrestricted = unrestricted
		if unrestricted {
			m.graph.logger.Warn("lending market running without solvency checks", slog.String("market", m.name))
		}
		return nil
	})
}

// SetRateModel replaces the interest rate model. Elapsed blocks are accrued
// at the previous rates first.
func (m *Market) SetRateModel(caller crypto.Address, model RateModel) error {
	return m.graph.update(m.name, ActionAdmin, func() error {
		if caller != m.owner {
			return ErrUnauthorized
		}
		if orZero(model.BaseRate).Sign() < 0 || orZero(model.Multiplier).Sign() < 0 {
			return fmt.Errorf("%w: negative rate", ErrInvalidFactor)
		}
		m.accrueInterest()
		prev := m.rates
		m.graph.record(func() { m.rates = prev })
		m.rates = model.Clone()
		return nil
	})
}

// accrueInterest applies the interest owed since the last accrual block. The
// caller must hold the graph write lock.
func (m *Market) accrueInterest() {
	height := m.graph.height
	if height <= m.accrualBlock {
		return
	}
	next := m.project(height)
	from := m.accrualBlock
	prevSupply, prevBorrow, prevTotal := m.supplyIndex, m.borrowIndex, m.totalBorrows
	m.graph.record(func() {
		m.supplyIndex, m.borrowIndex, m.totalBorrows, m.accrualBlock = prevSupply, prevBorrow, prevTotal, from
	})
	m.supplyIndex = next.supplyIndex
	m.borrowIndex = next.borrowIndex
	m.totalBorrows = next.totalBorrows
	m.accrualBlock = height

	if next.supplyIndex.Cmp(prevSupply) != 0 || next.borrowIndex.Cmp(prevBorrow) != 0 {
		m.graph.emit(AccrueEvent{
			Market:       m.address,
			FromBlock:    from,
			ToBlock:      height,
			Interest:     next.interest,
			TotalBorrows: copyInt(next.totalBorrows),
			SupplyIndex:  copyInt(next.supplyIndex),
			BorrowIndex:  copyInt(next.borrowIndex),
		})
	}
}

type accrual struct {
	interest     *big.Int
	totalBorrows *big.Int
	supplyIndex  *big.Int
	borrowIndex  *big.Int
}

// project computes the accrual state at height without mutating the market.
func (m *Market) project(height uint64) accrual {
	out := accrual{
		interest:     big.NewInt(0),
		totalBorrows: copyInt(m.totalBorrows),
		supplyIndex:  copyInt(m.supplyIndex),
		borrowIndex:  copyInt(m.borrowIndex),
	}
	if height <= m.accrualBlock {
		return out
	}
	blocks := new(big.Int).SetUint64(height - m.accrualBlock)
	cash := m.cash()
	borrowRate := m.rates.BorrowRate(cash, m.totalBorrows, nil)
	supplyRate := m.rates.SupplyRate(cash, m.totalBorrows, nil)

	interestFactor := new(big.Int).Mul(borrowRate, blocks)
	out.interest = MulFactor(interestFactor, m.totalBorrows)
	out.totalBorrows.Add(out.totalBorrows, out.interest)
	out.borrowIndex.Add(out.borrowIndex, MulFactor(interestFactor, m.borrowIndex))

	supplyFactor := new(big.Int).Mul(supplyRate, blocks)
	out.supplyIndex.Add(out.supplyIndex, MulFactor(supplyFactor, m.supplyIndex))
	return out
}

// transferTo moves supply shares between accounts. The caller must hold the
// graph write lock.
func (m *Market) transferTo(caller, from, to crypto.Address, amount *big.Int) error {
	if err := m.graph.guard(ActionTransfer); err != nil {
		return err
	}
	if !isPositive(amount) {
		return ErrInvalidAmount
	}
	if m.controller == nil || !m.controller.Trusts(caller) {
		return fmt.Errorf("%w: %s may not move supply in %s", ErrUnauthorized, caller, m.name)
	}
	m.accrueInterest()
	held := m.sharesOf(from)
	if balance := MulFactor(held, m.supplyIndex); balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s supplies %s, requested %s", ErrInsufficientSupply, from, balance, amount)
	}
	moved := DivFactor(amount, m.supplyIndex)
	if moved.Cmp(held) > 0 {
		moved = copyInt(held)
	}
	m.setShares(from, new(big.Int).Sub(held, moved))
	m.setShares(to, new(big.Int).Add(m.sharesOf(to), moved))
	m.graph.emit(TransferEvent{Market: m.address, From: from, To: to, Amount: copyInt(amount), Shares: moved})
	return nil
}

// mintFor credits shares worth amount to account.
func (m *Market) mintFor(account crypto.Address, amount *big.Int) (*big.Int, error) {
	minted := DivFactor(amount, m.supplyIndex)
	if minted.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s is below one share", ErrInvalidAmount, amount)
	}
	m.setShares(account, new(big.Int).Add(m.sharesOf(account), minted))
	m.setTotalShares(new(big.Int).Add(m.totalShares, minted))
	return minted, nil
}

func (m *Market) riskEngine(action string) (RiskEngine, error) {
	if m.controller != nil {
		return m.controller, nil
	}
	if m.unrestricted {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrRiskEngineNotConfigured, action, m.name)
}

func (m *Market) cash() *big.Int {
	return m.asset.BalanceOf(m.address)
}

func (m *Market) pull(from crypto.Address, amount *big.Int) error {
	if err := m.asset.TransferFrom(m.address, from, m.address, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientBalanceOrAllowance, err)
	}
	return nil
}

func (m *Market) push(to crypto.Address, amount *big.Int) error {
	if err := m.asset.Transfer(m.address, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientBalanceOrAllowance, err)
	}
	return nil
}

func (m *Market) sharesOf(account crypto.Address) *big.Int {
	if held, ok := m.shares[account]; ok {
		return held
	}
	return big.NewInt(0)
}

func (m *Market) borrowBalance(account crypto.Address) *big.Int {
	return m.borrows[account].balance(m.borrowIndex)
}

func (m *Market) setShares(account crypto.Address, value *big.Int) {
	prev, existed := m.shares[account]
	m.graph.record(func() {
		if existed {
			m.shares[account] = prev
			return
		}
		delete(m.shares, account)
	})
	if value.Sign() == 0 {
		delete(m.shares, account)
		return
	}
	m.shares[account] = value
}

func (m *Market) setTotalShares(value *big.Int) {
	prev := m.totalShares
	m.graph.record(func() { m.totalShares = prev })
	m.totalShares = value
}

// setBorrow re-baselines the account's debt against the current borrow index.
func (m *Market) setBorrow(account crypto.Address, balance *big.Int) {
	prev, existed := m.borrows[account]
	m.graph.record(func() {
		if existed {
			m.borrows[account] = prev
			return
		}
		delete(m.borrows, account)
	})
	if balance.Sign() == 0 {
		delete(m.borrows, account)
		return
	}
	m.borrows[account] = borrowSnapshot{principal: balance, interestIndex: copyInt(m.borrowIndex)}
}

func (m *Market) setTotalBorrows(value *big.Int) {
	prev := m.totalBorrows
	m.graph.record(func() { m.totalBorrows = prev })
	m.totalBorrows = value
}

func isPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
