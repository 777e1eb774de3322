package lending

import (
	"fmt"
	"math/big"
	"sort"

	"moneymarket/crypto"
)

// GraphSnapshot is the persisted form of a graph. Addresses are stored in
// their bech32 form so snapshots stay readable when dumped.
type GraphSnapshot struct {
	Height      uint64
	Sequence    uint64
	Markets     []MarketSnapshot
	Controllers []ControllerSnapshot
}

type MarketSnapshot struct {
	Name         string
	Address      string
	Owner        string
	Asset        string
	Controller   string
	Unrestricted bool
	BaseRate     *big.Int
	Multiplier   *big.Int
	TotalShares  *big.Int
	SupplyIndex  *big.Int
	BorrowIndex  *big.Int
	TotalBorrows *big.Int
	AccrualBlock uint64
	Suppliers    []ShareEntry
	Borrowers    []BorrowEntry
}

type ShareEntry struct {
	Account string
	Shares  *big.Int
}

type BorrowEntry struct {
	Account       string
	Principal     *big.Int
	InterestIndex *big.Int
}

type ControllerSnapshot struct {
	Address              string
	Owner                string
	Markets              []string
	Prices               []*big.Int
	CollateralFactor     *big.Int
	LiquidationFactor    *big.Int
	LiquidationIncentive *big.Int
}

// Export captures the full state of the graph. The event log itself is not
// exported; only its sequence number is carried over.
func (g *Graph) Export() GraphSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := GraphSnapshot{Height: g.height, Sequence: g.sequence}
	for _, m := range g.markets {
		ms := MarketSnapshot{
			Name:         m.name,
			Address:      m.address.String(),
			Owner:        m.owner.String(),
			Asset:        m.asset.Address().String(),
			Unrestricted: m.unrestricted,
			BaseRate:     copyInt(m.rates.BaseRate),
			Multiplier:   copyInt(m.rates.Multiplier),
			TotalShares:  copyInt(m.totalShares),
			SupplyIndex:  copyInt(m.supplyIndex),
			BorrowIndex:  copyInt(m.borrowIndex),
			TotalBorrows: copyInt(m.totalBorrows),
			AccrualBlock: m.accrualBlock,
		}
		if m.controller != nil {
			ms.Controller = m.controller.Address().String()
		}
		for _, account := range m.accounts() {
			if shares, ok := m.shares[account]; ok {
				ms.Suppliers = append(ms.Suppliers, ShareEntry{Account: account.String(), Shares: copyInt(shares)})
			}
			if debt, ok := m.borrows[account]; ok {
				ms.Borrowers = append(ms.Borrowers, BorrowEntry{
					Account:       account.String(),
					Principal:     copyInt(debt.principal),
					InterestIndex: copyInt(debt.interestIndex),
				})
			}
		}
		snap.Markets = append(snap.Markets, ms)
	}
	for _, c := range g.controllers {
		cs := ControllerSnapshot{
			Address:              c.address.String(),
			Owner:                c.owner.String(),
			CollateralFactor:     copyInt(c.collateralFactor),
			LiquidationFactor:    copyInt(c.liquidationFactor),
			LiquidationIncentive: copyInt(c.liquidationIncentive),
		}
		for _, market := range c.markets {
			cs.Markets = append(cs.Markets, market.Address().String())
			cs.Prices = append(cs.Prices, c.priceOf(market.Address()))
		}
		snap.Controllers = append(snap.Controllers, cs)
	}
	return snap
}

// Import restores a snapshot into an empty graph. resolve maps each market's
// asset address back to a live asset ledger.
func (g *Graph) Import(snap GraphSnapshot, resolve func(crypto.Address) (Asset, bool)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.markets) != 0 || len(g.controllers) != 0 {
		return fmt.Errorf("%w: graph is not empty", ErrInvalidSnapshot)
	}

	controllers := make(map[crypto.Address]*Controller, len(snap.Controllers))
	var ordered []*Controller
	for _, cs := range snap.Controllers {
		addr, err := decodeSnapshotAddress(cs.Address)
		if err != nil {
			return err
		}
		owner, err := decodeSnapshotAddress(cs.Owner)
		if err != nil {
			return err
		}
		c := newController(g, addr, owner)
		c.collateralFactor = copyInt(cs.CollateralFactor)
		c.liquidationFactor = copyInt(cs.LiquidationFactor)
		c.liquidationIncentive = copyInt(cs.LiquidationIncentive)
		controllers[addr] = c
		ordered = append(ordered, c)
	}

	markets := make(map[crypto.Address]*Market, len(snap.Markets))
	var marketList []*Market
	for _, ms := range snap.Markets {
		addr, err := decodeSnapshotAddress(ms.Address)
		if err != nil {
			return err
		}
		owner, err := decodeSnapshotAddress(ms.Owner)
		if err != nil {
			return err
		}
		assetAddr, err := decodeSnapshotAddress(ms.Asset)
		if err != nil {
			return err
		}
		asset, ok := resolve(assetAddr)
		if !ok {
			return fmt.Errorf("%w: unknown asset %s for market %s", ErrInvalidSnapshot, ms.Asset, ms.Name)
		}
		if _, dup := markets[addr]; dup {
			return fmt.Errorf("%w: duplicate market %s", ErrInvalidSnapshot, ms.Address)
		}
		m := newMarket(g, ms.Name, addr, MarketConfig{
			Owner:        owner,
			Asset:        asset,
			Unrestricted: ms.Unrestricted,
			Rates:        RateModel{BaseRate: copyInt(ms.BaseRate), Multiplier: copyInt(ms.Multiplier)},
		})
		if !validIndex(ms.SupplyIndex) || !validIndex(ms.BorrowIndex) {
			return fmt.Errorf("%w: market %s indices must be at least one", ErrInvalidSnapshot, ms.Name)
		}
		if ms.TotalShares == nil || ms.TotalShares.Sign() < 0 || ms.TotalBorrows == nil || ms.TotalBorrows.Sign() < 0 {
			return fmt.Errorf("%w: market %s has missing or negative totals", ErrInvalidSnapshot, ms.Name)
		}
		m.totalShares = copyInt(ms.TotalShares)
		m.supplyIndex = copyInt(ms.SupplyIndex)
		m.borrowIndex = copyInt(ms.BorrowIndex)
		m.totalBorrows = copyInt(ms.TotalBorrows)
		m.accrualBlock = ms.AccrualBlock
		shareSum := big.NewInt(0)
		for _, entry := range ms.Suppliers {
			account, err := decodeSnapshotAddress(entry.Account)
			if err != nil {
				return err
			}
			if entry.Shares == nil || entry.Shares.Sign() < 0 {
				return fmt.Errorf("%w: market %s supplier %s has negative shares", ErrInvalidSnapshot, ms.Name, entry.Account)
			}
			if _, dup := m.shares[account]; dup {
				return fmt.Errorf("%w: market %s lists supplier %s twice", ErrInvalidSnapshot, ms.Name, entry.Account)
			}
			if entry.Shares.Sign() > 0 {
				m.shares[account] = copyInt(entry.Shares)
				shareSum.Add(shareSum, entry.Shares)
			}
		}
		if shareSum.Cmp(m.totalShares) != 0 {
			return fmt.Errorf("%w: market %s shares sum to %s, total is %s", ErrInvalidSnapshot, ms.Name, shareSum, m.totalShares)
		}
		for _, entry := range ms.Borrowers {
			account, err := decodeSnapshotAddress(entry.Account)
			if err != nil {
				return err
			}
			if entry.Principal == nil || entry.Principal.Sign() < 0 {
				return fmt.Errorf("%w: market %s borrower %s has negative principal", ErrInvalidSnapshot, ms.Name, entry.Account)
			}
			if entry.Principal.Sign() == 0 {
				continue
			}
			if !validIndex(entry.InterestIndex) {
				return fmt.Errorf("%w: market %s borrower %s interest index must be at least one", ErrInvalidSnapshot, ms.Name, entry.Account)
			}
			if _, dup := m.borrows[account]; dup {
				return fmt.Errorf("%w: market %s lists borrower %s twice", ErrInvalidSnapshot, ms.Name, entry.Account)
			}
			m.borrows[account] = borrowSnapshot{principal: copyInt(entry.Principal), interestIndex: copyInt(entry.InterestIndex)}
		}
		if ms.Controller != "" {
			ctrlAddr, err := decodeSnapshotAddress(ms.Controller)
			if err != nil {
				return err
			}
			c, ok := controllers[ctrlAddr]
			if !ok {
				return fmt.Errorf("%w: market %s references unknown controller %s", ErrInvalidSnapshot, ms.Name, ms.Controller)
			}
			m.controller = c
		}
		markets[addr] = m
		marketList = append(marketList, m)
	}

	for i, cs := range snap.Controllers {
		c := ordered[i]
		if len(cs.Prices) != len(cs.Markets) {
			return fmt.Errorf("%w: controller %s has %d prices for %d markets", ErrInvalidSnapshot, cs.Address, len(cs.Prices), len(cs.Markets))
		}
		for j, encoded := range cs.Markets {
			addr, err := decodeSnapshotAddress(encoded)
			if err != nil {
				return err
			}
			m, ok := markets[addr]
			if !ok {
				return fmt.Errorf("%w: controller %s lists unknown market %s", ErrInvalidSnapshot, cs.Address, encoded)
			}
			if _, dup := c.listed[addr]; dup {
				return fmt.Errorf("%w: controller %s lists market %s twice", ErrInvalidSnapshot, cs.Address, encoded)
			}
			if existing, dup := c.byAsset[m.Underlying()]; dup {
				return fmt.Errorf("%w: controller %s lists asset %s for %s and %s", ErrInvalidSnapshot, cs.Address, m.Underlying(), existing.Address(), encoded)
			}
			c.markets = append(c.markets, m)
			c.listed[addr] = m
			c.byAsset[m.Underlying()] = m
			c.prices[addr] = copyInt(cs.Prices[j])
		}
	}

	g.height = snap.Height
	g.sequence = snap.Sequence
	g.log = nil
	g.controllers = ordered
	g.markets = marketList
	for addr, m := range markets {
		g.marketsByAddr[addr] = m
	}
	return nil
}

// validIndex reports whether a persisted index is at least One.
func validIndex(index *big.Int) bool {
	return index != nil && index.Cmp(One()) >= 0
}

func decodeSnapshotAddress(encoded string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(encoded)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return addr, nil
}

func sortAddresses(addrs []crypto.Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Compare(addrs[j]) < 0 })
}
