package main

import (
	"fmt"
	"log/slog"
	"math/big"

	"moneymarket/config"
	"moneymarket/core/events"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
	"moneymarket/native/lending"
	"moneymarket/native/token"
	"moneymarket/observability"
	"moneymarket/storage"
)

// ledger is a graph with a single controller over the configured markets,
// together with the token pools backing them.
type ledger struct {
	cfg        *config.Ledger
	owner      crypto.Address
	graph      *lending.Graph
	controller *lending.Controller
	pools      map[string]*token.Pool
	markets    map[string]*lending.Market
	pauses     *nativecommon.Pauses
}

func newGraph(logger *slog.Logger) (*lending.Graph, *nativecommon.Pauses) {
	graph := lending.NewGraph()
	pauses := nativecommon.NewPauses()
	graph.SetLogger(logger)
	graph.SetMetrics(observability.Lending())
	graph.SetPauses(pauses)
	graph.SetEmitter(events.EmitterFunc(func(e events.Event) {
		observability.Events().Record(e.EventType())
	}))
	return graph, pauses
}

// bootstrapLedger builds a fresh ledger from configuration: pools funded with
// their allocations, markets listed and priced under one controller.
func bootstrapLedger(cfg *config.Ledger, logger *slog.Logger) (*ledger, error) {
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	graph, pauses := newGraph(logger)
	l := &ledger{
		cfg:     cfg,
		owner:   owner,
		graph:   graph,
		pools:   make(map[string]*token.Pool, len(cfg.Assets)),
		markets: make(map[string]*lending.Market, len(cfg.Markets)),
		pauses:  pauses,
	}
	for _, asset := range cfg.Assets {
		pool := token.NewPool(asset.Symbol)
		for _, alloc := range asset.Allocations {
			account, err := config.ResolveAccount(alloc.Account)
			if err != nil {
				return nil, fmt.Errorf("asset %s: %w", asset.Symbol, err)
			}
			if err := pool.Mint(account, alloc.Amount.Int()); err != nil {
				return nil, fmt.Errorf("asset %s: mint for %s: %w", asset.Symbol, alloc.Account, err)
			}
		}
		l.pools[asset.Symbol] = pool
	}

	l.controller = graph.NewController(owner)
	if err := l.applyFactors(); err != nil {
		return nil, err
	}
	for _, mc := range cfg.Markets {
		market, err := graph.NewMarket(lending.MarketConfig{
			Name:         mc.Name,
			Owner:        owner,
			Asset:        l.pools[mc.Asset],
			Rates:        mc.RateModel(),
			Unrestricted: mc.Unrestricted,
		})
		if err != nil {
			return nil, err
		}
		if err := market.SetController(owner, l.controller); err != nil {
			return nil, fmt.Errorf("market %s: %w", mc.Name, err)
		}
		if err := l.controller.AddMarket(owner, market); err != nil {
			return nil, fmt.Errorf("market %s: %w", mc.Name, err)
		}
		if mc.Price.IsSet() {
			if err := l.controller.SetPrice(owner, market.Address(), mc.Price.Int()); err != nil {
				return nil, fmt.Errorf("market %s: %w", mc.Name, err)
			}
		}
		l.markets[mc.Name] = market
	}
	return l, nil
}

func (l *ledger) applyFactors() error {
	factors := []struct {
		amount config.Amount
		set    func(crypto.Address, *big.Int) error
	}{
		{l.cfg.CollateralFactor, l.controller.SetCollateralFactor},
		{l.cfg.LiquidationFactor, l.controller.SetLiquidationFactor},
		{l.cfg.LiquidationIncentive, l.controller.SetLiquidationIncentive},
	}
	for _, f := range factors {
		if !f.amount.IsSet() {
			continue
		}
		if err := f.set(l.owner, f.amount.Int()); err != nil {
			return err
		}
	}
	return nil
}

// restoreLedger rebuilds a ledger persisted by save.
func restoreLedger(cfg *config.Ledger, db storage.Database, logger *slog.Logger) (*ledger, error) {
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	graph, pauses := newGraph(logger)
	l := &ledger{
		cfg:     cfg,
		owner:   owner,
		graph:   graph,
		pools:   make(map[string]*token.Pool, len(cfg.Assets)),
		markets: make(map[string]*lending.Market),
		pauses:  pauses,
	}
	byAddress := make(map[crypto.Address]lending.Asset, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		pool, ok, err := token.Load(db, asset.Symbol)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("asset %s: no persisted balances", asset.Symbol)
		}
		l.pools[asset.Symbol] = pool
		byAddress[pool.Address()] = pool
	}
	ok, err := lending.NewStore(db).Restore(cfg.SnapshotName, graph, func(addr crypto.Address) (lending.Asset, bool) {
		asset, ok := byAddress[addr]
		return asset, ok
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no snapshot named %q", cfg.SnapshotName)
	}
	controllers := graph.Controllers()
	if len(controllers) == 0 {
		return nil, fmt.Errorf("snapshot %q has no controller", cfg.SnapshotName)
	}
	l.controller = controllers[0]
	for _, market := range graph.Markets() {
		l.markets[market.Name()] = market
	}
	return l, nil
}

// save persists pool balances and the graph snapshot.
func (l *ledger) save(db storage.Database) error {
	for _, asset := range l.cfg.Assets {
		if err := token.Save(db, l.pools[asset.Symbol]); err != nil {
			return err
		}
	}
	return lending.NewStore(db).Save(l.cfg.SnapshotName, l.graph)
}

func (l *ledger) market(name string) (*lending.Market, error) {
	market, ok := l.markets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", lending.ErrUnknownMarket, name)
	}
	return market, nil
}

// approve lets market pull amount of its underlying from account.
func (l *ledger) approve(account crypto.Address, market *lending.Market, amount *big.Int) error {
	pool, ok := market.Asset().(*token.Pool)
	if !ok {
		return fmt.Errorf("market %s: underlying is not a token pool", market.Name())
	}
	return pool.Approve(account, market.Address(), amount)
}
