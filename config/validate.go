package config

import (
	"fmt"

	"moneymarket/native/lending"
)

// Validate checks the ledger for references and values the bootstrap cannot
// apply.
func Validate(l *Ledger) error {
	if l.Owner == "" {
		return fmt.Errorf("owner required")
	}
	if l.LiquidationIncentive.IsSet() && l.LiquidationIncentive.Int().Cmp(lending.One()) < 0 {
		return fmt.Errorf("liquidation incentive below one")
	}
	assets := make(map[string]struct{}, len(l.Assets))
	for i, asset := range l.Assets {
		if asset.Symbol == "" {
			return fmt.Errorf("asset[%d]: symbol required", i)
		}
		if _, dup := assets[asset.Symbol]; dup {
			return fmt.Errorf("asset %s: declared twice", asset.Symbol)
		}
		assets[asset.Symbol] = struct{}{}
		for _, alloc := range asset.Allocations {
			if alloc.Account == "" {
				return fmt.Errorf("asset %s: allocation account required", asset.Symbol)
			}
			if alloc.Amount.Int().Sign() <= 0 {
				return fmt.Errorf("asset %s: allocation for %s must be positive", asset.Symbol, alloc.Account)
			}
		}
	}
	if len(l.Markets) == 0 {
		return fmt.Errorf("at least one market required")
	}
	names := make(map[string]struct{}, len(l.Markets))
	listed := make(map[string]struct{}, len(l.Markets))
	for i, market := range l.Markets {
		if market.Name == "" {
			return fmt.Errorf("market[%d]: name required", i)
		}
		if _, dup := names[market.Name]; dup {
			return fmt.Errorf("market %s: declared twice", market.Name)
		}
		names[market.Name] = struct{}{}
		if _, ok := assets[market.Asset]; !ok {
			return fmt.Errorf("market %s: unknown asset %q", market.Name, market.Asset)
		}
		if _, dup := listed[market.Asset]; dup {
			return fmt.Errorf("market %s: asset %s already has a market", market.Name, market.Asset)
		}
		listed[market.Asset] = struct{}{}
	}
	return nil
}
