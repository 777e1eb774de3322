package main

import (
	"encoding/json"
	"fmt"
	"io"

	"moneymarket/config"
	"moneymarket/crypto"
	"moneymarket/native/lending"
)

// replay runs every step of the script against l, writing committed events
// as JSON lines to out.
func replay(l *ledger, script *config.Script, out io.Writer) error {
	enc := json.NewEncoder(out)
	seq := l.graph.Sequence()
	for i, step := range script.Steps {
		err := l.apply(step)
		if step.Expect != "" {
			if err == nil {
				return fmt.Errorf("step %d (%s): expected %s failure", i+1, step.Action, step.Expect)
			}
			if kind := lending.KindOf(err).String(); kind != step.Expect {
				return fmt.Errorf("step %d (%s): expected %s failure, got %s: %w", i+1, step.Action, step.Expect, kind, err)
			}
		} else if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
		for _, ev := range l.graph.EventsSince(seq) {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			seq = ev.Sequence
		}
	}
	return nil
}

func (l *ledger) apply(step config.Step) error {
	if step.Height > 0 {
		if err := l.graph.SetBlockHeight(step.Height); err != nil {
			return err
		}
	}
	amount := step.Amount.Int()
	switch step.Action {
	case config.StepAdvance:
		l.graph.AdvanceBlocks(step.Blocks)
		return nil
	case config.StepPause, config.StepUnpause:
		l.pauses.Set(step.Switch, step.Action == config.StepPause)
		return nil
	}

	market, err := l.market(step.Market)
	if err != nil {
		return err
	}
	switch step.Action {
	case config.StepAccrue:
		return market.AccrueInterest()
	case config.StepSetPrice:
		return l.controller.SetPrice(l.owner, market.Address(), amount)
	}

	account, err := config.ResolveAccount(step.Account)
	if err != nil {
		return err
	}
	switch step.Action {
	case config.StepSupply:
		if err := l.approve(account, market, amount); err != nil {
			return err
		}
		return market.Supply(account, amount)
	case config.StepRedeem:
		return market.Redeem(account, amount)
	case config.StepBorrow:
		return market.Borrow(account, amount)
	case config.StepRepay:
		if err := l.approve(account, market, amount); err != nil {
			return err
		}
		return market.PayBorrow(account, amount)
	case config.StepLiquidate:
		borrower, err := config.ResolveAccount(step.Borrower)
		if err != nil {
			return err
		}
		collateral, err := l.market(step.Collateral)
		if err != nil {
			return err
		}
		if err := l.approve(account, market, amount); err != nil {
			return err
		}
		return market.LiquidateBorrow(account, borrower, amount, collateral)
	case config.StepTransfer:
		to, err := config.ResolveAccount(step.To)
		if err != nil {
			return err
		}
		return market.TransferTo(l.controller.Address(), account, to, amount)
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

type positionSummary struct {
	Market     string `json:"market"`
	Supply     string `json:"supply"`
	Borrow     string `json:"borrow"`
	Underlying string `json:"underlying"`
	Position   string `json:"position"`
}

type accountSummary struct {
	Account     string            `json:"account"`
	Address     string            `json:"address"`
	SupplyValue string            `json:"supplyValue"`
	BorrowValue string            `json:"borrowValue"`
	Liquidity   string            `json:"liquidity"`
	Health      string            `json:"health"`
	Positions   []positionSummary `json:"positions,omitempty"`
}

func (l *ledger) summarize(name string) (accountSummary, error) {
	account, err := config.ResolveAccount(name)
	if err != nil {
		return accountSummary{}, err
	}
	supplyValue, borrowValue := l.controller.GetAccountValues(account)
	summary := accountSummary{
		Account:     name,
		Address:     account.String(),
		SupplyValue: supplyValue.String(),
		BorrowValue: borrowValue.String(),
		Liquidity:   l.controller.GetAccountLiquidity(account).String(),
		Health:      l.controller.GetAccountHealth(account).String(),
	}
	for _, market := range l.graph.Markets() {
		position := market.Position(account)
		if position == lending.PositionNone {
			continue
		}
		summary.Positions = append(summary.Positions, positionSummary{
			Market:     market.Name(),
			Supply:     market.UpdatedSupplyOf(account).String(),
			Borrow:     market.UpdatedBorrowBy(account).String(),
			Underlying: market.Asset().BalanceOf(account).String(),
			Position:   position.String(),
		})
	}
	return summary, nil
}

// accountNames lists the configured and scripted accounts in first-seen order.
func accountNames(cfg *config.Ledger, script *config.Script) []string {
	seen := make(map[crypto.Address]struct{})
	var names []string
	add := func(name string) {
		if name == "" {
			return
		}
		addr, err := config.ResolveAccount(name)
		if err != nil {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		names = append(names, name)
	}
	for _, asset := range cfg.Assets {
		for _, alloc := range asset.Allocations {
			add(alloc.Account)
		}
	}
	if script != nil {
		for _, step := range script.Steps {
			add(step.Account)
			add(step.Borrower)
			add(step.To)
		}
	}
	return names
}

type marketSummary struct {
	Market       string `json:"market"`
	Address      string `json:"address"`
	Cash         string `json:"cash"`
	TotalSupply  string `json:"totalSupply"`
	TotalBorrows string `json:"totalBorrows"`
	SupplyIndex  string `json:"supplyIndex"`
	BorrowIndex  string `json:"borrowIndex"`
	BorrowRate   string `json:"borrowRatePerBlock"`
	SupplyRate   string `json:"supplyRatePerBlock"`
	Price        string `json:"price"`
	AccrualBlock uint64 `json:"accrualBlock"`
}

func (l *ledger) marketSummaries() []marketSummary {
	var out []marketSummary
	for _, market := range l.graph.Markets() {
		out = append(out, marketSummary{
			Market:       market.Name(),
			Address:      market.Address().String(),
			Cash:         market.Cash().String(),
			TotalSupply:  market.UpdatedTotalSupply().String(),
			TotalBorrows: market.UpdatedTotalBorrows().String(),
			SupplyIndex:  market.SupplyIndex().String(),
			BorrowIndex:  market.BorrowIndex().String(),
			BorrowRate:   market.BorrowRatePerBlock().String(),
			SupplyRate:   market.SupplyRatePerBlock().String(),
			Price:        l.controller.Price(market.Address()).String(),
			AccrualBlock: market.AccrualBlock(),
		})
	}
	return out
}
