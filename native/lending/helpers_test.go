package lending

import (
	"errors"
	"math/big"
	"testing"

	"moneymarket/crypto"
	"moneymarket/native/token"
)

func makeAccount(name string) crypto.Address {
	return crypto.DeriveAddress(crypto.AccountPrefix, name)
}

func bigInt(v int64) *big.Int { return big.NewInt(v) }

func mustAmount(t *testing.T, text string) *big.Int {
	t.Helper()
	v, err := ParseAmount(text)
	if err != nil {
		t.Fatalf("parse amount %q: %v", text, err)
	}
	return v
}

func requireAmount(t *testing.T, label string, got *big.Int, want int64) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: expected %d, got %v", label, want, got)
	}
}

func requireErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

// flakyAsset wraps a pool and can be told to reject outgoing transfers.
type flakyAsset struct {
	*token.Pool
	failTransfer bool
}

func (a *flakyAsset) Transfer(from, to crypto.Address, amount *big.Int) error {
	if a.failTransfer {
		return errors.New("transfer rejected")
	}
	return a.Pool.Transfer(from, to, amount)
}

type testMarket struct {
	*Market
	pool *token.Pool
}

// fund mints amount to the account and approves the market to pull it.
func (tm testMarket) fund(t *testing.T, account crypto.Address, amount int64) {
	t.Helper()
	if err := tm.pool.Mint(account, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	allowance := new(big.Int).Add(tm.pool.Allowance(account, tm.Address()), big.NewInt(amount))
	if err := tm.pool.Approve(account, tm.Address(), allowance); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

type testEnv struct {
	graph      *Graph
	owner      crypto.Address
	controller *Controller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	g := NewGraph()
	owner := makeAccount("owner")
	return &testEnv{graph: g, owner: owner, controller: g.NewController(owner)}
}

func (env *testEnv) market(t *testing.T, symbol string, rates RateModel, unrestricted bool) testMarket {
	t.Helper()
	pool := token.NewPool(symbol)
	m, err := env.graph.NewMarket(MarketConfig{
		Name:         "m" + symbol,
		Owner:        env.owner,
		Asset:        pool,
		Rates:        rates,
		Unrestricted: unrestricted,
	})
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return testMarket{Market: m, pool: pool}
}

// listed creates a market governed and priced by the environment controller.
func (env *testEnv) listed(t *testing.T, symbol string, rates RateModel, price int64) testMarket {
	t.Helper()
	tm := env.market(t, symbol, rates, false)
	if err := env.controller.AddMarket(env.owner, tm.Market); err != nil {
		t.Fatalf("add market: %v", err)
	}
	if err := env.controller.SetPrice(env.owner, tm.Address(), big.NewInt(price)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := tm.SetController(env.owner, env.controller); err != nil {
		t.Fatalf("set controller: %v", err)
	}
	return tm
}

func zeroRates() RateModel {
	return RateModel{BaseRate: big.NewInt(0), Multiplier: big.NewInt(0)}
}

// perMilleRates charges 0.1% per block at zero utilisation.
func perMilleRates() RateModel {
	return RateModel{BaseRate: new(big.Int).Quo(One(), big.NewInt(1000)), Multiplier: big.NewInt(0)}
}
