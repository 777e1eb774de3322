package lending

import (
	"bytes"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

func TestEventLogSequencing(t *testing.T) {
	env := newTestEnv(t)
	recorder := &events.Recorder{}
	env.graph.SetEmitter(recorder)
	m := env.market(t, "TOK", perMilleRates(), true)
	alice, bob := makeAccount("alice"), makeAccount("bob")
	m.fund(t, alice, 1000)

	if err := m.Supply(alice, bigInt(600)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := m.Borrow(bob, bigInt(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	requireErr(t, m.Supply(alice, bigInt(1000)), ErrInsufficientBalanceOrAllowance)
	env.graph.AdvanceBlocks(2)
	if err := m.Supply(alice, bigInt(400)); err != nil {
		t.Fatalf("supply: %v", err)
	}

	log := env.graph.Events()
	wantTypes := []string{EventTypeSupply, EventTypeBorrow, EventTypeAccrue, EventTypeSupply}
	if len(log) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(log))
	}
	for i, e := range log {
		if e.Type != wantTypes[i] {
			t.Fatalf("event %d: expected %s, got %s", i, wantTypes[i], e.Type)
		}
		if e.Sequence != uint64(i+1) {
			t.Fatalf("event %d: expected sequence %d, got %d", i, i+1, e.Sequence)
		}
	}
	if log[3].Height != 2 || log[0].Height != 0 {
		t.Fatalf("unexpected event heights %d and %d", log[0].Height, log[3].Height)
	}
	if len(recorder.Events()) != len(log) {
		t.Fatalf("emitter saw %d events, log holds %d", len(recorder.Events()), len(log))
	}
	if len(recorder.OfType(EventTypeSupply)) != 2 {
		t.Fatalf("expected two supply events at the emitter")
	}

	since := env.graph.EventsSince(2)
	if len(since) != 2 || since[0].Sequence != 3 {
		t.Fatalf("unexpected events since 2: %+v", since)
	}
	since[0].Attributes["market"] = "mutated"
	if env.graph.Events()[2].Attributes["market"] == "mutated" {
		t.Fatalf("event log must be copied on read")
	}
}

func TestRejectedOperationsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	env := newTestEnv(t)
	env.graph.SetLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	m := env.market(t, "TOK", zeroRates(), false)

	requireErr(t, m.Borrow(makeAccount("bob"), bigInt(1)), ErrInsufficientCash)
	if !bytes.Contains(buf.Bytes(), []byte("lending operation rejected")) {
		t.Fatalf("expected rejection to be logged, got %s", buf.String())
	}
}

type countingMetrics struct {
	mu           sync.Mutex
	operations   map[string]int
	indices      int
	liquidations int
}

func (c *countingMetrics) ObserveOperation(_ string, action string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.operations[action+"/"+outcome]++
}

func (c *countingMetrics) ObserveIndices(string, *big.Int, *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indices++
}

func (c *countingMetrics) ObserveLiquidation(string, string, *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liquidations++
}

func TestMetricsObserveCommittedWork(t *testing.T) {
	env := newTestEnv(t)
	metrics := &countingMetrics{operations: make(map[string]int)}
	env.graph.SetMetrics(metrics)
	m := env.market(t, "TOK", perMilleRates(), true)
	alice, bob := makeAccount("alice"), makeAccount("bob")
	m.fund(t, alice, 1000)

	if err := m.Supply(alice, bigInt(1000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	requireErr(t, m.Borrow(bob, bigInt(5000)), ErrInsufficientCash)
	env.graph.AdvanceBlocks(1)
	if err := m.AccrueInterest(); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	if metrics.operations["supply/ok"] != 1 || metrics.operations["borrow/error"] != 1 || metrics.operations["accrue/ok"] != 1 {
		t.Fatalf("unexpected operation counts %v", metrics.operations)
	}
	if metrics.indices != 1 {
		t.Fatalf("expected one index observation, got %d", metrics.indices)
	}
}

func TestConcurrentOperationsStayConsistent(t *testing.T) {
	env := newTestEnv(t)
	m := env.listed(t, "TOK", perMilleRates(), 1)
	if err := env.controller.SetCollateralFactor(env.owner, new(big.Int).Quo(One(), big.NewInt(2))); err != nil {
		t.Fatalf("collateral factor: %v", err)
	}

	const workers = 8
	const rounds = 25
	accounts := make([]crypto.Address, workers)
	for i := range accounts {
		accounts[i] = makeAccount(string(rune('a' + i)))
		m.fund(t, accounts[i], rounds*100)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(acct crypto.Address) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				if err := m.Supply(acct, bigInt(100)); err != nil {
					t.Errorf("supply: %v", err)
					return
				}
				if r%5 == 0 {
					if err := m.Borrow(acct, bigInt(10)); err != nil {
						t.Errorf("borrow: %v", err)
						return
					}
				}
			}
		}(accounts[i])
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		for r := 0; r < rounds; r++ {
			env.graph.AdvanceBlocks(1)
		}
	}()
	go func() {
		defer wg.Done()
		for r := 0; r < rounds*workers; r++ {
			_ = env.controller.GetAccountLiquidity(accounts[r%workers])
			_ = m.UpdatedTotalSupply()
			_ = m.BorrowRatePerBlock()
		}
	}()
	wg.Wait()

	shares := big.NewInt(0)
	for _, acct := range accounts {
		shares.Add(shares, m.SharesOf(acct))
	}
	if shares.Cmp(m.TotalSupplyShares()) != 0 {
		t.Fatalf("share sum %s != total %s", shares, m.TotalSupplyShares())
	}
	if m.SupplyIndex().Cmp(One()) < 0 || m.BorrowIndex().Cmp(One()) < 0 {
		t.Fatalf("indices fell below one")
	}
	if len(env.graph.EventsSince(0)) == 0 {
		t.Fatalf("expected committed events")
	}
}
