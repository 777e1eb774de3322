package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"moneymarket/core/types"
	"moneymarket/native/lending"
)

const testLedger = `Owner = "admin"
CollateralFactor = "8e17"
LiquidationFactor = "9e17"

[log]
Env = "test"
Level = "error"

[[asset]]
Symbol = "COL"
Allocations = [{ Account = "alice", Amount = "1000" }]

[[asset]]
Symbol = "DEBT"
Allocations = [
  { Account = "bob", Amount = "5000" },
  { Account = "carol", Amount = "1000" },
]

[[market]]
Name = "mCOL"
Asset = "COL"
Price = "10"

[[market]]
Name = "mDEBT"
Asset = "DEBT"
Price = "10"
`

const testScript = `steps:
  - action: supply
    account: bob
    market: mDEBT
    amount: 5000
  - height: 3
    action: supply
    account: alice
    market: mCOL
    amount: 1000
  - action: pause
    switch: lending.borrow
  - action: borrow
    account: alice
    market: mDEBT
    amount: 800
    expect: paused
  - action: unpause
    switch: lending.borrow
  - action: borrow
    account: alice
    market: mDEBT
    amount: 801
    expect: insufficient_liquidity
  - action: borrow
    account: alice
    market: mDEBT
    amount: 800
  - action: liquidate
    account: carol
    market: mDEBT
    borrower: alice
    collateral: mCOL
    amount: 100
    expect: liquidation
  - action: set_price
    market: mCOL
    amount: 8
  - action: advance
    blocks: 2
  - action: liquidate
    account: carol
    market: mDEBT
    borrower: alice
    collateral: mCOL
    amount: 100
`

type replayOutput struct {
	events    []types.Event
	summaries map[string]accountSummary
}

func writeFixture(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func parseOutput(t *testing.T, data []byte) replayOutput {
	t.Helper()
	out := replayOutput{summaries: make(map[string]accountSummary)}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Bytes()
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(line, &probe); err != nil {
			t.Fatalf("decode line %q: %v", line, err)
		}
		if _, ok := probe["account"]; ok {
			var summary accountSummary
			if err := json.Unmarshal(line, &summary); err != nil {
				t.Fatalf("decode summary: %v", err)
			}
			out.summaries[summary.Account] = summary
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		out.events = append(out.events, ev)
	}
	return out
}

func TestReplayAndInspect(t *testing.T) {
	cfgPath := writeFixture(t, "ledger.toml", testLedger)
	scriptPath := writeFixture(t, "ops.yaml", testScript)
	dataDir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run([]string{replayCommand, "-config", cfgPath, "-script", scriptPath, "-data", dataDir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("replay exited %d: %s", code, stderr.String())
	}
	out := parseOutput(t, stdout.Bytes())

	if len(out.events) == 0 {
		t.Fatalf("expected events in output %q", stdout.String())
	}
	last := out.events[0].Sequence - 1
	var liquidation *types.Event
	for i := range out.events {
		ev := out.events[i]
		if ev.Sequence != last+1 {
			t.Fatalf("expected contiguous sequence after %d, got %d", last, ev.Sequence)
		}
		last = ev.Sequence
		if ev.Type == lending.EventTypeLiquidateBorrow {
			liquidation = &out.events[i]
		}
	}
	if liquidation == nil {
		t.Fatalf("expected a liquidation event in %v", out.events)
	}
	if liquidation.Height != 5 {
		t.Fatalf("expected liquidation at height 5, got %d", liquidation.Height)
	}
	// floor(floor(100 * 10 * 1.05) / 8)
	if liquidation.Attributes["amount"] != "100" || liquidation.Attributes["collateralAmount"] != "131" {
		t.Fatalf("unexpected liquidation attributes %v", liquidation.Attributes)
	}

	alice, ok := out.summaries["alice"]
	if !ok {
		t.Fatalf("expected alice summary, got %v", out.summaries)
	}
	if alice.SupplyValue != "6952" || alice.BorrowValue != "7000" || alice.Liquidity != "0" {
		t.Fatalf("unexpected alice values %+v", alice)
	}
	// floor(6952 * 0.9) * 1e6 / 7000
	if alice.Health != "893714" {
		t.Fatalf("unexpected alice health %s", alice.Health)
	}
	carol := out.summaries["carol"]
	if len(carol.Positions) != 1 || carol.Positions[0].Market != "mCOL" || carol.Positions[0].Supply != "131" {
		t.Fatalf("unexpected carol positions %+v", carol.Positions)
	}
	if _, ok := out.summaries["admin"]; ok {
		t.Fatalf("owner is not an account of the ledger")
	}

	stdout.Reset()
	code = run([]string{inspectCommand, "-config", cfgPath, "-data", dataDir, "-account", "alice"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("inspect exited %d: %s", code, stderr.String())
	}
	var inspected accountSummary
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &inspected); err != nil {
		t.Fatalf("decode inspect output: %v", err)
	}
	if inspected.SupplyValue != alice.SupplyValue || inspected.BorrowValue != alice.BorrowValue || inspected.Health != alice.Health {
		t.Fatalf("restored summary %+v differs from %+v", inspected, alice)
	}

	stdout.Reset()
	code = run([]string{inspectCommand, "-config", cfgPath, "-data", dataDir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("inspect markets exited %d: %s", code, stderr.String())
	}
	cash := make(map[string]string)
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		var summary marketSummary
		if err := json.Unmarshal(scanner.Bytes(), &summary); err != nil {
			t.Fatalf("decode market summary: %v", err)
		}
		cash[summary.Market] = summary.Cash
	}
	if cash["mCOL"] != "1000" || cash["mDEBT"] != "4300" {
		t.Fatalf("unexpected market cash %v", cash)
	}
}

func TestReplayFailsOnUnexpectedOutcome(t *testing.T) {
	cfgPath := writeFixture(t, "ledger.toml", testLedger)
	scriptPath := writeFixture(t, "ops.yaml", `steps:
  - action: borrow
    account: alice
    market: mDEBT
    amount: 1
    expect: paused
`)
	var stdout, stderr bytes.Buffer
	code := run([]string{replayCommand, "-config", cfgPath, "-script", scriptPath, "-ephemeral"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected failure exit, got %d", code)
	}
	if !strings.Contains(stderr.String(), "expected paused failure") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestInspectWithoutSnapshot(t *testing.T) {
	cfgPath := writeFixture(t, "ledger.toml", testLedger)
	var stdout, stderr bytes.Buffer
	code := run([]string{inspectCommand, "-config", cfgPath, "-data", t.TempDir()}, &stdout, &stderr)
	if code != 1 || !strings.Contains(stderr.String(), "no persisted balances") {
		t.Fatalf("expected restore failure, got %d: %q", code, stderr.String())
	}
}

func TestInitWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.toml")
	var stdout, stderr bytes.Buffer
	if code := run([]string{initCommand, "-config", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("init exited %d: %s", code, stderr.String())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	if code := run([]string{initCommand, "-config", path}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected second init to fail, got %d", code)
	}
}

func TestUsageAndFlagErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if isTerminal(&stdout) {
		t.Fatalf("buffers are not terminals")
	}
	if code := run(nil, &stdout, &stderr); code != 1 || !strings.Contains(stderr.String(), "Commands:") {
		t.Fatalf("expected usage on empty args, got %d", code)
	}
	if code := run([]string{"mint"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected unknown command failure, got %d", code)
	}
	if code := run([]string{"help"}, &stdout, &stderr); code != 0 || !strings.Contains(stdout.String(), replayCommand) {
		t.Fatalf("expected help on stdout, got %d", code)
	}
	stderr.Reset()
	if code := run([]string{replayCommand}, &stdout, &stderr); code != 1 || !strings.Contains(stderr.String(), "-script is required") {
		t.Fatalf("expected missing script error, got %d: %q", code, stderr.String())
	}
}
