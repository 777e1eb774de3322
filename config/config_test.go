package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"moneymarket/crypto"
	"moneymarket/native/lending"
)

const sampleLedger = `Owner = "admin"
DataDir = "./data"
CollateralFactor = "8e17"
LiquidationFactor = "9e17"

[log]
Env = "test"
Level = "debug"

[[asset]]
Symbol = "col"
Allocations = [{ Account = "alice", Amount = "1_000" }]

[[asset]]
Symbol = "DEBT"
Allocations = [
  { Account = "bob", Amount = 5000 },
  { Account = "carol", Amount = "1e3" },
]

[[market]]
Name = "mCOL"
Asset = "COL"
Price = "10"

[[market]]
Name = "mDEBT"
Asset = "debt"
BaseRate = "1e15"
Multiplier = "2e15"
Price = "10"
Unrestricted = true
`

func TestParseLedger(t *testing.T) {
	cfg, err := Parse(sampleLedger)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Owner != "admin" || cfg.DataDir != "./data" {
		t.Fatalf("unexpected header %+v", cfg)
	}
	if cfg.SnapshotName != DefaultSnapshotName {
		t.Fatalf("expected default snapshot name, got %q", cfg.SnapshotName)
	}
	if cfg.Log.Env != "test" || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log section %+v", cfg.Log)
	}
	if got := cfg.CollateralFactor.Int().String(); got != "800000000000000000" {
		t.Fatalf("unexpected collateral factor %s", got)
	}
	if cfg.LiquidationIncentive.IsSet() {
		t.Fatalf("expected incentive to be unset")
	}
	if len(cfg.Assets) != 2 || cfg.Assets[0].Symbol != "COL" {
		t.Fatalf("unexpected assets %+v", cfg.Assets)
	}
	if got := cfg.Assets[0].Allocations[0].Amount.Int().Int64(); got != 1000 {
		t.Fatalf("expected allocation 1000, got %d", got)
	}
	if got := cfg.Assets[1].Allocations[0].Amount.Int().Int64(); got != 5000 {
		t.Fatalf("expected integer allocation 5000, got %d", got)
	}
	debt := cfg.Markets[1]
	if debt.Asset != "DEBT" || !debt.Unrestricted {
		t.Fatalf("unexpected market %+v", debt)
	}
	model := debt.RateModel()
	if model.BaseRate.Int64() != 1e15 || model.Multiplier.Int64() != 2e15 {
		t.Fatalf("expected per-block rates, got %s/%s", model.BaseRate, model.Multiplier)
	}
}

func TestMarketRateModelAnnualised(t *testing.T) {
	m := Market{BaseRate: mustAmount("2102400"), Multiplier: mustAmount("4204800"), BlocksPerYear: 2102400}
	model := m.RateModel()
	if model.BaseRate.Int64() != 1 || model.Multiplier.Int64() != 2 {
		t.Fatalf("unexpected model %s/%s", model.BaseRate, model.Multiplier)
	}
}

func TestParseRejectsInvalidLedgers(t *testing.T) {
	cases := map[string]string{
		"missing owner": `[[asset]]
Symbol = "A"
[[market]]
Name = "mA"
Asset = "A"`,
		"unknown asset": `Owner = "admin"
[[market]]
Name = "mA"
Asset = "A"`,
		"duplicate market": `Owner = "admin"
[[asset]]
Symbol = "A"
[[market]]
Name = "mA"
Asset = "A"
[[market]]
Name = "mA"
Asset = "A"`,
		"second market for asset": `Owner = "admin"
[[asset]]
Symbol = "A"
[[market]]
Name = "mA"
Asset = "A"
[[market]]
Name = "mA2"
Asset = "A"`,
		"no markets":       `Owner = "admin"`,
		"low incentive":    "Owner = \"admin\"\nLiquidationIncentive = \"9e17\"\n[[asset]]\nSymbol = \"A\"\n[[market]]\nName = \"mA\"\nAsset = \"A\"",
		"negative amount":  "Owner = \"admin\"\nCollateralFactor = \"-1\"",
		"zero allocation":  "Owner = \"admin\"\n[[asset]]\nSymbol = \"A\"\nAllocations = [{ Account = \"x\", Amount = \"0\" }]\n[[market]]\nName = \"mA\"\nAsset = \"A\"",
		"unknown key":      "Owner = \"admin\"\nListenAddress = \":6001\"",
		"duplicate symbol": "Owner = \"admin\"\n[[asset]]\nSymbol = \"a\"\n[[asset]]\nSymbol = \"A\"",
	}
	for name, data := range cases {
		if _, err := Parse(data); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload default: %v", err)
	}
	if reloaded.Owner != cfg.Owner || len(reloaded.Markets) != 1 {
		t.Fatalf("unexpected reloaded config %+v", reloaded)
	}
	if reloaded.LiquidationIncentive.Int().Cmp(lending.One()) <= 0 {
		t.Fatalf("expected incentive above one, got %s", reloaded.LiquidationIncentive.Int())
	}
	if reloaded.Markets[0].BlocksPerYear != 2102400 {
		t.Fatalf("unexpected blocks per year %d", reloaded.Markets[0].BlocksPerYear)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.toml")
	if err := os.WriteFile(path, []byte(sampleLedger), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Markets) != 2 {
		t.Fatalf("expected two markets, got %d", len(cfg.Markets))
	}
}

func TestResolveAccount(t *testing.T) {
	alias, err := ResolveAccount(" alice ")
	if err != nil {
		t.Fatalf("resolve alias: %v", err)
	}
	if alias != crypto.DeriveAddress(crypto.AccountPrefix, "alice") {
		t.Fatalf("unexpected alias address %s", alias)
	}
	decoded, err := ResolveAccount(alias.String())
	if err != nil || decoded != alias {
		t.Fatalf("expected bech32 round trip, got %s (%v)", decoded, err)
	}
	if _, err := ResolveAccount("  "); err == nil {
		t.Fatalf("expected error for blank account")
	}
}

const sampleScript = `steps:
  - action: supply
    account: alice
    market: mCOL
    amount: "1000"
  - height: 5
    action: Borrow
    account: alice
    market: mDEBT
    amount: 400
  - action: liquidate
    account: carol
    market: mDEBT
    borrower: alice
    collateral: mCOL
    amount: "1e2"
    expect: liquidation
  - action: pause
    switch: Lending.Borrow
  - action: advance
    blocks: 3
`

func TestDecodeScript(t *testing.T) {
	script, err := DecodeScript(strings.NewReader(sampleScript))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(script.Steps) != 5 {
		t.Fatalf("expected 5 steps, got %d", len(script.Steps))
	}
	borrow := script.Steps[1]
	if borrow.Action != StepBorrow || borrow.Height != 5 || borrow.Amount.Int().Int64() != 400 {
		t.Fatalf("unexpected borrow step %+v", borrow)
	}
	liquidate := script.Steps[2]
	if liquidate.Expect != "liquidation" || liquidate.Amount.Int().Int64() != 100 {
		t.Fatalf("unexpected liquidate step %+v", liquidate)
	}
	if script.Steps[3].Switch != "lending.borrow" {
		t.Fatalf("expected normalised switch, got %q", script.Steps[3].Switch)
	}
}

func TestDecodeScriptRejectsBadSteps(t *testing.T) {
	cases := map[string]string{
		"unknown action":   "steps:\n  - action: mint\n",
		"missing market":   "steps:\n  - action: supply\n    account: alice\n",
		"missing borrower": "steps:\n  - action: liquidate\n    account: a\n    market: m\n    collateral: c\n",
		"unknown field":    "steps:\n  - action: accrue\n    market: m\n    speed: 3\n",
		"bad amount":       "steps:\n  - action: supply\n    account: a\n    market: m\n    amount: ten\n",
		"price missing":    "steps:\n  - action: set_price\n    market: m\n",
		"advance zero":     "steps:\n  - action: advance\n",
		"pause no switch":  "steps:\n  - action: pause\n",
	}
	for name, data := range cases {
		if _, err := DecodeScript(strings.NewReader(data)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDecodeEmptyScript(t *testing.T) {
	script, err := DecodeScript(strings.NewReader(""))
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if len(script.Steps) != 0 {
		t.Fatalf("expected no steps")
	}
}
