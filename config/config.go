package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"moneymarket/crypto"
)

const (
	DefaultSnapshotName = "ledger"
	DefaultDataDir      = "./mm-data"
)

// Ledger is the bootstrap description of a lending ledger: the controller
// owner and risk parameters, the underlying assets with their initial
// allocations and the markets listed under the controller.
type Ledger struct {
	Owner                string   `toml:"Owner"`
	DataDir              string   `toml:"DataDir"`
	SnapshotName         string   `toml:"SnapshotName"`
	CollateralFactor     Amount   `toml:"CollateralFactor"`
	LiquidationFactor    Amount   `toml:"LiquidationFactor"`
	LiquidationIncentive Amount   `toml:"LiquidationIncentive"`
	Log                  Log      `toml:"log"`
	Assets               []Asset  `toml:"asset"`
	Markets              []Market `toml:"market"`
}

// Load loads the ledger configuration from the given path. A missing file is
// replaced by the default configuration, which is written back to path.
func Load(path string) (*Ledger, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Ledger{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}
	return finish(cfg)
}

// Parse decodes a configuration held in memory.
func Parse(data string) (*Ledger, error) {
	cfg := &Ledger{}
	meta, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %s", undecoded[0])
	}
	return finish(cfg)
}

func finish(cfg *Ledger) (*Ledger, error) {
	cfg.normalize()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Ledger) normalize() {
	l.Owner = strings.TrimSpace(l.Owner)
	if strings.TrimSpace(l.SnapshotName) == "" {
		l.SnapshotName = DefaultSnapshotName
	}
	for i := range l.Assets {
		l.Assets[i].Symbol = strings.ToUpper(strings.TrimSpace(l.Assets[i].Symbol))
		for j := range l.Assets[i].Allocations {
			l.Assets[i].Allocations[j].Account = strings.TrimSpace(l.Assets[i].Allocations[j].Account)
		}
	}
	for i := range l.Markets {
		l.Markets[i].Name = strings.TrimSpace(l.Markets[i].Name)
		l.Markets[i].Asset = strings.ToUpper(strings.TrimSpace(l.Markets[i].Asset))
	}
}

// OwnerAddress returns the address administering the controller and markets.
func (l *Ledger) OwnerAddress() (crypto.Address, error) {
	return ResolveAccount(l.Owner)
}

// ResolveAccount maps a configured account to an address. Bech32 addresses
// are decoded as-is; any other value is treated as an alias and derived.
func ResolveAccount(name string) (crypto.Address, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return crypto.Address{}, fmt.Errorf("account required")
	}
	if addr, err := crypto.DecodeAddress(name); err == nil {
		return addr, nil
	}
	return crypto.DeriveAddress(crypto.AccountPrefix, name), nil
}

// Default returns a single-asset ledger with conservative risk parameters.
func Default() *Ledger {
	return &Ledger{
		Owner:                "admin",
		DataDir:              DefaultDataDir,
		SnapshotName:         DefaultSnapshotName,
		CollateralFactor:     mustAmount("75e16"),
		LiquidationFactor:    mustAmount("85e16"),
		LiquidationIncentive: mustAmount("105e16"),
		Log:                  Log{Env: "local", Level: "info"},
		Assets: []Asset{{
			Symbol:      "TOK",
			Allocations: []Allocation{{Account: "admin", Amount: mustAmount("1000000")}},
		}},
		Markets: []Market{{
			Name:          "mTOK",
			Asset:         "TOK",
			BaseRate:      mustAmount("2e16"),
			Multiplier:    mustAmount("1e17"),
			BlocksPerYear: 2102400,
			Price:         mustAmount("1"),
		}},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Ledger, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Ledger) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func mustAmount(text string) Amount {
	var a Amount
	if err := a.UnmarshalText([]byte(text)); err != nil {
		panic(err)
	}
	return a
}
