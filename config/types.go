package config

import (
	"math/big"

	"moneymarket/native/lending"
)

// Amount is a non-negative integer written as a decimal string ("1000",
// "8e17", "1_000_000"). The zero value means "not set".
type Amount struct {
	value *big.Int
}

// NewAmount wraps v. A nil v yields an unset amount.
func NewAmount(v *big.Int) Amount {
	if v == nil {
		return Amount{}
	}
	return Amount{value: new(big.Int).Set(v)}
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML and YAML.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := lending.ParseAmount(string(text))
	if err != nil {
		return err
	}
	a.value = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	if a.value == nil {
		return []byte("0"), nil
	}
	return []byte(a.value.String()), nil
}

// IsSet reports whether the amount was provided.
func (a Amount) IsSet() bool { return a.value != nil }

// Int returns a copy of the amount, or zero when unset.
func (a Amount) Int() *big.Int {
	if a.value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.value)
}

// Log mirrors logging.Options.
type Log struct {
	Env        string `toml:"Env"`
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Allocation funds an account from an asset's faucet at bootstrap.
type Allocation struct {
	Account string `toml:"Account"`
	Amount  Amount `toml:"Amount"`
}

// Asset declares an underlying token pool.
type Asset struct {
	Symbol      string       `toml:"Symbol"`
	Allocations []Allocation `toml:"Allocations"`
}

// Market declares a lending market over one of the configured assets. Rates
// are annual fixed-point figures divided by BlocksPerYear; with BlocksPerYear
// unset they are taken as per-block rates.
type Market struct {
	Name          string `toml:"Name"`
	Asset         string `toml:"Asset"`
	BaseRate      Amount `toml:"BaseRate"`
	Multiplier    Amount `toml:"Multiplier"`
	BlocksPerYear uint64 `toml:"BlocksPerYear"`
	Price         Amount `toml:"Price"`
	Unrestricted  bool   `toml:"Unrestricted"`
}

// RateModel converts the configured rates into a per-block model.
func (m Market) RateModel() lending.RateModel {
	var blocks *big.Int
	if m.BlocksPerYear > 0 {
		blocks = new(big.Int).SetUint64(m.BlocksPerYear)
	}
	return lending.NewRateModel(m.BaseRate.Int(), blocks, m.Multiplier.Int())
}
