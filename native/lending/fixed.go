package lending

import (
	"fmt"
	"math/big"
	"strings"
)

var (
	one      = mustBigInt("1000000000000000000") // 1e18 fixed-point unit
	mantissa = big.NewInt(1_000_000)             // health factor scale
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// One returns the fixed-point unit (1e18).
func One() *big.Int { return new(big.Int).Set(one) }

// Mantissa returns the scale used by health factors (1e6).
func Mantissa() *big.Int { return new(big.Int).Set(mantissa) }

// MulFactor returns floor(a * f / One).
func MulFactor(a, f *big.Int) *big.Int {
	return MulDiv(a, f, one)
}

// DivFactor returns floor(a * One / f).
func DivFactor(a, f *big.Int) *big.Int {
	return MulDiv(a, one, f)
}

// DivFactorUp returns ceil(a * One / f).
func DivFactorUp(a, f *big.Int) *big.Int {
	return MulDivUp(a, one, f)
}

// MulDiv returns floor(a * b / c). A nil operand or a zero divisor yields zero.
func MulDiv(a, b, c *big.Int) *big.Int {
	if a == nil || b == nil || c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, c)
}

// MulDivUp returns ceil(a * b / c) for non-negative operands.
func MulDivUp(a, b, c *big.Int) *big.Int {
	if a == nil || b == nil || c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(product, c, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// SubFloor returns max(0, a - b).
func SubFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(orZero(a), orZero(b))
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// MinInt returns a copy of the smaller operand.
func MinInt(a, b *big.Int) *big.Int {
	if orZero(a).Cmp(orZero(b)) <= 0 {
		return copyInt(a)
	}
	return copyInt(b)
}

// ParseAmount parses a non-negative base-10 integer. Underscores are accepted
// as digit separators and an optional "e<N>" suffix scales by 10^N, so
// "1e18" and "1_000" are both valid.
func ParseAmount(text string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(text), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	mantissaPart, exponentPart, scaled := strings.Cut(strings.ToLower(trimmed), "e")
	value, ok := new(big.Int).SetString(mantissaPart, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", text)
	}
	if scaled {
		exp, ok := new(big.Int).SetString(exponentPart, 10)
		if !ok || exp.Sign() < 0 || exp.Cmp(big.NewInt(77)) > 0 {
			return nil, fmt.Errorf("invalid exponent in %q", text)
		}
		value.Mul(value, new(big.Int).Exp(big.NewInt(10), exp, nil))
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", text)
	}
	return value, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
