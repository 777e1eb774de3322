package token

import (
	"errors"
	"math/big"
	"testing"

	"moneymarket/crypto"
)

func TestMintAndTransfer(t *testing.T) {
	pool := NewPool(" tok ")
	alice := crypto.DeriveAddress(crypto.AccountPrefix, "alice")
	bob := crypto.DeriveAddress(crypto.AccountPrefix, "bob")

	if pool.Symbol() != "TOK" {
		t.Fatalf("unexpected symbol %q", pool.Symbol())
	}
	if err := pool.Mint(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := pool.Transfer(alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if pool.BalanceOf(alice).Cmp(big.NewInt(600)) != 0 || pool.BalanceOf(bob).Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected balances: alice=%s bob=%s", pool.BalanceOf(alice), pool.BalanceOf(bob))
	}
	if err := pool.Transfer(bob, alice, big.NewInt(401)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if pool.TotalSupply().Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected total supply %s", pool.TotalSupply())
	}
	if err := pool.Transfer(alice, bob, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	pool := NewPool("TOK")
	alice := crypto.DeriveAddress(crypto.AccountPrefix, "alice")
	market := crypto.DeriveAddress(crypto.MarketPrefix, "TOK")

	if err := pool.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := pool.TransferFrom(market, alice, market, big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := pool.Approve(alice, market, big.NewInt(150)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := pool.TransferFrom(market, alice, market, big.NewInt(120)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if pool.Allowance(alice, market).Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("failed transfer must not consume allowance")
	}
	if err := pool.TransferFrom(market, alice, market, big.NewInt(100)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if pool.Allowance(alice, market).Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected remaining allowance %s", pool.Allowance(alice, market))
	}
	if pool.BalanceOf(market).Cmp(big.NewInt(100)) != 0 || pool.BalanceOf(alice).Sign() != 0 {
		t.Fatalf("unexpected balances after transfer from")
	}
}
