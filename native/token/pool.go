// Package token provides an in-memory fungible asset ledger with the
// transfer/allowance surface lending markets custody assets through.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"moneymarket/crypto"
)

var (
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

type allowanceKey struct {
	owner   crypto.Address
	spender crypto.Address
}

// Pool is a single fungible asset. The zero value is not usable; construct
// pools with NewPool.
type Pool struct {
	mu         sync.RWMutex
	symbol     string
	address    crypto.Address
	total      *big.Int
	balances   map[crypto.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

// NewPool creates an empty asset whose address is derived from the symbol.
func NewPool(symbol string) *Pool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return &Pool{
		symbol:     symbol,
		address:    crypto.DeriveAddress(crypto.AssetPrefix, symbol),
		total:      big.NewInt(0),
		balances:   make(map[crypto.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

func (p *Pool) Symbol() string { return p.symbol }

func (p *Pool) Address() crypto.Address { return p.address }

// TotalSupply returns the amount minted so far.
func (p *Pool) TotalSupply() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.total)
}

// Mint credits freshly created units to the holder, mirroring a faucet
// allocation.
func (p *Pool) Mint(to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.credit(to, amount)
	p.total = new(big.Int).Add(p.total, amount)
	return nil
}

func (p *Pool) BalanceOf(owner crypto.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if bal, ok := p.balances[owner]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Approve sets the amount the spender may move out of the owner's balance.
func (p *Pool) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := allowanceKey{owner: owner, spender: spender}
	if amount.Sign() == 0 {
		delete(p.allowances, key)
		return nil
	}
	p.allowances[key] = new(big.Int).Set(amount)
	return nil
}

func (p *Pool) Allowance(owner, spender crypto.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if allowed, ok := p.allowances[allowanceKey{owner: owner, spender: spender}]; ok {
		return new(big.Int).Set(allowed)
	}
	return big.NewInt(0)
}

// Transfer moves amount from the sender to the recipient.
func (p *Pool) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.balanceLocked(from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from, p.balanceLocked(from), amount)
	}
	p.debit(from, amount)
	p.credit(to, amount)
	return nil
}

// TransferFrom moves amount from the owner to the recipient on behalf of the
// spender, consuming allowance. Nothing changes when either the allowance or
// the balance is short.
func (p *Pool) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := allowanceKey{owner: from, spender: spender}
	allowed := p.allowances[key]
	if allowed == nil || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved %s for %s", ErrInsufficientAllowance, from, spender, amount)
	}
	if p.balanceLocked(from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from, p.balanceLocked(from), amount)
	}
	remaining := new(big.Int).Sub(allowed, amount)
	if remaining.Sign() == 0 {
		delete(p.allowances, key)
	} else {
		p.allowances[key] = remaining
	}
	p.debit(from, amount)
	p.credit(to, amount)
	return nil
}

func (p *Pool) balanceLocked(owner crypto.Address) *big.Int {
	if bal, ok := p.balances[owner]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (p *Pool) credit(to crypto.Address, amount *big.Int) {
	p.balances[to] = new(big.Int).Add(p.balanceLocked(to), amount)
}

func (p *Pool) debit(from crypto.Address, amount *big.Int) {
	next := new(big.Int).Sub(p.balanceLocked(from), amount)
	if next.Sign() == 0 {
		delete(p.balances, from)
		return
	}
	p.balances[from] = next
}
