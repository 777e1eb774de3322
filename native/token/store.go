package token

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"moneymarket/crypto"
	"moneymarket/storage"
)

// Holding is one balance in a pool snapshot.
type Holding struct {
	Account string
	Balance *big.Int
}

// Snapshot is the persisted form of a pool. Allowances are not kept.
type Snapshot struct {
	Symbol   string
	Total    *big.Int
	Holdings []Holding
}

// Export captures balances ordered by account.
func (p *Pool) Export() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	owners := make([]crypto.Address, 0, len(p.balances))
	for owner := range p.balances {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].Compare(owners[j]) < 0 })
	snap := Snapshot{Symbol: p.symbol, Total: new(big.Int).Set(p.total)}
	for _, owner := range owners {
		snap.Holdings = append(snap.Holdings, Holding{Account: owner.String(), Balance: new(big.Int).Set(p.balances[owner])})
	}
	return snap
}

// FromSnapshot rebuilds a pool. The holdings must add up to the total.
func FromSnapshot(snap Snapshot) (*Pool, error) {
	p := NewPool(snap.Symbol)
	sum := big.NewInt(0)
	for _, h := range snap.Holdings {
		owner, err := crypto.DecodeAddress(h.Account)
		if err != nil {
			return nil, fmt.Errorf("token %s: holder %q: %w", p.symbol, h.Account, err)
		}
		if h.Balance == nil || h.Balance.Sign() <= 0 {
			return nil, fmt.Errorf("token %s: holder %s: %w", p.symbol, h.Account, ErrInvalidAmount)
		}
		p.balances[owner] = new(big.Int).Set(h.Balance)
		sum.Add(sum, h.Balance)
	}
	if snap.Total == nil || sum.Cmp(snap.Total) != 0 {
		return nil, fmt.Errorf("token %s: holdings sum to %s, total is %v", p.symbol, sum, snap.Total)
	}
	p.total = sum
	return p, nil
}

func poolKey(symbol string) []byte {
	return ethcrypto.Keccak256([]byte("token:pool:" + strings.ToUpper(strings.TrimSpace(symbol))))
}

// Save writes the pool's balances to db.
func Save(db storage.Database, p *Pool) error {
	snap := p.Export()
	encoded, err := rlp.EncodeToBytes(&snap)
	if err != nil {
		return fmt.Errorf("token store: encode %s: %w", p.symbol, err)
	}
	return db.Put(poolKey(p.symbol), encoded)
}

// Load restores the pool stored for symbol. The boolean reports whether one
// existed.
func Load(db storage.Database, symbol string) (*Pool, bool, error) {
	data, err := db.Get(poolKey(symbol))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snap Snapshot
	if err := rlp.DecodeBytes(data, &snap); err != nil {
		return nil, false, fmt.Errorf("token store: decode %s: %w", symbol, err)
	}
	p, err := FromSnapshot(snap)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}
