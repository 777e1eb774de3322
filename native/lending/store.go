package lending

import (
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"moneymarket/crypto"
	"moneymarket/storage"
)

var graphSnapshotPrefix = []byte("lending:graph:")

func graphSnapshotKey(name string) []byte {
	name = strings.ToLower(strings.TrimSpace(name))
	buf := make([]byte, len(graphSnapshotPrefix)+len(name))
	copy(buf, graphSnapshotPrefix)
	copy(buf[len(graphSnapshotPrefix):], name)
	return ethcrypto.Keccak256(buf)
}

// Store persists RLP encoded graph snapshots in a key-value database under
// keccak256 hashed keys.
type Store struct {
	db storage.Database
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Save writes the current state of the graph under name.
func (s *Store) Save(name string, g *Graph) error {
	return s.SaveSnapshot(name, g.Export())
}

func (s *Store) SaveSnapshot(name string, snap GraphSnapshot) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("lending store: snapshot name must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(&snap)
	if err != nil {
		return fmt.Errorf("lending store: encode snapshot: %w", err)
	}
	return s.db.Put(graphSnapshotKey(name), encoded)
}

// Load returns the snapshot stored under name. The boolean reports whether a
// snapshot existed.
func (s *Store) Load(name string) (GraphSnapshot, bool, error) {
	data, err := s.db.Get(graphSnapshotKey(name))
	if errors.Is(err, storage.ErrNotFound) {
		return GraphSnapshot{}, false, nil
	}
	if err != nil {
		return GraphSnapshot{}, false, err
	}
	var snap GraphSnapshot
	if err := rlp.DecodeBytes(data, &snap); err != nil {
		return GraphSnapshot{}, false, fmt.Errorf("lending store: decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Restore loads the snapshot stored under name into an empty graph.
func (s *Store) Restore(name string, g *Graph, resolve func(crypto.Address) (Asset, bool)) (bool, error) {
	snap, ok, err := s.Load(name)
	if err != nil || !ok {
		return ok, err
	}
	if err := g.Import(snap, resolve); err != nil {
		return false, err
	}
	return true, nil
}
