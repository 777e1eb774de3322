package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

	require.NoError(t, db.Put([]byte("k"), []byte("v1")))
	has, err := db.Has([]byte("k"))
	require.NoError(t, err)
	require.True(t, has)

	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)

	require.NoError(t, db.Put([]byte("k"), []byte("v2")))
	value, err = db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), value)

	require.NoError(t, db.Delete([]byte("k")))
	has, err = db.Has([]byte("k"))
	require.NoError(t, err)
	require.False(t, has)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	buf := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), buf))
	buf[0] = 'z'
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), value)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}
