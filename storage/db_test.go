package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("factory/mint/a"), []byte("1")))
	require.NoError(t, db.Put([]byte("factory/mint/b"), []byte("2")))
	require.NoError(t, db.Put([]byte("factory/burn/a"), []byte("3")))

	keys, err := db.Keys([]byte("factory/mint/"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("factory/mint/a"), []byte("factory/mint/b")}, keys)

	batch := db.NewBatch()
	batch.Put([]byte("factory/mint/c"), []byte("4"))
	batch.Delete([]byte("factory/mint/a"))
	require.Equal(t, 2, batch.Len())

	// Nothing is visible before Write.
	_, err = db.Get([]byte("factory/mint/c"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, batch.Write())

	value, err := db.Get([]byte("factory/mint/c"))
	require.NoError(t, err)
	require.Equal(t, []byte("4"), value)
	_, err = db.Get([]byte("factory/mint/a"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	batch := db1.NewBatch()
	batch.Put([]byte("key"), []byte("value"))
	require.NoError(t, batch.Write())
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}

func TestMemDBGetReturnsCopy(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("k"), []byte("abc")))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	value[0] = 'z'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}
