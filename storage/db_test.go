package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBGetMissingKey(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("head"), []byte{0x01}))
	got, err := db.Get([]byte("head"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, got)
	require.NotNil(t, db.TrieDB())
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("head"), []byte("root")))
	got, err := db.Get([]byte("head"))
	require.NoError(t, err)
	require.Equal(t, []byte("root"), got)
}
