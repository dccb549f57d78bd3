package kvstore_test

import (
	"testing"

	"TradeLedger/internal/kvstore"

	"github.com/stretchr/testify/require"
)

func TestLevelDB_GetMissingIsNil(t *testing.T) {
	db := kvstore.NewMemDB()
	defer db.Close()

	v, err := db.Get([]byte("missing"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestLevelDB_SetGetDelete(t *testing.T) {
	db := kvstore.NewMemDB()
	defer db.Close()

	require.NoError(t, db.Set([]byte("k"), []byte("v")))
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, db.Delete([]byte("k")))
	ok, err := db.Has([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLevelDB_OrderedKeysIterateNumerically(t *testing.T) {
	db := kvstore.NewMemDB()
	defer db.Close()

	b := db.NewBatch()
	for _, h := range []int64{100, 9, 1000, 10} {
		b.Set(kvstore.Key("blk", h), []byte{1})
	}
	b.Set(kvstore.Key("blkx", int64(1)), []byte{2})
	require.Equal(t, 5, b.Len())
	require.NoError(t, b.Write())

	var heights []int64
	require.NoError(t, db.Iterate(kvstore.Key("blk"), func(key, _ []byte) bool {
		var prefix string
		var h int64
		require.NoError(t, kvstore.ParseKey(key, &prefix, &h))
		heights = append(heights, h)
		return true
	}))
	require.Equal(t, []int64{9, 10, 100, 1000}, heights)

	heights = heights[:0]
	require.NoError(t, db.ReverseIterate(kvstore.Key("blk"), func(key, _ []byte) bool {
		var prefix string
		var h int64
		require.NoError(t, kvstore.ParseKey(key, &prefix, &h))
		heights = append(heights, h)
		return len(heights) < 2
	}))
	require.Equal(t, []int64{1000, 100}, heights)
}

func TestLevelDB_IterateRange(t *testing.T) {
	db := kvstore.NewMemDB()
	defer db.Close()

	for h := int64(1); h <= 5; h++ {
		require.NoError(t, db.Set(kvstore.Key("h", h), []byte{byte(h)}))
	}

	var seen []byte
	require.NoError(t, db.IterateRange(kvstore.Key("h", int64(2)), kvstore.Key("h", int64(4)), func(_, v []byte) bool {
		seen = append(seen, v[0])
		return true
	}))
	require.Equal(t, []byte{2, 3}, seen)
}

func TestLevelDB_OpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	db, err := kvstore.Open(dir, "state")
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("a"), []byte("b")))
	require.NoError(t, db.Close())

	db, err = kvstore.Open(dir, "state")
	require.NoError(t, err)
	defer db.Close()
	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("b"), v)
}
