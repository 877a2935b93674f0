package storage

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestGetMissingKey(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Get([]byte("nope"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateCountsUp(t *testing.T) {
	db := openTestDB(t)
	key := []byte("counter/general")
	for i := 0; i < 3; i++ {
		err := db.Update(key, func(cur []byte) ([]byte, error) {
			var n uint64
			if len(cur) == 8 {
				n = binary.BigEndian.Uint64(cur)
			}
			out := make([]byte, 8)
			binary.BigEndian.PutUint64(out, n+1)
			return out, nil
		})
		require.NoError(t, err)
	}
	got, err := db.Get(key)
	require.NoError(t, err)
	require.Equal(t, uint64(3), binary.BigEndian.Uint64(got))

	require.NoError(t, db.Update(key, func([]byte) ([]byte, error) { return nil, nil }))
	_, err = db.Get(key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestScanOrderAndPrefixIsolation(t *testing.T) {
	db := openTestDB(t)
	for _, k := range []string{"msg/a/2", "msg/a/1", "msg/a/3", "msg/ab/1", "msg/b/1"} {
		require.NoError(t, db.Set([]byte(k), []byte(k)))
	}

	var asc, desc []string
	require.NoError(t, db.Scan([]byte("msg/a/"), func(k, _ []byte) bool {
		asc = append(asc, string(k))
		return true
	}))
	require.NoError(t, db.ScanReverse([]byte("msg/a/"), func(k, _ []byte) bool {
		desc = append(desc, string(k))
		return len(desc) < 2
	}))
	require.Equal(t, []string{"msg/a/1", "msg/a/2", "msg/a/3"}, asc)
	require.Equal(t, []string{"msg/a/3", "msg/a/2"}, desc)
}

func TestDeletePrefix(t *testing.T) {
	db := openTestDB(t)
	for _, k := range []string{"msg/a/1", "msg/a/2", "msg/b/1"} {
		require.NoError(t, db.Set([]byte(k), []byte("x")))
	}
	n, err := db.DeletePrefix([]byte("msg/a/"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = db.Get([]byte("msg/a/1"))
	require.ErrorIs(t, err, ErrNotFound)
	_, err = db.Get([]byte("msg/b/1"))
	require.NoError(t, err)

	n, err = db.DeletePrefix([]byte("msg/a/"))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("k"), []byte("v")))
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}
