package wal

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
)

// generateRandom generates a random slice of bytes for testing
func generateRandom() []byte {
	size := rand.Intn(1124)
	if size < 100 {
		size += 100
	}
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(rand.Intn(255))
	}
	return b
}

func openStores(t *testing.T) (*leveldb.DB, *WAL) {
	t.Helper()
	db, err := leveldb.OpenFile(t.TempDir(), nil)
	require.NoError(t, err)
	w, err := New(t.TempDir(), db)
	require.NoError(t, err)
	return db, w
}

func TestWalReplay(t *testing.T) {
	db, w := openStores(t)
	defer db.Close()
	tombstoned := true
	nrOfItems := 1020
	for i := 0; i < nrOfItems; i++ {
		if i%20 == 0 {
			tombstoned = !tombstoned
		}
		e := &Entry{
			Key:        []byte(fmt.Sprintf("test%d", i%20)),
			Value:      generateRandom(),
			Tombstoned: tombstoned,
		}
		require.NoError(t, w.AddEntry(e))
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.OpenLastFile())
	entries, err := w.Replay()
	require.NoError(t, err)
	assert.Equal(t, nrOfItems, len(entries))
}

func TestWalDump(t *testing.T) {
	db, w := openStores(t)
	defer db.Close()
	for i := 0; i < 100; i++ {
		e := &Entry{
			Key:   []byte(fmt.Sprintf("key%d", i)),
			Value: []byte(fmt.Sprintf("value%d", i)),
		}
		require.NoError(t, w.AddEntry(e))
	}
	previous := w.Filename()
	output := make(chan string, 200)
	require.NoError(t, w.Dump(output))
	keys := 0
	for range output {
		keys++
	}
	require.NoError(t, w.Wait())
	assert.Equal(t, 100, keys)

	// entries landed in the database, old file is gone
	val, err := db.Get([]byte("key42"), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("value42"), val)
	assert.NoFileExists(t, previous)
	assert.NotEqual(t, previous, w.Filename())
	require.NoError(t, w.Close())
}

func TestWalDumpTombstones(t *testing.T) {
	db, w := openStores(t)
	defer db.Close()
	require.NoError(t, db.Put([]byte("dead"), []byte("1"), nil))
	require.NoError(t, w.AddEntry(&Entry{Key: []byte("dead"), Value: []byte("1"), Tombstoned: true}))
	output := make(chan string, 10)
	require.NoError(t, w.Dump(output))
	for range output {
	}
	require.NoError(t, w.Wait())
	_, err := db.Get([]byte("dead"), nil)
	assert.ErrorIs(t, err, leveldb.ErrNotFound)
	require.NoError(t, w.Close())
}
