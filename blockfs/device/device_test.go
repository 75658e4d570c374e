package device

import (
	"bytes"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreReadWrite(t *testing.T) {
	s, err := OpenFileStore(path.Join(t.TempDir(), "device"), 4096, 16)
	require.NoError(t, err)
	defer s.Close()

	payload := []byte("some block payload")
	require.NoError(t, s.WriteAt(3, 100, payload))
	out := make([]byte, len(payload))
	require.NoError(t, s.ReadAt(3, 100, out))
	assert.Equal(t, payload, out)

	// other blocks stay zeroed
	zero := make([]byte, len(payload))
	require.NoError(t, s.ReadAt(4, 100, out))
	assert.True(t, bytes.Equal(zero, out))
}

func TestFileStoreReopen(t *testing.T) {
	p := path.Join(t.TempDir(), "device")
	s, err := OpenFileStore(p, 512, 8)
	require.NoError(t, err)
	require.NoError(t, s.WriteAt(7, 0, []byte("tail")))
	require.NoError(t, s.Close())

	s, err = OpenFileStore(p, 512, 8)
	require.NoError(t, err)
	defer s.Close()
	out := make([]byte, 4)
	require.NoError(t, s.ReadAt(7, 0, out))
	assert.Equal(t, []byte("tail"), out)
}

func TestStoreBounds(t *testing.T) {
	stores := map[string]Store{
		"mem": NewMemStore(4096, 4),
	}
	fs, err := OpenFileStore(path.Join(t.TempDir(), "device"), 4096, 4)
	require.NoError(t, err)
	stores["file"] = fs
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			buf := make([]byte, 10)
			assert.ErrorIs(t, s.ReadAt(4, 0, buf), ErrBadBlock)
			assert.ErrorIs(t, s.WriteAt(100, 0, buf), ErrBadBlock)
			assert.ErrorIs(t, s.WriteAt(0, 4090, buf), ErrChunkTooLarge)
			assert.ErrorIs(t, s.ReadAt(0, 4096, buf), ErrChunkTooLarge)
			assert.NoError(t, s.WriteAt(0, 4086, buf))
		})
	}
}

func TestMemStoreRoundtrip(t *testing.T) {
	s := NewMemStore(128, 4)
	assert.Equal(t, uint32(128), s.BlockSize())
	assert.Equal(t, uint32(4), s.TotalBlocks())
	require.NoError(t, s.WriteAt(1, 120, []byte("12345678")))
	out := make([]byte, 8)
	require.NoError(t, s.ReadAt(1, 120, out))
	assert.Equal(t, []byte("12345678"), out)
}
