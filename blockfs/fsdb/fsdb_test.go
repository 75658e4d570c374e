package fsdb

import (
	"fmt"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/rarydzu/blockfs/blockfs/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDb(t *testing.T, path string, cacheSize int) *Fsdb {
	t.Helper()
	db, err := New(&config.Config{
		Path:           path,
		FilesystemName: "test",
		CacheSize:      cacheSize,
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return db
}

func TestInodeStore(t *testing.T) {
	db := newTestDb(t, t.TempDir(), 10000)
	defer db.Close()
	require.NoError(t, db.AddInode(TestInode, true))
	inode, err := db.GetInode(TestInode.ParentID, TestInode.Name, true)
	require.NoError(t, err)
	assert.Equal(t, TestInode.InodeID, inode.InodeID)
	assert.Equal(t, TestInode.ParentID, inode.ParentID)
	assert.Equal(t, TestInode.Attrs.Size, inode.Attrs.Size)
	assert.Equal(t, TestInode.Attrs.BlockMap, inode.Attrs.BlockMap)
	assert.True(t, inode.Attrs.Mtime.Equal(TestInode.Attrs.Mtime))
}

func TestGetInodeMissing(t *testing.T) {
	db := newTestDb(t, t.TempDir(), 10000)
	defer db.Close()
	_, err := db.GetInode(1, "nothere", true)
	assert.ErrorIs(t, err, ErrNoSuchInode)
}

func TestDeleteInode(t *testing.T) {
	db := newTestDb(t, t.TempDir(), 10000)
	defer db.Close()
	inode := NewInode(5, 1, "gone", TestInode.Attrs)
	require.NoError(t, db.AddInode(inode, true))
	require.NoError(t, db.DeleteInode(inode, true))
	_, err := db.GetInode(1, "gone", true)
	assert.ErrorIs(t, err, ErrNoSuchInode)
}

func TestMarkDirtySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db := newTestDb(t, dir, 10000)
	inode := NewInode(7, 1, "file", InodeAttributes{
		InodeAttributes: fuseops.InodeAttributes{Nlink: 1, Mode: 0644},
	})
	require.NoError(t, db.AddInode(inode, true))

	// dirty the inode the way the data path does after a write
	inode.AppendBlock(3)
	inode.Attrs.Size = 1000
	db.MarkDirty(inode)
	require.NoError(t, db.Close())

	// the WAL replays into the cache on reopen
	db = newTestDb(t, dir, 10000)
	defer db.Close()
	attrs, err := db.GetFsdbInodeAttributes(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), attrs.Size)
	assert.Equal(t, []uint32{3}, attrs.BlockMap)
	assert.Equal(t, uint32(1), attrs.Blocks)
}

func TestUpdateInodeAttrs(t *testing.T) {
	db := newTestDb(t, t.TempDir(), 10000)
	defer db.Close()
	inode := NewInode(9, 1, "attrs", TestInode.Attrs)
	require.NoError(t, db.AddInode(inode, true))
	attrs := inode.Attrs
	attrs.Size = 42
	require.NoError(t, db.UpdateInodeAttrs(9, attrs))
	got, err := db.GetFsdbInodeAttributes(9)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Size)
}

func TestGetChildren(t *testing.T) {
	db := newTestDb(t, t.TempDir(), 10000)
	defer db.Close()
	for i := 0; i < 5; i++ {
		inode := NewInode(uint64(10+i), 1, fmt.Sprintf("child-%d", i), TestInode.Attrs)
		require.NoError(t, db.AddInode(inode, true))
	}
	children, n, err := db.GetChildren(1, 0, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, children, 5)
	count, err := db.GetChildrenCount(1)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}
