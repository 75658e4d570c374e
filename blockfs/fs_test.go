package blockfs

import (
	"bytes"
	"context"
	"os"
	"syscall"
	"testing"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/rarydzu/blockfs/blockfs/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFS(t *testing.T, cfg *config.Config) *Blockfs {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.Path = t.TempDir()
	cfg.FilesystemName = "blockfs-test"
	fs, err := NewBlockFS(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	_, err = NewBlockFuseFS(fs)
	require.NoError(t, err)
	t.Cleanup(fs.Destroy)
	return fs
}

func createFile(t *testing.T, fs *Blockfs, parent fuseops.InodeID, name string) *fuseops.CreateFileOp {
	t.Helper()
	op := &fuseops.CreateFileOp{
		Parent: parent,
		Name:   name,
		Mode:   0644,
	}
	require.NoError(t, fs.CreateFile(context.Background(), op))
	require.NotZero(t, op.Entry.Child)
	return op
}

func TestCreateWriteReadRoundtrip(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := context.Background()
	op := createFile(t, fs, fuseops.RootInodeID, "payload.bin")

	data := bytes.Repeat([]byte("abcde"), 1000) // 5000 bytes, two blocks
	require.NoError(t, fs.WriteFile(ctx, &fuseops.WriteFileOp{
		Inode:  op.Entry.Child,
		Handle: op.Handle,
		Offset: 0,
		Data:   data,
	}))

	read := &fuseops.ReadFileOp{
		Inode:  op.Entry.Child,
		Handle: op.Handle,
		Offset: 0,
		Dst:    make([]byte, 8192),
	}
	require.NoError(t, fs.ReadFile(ctx, read))
	assert.Equal(t, len(data), read.BytesRead)
	assert.Equal(t, data, read.Dst[:read.BytesRead])

	attrOp := &fuseops.GetInodeAttributesOp{Inode: op.Entry.Child}
	require.NoError(t, fs.GetInodeAttributes(ctx, attrOp))
	assert.Equal(t, uint64(len(data)), attrOp.Attributes.Size)
}

func TestReadAcrossBlockBoundary(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := context.Background()
	op := createFile(t, fs, fuseops.RootInodeID, "span.bin")

	data := bytes.Repeat([]byte{0x5a}, 5000)
	require.NoError(t, fs.WriteFile(ctx, &fuseops.WriteFileOp{
		Inode:  op.Entry.Child,
		Handle: op.Handle,
		Data:   data,
	}))

	read := &fuseops.ReadFileOp{
		Inode:  op.Entry.Child,
		Handle: op.Handle,
		Offset: 4000,
		Dst:    make([]byte, 200),
	}
	require.NoError(t, fs.ReadFile(ctx, read))
	assert.Equal(t, 200, read.BytesRead)
	assert.Equal(t, data[4000:4200], read.Dst[:200])
}

func TestStatFSAccounting(t *testing.T) {
	fs := newTestFS(t, &config.Config{TotalBlocks: 64})
	ctx := context.Background()

	statOp := &fuseops.StatFSOp{}
	require.NoError(t, fs.StatFS(ctx, statOp))
	assert.Equal(t, uint64(64), statOp.Blocks)
	assert.Equal(t, uint64(64), statOp.BlocksFree)
	assert.Equal(t, uint32(4096), statOp.BlockSize)

	op := createFile(t, fs, fuseops.RootInodeID, "two-blocks")
	require.NoError(t, fs.WriteFile(ctx, &fuseops.WriteFileOp{
		Inode:  op.Entry.Child,
		Handle: op.Handle,
		Data:   make([]byte, 5000),
	}))

	statOp = &fuseops.StatFSOp{}
	require.NoError(t, fs.StatFS(ctx, statOp))
	assert.Equal(t, uint64(62), statOp.BlocksFree)
	assert.Equal(t, uint64(62), statOp.BlocksAvailable)
}

func TestWriteFileBeyondMaxExtents(t *testing.T) {
	fs := newTestFS(t, &config.Config{MaxExtents: 2})
	ctx := context.Background()
	op := createFile(t, fs, fuseops.RootInodeID, "capped")

	// Three blocks into a two extent file: the engine keeps what fits
	// and the op reports no space.
	err := fs.WriteFile(ctx, &fuseops.WriteFileOp{
		Inode:  op.Entry.Child,
		Handle: op.Handle,
		Data:   make([]byte, 3*4096),
	})
	assert.Equal(t, syscall.ENOSPC, err)

	attrOp := &fuseops.GetInodeAttributesOp{Inode: op.Entry.Child}
	require.NoError(t, fs.GetInodeAttributes(ctx, attrOp))
	assert.Equal(t, uint64(2*4096), attrOp.Attributes.Size)
}

func TestWriteFileDeviceFull(t *testing.T) {
	fs := newTestFS(t, &config.Config{TotalBlocks: 2})
	ctx := context.Background()
	op := createFile(t, fs, fuseops.RootInodeID, "full")

	err := fs.WriteFile(ctx, &fuseops.WriteFileOp{
		Inode:  op.Entry.Child,
		Handle: op.Handle,
		Data:   make([]byte, 3*4096),
	})
	assert.Equal(t, syscall.ENOSPC, err)

	read := &fuseops.ReadFileOp{
		Inode:  op.Entry.Child,
		Handle: op.Handle,
		Dst:    make([]byte, 3*4096),
	}
	require.NoError(t, fs.ReadFile(ctx, read))
	assert.Equal(t, 2*4096, read.BytesRead)
}

func TestLookUpAndReadDir(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := context.Background()
	createFile(t, fs, fuseops.RootInodeID, "alpha")
	createFile(t, fs, fuseops.RootInodeID, "beta")

	lookOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "alpha"}
	require.NoError(t, fs.LookUpInode(ctx, lookOp))
	assert.NotZero(t, lookOp.Entry.Child)

	openOp := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	require.NoError(t, fs.OpenDir(ctx, openOp))
	readOp := &fuseops.ReadDirOp{
		Inode:  fuseops.RootInodeID,
		Handle: openOp.Handle,
		Dst:    make([]byte, 4096),
	}
	require.NoError(t, fs.ReadDir(ctx, readOp))
	assert.Greater(t, readOp.BytesRead, 0)
	listing := string(readOp.Dst[:readOp.BytesRead])
	assert.Contains(t, listing, "alpha")
	assert.Contains(t, listing, "beta")
	require.NoError(t, fs.ReleaseDirHandle(ctx, &fuseops.ReleaseDirHandleOp{Handle: openOp.Handle}))
}

func TestMkDirRmDir(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := context.Background()

	mkOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "dir", Mode: 0755 | os.ModeDir}
	require.NoError(t, fs.MkDir(ctx, mkOp))
	assert.Equal(t, fuse.EEXIST, fs.MkDir(ctx, &fuseops.MkDirOp{
		Parent: fuseops.RootInodeID, Name: "dir", Mode: 0755 | os.ModeDir}))

	createFile(t, fs, mkOp.Entry.Child, "child")
	assert.Equal(t, fuse.ENOTEMPTY, fs.RmDir(ctx, &fuseops.RmDirOp{
		Parent: fuseops.RootInodeID, Name: "dir"}))

	require.NoError(t, fs.Unlink(ctx, &fuseops.UnlinkOp{Parent: mkOp.Entry.Child, Name: "child"}))
	require.NoError(t, fs.RmDir(ctx, &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "dir"}))
	assert.Equal(t, fuse.ENOENT, fs.LookUpInode(ctx, &fuseops.LookUpInodeOp{
		Parent: fuseops.RootInodeID, Name: "dir"}))
}

func TestRename(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := context.Background()
	op := createFile(t, fs, fuseops.RootInodeID, "old")

	require.NoError(t, fs.Rename(ctx, &fuseops.RenameOp{
		OldParent: fuseops.RootInodeID,
		OldName:   "old",
		NewParent: fuseops.RootInodeID,
		NewName:   "new",
	}))
	assert.Equal(t, fuse.ENOENT, fs.LookUpInode(ctx, &fuseops.LookUpInodeOp{
		Parent: fuseops.RootInodeID, Name: "old"}))
	lookOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "new"}
	require.NoError(t, fs.LookUpInode(ctx, lookOp))
	assert.Equal(t, op.Entry.Child, lookOp.Entry.Child)
}

func TestSymlink(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := context.Background()

	symOp := &fuseops.CreateSymlinkOp{
		Parent: fuseops.RootInodeID,
		Name:   "link",
		Target: "payload.bin",
	}
	require.NoError(t, fs.CreateSymlink(ctx, symOp))

	readOp := &fuseops.ReadSymlinkOp{Inode: symOp.Entry.Child}
	require.NoError(t, fs.ReadSymlink(ctx, readOp))
	assert.Equal(t, "payload.bin", readOp.Target)
}

func TestSetInodeAttributesSize(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := context.Background()
	op := createFile(t, fs, fuseops.RootInodeID, "resize")
	require.NoError(t, fs.WriteFile(ctx, &fuseops.WriteFileOp{
		Inode:  op.Entry.Child,
		Handle: op.Handle,
		Data:   make([]byte, 5000),
	}))

	size := uint64(1000)
	require.NoError(t, fs.SetInodeAttributes(ctx, &fuseops.SetInodeAttributesOp{
		Inode: op.Entry.Child,
		Size:  &size,
	}))

	read := &fuseops.ReadFileOp{
		Inode:  op.Entry.Child,
		Handle: op.Handle,
		Dst:    make([]byte, 5000),
	}
	require.NoError(t, fs.ReadFile(ctx, read))
	assert.Equal(t, 1000, read.BytesRead)
}

func TestOpenFileMissing(t *testing.T) {
	fs := newTestFS(t, nil)
	err := fs.OpenFile(context.Background(), &fuseops.OpenFileOp{Inode: 4242})
	assert.Equal(t, fuse.ENOENT, err)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	fs := newTestFS(t, &config.Config{ReadOnly: true})
	ctx := context.Background()
	err := fs.CreateFile(ctx, &fuseops.CreateFileOp{
		Parent: fuseops.RootInodeID, Name: "nope", Mode: 0644})
	assert.Equal(t, syscall.EROFS, err)
	assert.Equal(t, syscall.EROFS, fs.MkDir(ctx, &fuseops.MkDirOp{
		Parent: fuseops.RootInodeID, Name: "nope", Mode: 0755 | os.ModeDir}))
}
