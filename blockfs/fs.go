package blockfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	blockdir "github.com/rarydzu/blockfs/blockfs/dir"
	blockfile "github.com/rarydzu/blockfs/blockfs/file"
	"github.com/rarydzu/blockfs/blockfs/fsdb"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// NewBlockFuseFS creates the fuse server, making the root directory
// inode on first mount.
func NewBlockFuseFS(fs *Blockfs) (fuse.Server, error) {
	// not used by anybody else yet, no locking needed
	fs.nextInode = fuseops.RootInodeID + 1
	rootInode, err := fs.GetInode(fuseops.RootInodeID-1, "", true)
	if err != nil {
		if !errors.Is(err, fsdb.ErrNoSuchInode) {
			return nil, fmt.Errorf("failed to get root inode: %v", err)
		}
		// Create the root directory.
		t := fs.Clock.Now()
		rootInode = fsdb.NewInode(fuseops.RootInodeID, 0, "", fsdb.InodeAttributes{
			InodeAttributes: fuseops.InodeAttributes{
				Size:   4096,
				Nlink:  1,
				Mode:   os.ModeDir | 0755,
				Atime:  t,
				Mtime:  t,
				Ctime:  t,
				Crtime: t,
				Uid:    fs.uid,
				Gid:    fs.gid,
			},
		})
		if err = fs.AddInode(rootInode, true); err != nil {
			return nil, err
		}
	}
	if err = fs.lastInodeEngine.Init(); err != nil {
		return nil, err
	}
	fs.GetLastInode()
	fs.lockInode.RLock()
	fs.log.Debugf("Last inode: %v root inode: %d", fs.nextInode, rootInode.ID())
	fs.lockInode.RUnlock()
	return fuseutil.NewFileSystemServer(fs), nil
}

// StatFS reports block counts straight from the device and the
// allocator.
func (fs *Blockfs) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	free := uint64(fs.allocator.FreeBlocks())
	op.BlockSize = fs.engine.BlockSize()
	op.IoSize = fs.engine.BlockSize()
	op.Blocks = uint64(fs.dev.TotalBlocks())
	op.BlocksFree = free
	op.BlocksAvailable = free
	return nil
}

// NextInode returns the next available inode ID.
func (fs *Blockfs) NextInode() fuseops.InodeID {
	fs.lockInode.Lock()
	fs.nextInode++
	fs.lastInodeEngine.StoreLastInode(fs.nextInode)
	fs.lockInode.Unlock()
	return fs.nextInode
}

// GetLastInode gets the last inode from the lastinode engine.
func (fs *Blockfs) GetLastInode() {
	fs.lockInode.Lock()
	defer fs.lockInode.Unlock()
	if last := fs.lastInodeEngine.GetLastInode(); last > fs.nextInode {
		fs.nextInode = last
	}
}

// FindNextHandle finds an unused handle ID.
func (fs *Blockfs) FindNextHandle() fuseops.HandleID {
	fs.lockHandle.Lock()
	defer fs.lockHandle.Unlock()
	handle := fs.nextHandle
	for {
		_, file := fs.fileHandles[handle]
		_, dir := fs.dirHandles[handle]
		if !file && !dir {
			break
		}
		handle++
	}
	fs.nextHandle = handle + 1
	return handle
}

// AddFileHandle registers an open file under its handle ID.
func (fs *Blockfs) AddFileHandle(f *blockfile.FsFile) {
	fs.lockHandle.Lock()
	defer fs.lockHandle.Unlock()
	fs.fileHandles[f.GetHandle()] = f
}

// GetFileHandle returns the open file for a handle ID.
func (fs *Blockfs) GetFileHandle(handle fuseops.HandleID) (*blockfile.FsFile, bool) {
	fs.lockHandle.Lock()
	defer fs.lockHandle.Unlock()
	f, ok := fs.fileHandles[handle]
	return f, ok
}

// AddDirHandle registers an open directory under its handle ID.
func (fs *Blockfs) AddDirHandle(handle fuseops.HandleID, d *blockdir.FsDir) {
	fs.lockHandle.Lock()
	defer fs.lockHandle.Unlock()
	fs.dirHandles[handle] = d
}

// GetDirHandle returns the open directory for a handle ID.
func (fs *Blockfs) GetDirHandle(handle fuseops.HandleID) (*blockdir.FsDir, bool) {
	fs.lockHandle.Lock()
	defer fs.lockHandle.Unlock()
	d, ok := fs.dirHandles[handle]
	return d, ok
}

// DeleteDirHandle deletes a dir handle.
func (fs *Blockfs) DeleteDirHandle(handle fuseops.HandleID) {
	fs.lockHandle.Lock()
	defer fs.lockHandle.Unlock()
	delete(fs.dirHandles, handle)
}

// DeleteFileHandle deletes a file handle.
func (fs *Blockfs) DeleteFileHandle(handle fuseops.HandleID) {
	fs.lockHandle.Lock()
	defer fs.lockHandle.Unlock()
	delete(fs.fileHandles, handle)
}

// NewInode creates a new inode.
func (fs *Blockfs) NewInode(parent fuseops.InodeID, name string, attr fsdb.InodeAttributes) *fsdb.Inode {
	ID := fs.NextInode()
	return fsdb.NewInode(uint64(ID), uint64(parent), name, attr)
}

// AddInode adds a new inode to the inode database.
func (fs *Blockfs) AddInode(inode *fsdb.Inode, attr bool) error {
	return fs.metadb.AddInode(inode, attr)
}

// GetInode gets an inode from the inode database.
func (fs *Blockfs) GetInode(inode fuseops.InodeID, name string, attr bool) (*fsdb.Inode, error) {
	return fs.metadb.GetInode(uint64(inode), name, attr)
}

// DeleteInode deletes an inode from the inode database.
func (fs *Blockfs) DeleteInode(inode *fsdb.Inode, attr bool) error {
	return fs.metadb.DeleteInode(inode, attr)
}

// CreateInodeAttrs creates inode attributes.
func (fs *Blockfs) CreateInodeAttrs(inode *fsdb.Inode) error {
	return fs.metadb.CreateInodeAttrs(inode)
}

// GetInodeAttrs gets inode attributes.
func (fs *Blockfs) GetInodeAttrs(inode fuseops.InodeID) (fuseops.InodeAttributes, error) {
	return fs.metadb.GetInodeAttrs(uint64(inode))
}

// DeleteInodeAttrs deletes inode attributes.
func (fs *Blockfs) DeleteInodeAttrs(inode fuseops.InodeID) error {
	return fs.metadb.DeleteInodeAttrs(uint64(inode))
}

// patchTime updates the in-flight attributes (not in db) with the
// current time.
func (fs *Blockfs) patchTime(attr *fuseops.InodeAttributes) time.Time {
	now := fs.Clock.Now()
	attr.Atime = now
	return now
}
