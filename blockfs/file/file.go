// Package file binds an open file handle to the inode database and the
// block I/O engine.
package file

import (
	"github.com/jacobsa/fuse/fuseops"
	"github.com/rarydzu/blockfs/blockfs/engine"
	"github.com/rarydzu/blockfs/blockfs/fsdb"
)

type FsFile struct {
	inode  fuseops.InodeID
	handle fuseops.HandleID
	db     *fsdb.Fsdb
	eng    *engine.Engine
}

// New creates new FsFile object
func New(inode fuseops.InodeID, db *fsdb.Fsdb, eng *engine.Engine) *FsFile {
	return &FsFile{
		inode: inode,
		db:    db,
		eng:   eng,
	}
}

// load materializes the inode record the engine operates on. The
// attribute cache makes this cheap; attrs carry the block map.
func (file *FsFile) load() (*fsdb.Inode, error) {
	attrs, err := file.db.GetFsdbInodeAttributes(uint64(file.inode))
	if err != nil {
		return nil, err
	}
	return &fsdb.Inode{
		InodeID:  uint64(file.inode),
		ParentID: attrs.ParentID,
		Attrs:    attrs,
	}, nil
}

// ReadAt reads up to len(b) bytes at off through the block engine.
// The caller holds the per inode lock.
func (file *FsFile) ReadAt(b []byte, off int64) (int, error) {
	inode, err := file.load()
	if err != nil {
		return 0, err
	}
	return file.eng.ReadAt(inode, b, off)
}

// WriteAt writes b at off through the block engine. The engine updates
// size and timestamps and marks the inode dirty. The caller holds the
// per inode lock.
func (file *FsFile) WriteAt(b []byte, off int64) (int, error) {
	inode, err := file.load()
	if err != nil {
		return 0, err
	}
	return file.eng.WriteAt(inode, b, off)
}

// Size returns the current file size.
func (file *FsFile) Size() (uint64, error) {
	inode, err := file.load()
	if err != nil {
		return 0, err
	}
	return inode.Attrs.Size, nil
}

func (file *FsFile) GetInode() fuseops.InodeID {
	return file.inode
}

func (file *FsFile) GetHandle() fuseops.HandleID {
	return file.handle
}

func (file *FsFile) SetHandle(handle fuseops.HandleID) {
	file.handle = handle
}
