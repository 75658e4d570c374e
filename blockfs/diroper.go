package blockfs

import (
	"context"
	"errors"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	blockdir "github.com/rarydzu/blockfs/blockfs/dir"
	"github.com/rarydzu/blockfs/blockfs/fsdb"
)

// MkDir creates a new directory.
func (fs *Blockfs) MkDir(
	ctx context.Context,
	op *fuseops.MkDirOp) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	fs.locker.Lock(uint64(op.Parent))
	defer fs.locker.Unlock(uint64(op.Parent))
	_, err := fs.GetInode(op.Parent, op.Name, false)
	if err == nil {
		fs.log.Infof("MkDir(%d:%s): already exists", op.Parent, op.Name)
		return fuse.EEXIST
	}
	t := fs.Clock.Now()
	inode := fs.NewInode(op.Parent, op.Name,
		fsdb.InodeAttributes{
			InodeAttributes: fuseops.InodeAttributes{
				Size:   4096,
				Nlink:  1,
				Mode:   op.Mode,
				Rdev:   0,
				Uid:    fs.uid,
				Gid:    fs.gid,
				Atime:  t,
				Mtime:  t,
				Ctime:  t,
				Crtime: t,
			},
		},
	)
	if err = fs.AddInode(inode, true); err != nil {
		fs.log.Errorf("MkDir(%d:%s): %v", op.Parent, op.Name, err)
		return fuse.EIO
	}
	op.Entry.Child = inode.ID()
	op.Entry.Attributes = inode.Attrs.InodeAttributes
	return nil
}

// OpenDir opens a directory for reading.
func (fs *Blockfs) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	fs.locker.RLock(uint64(op.Inode))
	defer fs.locker.RUnlock(uint64(op.Inode))
	attr, err := fs.GetInodeAttrs(op.Inode)
	if err != nil {
		if errors.Is(err, fsdb.ErrNoSuchInode) {
			return fuse.ENOENT
		}
		fs.log.Errorf("OpenDir(GetInodeAttrs)(%d): %v", op.Inode, err)
		return fuse.EIO
	}
	if fsdb.InodeDirentType(attr.Mode) != fuseutil.DT_Directory {
		return fuse.ENOTDIR
	}
	op.Handle = fs.FindNextHandle()
	fs.AddDirHandle(op.Handle, blockdir.New(fs.metadb, op.Inode))
	return nil
}

// ReadDir reads a directory.
func (fs *Blockfs) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	fs.locker.RLock(uint64(op.Inode))
	defer fs.locker.RUnlock(uint64(op.Inode))
	dir, ok := fs.GetDirHandle(op.Handle)
	if !ok {
		return fuse.ENOTDIR
	}
	if op.Inode != dir.GetInodeID() {
		fs.log.Errorf("ReadDir(%d): wrong inode %d", op.Inode, dir.GetInodeID())
		return fuse.EINVAL
	}
	inodeEntries, err := dir.GetDentries(op.Offset, len(op.Dst))
	if err != nil {
		fs.log.Errorf("ReadDir(%d): %v", op.Inode, err)
		return fuse.EIO
	}
	for x, inode := range inodeEntries {
		dirent := fuseutil.Dirent{
			Offset: op.Offset + fuseops.DirOffset(x+1),
			Inode:  inode.ID(),
			Name:   inode.Name,
			Type:   fsdb.InodeDirentType(inode.Attrs.Mode),
		}
		op.BytesRead += fuseutil.WriteDirent(
			op.Dst[op.BytesRead:],
			dirent,
		)
		// Stop if we've filled the buffer.
		if op.BytesRead == len(op.Dst) {
			op.Offset = fuseops.DirOffset(x + 1)
			dir.UpdateOffset(int(op.Offset))
			dir.UpdateName(inode.Name)
			return nil
		}
	}
	op.Offset = fuseops.DirOffset(len(inodeEntries))
	return nil
}

// RmDir removes a directory.
func (fs *Blockfs) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	fs.locker.Lock(uint64(op.Parent))
	defer fs.locker.Unlock(uint64(op.Parent))
	inode, err := fs.GetInode(op.Parent, op.Name, true)
	if err != nil {
		if errors.Is(err, fsdb.ErrNoSuchInode) {
			return fuse.ENOENT
		}
		fs.log.Errorf("RmDir(GetInode)(%d:%s): %v", op.Parent, op.Name, err)
		return fuse.EIO
	}
	if fsdb.InodeDirentType(inode.Attrs.Mode) != fuseutil.DT_Directory {
		return fuse.ENOTDIR
	}
	children, err := fs.metadb.GetChildrenCount(inode.InodeID)
	if err != nil {
		fs.log.Errorf("RmDir(GetChildrenCount)(%d): %v", inode.ID(), err)
		return fuse.EIO
	}
	if children > 0 {
		return fuse.ENOTEMPTY
	}
	if err = fs.metadb.DeleteInode(inode, true); err != nil {
		fs.log.Errorf("RmDir(DeleteInode)(%d): %v", inode.ID(), err)
		return fuse.EIO
	}
	return nil
}

// ReleaseDirHandle releases a directory handle.
func (fs *Blockfs) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	fs.DeleteDirHandle(op.Handle)
	return nil
}
