package blockfs

import (
	"context"
	"errors"
	"os"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/rarydzu/blockfs/blockfs/alloc"
	"github.com/rarydzu/blockfs/blockfs/engine"
	blockfile "github.com/rarydzu/blockfs/blockfs/file"
	"github.com/rarydzu/blockfs/blockfs/fsdb"
)

// CreateFile Create a new file.
func (fs *Blockfs) CreateFile(
	ctx context.Context,
	op *fuseops.CreateFileOp) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	fs.locker.Lock(uint64(op.Parent))
	defer fs.locker.Unlock(uint64(op.Parent))
	i, err := fs.GetInode(op.Parent, op.Name, true)
	if err == nil {
		op.Entry.Child = i.ID()
		op.Entry.Attributes = i.Attrs.InodeAttributes
		return nil
	}
	t := fs.Clock.Now()
	inode := fs.NewInode(op.Parent, op.Name,
		fsdb.InodeAttributes{
			InodeAttributes: fuseops.InodeAttributes{
				Size:   0,
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
	if err := fs.AddInode(inode, true); err != nil {
		fs.log.Errorf("CreateFile(%d:%s): %v", op.Parent, op.Name, err)
		return fuse.EIO
	}
	f := blockfile.New(inode.ID(), fs.metadb, fs.engine)
	op.Handle = fs.FindNextHandle()
	f.SetHandle(op.Handle)
	fs.AddFileHandle(f)
	op.Entry.Child = inode.ID()
	op.Entry.Attributes = inode.Attrs.InodeAttributes
	return nil
}

// CreateLink Create a new link.
func (fs *Blockfs) CreateLink(
	ctx context.Context,
	op *fuseops.CreateLinkOp) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	fs.locker.Lock(uint64(op.Parent))
	defer fs.locker.Unlock(uint64(op.Parent))
	attr, err := fs.metadb.GetFsdbInodeAttributes(uint64(op.Target))
	if err != nil {
		if errors.Is(err, fsdb.ErrNoSuchInode) {
			return fuse.ENOENT
		}
		fs.log.Errorf("CreateLink(GetInodeAttrs) %d: %v", op.Target, err)
		return fuse.EIO
	}
	// A hard link shares the target's attribute record, block map
	// included, under a new directory entry.
	inode := fsdb.NewInode(uint64(op.Target), uint64(op.Parent), op.Name, attr)
	inode.Attrs.Nlink++
	if err = fs.AddInode(inode, true); err != nil {
		fs.log.Errorf("CreateLink(AddInode)(%d:%s): %v", op.Target, op.Name, err)
		return fuse.EIO
	}
	op.Entry.Child = inode.ID()
	op.Entry.Attributes = inode.Attrs.InodeAttributes
	return nil
}

// CreateSymlink Create a new symlink.
func (fs *Blockfs) CreateSymlink(
	ctx context.Context,
	op *fuseops.CreateSymlinkOp) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	fs.locker.Lock(uint64(op.Parent))
	defer fs.locker.Unlock(uint64(op.Parent))
	t := fs.Clock.Now()
	inode := fs.NewInode(op.Parent, op.Name,
		fsdb.InodeAttributes{
			Hash: op.Target,
			InodeAttributes: fuseops.InodeAttributes{
				Size:   0,
				Nlink:  1,
				Mode:   0777 | os.ModeSymlink,
				Rdev:   0,
				Uid:    fs.uid,
				Gid:    fs.gid,
				Ctime:  t,
				Mtime:  t,
				Atime:  t,
				Crtime: t,
			},
		})
	if err := fs.AddInode(inode, true); err != nil {
		fs.log.Errorf("CreateSymlink(AddInode)(%s:%s): %v", op.Target, op.Name, err)
		return fuse.EIO
	}
	op.Entry.Child = inode.ID()
	op.Entry.Attributes = inode.Attrs.InodeAttributes
	return nil
}

// ReadSymlink reports the stored symlink target.
func (fs *Blockfs) ReadSymlink(
	ctx context.Context,
	op *fuseops.ReadSymlinkOp) error {
	fs.locker.RLock(uint64(op.Inode))
	defer fs.locker.RUnlock(uint64(op.Inode))
	attr, err := fs.metadb.GetFsdbInodeAttributes(uint64(op.Inode))
	if err != nil {
		if errors.Is(err, fsdb.ErrNoSuchInode) {
			return fuse.ENOENT
		}
		fs.log.Errorf("ReadSymlink(GetInodeAttrs): %v", err)
		return fuse.EIO
	}
	if fsdb.InodeDirentType(attr.Mode) == fuseutil.DT_Link {
		op.Target = attr.Hash
	}
	return nil
}

// Rename rename a file or directory
func (fs *Blockfs) Rename(
	ctx context.Context,
	op *fuseops.RenameOp) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	fs.locker.Lock(uint64(op.OldParent))
	defer fs.locker.Unlock(uint64(op.OldParent))
	inode, err := fs.GetInode(op.OldParent, op.OldName, true)
	if err != nil {
		if errors.Is(err, fsdb.ErrNoSuchInode) {
			return fuse.ENOENT
		}
		fs.log.Errorf("Rename(GetInode)(%d:%s): %v", op.OldParent, op.OldName, err)
		return fuse.EIO
	}
	// Remove it from the source directory.
	if err = fs.DeleteInode(inode, false); err != nil {
		fs.log.Errorf("Rename(DeleteInode)(%d:%s): %v", inode.ParentID, inode.Name, err)
		return fuse.EIO
	}
	// Add it to the target directory.
	inode.SetParent(op.NewParent)
	inode.SetName(op.NewName)
	inode.SetAttrsParent(op.NewParent)
	t := fs.Clock.Now()
	inode.Attrs.Mtime = t
	inode.Attrs.Atime = t
	if err = fs.AddInode(inode, true); err != nil {
		fs.log.Errorf("Rename(AddInode)(%d:%s): %v", inode.ParentID, inode.Name, err)
		return fuse.EIO
	}
	return nil
}

// Unlink remove a file or directory
func (fs *Blockfs) Unlink(
	ctx context.Context,
	op *fuseops.UnlinkOp) error {
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
		fs.log.Errorf("Unlink(GetInode)(%d:%s): %v", op.Parent, op.Name, err)
		return fuse.EIO
	}
	if err = fs.DeleteInode(inode, false); err != nil {
		fs.log.Errorf("Unlink(DeleteInode)(%d:%s): %v", inode.ParentID, inode.Name, err)
		return fuse.EIO
	}
	if inode.Attrs.Mode&os.ModeSymlink != os.ModeSymlink {
		if inode.Attrs.Nlink > 1 {
			inode.Attrs.Nlink--
			if err = fs.CreateInodeAttrs(inode); err != nil {
				fs.log.Errorf("Unlink(CreateInodeAttrs)(%d): %v", inode.ID(), err)
				return fuse.EIO
			}
		} else {
			// The data blocks stay allocated; reclaiming them needs an
			// offline fsck pass.
			if err = fs.DeleteInodeAttrs(inode.ID()); err != nil {
				fs.log.Errorf("Unlink(DeleteInodeAttrs)(%d): %v", inode.ID(), err)
				return fuse.EIO
			}
		}
	}
	return nil
}

// OpenFile open a file
func (fs *Blockfs) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	fs.locker.Lock(uint64(op.Inode))
	defer fs.locker.Unlock(uint64(op.Inode))
	_, err := fs.GetInodeAttrs(op.Inode)
	if err != nil {
		if errors.Is(err, fsdb.ErrNoSuchInode) {
			return fuse.ENOENT
		}
		fs.log.Errorf("OpenFile(GetInodeAttrs)(%d): %v", op.Inode, err)
		return fuse.EIO
	}
	f := blockfile.New(op.Inode, fs.metadb, fs.engine)
	op.Handle = fs.FindNextHandle()
	f.SetHandle(op.Handle)
	fs.AddFileHandle(f)
	return nil
}

// ReadFile read a file
func (fs *Blockfs) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	fs.locker.RLock(uint64(op.Inode))
	defer fs.locker.RUnlock(uint64(op.Inode))
	handle, ok := fs.GetFileHandle(op.Handle)
	if !ok {
		return fuse.EINVAL
	}
	n, err := handle.ReadAt(op.Dst, int64(op.Offset))
	if err != nil {
		if errors.Is(err, fsdb.ErrNoSuchInode) {
			return fuse.ENOENT
		}
		fs.log.Errorf("ReadFile(%d): %v", op.Inode, err)
		return fuse.EIO
	}
	op.BytesRead = n
	return nil
}

// WriteFile write a file
func (fs *Blockfs) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	fs.locker.Lock(uint64(op.Inode))
	defer fs.locker.Unlock(uint64(op.Inode))
	handle, ok := fs.GetFileHandle(op.Handle)
	if !ok {
		return fuse.EINVAL
	}
	n, err := handle.WriteAt(op.Data, int64(op.Offset))
	if err != nil {
		switch {
		case errors.Is(err, fsdb.ErrNoSuchInode):
			return fuse.ENOENT
		case errors.Is(err, alloc.ErrOutOfSpace), errors.Is(err, engine.ErrFileTooBig):
			return syscall.ENOSPC
		case errors.Is(err, engine.ErrSparseWrite):
			return fuse.EINVAL
		}
		fs.log.Errorf("WriteFile(%d): %v", op.Inode, err)
		return fuse.EIO
	}
	// The kernel has no short write path, so report a partially
	// applied write as out of space after the engine kept what fit.
	if n < len(op.Data) {
		fs.log.Warnf("WriteFile(%d): short write %d of %d", op.Inode, n, len(op.Data))
		return syscall.ENOSPC
	}
	return nil
}

// FlushFile flush a file
func (fs *Blockfs) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	fs.locker.Lock(uint64(op.Inode))
	defer fs.locker.Unlock(uint64(op.Inode))
	if _, ok := fs.GetFileHandle(op.Handle); !ok {
		return fuse.EINVAL
	}
	return fs.syncDevice(op.Inode)
}

// SyncFile sync a file
func (fs *Blockfs) SyncFile(
	ctx context.Context,
	op *fuseops.SyncFileOp) error {
	fs.locker.Lock(uint64(op.Inode))
	defer fs.locker.Unlock(uint64(op.Inode))
	if _, ok := fs.GetFileHandle(op.Handle); !ok {
		return fuse.EINVAL
	}
	return fs.syncDevice(op.Inode)
}

// syncDevice pushes buffered device writes to stable storage.
func (fs *Blockfs) syncDevice(inode fuseops.InodeID) error {
	if err := fs.dev.Sync(); err != nil {
		fs.log.Errorf("sync(%d): %v", inode, err)
		return fuse.EIO
	}
	return nil
}

// ReleaseFileHandle release a file handle
func (fs *Blockfs) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	fs.DeleteFileHandle(op.Handle)
	return nil
}
