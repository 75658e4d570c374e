package blockfs

import (
	"context"
	"errors"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/rarydzu/blockfs/blockfs/fsdb"
)

// MkNode - Create a new inode.
func (fs *Blockfs) MkNode(
	ctx context.Context,
	op *fuseops.MkNodeOp) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	fs.locker.Lock(uint64(op.Parent))
	defer fs.locker.Unlock(uint64(op.Parent))
	t := fs.Clock.Now()
	inode := fs.NewInode(op.Parent, op.Name, fsdb.InodeAttributes{
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
	})
	if err := fs.AddInode(inode, true); err != nil {
		fs.log.Errorf("MkNode(%d:%s): %v", op.Parent, op.Name, err)
		return fuse.EIO
	}
	op.Entry.Child = inode.ID()
	op.Entry.Attributes = inode.Attrs.InodeAttributes
	return nil
}

// LookUpInode looks up a child inode by name and reports its attributes.
func (fs *Blockfs) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	fs.locker.RLock(uint64(op.Parent))
	defer fs.locker.RUnlock(uint64(op.Parent))
	inode, err := fs.GetInode(op.Parent, op.Name, true)
	if err != nil {
		if errors.Is(err, fsdb.ErrNoSuchInode) {
			return fuse.ENOENT
		}
		fs.log.Errorf("LookUpInode(%d:%s): %v", op.Parent, op.Name, err)
		return fuse.EIO
	}
	op.Entry.Child = inode.ID()
	op.Entry.Attributes = inode.Attrs.InodeAttributes
	return nil
}

// GetInodeAttributes looks up an inode and reports its attributes.
func (fs *Blockfs) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	fs.locker.RLock(uint64(op.Inode))
	defer fs.locker.RUnlock(uint64(op.Inode))
	attrs, err := fs.GetInodeAttrs(op.Inode)
	if err != nil {
		if errors.Is(err, fsdb.ErrNoSuchInode) {
			return fuse.ENOENT
		}
		fs.log.Errorf("GetInodeAttributes(%d): %v", op.Inode, err)
		return fuse.EIO
	}
	fs.patchTime(&attrs)
	op.Attributes = attrs
	return nil
}

// SetInodeAttributes sets the attributes of an inode.
func (fs *Blockfs) SetInodeAttributes(
	ctx context.Context,
	op *fuseops.SetInodeAttributesOp) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	fs.locker.Lock(uint64(op.Inode))
	defer fs.locker.Unlock(uint64(op.Inode))
	attrs, err := fs.metadb.GetFsdbInodeAttributes(uint64(op.Inode))
	if err != nil {
		if errors.Is(err, fsdb.ErrNoSuchInode) {
			fs.log.Debugf("SetInodeAttributes(%d): %v", op.Inode, err)
			return nil
		}
		fs.log.Errorf("SetInodeAttributes(%d): %v", op.Inode, err)
		return fuse.EIO
	}
	if op.Size != nil {
		// Size changes adjust bookkeeping only. Shrinking does not
		// release blocks and growing does not allocate them; reads
		// past the mapped range come back truncated until the data is
		// written.
		attrs.Size = *op.Size
	}
	if op.Mode != nil {
		attrs.Mode = *op.Mode
	}
	if op.Uid != nil {
		attrs.Uid = *op.Uid
	}
	if op.Gid != nil {
		attrs.Gid = *op.Gid
	}
	if op.Atime != nil {
		attrs.Atime = *op.Atime
	}
	if op.Mtime != nil {
		attrs.Mtime = *op.Mtime
	}
	attrs.Ctime = fs.Clock.Now()
	if err := fs.metadb.UpdateInodeAttrs(uint64(op.Inode), attrs); err != nil {
		fs.log.Errorf("SetInodeAttributes(UpdateInodeAttrs)(%d): %v", op.Inode, err)
		return fuse.EIO
	}
	op.Attributes = attrs.InodeAttributes
	return nil
}

// ForgetInode - Forget about an inode.
func (fs *Blockfs) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	return nil
}
