package dir

import (
	"github.com/jacobsa/fuse/fuseops"
	"github.com/rarydzu/blockfs/blockfs/fsdb"
)

// FsDir is one open directory handle with a small dentry cache so a
// paging ReadDir does not hit the database for every batch.
type FsDir struct {
	db       *fsdb.Fsdb
	inode    fuseops.InodeID
	offset   int
	name     string
	dentries []*fsdb.Inode
}

// New creates new FsDir object
func New(db *fsdb.Fsdb, inode fuseops.InodeID) *FsDir {
	return &FsDir{
		db:       db,
		inode:    inode,
		dentries: []*fsdb.Inode{},
	}
}

// GetDentries returns directory entries for the given offset
func (dir *FsDir) GetDentries(offset fuseops.DirOffset, size int) ([]*fsdb.Inode, error) {
	if offset == 0 && dir.offset > 0 {
		return dir.rewind(offset, size)
	}
	if offset >= fuseops.DirOffset(len(dir.dentries)) || len(dir.dentries) == 0 {
		return dir.dbEntries(size)
	}
	return dir.dentries[offset:], nil
}

// rewind re-reads from the database and reports entries only when the
// directory changed since the cached pass
func (dir *FsDir) rewind(offset fuseops.DirOffset, size int) ([]*fsdb.Inode, error) {
	dir.offset = 0
	dir.name = ""
	entries, err := dir.dbEntries(size)
	if err != nil {
		return nil, err
	}
	if len(entries) != len(dir.dentries) {
		return entries, nil
	}
	for x, inode := range entries {
		if inode.Name != dir.dentries[x].Name {
			return entries, nil
		}
	}
	return []*fsdb.Inode{}, nil
}

// dbEntries loads the next batch of entries from the database
func (dir *FsDir) dbEntries(size int) ([]*fsdb.Inode, error) {
	entries, n, err := dir.db.GetChildren(uint64(dir.inode), dir.offset, size, fsdb.DbInodeKey(uint64(dir.inode), dir.name))
	if err != nil {
		return nil, err
	}
	dir.offset += n
	if len(entries) > 0 {
		dir.name = entries[len(entries)-1].Name
	}
	dir.dentries = entries
	return entries, nil
}

// UpdateOffset updates the paging offset
func (dir *FsDir) UpdateOffset(offset int) {
	dir.offset = offset
}

// GetOffset returns the paging offset
func (dir *FsDir) GetOffset() int {
	return dir.offset
}

// UpdateName updates the last seen entry name
func (dir *FsDir) UpdateName(name string) {
	dir.name = name
}

// GetInodeID returns the directory inode ID
func (dir *FsDir) GetInodeID() fuseops.InodeID {
	return dir.inode
}
