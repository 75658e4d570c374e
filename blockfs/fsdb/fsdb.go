// Package fsdb keeps the inode table: the name index, the attribute
// records (block map included) and the write back path that carries a
// dirtied inode to stable storage through the cache and the WAL.
package fsdb

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/rarydzu/blockfs/blockfs/config"
	"github.com/rarydzu/blockfs/blockfs/metacache"
	"github.com/rarydzu/blockfs/blockfs/wal"
	"github.com/rarydzu/blockfs/utils"
	"github.com/syndtr/goleveldb/leveldb"
	lfilter "github.com/syndtr/goleveldb/leveldb/filter"
	lopt "github.com/syndtr/goleveldb/leveldb/opt"
	lutil "github.com/syndtr/goleveldb/leveldb/util"
	"github.com/ztrue/tracerr"
	"go.uber.org/zap"
)

var ErrNoSuchInode = errors.New("no such inode")

type Fsdb struct {
	istore     *leveldb.DB
	astore     *leveldb.DB
	Quit       chan bool
	path       string
	failedFile string
	aCache     *metacache.CacheTable
	Wal        *wal.WAL
	log        *zap.SugaredLogger
}

// New opens the inode databases, replays the WAL into the attribute
// cache and wires the cache callbacks to the WAL.
func New(config *config.Config, log *zap.SugaredLogger) (*Fsdb, error) {
	ipath := fmt.Sprintf("%s/inodes", config.Path)
	apath := fmt.Sprintf("%s/attrs", config.Path)
	wpath := fmt.Sprintf("%s/wal", config.Path)
	for _, p := range []string{ipath, apath, wpath} {
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, err
		}
	}
	io := &lopt.Options{
		Filter: lfilter.NewBloomFilter(1000),
	}
	istore, err := leveldb.OpenFile(ipath, io)
	if err != nil {
		return nil, err
	}
	ao := &lopt.Options{
		Filter: lfilter.NewBloomFilter(1000),
	}
	astore, err := leveldb.OpenFile(apath, ao)
	if err != nil {
		istore.Close()
		return nil, err
	}
	w, err := wal.New(wpath, astore)
	if err != nil {
		istore.Close()
		astore.Close()
		return nil, err
	}
	db := &Fsdb{
		istore:     istore,
		astore:     astore,
		Quit:       make(chan bool),
		path:       config.Path,
		failedFile: fmt.Sprintf("%s/broken.marker", config.Path),
		aCache:     metacache.NewCacheTable(config.CacheSizeOrDefault()),
		Wal:        w,
		log:        log,
	}
	if db.CheckIfFailed() {
		if err := db.Fsck(); err != nil {
			db.Close()
			return nil, err
		}
	}
	entries, err := db.Wal.Replay()
	if err != nil {
		db.Close()
		return nil, tracerr.Errorf("replaying WAL entries failed: %w", err)
	}
	for _, entry := range entries {
		key := utils.BytesToUint64(entry.Key)
		db.aCache.Set(metacache.NewCacheItem(key, entry.Value, 0, 0,
			metacache.WithTombstoned(entry.Tombstoned)))
	}
	db.aCache.SetAddCallback(func(key uint64, value []byte) error {
		return db.Wal.AddEntry(&wal.Entry{
			Key:   utils.Uint64ToBytes(key),
			Value: value,
		})
	})
	db.aCache.SetDelCallback(func(key uint64, value []byte) error {
		return db.Wal.AddEntry(&wal.Entry{
			Key:        utils.Uint64ToBytes(key),
			Value:      value,
			Tombstoned: true,
		})
	})
	db.aCache.SetCacheFullCallback(func(output chan string) error {
		return db.Wal.Dump(output)
	})
	return db, nil
}

// Close closes the fsdb
func (db *Fsdb) Close() error {
	close(db.Quit)
	db.aCache.Stop()
	ierr := db.istore.Close()
	aerr := db.astore.Close()
	if err := db.Wal.Close(); err != nil {
		return err
	}
	if ierr != nil {
		return ierr
	}
	return aerr
}

// IStore exposes the inode name index store, snapshots read it.
func (db *Fsdb) IStore() *leveldb.DB {
	return db.istore
}

// AStore exposes the attribute store, snapshots read it.
func (db *Fsdb) AStore() *leveldb.DB {
	return db.astore
}

// AddInode stores an inode, optionally with its attributes
func (db *Fsdb) AddInode(inode *Inode, attr bool) error {
	inodeKey := DbInodeKey(inode.ParentID, inode.Name)
	if err := db.istore.Put(inodeKey, inode.DbID(), nil); err != nil {
		return db.MarkAsFailed(err)
	}
	if attr {
		return db.CreateInodeAttrs(inode)
	}
	return nil
}

// GetInode gets an inode by parent and name
func (db *Fsdb) GetInode(parent uint64, name string, attr bool) (*Inode, error) {
	var inode Inode
	inodeKey := DbInodeKey(parent, name)
	val, err := db.istore.Get(inodeKey, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNoSuchInode
		}
		return nil, db.MarkAsFailed(err)
	}
	inode.InodeID = utils.BytesToUint64(val)
	inode.ParentID = parent
	inode.Name = name
	if attr {
		attrs, err := db.GetFsdbInodeAttributes(inode.InodeID)
		if err != nil {
			return nil, err
		}
		inode.Attrs = attrs
	}
	return &inode, nil
}

// DeleteInode deletes an inode
func (db *Fsdb) DeleteInode(inode *Inode, attr bool) error {
	inodeKey := DbInodeKey(inode.ParentID, inode.Name)
	if err := db.istore.Delete(inodeKey, nil); err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return ErrNoSuchInode
		}
		return err
	}
	if attr {
		return db.DeleteInodeAttrs(inode.InodeID)
	}
	return nil
}

// CreateInodeAttrs stores an inode's attributes
func (db *Fsdb) CreateInodeAttrs(inode *Inode) error {
	buf, err := inode.Attrs.Marshall()
	if err != nil {
		return err
	}
	return db.aCache.Add(inode.InodeID, buf, 0)
}

// GetFsdbInodeAttributes gets an inode's attributes, cache first
func (db *Fsdb) GetFsdbInodeAttributes(ID uint64) (InodeAttributes, error) {
	var iattrs InodeAttributes
	val, err := db.aCache.Get(ID)
	if err == nil {
		return iattrs, iattrs.Unmarshall(val)
	}
	if errors.Is(err, metacache.ErrKeyDeleted) {
		return iattrs, ErrNoSuchInode
	}
	v, err := db.astore.Get(utils.Uint64ToBytes(ID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return iattrs, ErrNoSuchInode
		}
		return iattrs, db.MarkAsFailed(err)
	}
	return iattrs, iattrs.Unmarshall(v)
}

// GetInodeAttrs gets an inode's fuseops attributes
func (db *Fsdb) GetInodeAttrs(ID uint64) (fuseops.InodeAttributes, error) {
	i, err := db.GetFsdbInodeAttributes(ID)
	return i.InodeAttributes, err
}

// UpdateInodeAttrs replaces an inode's attributes
func (db *Fsdb) UpdateInodeAttrs(ID uint64, attr InodeAttributes) error {
	buf, err := attr.Marshall()
	if err != nil {
		return err
	}
	return db.aCache.Add(ID, buf, 0)
}

// DeleteInodeAttrs deletes an inode's attributes
func (db *Fsdb) DeleteInodeAttrs(inodeID uint64) error {
	if err := db.aCache.Del(inodeID); err == nil {
		return nil
	}
	return db.astore.Delete(utils.Uint64ToBytes(inodeID), nil)
}

// MarkDirty pushes a mutated inode into the write back path. The data
// path treats metadata persistence as non failing, so problems are
// logged and the database is marked for a check instead.
func (db *Fsdb) MarkDirty(inode *Inode) {
	buf, err := inode.Attrs.Marshall()
	if err != nil {
		db.log.Errorf("MarkDirty(%d): marshall: %v", inode.InodeID, err)
		return
	}
	if err := db.aCache.Add(inode.InodeID, buf, 0); err != nil {
		db.log.Errorf("MarkDirty(%d): %v", inode.InodeID, err)
		db.MarkAsFailed(err)
	}
}

// MarkAsFailed marks database as bad and forces a check on next mount
func (db *Fsdb) MarkAsFailed(err error) error {
	if err == nil {
		return nil
	}
	f, oserr := os.Create(db.failedFile)
	if oserr != nil {
		return tracerr.Errorf("(%w). Failed to mark db as failed: %w", err, oserr)
	}
	defer f.Close()
	f.WriteString(fmt.Sprintf("Error: %v", err))
	return tracerr.Wrap(err)
}

// CheckIfFailed checks if database is marked as failed
func (db *Fsdb) CheckIfFailed() bool {
	_, err := os.Stat(db.failedFile)
	return err == nil
}

// GetChildren gets the children of an inode
func (db *Fsdb) GetChildren(inodeID uint64, offset int, limit int, key []byte) ([]*Inode, int, error) {
	values := []*Inode{}
	tmpValues := []*Inode{}
	prefix := []byte(fmt.Sprintf("%d:", inodeID))
	iter := db.istore.NewIterator(lutil.BytesPrefix(prefix), nil)
	if offset > 0 {
		iter.Seek(key)
	}
	for iter.Next() {
		kSlice := strings.SplitN(string(iter.Key()), ":", 2)
		name := kSlice[1]
		if len(name) == 0 {
			continue
		}
		tmpValues = append(tmpValues, &Inode{
			InodeID:  utils.BytesToUint64(iter.Value()),
			ParentID: inodeID,
			Name:     name,
		})
		if len(tmpValues) >= limit {
			break
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return values, len(values), err
	}
	for _, inode := range tmpValues {
		attrs, err := db.GetFsdbInodeAttributes(inode.InodeID)
		if err != nil {
			if errors.Is(err, ErrNoSuchInode) {
				continue
			}
			return values, len(values), err
		}
		inode.Attrs = attrs
		values = append(values, inode)
	}
	return values, len(values), nil
}

// GetChildrenCount gets the number of children of an inode
func (db *Fsdb) GetChildrenCount(inodeID uint64) (int, error) {
	c := 0
	prefix := []byte(fmt.Sprintf("%d:", inodeID))
	iter := db.istore.NewIterator(lutil.BytesPrefix(prefix), nil)
	for iter.Next() {
		c++
	}
	iter.Release()
	return c, iter.Error()
}

// Fsck checks the database for errors
func (db *Fsdb) Fsck() error {
	return fmt.Errorf("FSCK not implemented")
}

func InodeDirentType(mode os.FileMode) fuseutil.DirentType {
	if mode.IsDir() {
		return fuseutil.DT_Directory
	}
	if mode.IsRegular() {
		return fuseutil.DT_File
	}
	if mode&os.ModeSymlink != 0 {
		return fuseutil.DT_Link
	}
	return fuseutil.DT_Unknown
}
