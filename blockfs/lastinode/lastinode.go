// Package lastinode persists the highest handed out inode ID so a
// remount never reuses one. The hot path goes through an in memory
// value and a queue; a worker mirrors it to a marker file and to the
// state database.
package lastinode

import (
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/nutsdb/nutsdb"
	"github.com/rarydzu/blockfs/utils"
)

const (
	bucket    = "lastinode"
	queueSize = 1024
)

var dbKey = []byte("last")

type LastInodeEngine struct {
	Path         string
	LastInode    fuseops.InodeID
	InodeQueue   chan fuseops.InodeID
	shutdownWait sync.WaitGroup
	shutdown     chan bool
	lastFile     *os.File
	rlock        sync.RWMutex
	db           *nutsdb.DB
}

func New(path string, db *nutsdb.DB) *LastInodeEngine {
	return &LastInodeEngine{
		LastInode: 0,
		Path:      path,
		shutdown:  make(chan bool),
		db:        db,
	}
}

// Init reads the last stored inode ID and starts the persistence worker
func (l *LastInodeEngine) Init() error {
	l.InodeQueue = make(chan fuseops.InodeID, queueSize)
	if err := l.readLastInode(); err != nil {
		return err
	}
	l.shutdownWait.Add(1)
	go l.worker()
	return l.lock(true)
}

// lock creates or removes the lock file depending on flag
func (l *LastInodeEngine) lock(flag bool) error {
	lockPath := path.Join(l.Path, "lastinode.lock")
	if flag {
		f, err := os.Create(lockPath)
		if err != nil {
			return err
		}
		return f.Close()
	}
	if _, err := os.Stat(lockPath); err == nil {
		return os.Remove(lockPath)
	}
	return nil
}

func (l *LastInodeEngine) persistLastInode(inode fuseops.InodeID) error {
	if l.lastFile == nil {
		f, err := os.Create(path.Join(l.Path, "lastinode"))
		if err != nil {
			return err
		}
		l.lastFile = f
	}
	if _, err := l.lastFile.WriteString(fmt.Sprintf("%d", inode)); err != nil {
		return err
	}
	if _, err := l.lastFile.Seek(0, 0); err != nil {
		return err
	}
	if l.db == nil {
		return nil
	}
	return l.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucket, dbKey, utils.Uint64ToBytes(uint64(inode)), 0)
	})
}

func (l *LastInodeEngine) getInodeFromDb() error {
	if l.db == nil {
		return nil
	}
	var last uint64
	err := l.db.View(func(tx *nutsdb.Tx) error {
		entry, err := tx.Get(bucket, dbKey)
		if err != nil {
			return err
		}
		last = utils.BytesToUint64(entry.Value)
		return nil
	})
	if err != nil {
		if nutsdb.IsBucketNotFound(err) || nutsdb.IsKeyNotFound(err) {
			return nil
		}
		return err
	}
	l.rlock.Lock()
	l.LastInode = fuseops.InodeID(last)
	l.rlock.Unlock()
	return nil
}

func (l *LastInodeEngine) readLastInode() error {
	if _, err := os.Stat(path.Join(l.Path, "lastinode.lock")); err == nil {
		// unclean shutdown, the marker file may be stale
		return l.getInodeFromDb()
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("lastinode stat: %v", err)
	}
	f, err := os.Open(path.Join(l.Path, "lastinode"))
	if err != nil {
		if os.IsNotExist(err) {
			return l.getInodeFromDb()
		}
		return err
	}
	defer f.Close()
	var inode fuseops.InodeID
	if _, err := fmt.Fscanf(f, "%d", &inode); err != nil {
		return err
	}
	l.rlock.Lock()
	l.LastInode = inode
	l.rlock.Unlock()
	return nil
}

func (l *LastInodeEngine) worker() {
	defer l.shutdownWait.Done()
	for {
		select {
		case inode := <-l.InodeQueue:
			l.rlock.Lock()
			l.LastInode = inode
			l.rlock.Unlock()
			l.persistLastInode(inode)
		case <-l.shutdown:
			if len(l.InodeQueue) == 0 {
				return
			}
		}
	}
}

// StoreLastInode queues the last inode for persistence
func (l *LastInodeEngine) StoreLastInode(lastInode fuseops.InodeID) {
	l.InodeQueue <- lastInode
}

// GetLastInode returns the last handed out inode ID
func (l *LastInodeEngine) GetLastInode() fuseops.InodeID {
	l.rlock.RLock()
	inode := l.LastInode
	l.rlock.RUnlock()
	return inode
}

// Close stops the worker and releases the lock file
func (l *LastInodeEngine) Close() error {
	close(l.shutdown)
	l.shutdownWait.Wait()
	if l.lastFile != nil {
		l.lastFile.Sync()
		l.lastFile.Close()
	}
	return l.lock(false)
}
