// Package alloc hands out free physical blocks of the data device.
package alloc

import (
	"errors"
	"sync"

	"github.com/nutsdb/nutsdb"
	"github.com/rarydzu/blockfs/utils"
	"github.com/ztrue/tracerr"
)

const bucket = "blocks"

var ErrOutOfSpace = errors.New("no free blocks left on device")

// Engine tracks which physical blocks of the device are in use. The
// in-memory bitmap is authoritative; every allocation is mirrored to a
// nutsdb bucket so the set of used blocks survives a remount. Blocks
// are never given back: the filesystem does not reclaim data blocks.
type Engine struct {
	mu     sync.Mutex
	bitmap []uint64
	total  uint32
	used   uint32
	next   uint32
	db     *nutsdb.DB
}

// New creates an allocator for a device with total blocks and loads
// the used set from the database.
func New(db *nutsdb.DB, total uint32) (*Engine, error) {
	e := &Engine{
		bitmap: make([]uint64, (int(total)+63)/64),
		total:  total,
		db:     db,
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load() error {
	if e.db == nil {
		return nil
	}
	tx, err := e.db.Begin(false)
	if err != nil {
		return tracerr.Errorf("alloc load: %w", err)
	}
	iterator := nutsdb.NewIterator(tx, bucket, nutsdb.IteratorOptions{Reverse: false})
	ok, err := iterator.SetNext()
	if err != nil {
		if nutsdb.IsBucketNotFound(err) {
			return tx.Commit()
		}
		tx.Rollback()
		return tracerr.Errorf("alloc load: %w", err)
	}
	for ok {
		e.mark(utils.BytesToUint32(iterator.Entry().Key))
		ok, err = iterator.SetNext()
		if err != nil {
			tx.Rollback()
			return tracerr.Errorf("alloc load: %w", err)
		}
	}
	return tx.Commit()
}

func (e *Engine) mark(block uint32) {
	if block >= e.total {
		return
	}
	word := block / 64
	bit := uint64(1) << (block % 64)
	if e.bitmap[word]&bit == 0 {
		e.bitmap[word] |= bit
		e.used++
	}
}

func (e *Engine) inUse(block uint32) bool {
	return e.bitmap[block/64]&(uint64(1)<<(block%64)) != 0
}

// Alloc returns the number of a previously unused physical block, or
// ErrOutOfSpace when the device is full.
func (e *Engine) Alloc() (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.used >= e.total {
		return 0, ErrOutOfSpace
	}
	block := e.next
	for e.inUse(block) {
		block++
		if block >= e.total {
			block = 0
		}
	}
	if err := e.persist(block); err != nil {
		return 0, err
	}
	e.mark(block)
	e.next = block + 1
	if e.next >= e.total {
		e.next = 0
	}
	return block, nil
}

func (e *Engine) persist(block uint32) error {
	if e.db == nil {
		return nil
	}
	err := e.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucket, utils.Uint32ToBytes(block), []byte{1}, 0)
	})
	if err != nil {
		return tracerr.Errorf("alloc persist block %d: %w", block, err)
	}
	return nil
}

// InUse reports whether a physical block is allocated.
func (e *Engine) InUse(block uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if block >= e.total {
		return false
	}
	return e.inUse(block)
}

// Used returns the number of allocated blocks.
func (e *Engine) Used() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.used
}

// FreeBlocks returns the number of blocks still available.
func (e *Engine) FreeBlocks() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total - e.used
}

// TotalBlocks returns the device size in blocks.
func (e *Engine) TotalBlocks() uint32 {
	return e.total
}
