// Package engine moves file bytes between a request buffer and the
// data device, one block sized chunk at a time. It owns the transfer
// loops for read and write, grows the inode's block map on demand and
// keeps size and timestamps current.
package engine

import (
	"errors"

	"github.com/jacobsa/timeutil"
	"github.com/rarydzu/blockfs/blockfs/extent"
	"github.com/rarydzu/blockfs/blockfs/fsdb"
	"go.uber.org/zap"
)

var (
	// ErrFileTooBig means the write would need a logical block past the
	// last block map slot.
	ErrFileTooBig = errors.New("file has reached its maximum size")
	// ErrSparseWrite means the write starts past the allocated frontier.
	// Block allocation is strictly sequential, so a seek beyond
	// Blocks*BlockSize followed by a write cannot be mapped.
	ErrSparseWrite = errors.New("write beyond the allocated blocks is not supported")
)

// Allocator hands out one free physical block per call.
type Allocator interface {
	Alloc() (uint32, error)
}

// Store copies bytes to and from a physical block at an offset inside
// that block. A chunk never crosses a block boundary.
type Store interface {
	ReadAt(block uint32, off uint32, p []byte) error
	WriteAt(block uint32, off uint32, p []byte) error
}

// Dirtier is told when inode metadata changed and has to reach the
// metadata store eventually. It must not fail.
type Dirtier interface {
	MarkDirty(inode *fsdb.Inode)
}

type Engine struct {
	store      Store
	alloc      Allocator
	dirty      Dirtier
	clock      timeutil.Clock
	log        *zap.SugaredLogger
	blockSize  uint32
	maxExtents uint32
}

func New(store Store, alloc Allocator, dirty Dirtier, clock timeutil.Clock,
	blockSize, maxExtents uint32, log *zap.SugaredLogger) *Engine {
	return &Engine{
		store:      store,
		alloc:      alloc,
		dirty:      dirty,
		clock:      clock,
		log:        log,
		blockSize:  blockSize,
		maxExtents: maxExtents,
	}
}

// BlockSize returns the fixed block size in bytes.
func (e *Engine) BlockSize() uint32 {
	return e.blockSize
}

// MaxFileSize returns the largest representable file size in bytes.
func (e *Engine) MaxFileSize() uint64 {
	return uint64(e.maxExtents) * uint64(e.blockSize)
}

// ReadAt copies up to len(p) bytes starting at off into p and returns
// how many bytes it placed there. Reading at or past the recorded size
// returns 0 and no error. A short count with a nil error means end of
// file or a block map that backs fewer bytes than the size claims; a
// device fault fails the whole call and the partial count is dropped.
//
// The caller must hold the per inode lock for the duration of the call.
func (e *Engine) ReadAt(inode *fsdb.Inode, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative read offset")
	}
	pos := uint64(off)
	size := inode.Attrs.Size
	if pos >= size {
		return 0, nil
	}
	remaining := len(p)
	if pos+uint64(remaining) > size {
		remaining = int(size - pos)
	}
	n := 0
	for remaining > 0 {
		c := extent.Next(pos, remaining, e.blockSize)
		physical, ok := inode.PhysicalBlock(c.Index)
		if !ok {
			// The size promises bytes the block map does not back.
			// Served as a short read rather than an error.
			e.log.Warnf("read(%d): size %d not backed by %d mapped blocks",
				inode.InodeID, size, inode.Attrs.Blocks)
			break
		}
		if err := e.store.ReadAt(physical, c.Offset, p[n:n+c.Len]); err != nil {
			return 0, err
		}
		pos += uint64(c.Len)
		remaining -= c.Len
		n += c.Len
	}
	return n, nil
}

// WriteAt copies p into the file starting at off, allocating data
// blocks as the write crosses the allocated frontier, and returns how
// many bytes it stored. When the device or the block map fills up mid
// call the bytes written so far are reported as a short write with a
// nil error; the same condition before any byte went out is an error.
// A device fault always fails the whole call.
//
// On a device fault after a fresh allocation the new block stays in
// the block map even though the call reports failure; its contents may
// be partial. There is no rollback of allocations.
//
// The caller must hold the per inode lock for the duration of the call.
func (e *Engine) WriteAt(inode *fsdb.Inode, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative write offset")
	}
	if len(p) == 0 {
		return 0, nil
	}
	pos := uint64(off)
	remaining := len(p)
	n := 0
	for remaining > 0 {
		c := extent.Next(pos, remaining, e.blockSize)
		if c.Index >= uint64(e.maxExtents) {
			if n > 0 {
				break
			}
			return 0, ErrFileTooBig
		}
		if c.Index > uint64(inode.Attrs.Blocks) {
			// Possible only on the first iteration: the loop advances
			// contiguously afterwards. Fail fast instead of mismapping.
			return 0, ErrSparseWrite
		}
		var physical uint32
		if c.Index == uint64(inode.Attrs.Blocks) {
			block, err := e.alloc.Alloc()
			if err != nil {
				if n > 0 {
					break
				}
				return 0, err
			}
			inode.AppendBlock(block)
			physical = block
		} else {
			physical, _ = inode.PhysicalBlock(c.Index)
		}
		if err := e.store.WriteAt(physical, c.Offset, p[n:n+c.Len]); err != nil {
			return 0, err
		}
		pos += uint64(c.Len)
		remaining -= c.Len
		n += c.Len
	}
	if pos > inode.Attrs.Size {
		inode.Attrs.Size = pos
	}
	now := e.clock.Now()
	inode.Attrs.Mtime = now
	inode.Attrs.Ctime = now
	e.dirty.MarkDirty(inode)
	return n, nil
}
