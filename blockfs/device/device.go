// Package device gives raw byte access to fixed size blocks of a backing store.
package device

import (
	"errors"
	"os"

	"github.com/ztrue/tracerr"
)

var (
	ErrBadBlock      = errors.New("physical block out of device range")
	ErrChunkTooLarge = errors.New("chunk does not fit inside one block")
)

// Store copies bytes to and from a physical block at a byte offset
// inside that block. A chunk never crosses a block boundary.
type Store interface {
	ReadAt(block uint32, off uint32, p []byte) error
	WriteAt(block uint32, off uint32, p []byte) error
	BlockSize() uint32
	TotalBlocks() uint32
	Sync() error
	Close() error
}

// FileStore is a Store backed by a single regular file.
type FileStore struct {
	file        *os.File
	blockSize   uint32
	totalBlocks uint32
}

// OpenFileStore opens or creates the device file and extends it to its
// full size so that every block is addressable.
func OpenFileStore(path string, blockSize, totalBlocks uint32) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, tracerr.Errorf("open device %s: %w", path, err)
	}
	size := int64(blockSize) * int64(totalBlocks)
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, tracerr.Errorf("stat device %s: %w", path, err)
	}
	if fi.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, tracerr.Errorf("extend device %s: %w", path, err)
		}
	}
	return &FileStore{
		file:        f,
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
	}, nil
}

func (s *FileStore) check(block uint32, off uint32, n int) error {
	if block >= s.totalBlocks {
		return ErrBadBlock
	}
	if uint64(off)+uint64(n) > uint64(s.blockSize) {
		return ErrChunkTooLarge
	}
	return nil
}

func (s *FileStore) ReadAt(block uint32, off uint32, p []byte) error {
	if err := s.check(block, off, len(p)); err != nil {
		return err
	}
	pos := int64(block)*int64(s.blockSize) + int64(off)
	if _, err := s.file.ReadAt(p, pos); err != nil {
		return tracerr.Errorf("device read block %d off %d: %w", block, off, err)
	}
	return nil
}

func (s *FileStore) WriteAt(block uint32, off uint32, p []byte) error {
	if err := s.check(block, off, len(p)); err != nil {
		return err
	}
	pos := int64(block)*int64(s.blockSize) + int64(off)
	if _, err := s.file.WriteAt(p, pos); err != nil {
		return tracerr.Errorf("device write block %d off %d: %w", block, off, err)
	}
	return nil
}

func (s *FileStore) BlockSize() uint32 {
	return s.blockSize
}

func (s *FileStore) TotalBlocks() uint32 {
	return s.totalBlocks
}

func (s *FileStore) Sync() error {
	return s.file.Sync()
}

func (s *FileStore) Close() error {
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// MemStore is a Store kept entirely in memory, used by tests and
// throwaway filesystems.
type MemStore struct {
	data        []byte
	blockSize   uint32
	totalBlocks uint32
}

func NewMemStore(blockSize, totalBlocks uint32) *MemStore {
	return &MemStore{
		data:        make([]byte, int64(blockSize)*int64(totalBlocks)),
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
	}
}

func (s *MemStore) check(block uint32, off uint32, n int) error {
	if block >= s.totalBlocks {
		return ErrBadBlock
	}
	if uint64(off)+uint64(n) > uint64(s.blockSize) {
		return ErrChunkTooLarge
	}
	return nil
}

func (s *MemStore) ReadAt(block uint32, off uint32, p []byte) error {
	if err := s.check(block, off, len(p)); err != nil {
		return err
	}
	pos := int64(block)*int64(s.blockSize) + int64(off)
	copy(p, s.data[pos:])
	return nil
}

func (s *MemStore) WriteAt(block uint32, off uint32, p []byte) error {
	if err := s.check(block, off, len(p)); err != nil {
		return err
	}
	pos := int64(block)*int64(s.blockSize) + int64(off)
	copy(s.data[pos:], p)
	return nil
}

func (s *MemStore) BlockSize() uint32 {
	return s.blockSize
}

func (s *MemStore) TotalBlocks() uint32 {
	return s.totalBlocks
}

func (s *MemStore) Sync() error {
	return nil
}

func (s *MemStore) Close() error {
	s.data = nil
	return nil
}
