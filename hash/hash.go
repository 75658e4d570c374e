// Package hash is a fixed size table of striped RW locks keyed by
// inode ID. Two inodes contend only when their IDs collide modulo the
// table size.
package hash

import "sync"

type Hash struct {
	stripes []sync.RWMutex
	size    uint64
}

func New(size uint64) *Hash {
	return &Hash{
		stripes: make([]sync.RWMutex, size),
		size:    size,
	}
}

func (h *Hash) Lock(key uint64) {
	h.stripes[key%h.size].Lock()
}

func (h *Hash) Unlock(key uint64) {
	h.stripes[key%h.size].Unlock()
}

func (h *Hash) RLock(key uint64) {
	h.stripes[key%h.size].RLock()
}

func (h *Hash) RUnlock(key uint64) {
	h.stripes[key%h.size].RUnlock()
}
