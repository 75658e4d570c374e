// Package metacache is a write back cache for inode attribute records.
// Mutations land here first, the add/del callbacks journal them, and a
// background sweep evicts journaled entries once the table grows past
// its threshold.
package metacache

import (
	"errors"
	"sync"
	"time"

	"github.com/rarydzu/blockfs/utils"
)

var (
	ErrKeyNotFound = errors.New("no such key")
	ErrKeyDeleted  = errors.New("key deleted")
)

type CacheTable struct {
	table map[uint64]*CacheItem
	sync.RWMutex
	threshold         int
	minSize           int
	addCallback       func(key uint64, data []byte) error
	delCallback       func(key uint64, data []byte) error
	cacheFullCallback func(output chan string) error
	ticker            *time.Ticker
	stop              chan bool
	generation        uint64
	sweeping          bool
}

// NewCacheTable creates new cache table with an eviction threshold
func NewCacheTable(threshold int) *CacheTable {
	ct := &CacheTable{
		table:     make(map[uint64]*CacheItem),
		stop:      make(chan bool),
		ticker:    time.NewTicker(1 * time.Second),
		threshold: threshold,
		minSize:   int(float64(threshold) * 0.5),
	}
	go ct.sweeper()
	return ct
}

func (t *CacheTable) sweeper() {
	for {
		select {
		case <-t.ticker.C:
			t.expire()
			t.flushIfFull()
			t.evict()
		case <-t.stop:
			return
		}
	}
}

// expire drops items whose TTL has passed
func (t *CacheTable) expire() {
	t.Lock()
	defer t.Unlock()
	for key, item := range t.table {
		if item.GetTTL() > 0 && time.Since(item.GetLastAccess()) > item.GetTTL() {
			delete(t.table, key)
		}
	}
}

// flushIfFull runs the full callback when the table is over threshold,
// then marks the callback's output keys as journaled.
func (t *CacheTable) flushIfFull() {
	t.Lock()
	if len(t.table) <= t.threshold || t.sweeping {
		t.Unlock()
		return
	}
	t.generation++
	if t.cacheFullCallback == nil {
		t.Unlock()
		return
	}
	t.sweeping = true
	oldGeneration := t.generation - 1
	size := len(t.table)
	t.Unlock()

	processed := make(chan string, size)
	err := t.cacheFullCallback(processed)
	t.Lock()
	t.sweeping = false
	t.Unlock()
	if err != nil {
		return
	}
	go func() {
		for strKey := range processed {
			key := utils.BytesToUint64([]byte(strKey))
			t.Lock()
			if item, ok := t.table[key]; ok {
				if item.GetGeneration() == oldGeneration {
					item.SetProcessed(true)
				}
			}
			t.Unlock()
		}
	}()
}

// evict removes journaled items from previous generations until the
// table shrinks back to minSize.
func (t *CacheTable) evict() {
	t.Lock()
	defer t.Unlock()
	if len(t.table) <= t.threshold {
		return
	}
	for key, item := range t.table {
		if item.IsProcessed() && item.GetGeneration() != t.generation {
			delete(t.table, key)
			if len(t.table) <= t.minSize {
				break
			}
		}
	}
}

// Add adds new item to cache
func (t *CacheTable) Add(key uint64, data []byte, ttl time.Duration, opts ...Option) error {
	t.Lock()
	defer t.Unlock()
	t.table[key] = NewCacheItem(key, data, t.generation, ttl, opts...)
	if t.addCallback != nil {
		return t.addCallback(key, data)
	}
	return nil
}

// Set sets item in cache without triggering callbacks
func (t *CacheTable) Set(item *CacheItem) {
	t.Lock()
	defer t.Unlock()
	t.table[item.Key] = item
}

// Del tombstones item in cache
func (t *CacheTable) Del(key uint64) error {
	t.Lock()
	defer t.Unlock()
	item, ok := t.table[key]
	if !ok {
		return ErrKeyNotFound
	}
	item.SetTombstoned(true)
	if t.delCallback != nil {
		return t.delCallback(key, item.Data)
	}
	return nil
}

// Get returns item data from cache
func (t *CacheTable) Get(key uint64) ([]byte, error) {
	t.RLock()
	item, ok := t.table[key]
	t.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	if item.GetTTL() > 0 && time.Since(item.GetLastAccess()) > item.GetTTL() {
		t.Lock()
		delete(t.table, key)
		t.Unlock()
		return nil, ErrKeyNotFound
	}
	if item.IsTombstoned() {
		return nil, ErrKeyDeleted
	}
	return item.GetData(), nil
}

// Len returns number of items in cache
func (t *CacheTable) Len() int {
	t.RLock()
	defer t.RUnlock()
	return len(t.table)
}

// SetAddCallback sets the journal callback for added items
func (t *CacheTable) SetAddCallback(cb func(key uint64, data []byte) error) {
	t.Lock()
	defer t.Unlock()
	t.addCallback = cb
}

// SetDelCallback sets the journal callback for deleted items
func (t *CacheTable) SetDelCallback(cb func(key uint64, data []byte) error) {
	t.Lock()
	defer t.Unlock()
	t.delCallback = cb
}

// SetCacheFullCallback sets the callback run when the table overflows
func (t *CacheTable) SetCacheFullCallback(cb func(output chan string) error) {
	t.Lock()
	defer t.Unlock()
	t.cacheFullCallback = cb
}

// SetMinSize sets the size the table shrinks to on eviction
func (t *CacheTable) SetMinSize(size int) {
	t.Lock()
	defer t.Unlock()
	t.minSize = size
}

// Generation returns the current cache generation
func (t *CacheTable) Generation() uint64 {
	t.RLock()
	defer t.RUnlock()
	return t.generation
}

// Stop stops the background sweeper
func (t *CacheTable) Stop() {
	t.ticker.Stop()
	t.stop <- true
}
