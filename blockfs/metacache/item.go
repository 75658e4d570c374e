package metacache

import (
	"encoding/json"
	"sync"
	"time"
)

type CacheItem struct {
	sync.RWMutex `json:"-"`
	// Key identifies the inode the attributes belong to
	Key uint64 `json:"key"`
	// Data is the marshalled attribute record
	Data []byte `json:"data"`
	// Ttl is time to live for the item, zero means no expiry
	Ttl time.Duration `json:"ttl"`
	// LastAccess is the time the item was last read
	LastAccess time.Time `json:"lastAccess"`
	// Generation is the cache generation the item was written in
	Generation uint64 `json:"generation"`
	// Tombstoned marks the record as deleted
	Tombstoned bool `json:"tombstoned"`
	// Processed marks the item as already journaled to the database
	Processed bool `json:"processed"`
}

type Option func(*CacheItem)

func WithProcessed(processed bool) Option {
	return func(item *CacheItem) {
		item.Processed = processed
	}
}

func WithTombstoned(tombstoned bool) Option {
	return func(item *CacheItem) {
		item.Tombstoned = tombstoned
	}
}

// NewCacheItem creates new cache item
func NewCacheItem(key uint64, data []byte, generation uint64, ttl time.Duration, opts ...Option) *CacheItem {
	ci := &CacheItem{
		Key:        key,
		Data:       data,
		Ttl:        ttl,
		LastAccess: time.Now(),
		Generation: generation,
	}
	for _, opt := range opts {
		opt(ci)
	}
	return ci
}

// GetData returns the stored record and refreshes the access time
func (item *CacheItem) GetData() []byte {
	item.Lock()
	defer item.Unlock()
	item.LastAccess = time.Now()
	return item.Data
}

func (item *CacheItem) GetKey() uint64 {
	item.RLock()
	defer item.RUnlock()
	return item.Key
}

func (item *CacheItem) GetTTL() time.Duration {
	item.RLock()
	defer item.RUnlock()
	return item.Ttl
}

func (item *CacheItem) GetLastAccess() time.Time {
	item.RLock()
	defer item.RUnlock()
	return item.LastAccess
}

func (item *CacheItem) GetGeneration() uint64 {
	item.RLock()
	defer item.RUnlock()
	return item.Generation
}

func (item *CacheItem) SetData(data []byte) {
	item.Lock()
	defer item.Unlock()
	item.Data = data
}

func (item *CacheItem) SetTombstoned(tombstoned bool) {
	item.Lock()
	defer item.Unlock()
	item.Tombstoned = tombstoned
}

func (item *CacheItem) IsTombstoned() bool {
	item.RLock()
	defer item.RUnlock()
	return item.Tombstoned
}

func (item *CacheItem) SetProcessed(processed bool) {
	item.Lock()
	defer item.Unlock()
	item.Processed = processed
}

func (item *CacheItem) IsProcessed() bool {
	item.RLock()
	defer item.RUnlock()
	return item.Processed
}

// Marshall marshalls item to json
func (item *CacheItem) Marshall() ([]byte, error) {
	item.RLock()
	defer item.RUnlock()
	return json.Marshal(item)
}

// Unmarshall unmarshalls item from json
func (item *CacheItem) Unmarshall(data []byte) error {
	item.Lock()
	defer item.Unlock()
	return json.Unmarshal(data, item)
}
