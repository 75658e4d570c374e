package metacache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheTableCallbacks(t *testing.T) {
	counter := 0
	cache := NewCacheTable(1000)
	cache.SetAddCallback(func(key uint64, data []byte) error {
		counter += 1
		return nil
	})
	cache.SetDelCallback(func(key uint64, data []byte) error {
		counter -= 1
		return nil
	})
	cache.Add(uint64(1), []byte("data1"), 0)
	cache.Add(uint64(2), []byte("data2"), 0)
	cache.Add(uint64(3), []byte("data3"), 0)
	assert.Equal(t, 3, counter)
	cache.Del(uint64(1))
	assert.Equal(t, 2, counter)
	cache.Stop()
}

func TestCacheTableTombstone(t *testing.T) {
	cache := NewCacheTable(10)
	cache.Add(uint64(1), []byte("data1"), 0)
	cache.Del(uint64(1))
	_, err := cache.Get(uint64(1))
	assert.ErrorIs(t, err, ErrKeyDeleted)
	cache.Stop()
}

func TestCacheTableTTL(t *testing.T) {
	cache := NewCacheTable(10)
	cache.SetMinSize(10)
	cache.Add(uint64(1), []byte("data1"), 10*time.Second)
	cache.Add(uint64(2), []byte("data2"), 10*time.Second)
	cache.Add(uint64(3), []byte("data3"), 10*time.Millisecond)
	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, 2, cache.Len())
	cache.Stop()
}

func TestCacheTableEviction(t *testing.T) {
	cache := NewCacheTable(2)
	cache.SetMinSize(2)
	cache.Add(uint64(1), []byte("data1"), 0, WithProcessed(true))
	cache.Add(uint64(2), []byte("data2"), 0, WithProcessed(true))
	cache.Add(uint64(3), []byte("data3"), 0, WithProcessed(true))
	// second sweep tick evicts processed items from older generations
	time.Sleep(2100 * time.Millisecond)
	assert.LessOrEqual(t, cache.Len(), 2)
	cache.Stop()
}

func TestAddGet(t *testing.T) {
	cache := NewCacheTable(10005)
	for a := 0; a < 1000; a++ {
		if err := cache.Add(uint64(a), []byte("foo"), 0); err != nil {
			t.Errorf("cache.Add() failed: %v", err)
		}
	}
	for a := 0; a < 1000; a++ {
		if _, err := cache.Get(uint64(a)); err != nil {
			t.Errorf("cache.Get() failed: %v", err)
		}
	}
	cache.Stop()
}

func TestCacheItem(t *testing.T) {
	item := NewCacheItem(1, []byte("data"), 0, 1*time.Second)
	if item.GetKey() != 1 {
		t.Errorf("item.GetKey() != 1")
	}
	if string(item.GetData()) != "data" {
		t.Errorf("item.GetData() != \"data\"")
	}
	if item.GetTTL() != 1*time.Second {
		t.Errorf("item.GetTTL() != 1s")
	}
	item.SetTombstoned(true)
	if !item.IsTombstoned() {
		t.Errorf("item.IsTombstoned() != true")
	}
}
