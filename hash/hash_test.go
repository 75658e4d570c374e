package hash

import (
	"sync"
	"testing"
	"time"
)

func TestLockUnlock(t *testing.T) {
	h := New(10)
	done := make(chan bool, 1)
	go func() {
		h.Lock(1)
		defer h.Unlock(1)
		h.Lock(2)
		defer h.Unlock(2)
		done <- true
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("lock sequence did not complete")
	}
}

func TestStripeAliasing(t *testing.T) {
	h := New(10)
	h.Lock(3)
	locked := make(chan bool, 1)
	go func() {
		// 13 aliases to the same stripe as 3
		h.Lock(13)
		h.Unlock(13)
		locked <- true
	}()
	select {
	case <-locked:
		t.Error("aliased key acquired a held stripe")
	case <-time.After(100 * time.Millisecond):
	}
	h.Unlock(3)
	select {
	case <-locked:
	case <-time.After(2 * time.Second):
		t.Error("aliased key never acquired the stripe")
	}
}

func TestConcurrentReaders(t *testing.T) {
	h := New(4)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(key uint64) {
			defer wg.Done()
			h.RLock(key)
			defer h.RUnlock(key)
			time.Sleep(10 * time.Millisecond)
		}(uint64(i))
	}
	done := make(chan bool)
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("readers deadlocked")
	}
}
