package storage

import (
	"sync"
	"testing"
	"time"
)

func TestVideoLocksWriterExcludesReaders(t *testing.T) {
	locks := NewVideoLocks()
	locks.Lock("v1")

	acquired := make(chan struct{})
	go func() {
		locks.RLock("v1")
		locks.RUnlock("v1")
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("reader acquired lock while writer held it")
	case <-time.After(20 * time.Millisecond):
	}

	locks.Unlock("v1")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired lock after writer released")
	}
}

func TestVideoLocksIndependentPerVideo(t *testing.T) {
	locks := NewVideoLocks()
	locks.Lock("v1")
	defer locks.Unlock("v1")

	done := make(chan struct{})
	go func() {
		locks.Lock("v2")
		locks.Unlock("v2")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on v2 blocked by writer on v1")
	}
}

func TestRLockAllConcurrent(t *testing.T) {
	locks := NewVideoLocks()
	ids := []string{"c", "a", "b"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				unlock := locks.RLockAll(ids)
				unlock()
			}
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent multi-video read locking deadlocked")
	}
}
