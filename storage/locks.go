package storage

import (
	"sort"
	"sync"
)

// VideoLocks serializes writers per video while letting readers share.
// Re-ingestion takes the write lock so scoped retrieval sees either the old
// chunk set or the new one, never a mix.
type VideoLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewVideoLocks() *VideoLocks {
	return &VideoLocks{locks: map[string]*sync.RWMutex{}}
}

func (v *VideoLocks) get(videoID string) *sync.RWMutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.locks[videoID]
	if !ok {
		l = &sync.RWMutex{}
		v.locks[videoID] = l
	}
	return l
}

func (v *VideoLocks) Lock(videoID string)    { v.get(videoID).Lock() }
func (v *VideoLocks) Unlock(videoID string)  { v.get(videoID).Unlock() }
func (v *VideoLocks) RLock(videoID string)   { v.get(videoID).RLock() }
func (v *VideoLocks) RUnlock(videoID string) { v.get(videoID).RUnlock() }

// RLockAll read-locks a set of videos in sorted order to avoid lock-order
// inversion with concurrent multi-video readers.
func (v *VideoLocks) RLockAll(videoIDs []string) func() {
	ids := append([]string(nil), videoIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		v.RLock(id)
	}
	return func() {
		for i := len(ids) - 1; i >= 0; i-- {
			v.RUnlock(ids[i])
		}
	}
}
