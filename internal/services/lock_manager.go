// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager hands out one logical mutex per session id.
type LockManager struct {
	sessionLocks map[string]*LockInfo
	globalLock   sync.Mutex
	lockTTL      time.Duration
	maxLocks     int
}

// LockInfo wraps a session mutex with bookkeeping for cleanup.
type LockInfo struct {
	Mutex    *sync.Mutex
	LastUsed time.Time
	refs     int
}

func NewLockManager() *LockManager {
	return &LockManager{
		sessionLocks: make(map[string]*LockInfo),
		lockTTL:      30 * time.Minute,
		maxLocks:     200,
	}
}

func (lm *LockManager) acquire(sessionID string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, ok := lm.sessionLocks[sessionID]
	if !ok {
		info = &LockInfo{Mutex: &sync.Mutex{}}
		lm.sessionLocks[sessionID] = info
	}
	info.refs++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	info.refs--
	info.LastUsed = time.Now()
}

// ExecuteWithSessionLock runs fn while holding the session's mutex. Commands
// for one session are serialized; different sessions run in parallel.
func (lm *LockManager) ExecuteWithSessionLock(sessionID string, fn func() error) error {
	info := lm.acquire(sessionID)
	defer lm.release(info)

	info.Mutex.Lock()
	defer info.Mutex.Unlock()
	return fn()
}

// Forget drops the lock of an evicted session if nobody holds it.
func (lm *LockManager) Forget(sessionID string) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	if info, ok := lm.sessionLocks[sessionID]; ok && info.refs == 0 {
		delete(lm.sessionLocks, sessionID)
	}
}

// CleanupUnusedLocks removes idle, unreferenced locks once the table grows
// past its soft limit.
func (lm *LockManager) CleanupUnusedLocks() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	if len(lm.sessionLocks) <= lm.maxLocks {
		return 0
	}
	removed := 0
	now := time.Now()
	for id, info := range lm.sessionLocks {
		if info.refs == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.sessionLocks, id)
			removed++
		}
	}
	return removed
}

// Len reports how many session locks exist.
func (lm *LockManager) Len() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.sessionLocks)
}
