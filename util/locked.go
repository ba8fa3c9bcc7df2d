package util

import "sync"

// MutexLocked is a sync.Mutex with one convenience method, so call
// sites read as `defer x.Locked()()` instead of a separate Lock/defer
// Unlock pair.
type MutexLocked sync.Mutex

func (self *MutexLocked) Locked() (unlock func()) {
	mut := (*sync.Mutex)(self)
	mut.Lock()
	return mut.Unlock
}

// RWMutexLocked is the read-write equivalent, used where the critical
// section is read-mostly (e.g. branchmgr.Manager's branch table, which
// a lookup's chain walk reads far more often than a fork/commit/abort
// writes it).
type RWMutexLocked sync.RWMutex

func (self *RWMutexLocked) Locked() (unlock func()) {
	mut := (*sync.RWMutex)(self)
	mut.Lock()
	return mut.Unlock
}

func (self *RWMutexLocked) RLocked() (unlock func()) {
	mut := (*sync.RWMutex)(self)
	mut.RLock()
	return mut.RUnlock
}
