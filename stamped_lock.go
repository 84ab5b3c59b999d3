package hashsmith

import (
	"sync"
	"sync/atomic"
)

// StampedLock is a reader/writer lock with an optimistic read mode.
//
// The sequence is even while no writer holds the lock. A writer takes the
// mutex, then moves the sequence to odd for the whole critical section and
// back to even before releasing. An optimistic reader samples an even
// sequence, reads without blocking, and validates that the sequence did not
// move; any overlapping writer makes validation fail.
//
// Usage:
//
//	if s, ok := l.TryOptimisticRead(); ok {
//		v := read()
//		if l.Validate(s) {
//			return v
//		}
//	}
//	l.RLock()
//	defer l.RUnlock()
//	return read()
//
// The zero value is an unlocked StampedLock.
type StampedLock struct {
	_   noCopy
	seq atomic.Uintptr
	mu  sync.RWMutex
}

// TryOptimisticRead returns a stamp for a later Validate. ok is false while
// a writer holds the lock; the stamp is then useless.
func (l *StampedLock) TryOptimisticRead() (stamp uintptr, ok bool) {
	stamp = l.seq.Load()
	return stamp, stamp&1 == 0
}

// Validate reports whether no writer acquired the lock since stamp was
// issued.
func (l *StampedLock) Validate(stamp uintptr) bool {
	return l.seq.Load() == stamp
}

// Lock acquires the lock exclusively.
func (l *StampedLock) Lock() {
	l.mu.Lock()
	l.seq.Add(1)
}

// Unlock releases an exclusive hold.
func (l *StampedLock) Unlock() {
	l.seq.Add(1)
	l.mu.Unlock()
}

// RLock acquires the lock shared. Shared holders do not move the sequence,
// so optimistic readers stay valid alongside them.
func (l *StampedLock) RLock() {
	l.mu.RLock()
}

// RUnlock releases a shared hold.
func (l *StampedLock) RUnlock() {
	l.mu.RUnlock()
}

// Writing reports whether a writer currently holds the lock.
func (l *StampedLock) Writing() bool {
	return l.seq.Load()&1 != 0
}
