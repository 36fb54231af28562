package usecase

import (
	"strings"
	"sync"
)

// IdentityLocks serializes work per identity. Waiters for the same identity are
// admitted in arrival order; different identities never block each other.
type IdentityLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	waiters []chan struct{}
}

func NewIdentityLocks() *IdentityLocks {
	return &IdentityLocks{entries: make(map[string]*lockEntry)}
}

// Lock blocks until identity is free and returns the matching unlock func.
func (l *IdentityLocks) Lock(identity string) func() {
	l.mu.Lock()
	entry, held := l.entries[identity]
	if !held {
		// The key outlives the caller's request when waiters queue behind it.
		l.entries[strings.Clone(identity)] = &lockEntry{}
		l.mu.Unlock()
		return l.unlocker(identity)
	}

	turn := make(chan struct{})
	entry.waiters = append(entry.waiters, turn)
	l.mu.Unlock()

	<-turn
	return l.unlocker(identity)
}

func (l *IdentityLocks) unlocker(identity string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(identity) })
	}
}

func (l *IdentityLocks) release(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[identity]
	if !ok {
		return
	}
	if len(entry.waiters) == 0 {
		delete(l.entries, identity)
		return
	}

	// Ownership passes directly to the oldest waiter.
	next := entry.waiters[0]
	entry.waiters = entry.waiters[1:]
	close(next)
}

// Queued returns how many callers are waiting behind the current holder.
func (l *IdentityLocks) Queued(identity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[identity]
	if !ok {
		return 0
	}
	return len(entry.waiters)
}

// Held returns the number of identities currently locked or queued.
func (l *IdentityLocks) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
