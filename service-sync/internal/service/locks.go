package service

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
)

// keyedMutex serializes operations per key (one key per room, or per user).
// Entries are reference counted so an idle key holds no memory. Different
// keys proceed fully in parallel.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		entries: make(map[uuid.UUID]*lockEntry),
	}
}

// Lock acquires the mutex for key, blocking behind earlier holders.
func (k *keyedMutex) Lock(key uuid.UUID) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

// LockPair acquires both keys in a fixed order so that two callers switching
// between the same pair of keys in opposite directions cannot deadlock.
// The keys must differ.
func (k *keyedMutex) LockPair(a, b uuid.UUID) {
	if bytes.Compare(a[:], b[:]) < 0 {
		k.Lock(a)
		k.Lock(b)
		return
	}
	k.Lock(b)
	k.Lock(a)
}

// UnlockPair releases both keys acquired by LockPair.
func (k *keyedMutex) UnlockPair(a, b uuid.UUID) {
	k.Unlock(a)
	k.Unlock(b)
}

// Unlock releases the mutex for key and drops the entry once unused.
func (k *keyedMutex) Unlock(key uuid.UUID) {
	k.mu.Lock()
	entry := k.entries[key]
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}
