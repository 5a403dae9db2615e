// locks.go implements the per-resource logical locks held during writes.
//
// SQLite serialises the actual row changes; the keyed locks exist so that a
// multi-step write (read current version, bump, re-index) observes a stable
// resource, and so bundle transactions can take every lock they need up
// front. Keys are acquired in sorted order, which prevents deadlock between
// writers that overlap on any subset of resources.

package store

import (
	"sort"
	"sync"
)

// LockKey returns the lock key for one resource. Type-level operations
// (conditional create and friends) lock the bare type name, which cannot
// collide with a resource key since those always contain a slash.
func LockKey(resourceType, id string) string {
	return resourceType + "/" + id
}

type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyLock)}
}

// Guard acquires every key in sorted order and returns the release function.
// Duplicate keys are collapsed first so one caller never self-deadlocks.
func (s *SQLiteStore) Guard(keys ...string) func() {
	return s.locks.guard(keys)
}

func (k *keyedLocks) guard(keys []string) func() {
	ks := dedupeSorted(keys)
	acquired := make([]*keyLock, 0, len(ks))

	for _, key := range ks {
		k.mu.Lock()
		l, ok := k.locks[key]
		if !ok {
			l = &keyLock{}
			k.locks[key] = l
		}
		l.refs++
		k.mu.Unlock()

		l.mu.Lock()
		acquired = append(acquired, l)
	}

	return func() {
		// Release in reverse acquisition order and drop map entries nobody
		// is waiting on, so the lock table stays bounded by live contention.
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].mu.Unlock()
			k.mu.Lock()
			acquired[i].refs--
			if acquired[i].refs == 0 {
				delete(k.locks, ks[i])
			}
			k.mu.Unlock()
		}
	}
}

func dedupeSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
