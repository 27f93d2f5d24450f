package service

import "sync"

// cacheGenerations counts invalidations so a lookup that began before an invalidation
// cannot write its stale result back after it.
type cacheGenerations struct {
	mu     sync.Mutex
	all    uint64
	scoped map[string]uint64
}

type generationMark struct {
	all    uint64
	scoped uint64
}

func (g *cacheGenerations) mark(scope string) generationMark {
	g.mu.Lock()
	defer g.mu.Unlock()
	return generationMark{all: g.all, scoped: g.scoped[scope]}
}

// bump records an invalidation of one scope. Call it before deleting the cached entry.
func (g *cacheGenerations) bump(scope string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scoped == nil {
		g.scoped = make(map[string]uint64)
	}
	g.scoped[scope]++
}

// bumpAll records an invalidation of every scope. Call it before deleting the cached entries.
func (g *cacheGenerations) bumpAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.all++
}

// storeIfCurrent runs store only when no invalidation touched scope since m was taken.
// store runs under the lock, so a concurrent bump lands either before the check or after
// the write, and the delete that follows a bump removes the write.
func (g *cacheGenerations) storeIfCurrent(scope string, m generationMark, store func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.all != m.all || g.scoped[scope] != m.scoped {
		return false
	}
	store()
	return true
}
