package engine

import "sync"

// arena hands out one lock per match so writes to the same match are
// serialized while different matches proceed in parallel.
type arena struct {
	mu    sync.RWMutex
	slots map[string]*sync.Mutex
}

func newArena() *arena {
	return &arena{slots: make(map[string]*sync.Mutex)}
}

func (a *arena) get(matchID string) *sync.Mutex {
	a.mu.RLock()
	l, ok := a.slots[matchID]
	a.mu.RUnlock()
	if ok {
		return l
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Double-check after acquiring write lock.
	if l, ok := a.slots[matchID]; ok {
		return l
	}
	l = &sync.Mutex{}
	a.slots[matchID] = l
	return l
}

// lock acquires the match's slot and returns its unlock func.
func (a *arena) lock(matchID string) func() {
	l := a.get(matchID)
	l.Lock()
	return l.Unlock
}

// release forgets a finished match. A caller still holding the old slot
// races only with the store's own sequence check.
func (a *arena) release(matchID string) {
	a.mu.Lock()
	delete(a.slots, matchID)
	a.mu.Unlock()
}

func (a *arena) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots)
}
