package booking

import "sync"

// personLocks serializes reconciliation per person. Both the scheduled card
// cycle and interaction handling read-then-write against the remote store;
// running them concurrently for the same person would reintroduce duplicate
// records. Keyed by person id, so the map stays bounded by roster size.
type personLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPersonLocks() *personLocks {
	return &personLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the person's mutex and returns the unlock function
func (p *personLocks) acquire(personID string) func() {
	p.mu.Lock()
	lock, ok := p.locks[personID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[personID] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
