package memory

import "sync"

// ownerLocks serializes episodic appends per owner so concurrent events
// land with distinct, ordered timestamps.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[string]*sync.Mutex)}
}

func (o *ownerLocks) get(owner string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.locks[owner]
	if !ok {
		m = &sync.Mutex{}
		o.locks[owner] = m
	}
	return m
}
