package gateway

import "sync"

// leaseTable hands out one mutex per credential so the select-then-account
// window of two concurrent requests on the same credential cannot
// interleave inside this process.
type leaseTable struct {
	locks sync.Map // credential id -> *sync.Mutex
}

func newLeaseTable() *leaseTable {
	return &leaseTable{}
}

// Acquire locks the credential's lease and returns the release func.
func (t *leaseTable) Acquire(credentialID uint) func() {
	mu, _ := t.locks.LoadOrStore(credentialID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
