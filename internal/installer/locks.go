package installer

import (
	"fmt"
	"sync"
)

// addressLocks serializes runs per target address. Two concurrent runs
// against the same host would fight over one SSH session and one disk, so
// the second request is rejected outright instead of queued.
type addressLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newAddressLocks() *addressLocks {
	return &addressLocks{held: make(map[string]struct{})}
}

// acquire claims the address or fails fast when a run already holds it.
func (a *addressLocks) acquire(ip string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.held[ip]; busy {
		return fmt.Errorf("installer: installation already in progress for %s", ip)
	}
	a.held[ip] = struct{}{}
	return nil
}

func (a *addressLocks) release(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.held, ip)
}
