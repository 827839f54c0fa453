package runner

import (
	"errors"
	"sync"
)

// ErrRunActive is returned when an owner/session pair already has a
// non-terminal run.
var ErrRunActive = errors.New("a run is already active for this owner and session")

// registry enforces at most one active run per owner/session pair.
type registry struct {
	mu     sync.Mutex
	active map[string]string
}

func newRegistry() *registry {
	return &registry{active: make(map[string]string)}
}

// acquire reserves the owner/session slot for runID and returns the
// release func. Release is idempotent and only clears the slot if it
// still belongs to runID.
func (r *registry) acquire(ownerID, sessionID, runID string) (func(), error) {
	key := ownerID + "\x00" + sessionID

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[key]; busy {
		return nil, ErrRunActive
	}
	r.active[key] = runID

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			if r.active[key] == runID {
				delete(r.active, key)
			}
			r.mu.Unlock()
		})
	}
	return release, nil
}
