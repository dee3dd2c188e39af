package storage

import (
	"sync"

	"github.com/dockerust/dockerust"
)

// uploadController tracks which upload sessions are claimed by a live writer
// in this process. A session has exactly one owner at a time: a second
// attempt to write to the same session fails with ErrBlobUploadBusy rather
// than interleaving data.
//
// Sessions themselves live in backend storage and survive process restarts.
// The controller only arbitrates concurrent access within a process, which is
// the only place concurrent writers can originate when a single registry owns
// the backend.
type uploadController struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newUploadController() *uploadController {
	return &uploadController{
		active: make(map[string]struct{}),
	}
}

// acquire claims the session with the given id for a single writer. It
// returns ErrBlobUploadBusy when the session is already claimed.
func (uc *uploadController) acquire(id string) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if _, ok := uc.active[id]; ok {
		return dockerust.ErrBlobUploadBusy
	}

	uc.active[id] = struct{}{}
	return nil
}

// release returns the session to the unclaimed state. Releasing an unclaimed
// session is a no-op.
func (uc *uploadController) release(id string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	delete(uc.active, id)
}
