package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionBusy indicates a turn is already running on the session.
// Callers surface this as a retry-later condition rather than queueing.
var ErrSessionBusy = errors.New("session busy: a turn is already in progress")

// Guard serializes turns per session. At most one turn runs on a
// session at a time; a second caller is rejected immediately instead of
// waiting behind the first.
//
// Guard is process-local. Database row locking still protects the
// sequence invariant if multiple instances share one database, but a
// single instance rejects the conflict before any work starts.
type Guard struct {
	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{active: make(map[uuid.UUID]struct{})}
}

// Acquire claims the session for one turn. On success it returns a
// release function that must be called exactly once when the turn ends.
// If the session is already claimed, Acquire returns ErrSessionBusy.
func (g *Guard) Acquire(sessionID uuid.UUID) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[sessionID]; busy {
		return nil, ErrSessionBusy
	}
	g.active[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, sessionID)
			g.mu.Unlock()
		})
	}, nil
}

// Busy reports whether a turn is currently running on the session.
func (g *Guard) Busy(sessionID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.active[sessionID]
	return busy
}
