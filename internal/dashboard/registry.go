package dashboard

import (
	"sync"
	"time"
)

type entry struct {
	session  *Session
	lastSeen time.Time
}

// Registry keeps one Session per portal session token.
type Registry struct {
	deps Deps
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

func NewRegistry(d Deps) *Registry {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{deps: d, now: now, sessions: make(map[string]*entry)}
}

// Get returns the session for id, creating it on first use.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		e = &entry{session: NewSession(id, r.deps)}
		r.sessions[id] = e
	}
	e.lastSeen = r.now()
	return e.session
}

// Lookup returns an existing session without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Snapshot returns the last committed snapshot of an existing session.
func (r *Registry) Snapshot(id string) (Snapshot, bool) {
	sess, ok := r.Lookup(id)
	if !ok {
		return Snapshot{}, false
	}
	return sess.Snapshot(), true
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Sweep drops sessions not seen for longer than idle and returns how many
// were dropped. lastSeen is only stamped when a request starts, so idle must
// stay well above the longest single operation (bounded by the gateway's
// HTTP client timeout).
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
