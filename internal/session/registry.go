// Package session tracks per-client workflow state: the admission rate
// limit and the handle of the single workflow a client may run.
package session

import (
	"context"
	"sync"
	"time"
)

// Session holds the mutable per-client state. One Session lives exactly
// as long as its WebSocket connection.
type Session struct {
	ClientID string

	mu           sync.Mutex
	lastAccepted time.Time
	cancel       context.CancelFunc
	done         chan struct{}
}

// TryAccept applies the minimum-interval rate limit. On rejection the
// last-accepted timestamp is left untouched, so a burst of requests
// cannot push the window forward; wait reports how long the caller must
// hold off.
func (s *Session) TryAccept(now time.Time, minInterval time.Duration) (wait time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if minInterval > 0 && !s.lastAccepted.IsZero() {
		elapsed := now.Sub(s.lastAccepted)
		if elapsed < minInterval {
			return minInterval - elapsed, false
		}
	}
	s.lastAccepted = now
	return 0, true
}

// Begin starts a new workflow slot, cancelling any workflow still
// running for this client and waiting until it has observed the
// cancellation. The returned finish func must be called when the
// workflow ends; it releases the slot.
func (s *Session) Begin(parent context.Context) (context.Context, func()) {
	s.mu.Lock()
	prevCancel := s.cancel
	prevDone := s.done

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	var once sync.Once
	finish := func() {
		once.Do(func() {
			cancel()
			close(done)
		})
	}
	return ctx, finish
}

// Detach cancels the running workflow, if any. Called on disconnect and
// on shutdown; it does not wait for the workflow to unwind.
func (s *Session) Detach() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Registry maps client ids to sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session for a client id, creating it on first use.
func (r *Registry) Get(clientID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[clientID]
	if !ok {
		s = &Session{ClientID: clientID}
		r.sessions[clientID] = s
	}
	return s
}

// Remove detaches and forgets the session for a client id.
func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	s := r.sessions[clientID]
	delete(r.sessions, clientID)
	r.mu.Unlock()
	if s != nil {
		s.Detach()
	}
}

// DetachAll cancels every running workflow. Used during shutdown.
func (r *Registry) DetachAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()
	for _, s := range all {
		s.Detach()
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
