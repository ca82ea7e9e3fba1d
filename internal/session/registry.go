// Package session tracks the cancellation handle of every running crawl.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrInvalidID rejects empty session ids.
	ErrInvalidID = errors.New("session id is required")
	// ErrDuplicate rejects an id that is already running.
	ErrDuplicate = errors.New("session already running")
)

// Session is one registered crawl.
type Session struct {
	ID        string
	CreatedAt time.Time
	cancel    context.CancelFunc
}

// Registry maps session ids to cancellation handles. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register derives a cancellable context from parent and records it under
// id. The returned context is what every phase of the session must use.
func (r *Registry) Register(parent context.Context, id string) (context.Context, *Session, error) {
	if id == "" {
		return nil, nil, ErrInvalidID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, nil, ErrDuplicate
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Session{ID: id, CreatedAt: r.now(), cancel: cancel}
	r.sessions[id] = s
	return ctx, s, nil
}

// Cancel triggers the session's cancellation. It reports whether the id
// was found.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	return true
}

// Release cancels the session context and forgets the id. Idempotent.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// Get returns the live session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
