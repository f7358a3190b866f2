package server

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Session is one game session hosted by the server.
type Session struct {
	ID     string
	Name   string
	Worker *Worker
}

// SessionStore manages hosted sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	nextID   atomic.Uint64
}

// NewSessionStore creates a new session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Create registers a worker under a new session ID.
func (s *SessionStore) Create(name string, w *Worker) *Session {
	id := fmt.Sprintf("s-%d", s.nextID.Add(1))
	session := &Session{ID: id, Name: name, Worker: w}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	return session
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// List returns all sessions ordered by ID.
func (s *SessionStore) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Destroy stops a session's worker and removes it.
func (s *SessionStore) Destroy(id string) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		session.Worker.Stop()
	}
}
