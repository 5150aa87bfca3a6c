package scenario

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hari-co/AtlasTalk/internal/provider"
	"github.com/hari-co/AtlasTalk/pkg/observability"
)

// Session is one in-flight roleplay session. Sessions are ephemeral; nothing
// here reaches the conversation store.
type Session struct {
	mu       sync.Mutex
	History  []provider.Message
	Goals    []Goal
	Scenario *Scenario

	lastSeen time.Time
}

// SessionStore holds roleplay sessions in memory, bounded by count and by
// idle time. An internal cron sweep evicts sessions idle past the TTL;
// capacity overflow evicts the stalest session immediately.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	capacity int
	ttl      time.Duration
	cron     *cron.Cron
}

const (
	// DefaultSessionCapacity bounds concurrent roleplay sessions.
	DefaultSessionCapacity = 1000
	// DefaultSessionTTL is how long an idle session survives.
	DefaultSessionTTL = 30 * time.Minute
)

// NewSessionStore creates a session store and starts its eviction sweep.
// Callers must Stop it on shutdown.
func NewSessionStore(capacity int, ttl time.Duration) *SessionStore {
	if capacity <= 0 {
		capacity = DefaultSessionCapacity
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &SessionStore{
		sessions: make(map[string]*Session),
		capacity: capacity,
		ttl:      ttl,
		cron:     cron.New(),
	}
	s.cron.AddFunc("@every 1m", s.evictExpired)
	s.cron.Start()
	return s
}

// GetOrCreate returns the session for id, creating it if absent and evicting
// the stalest session when the store is at capacity.
func (s *SessionStore) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if sess, ok := s.sessions[id]; ok {
		sess.lastSeen = now
		return sess
	}

	if len(s.sessions) >= s.capacity {
		s.evictStalestLocked()
	}

	sess := &Session{lastSeen: now}
	s.sessions[id] = sess
	observability.SetActiveSessions(len(s.sessions))
	return sess
}

// Delete removes a session.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	observability.SetActiveSessions(len(s.sessions))
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stop halts the eviction sweep. Sessions remain readable.
func (s *SessionStore) Stop() {
	s.cron.Stop()
}

func (s *SessionStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
	observability.SetActiveSessions(len(s.sessions))
}

func (s *SessionStore) evictStalestLocked() {
	var stalest string
	var oldest time.Time
	for id, sess := range s.sessions {
		if stalest == "" || sess.lastSeen.Before(oldest) {
			stalest = id
			oldest = sess.lastSeen
		}
	}
	if stalest != "" {
		delete(s.sessions, stalest)
	}
}
