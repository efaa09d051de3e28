package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionStore persists engagement sessions between turns.
//
// Get returns (nil, nil) when the id is unknown or expired; a miss is
// not an error, the pipeline starts a fresh session for it. Put must
// store a snapshot: later mutation of the passed session must not leak
// into the store.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// StoreStats is a point-in-time snapshot for the health endpoint.
type StoreStats struct {
	Backend      string `json:"backend"`
	SessionCount int    `json:"session_count"`
	TotalTurns   int    `json:"total_turns"`
}

// MemoryStore keeps sessions in process memory with TTL-based cleanup.
// Suitable for single-node deployments; multi-node deployments should
// use the Redis store so any node can pick up a conversation.
type MemoryStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	maxAge     time.Duration // session TTL (default: 1 hour)
	cleanupTTL time.Duration // cleanup interval (default: 5 minutes)

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// MemoryStoreOption is a functional option for configuring MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMaxAge sets the maximum idle age for sessions before cleanup.
func WithMaxAge(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithCleanupInterval sets how often the cleanup routine runs.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.cleanupTTL = d
		}
	}
}

// NewMemoryStore creates an in-memory session store and starts its
// cleanup goroutine. Call Close to stop it.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions:    make(map[string]*Session),
		maxAge:      1 * time.Hour,
		cleanupTTL:  5 * time.Minute,
		stopCleanup: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Get retrieves a session by id. Returns nil, nil if not found or expired.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}

	// Stale sessions count as misses; actual removal happens in cleanupLoop
	if time.Since(session.LastActiveAt) > s.maxAge {
		return nil, nil
	}

	return session.Clone(), nil
}

// Put creates or updates a session snapshot.
func (s *MemoryStore) Put(_ context.Context, session *Session) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}

	snap := session.Clone()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if snap.LastActiveAt.IsZero() {
		snap.LastActiveAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[snap.ID] = snap
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// cleanupLoop periodically removes expired sessions.
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes expired sessions.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, session := range s.sessions {
		if now.Sub(session.LastActiveAt) > s.maxAge {
			delete(s.sessions, id)
		}
	}
}

// Stats returns current session store statistics.
func (s *MemoryStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{
		Backend:      "memory",
		SessionCount: len(s.sessions),
	}
	for _, session := range s.sessions {
		stats.TotalTurns += session.TurnCount
	}
	return stats
}
