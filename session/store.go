// Package session provides snapshot storage for conversation state. The
// orchestrator itself is stateless between exchanges; callers hold the
// authoritative snapshot. A SnapshotStore is an optional server-side
// convenience so transports can rehydrate a session when the client sends
// only its id.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/flowsmith-ai/flowsmith/core"
)

// ErrNotFound is returned when no snapshot exists for the requested id.
var ErrNotFound = errors.New("session snapshot not found")

// SnapshotStore persists session snapshots keyed by session id.
// Implementations must clone on the way in and out; a stored snapshot is
// never aliased by callers.
type SnapshotStore interface {
	Save(ctx context.Context, sess *core.Session) error
	Load(ctx context.Context, id string) (*core.Session, error)
	Delete(ctx context.Context, id string) error
}

// InMemoryStore is a SnapshotStore backed by a plain map. Snapshots live
// until deleted. Safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

var _ SnapshotStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: map[string]*core.Session{}}
}

// Save stores a clone of the snapshot.
func (s *InMemoryStore) Save(_ context.Context, sess *core.Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Load returns a clone of the stored snapshot or ErrNotFound.
func (s *InMemoryStore) Load(_ context.Context, id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// Delete removes the snapshot. Deleting an unknown id is not an error.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len reports how many snapshots are stored.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

const (
	// DefaultTTL bounds how long an idle session survives server side.
	DefaultTTL = 30 * time.Minute
	// DefaultCleanupInterval is how often expired snapshots are purged.
	DefaultCleanupInterval = 10 * time.Minute
)

// CacheStore is a SnapshotStore with per-snapshot TTL. Every Save refreshes
// the TTL, so a session expires only after its conversation goes idle.
type CacheStore struct {
	cache *gocache.Cache
	ttl   time.Duration
}

var _ SnapshotStore = (*CacheStore)(nil)

// NewCacheStore creates a TTL-bound store. Non-positive durations fall back
// to the defaults.
func NewCacheStore(ttl, cleanupInterval time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &CacheStore{cache: gocache.New(ttl, cleanupInterval), ttl: ttl}
}

// Save stores a clone of the snapshot and refreshes its TTL.
func (s *CacheStore) Save(_ context.Context, sess *core.Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session id is required")
	}
	s.cache.Set(sess.ID, sess.Clone(), s.ttl)
	return nil
}

// Load returns a clone of the stored snapshot or ErrNotFound.
func (s *CacheStore) Load(_ context.Context, id string) (*core.Session, error) {
	value, found := s.cache.Get(id)
	if !found {
		return nil, ErrNotFound
	}
	sess, ok := value.(*core.Session)
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// Delete removes the snapshot. Deleting an unknown id is not an error.
func (s *CacheStore) Delete(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}
