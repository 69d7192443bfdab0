package oauthflow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInvalidState indicates a callback state that was never issued, has
// expired, or was already consumed.
var ErrInvalidState = errors.New("oauthflow: invalid or expired authorization state")

// Pending is one in-flight authorization attempt.
type Pending struct {
	SessionID string `json:"session_id"`
	Verifier  string `json:"verifier,omitempty"`
}

// PendingStore tracks state→session bindings. Consume must return a given
// state at most once across all callers.
type PendingStore interface {
	Put(ctx context.Context, state string, p Pending, ttl time.Duration) error
	Consume(ctx context.Context, state string) (Pending, error)
	Close() error
}

type memoryEntry struct {
	pending Pending
	expires time.Time
}

// MemoryStore is a process-local PendingStore. Entries do not survive a
// restart, so in-flight authorizations are lost when the process exits.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewMemoryStore creates a MemoryStore. A non-zero sweep interval starts a
// janitor that drops expired entries.
func NewMemoryStore(sweep time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if sweep > 0 {
		go s.janitor(sweep)
	}
	return s
}

func (s *MemoryStore) Put(_ context.Context, state string, p Pending, ttl time.Duration) error {
	if state == "" {
		return errors.New("oauthflow: empty state")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[state]; exists {
		return errors.New("oauthflow: state already issued")
	}
	s.entries[state] = memoryEntry{pending: p, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, state string) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[state]
	if !ok {
		return Pending{}, ErrInvalidState
	}
	delete(s.entries, state)
	if !s.now().Before(e.expires) {
		return Pending{}, ErrInvalidState
	}
	return e.pending, nil
}

// Len returns the number of tracked entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for state, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, state)
		}
	}
}
