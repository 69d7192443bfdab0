// Package sessions tracks open WebSocket connections so shutdown can warn,
// cancel and wait for them. A browser session may hold several connections
// (chat and voice tabs), so entries are keyed by connection id.
package sessions

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Handle is what the tracker needs from one open connection.
type Handle struct {
	SessionID string
	Channel   string

	Cancel func()
	Warn   func(message string) error
}

type Tracker struct {
	mu    sync.Mutex
	conns map[string]*trackedConn
	wg    sync.WaitGroup
}

type trackedConn struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		conns: make(map[string]*trackedConn),
	}
}

// Register adds a connection and returns its id plus the function that
// removes it. The unregister function is idempotent.
func (t *Tracker) Register(h Handle) (connID string, unregister func()) {
	connID = uuid.NewString()
	if t == nil {
		return connID, func() {}
	}

	entry := &trackedConn{handle: h}

	t.mu.Lock()
	if t.conns == nil {
		t.conns = make(map[string]*trackedConn)
	}
	t.conns[connID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	return connID, func() { t.unregister(connID, entry) }
}

func (t *Tracker) unregister(connID string, entry *trackedConn) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.conns[connID] == entry {
			delete(t.conns, connID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// CountSession returns the open connections held by sessionID.
func (t *Tracker) CountSession(sessionID string) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, entry := range t.conns {
		if entry.handle.SessionID == sessionID {
			n++
		}
	}
	return n
}

// WarnAll sends message to every connection, best effort.
func (t *Tracker) WarnAll(message string) (sent int) {
	if t == nil {
		return 0
	}

	var warns []func(message string) error
	t.mu.Lock()
	for _, entry := range t.conns {
		if entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(message)
		sent++
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.conns {
		if entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered connection has unregistered or ctx
// is done. It reports whether all connections closed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
