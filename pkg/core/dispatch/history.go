package dispatch

import (
	"sync"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// DefaultHistoryLimit bounds the messages kept per session.
const DefaultHistoryLimit = 50

const (
	defaultSessionTTL  = time.Hour
	defaultMaxSessions = 10_000
)

// contextWindow is how many recent history messages accompany an LLM request.
const contextWindow = 10

// Preferences are the per-session overrides set through config_update.
type Preferences struct {
	LLMProvider string `json:"llm_provider,omitempty"`
	TTSProvider string `json:"tts_provider,omitempty"`
}

type sessionState struct {
	mu       sync.Mutex
	messages []types.Message
	prefs    Preferences

	// lastSeen is guarded by sessions.mu.
	lastSeen time.Time
}

// sessions holds conversation state per session id. Entries idle longer than
// ttl are dropped and the map holds at most maxEntries sessions. Only writes
// create an entry.
type sessions struct {
	mu         sync.Mutex
	limit      int
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	byID       map[string]*sessionState
}

func newSessions(limit int, ttl time.Duration, maxEntries int) *sessions {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxSessions
	}
	return &sessions{limit: limit, ttl: ttl, maxEntries: maxEntries, now: time.Now, byID: map[string]*sessionState{}}
}

func (s *sessions) get(id string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if st, ok := s.byID[id]; ok {
		st.lastSeen = now
		return st
	}
	if len(s.byID) >= s.maxEntries {
		s.gcLocked(now)
	}
	st := &sessionState{lastSeen: now}
	s.byID[id] = st
	return st
}

// lookup returns nil for an unknown session.
func (s *sessions) lookup(id string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[id]
	if !ok {
		return nil
	}
	if s.now().Sub(st.lastSeen) > s.ttl {
		delete(s.byID, id)
		return nil
	}
	return st
}

// gcLocked drops idle entries, then the least recently used ones until there
// is room for one more.
func (s *sessions) gcLocked(now time.Time) {
	for id, st := range s.byID {
		if now.Sub(st.lastSeen) > s.ttl {
			delete(s.byID, id)
		}
	}
	for len(s.byID) >= s.maxEntries {
		var oldestID string
		var oldest time.Time
		for id, st := range s.byID {
			if oldestID == "" || st.lastSeen.Before(oldest) {
				oldestID, oldest = id, st.lastSeen
			}
		}
		delete(s.byID, oldestID)
	}
}

func (s *sessions) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *sessions) reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

func (s *sessions) recent(id string, n int) []types.Message {
	st := s.lookup(id)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.messages) > n {
		return append([]types.Message(nil), st.messages[len(st.messages)-n:]...)
	}
	return append([]types.Message(nil), st.messages...)
}

func (s *sessions) count(id string) int {
	st := s.lookup(id)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.messages)
}

func (s *sessions) append(id string, msgs ...types.Message) {
	st := s.get(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.messages = append(st.messages, msgs...)
	if over := len(st.messages) - s.limit; over > 0 {
		st.messages = append([]types.Message(nil), st.messages[over:]...)
	}
}

func (s *sessions) prefs(id string) Preferences {
	st := s.lookup(id)
	if st == nil {
		return Preferences{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.prefs
}

func (s *sessions) setPrefs(id string, p Preferences) {
	st := s.get(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.prefs = p
}
