package dispatch

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSessions(ttl time.Duration, maxEntries int) (*sessions, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}
	s := newSessions(10, ttl, maxEntries)
	s.now = clock.now
	return s, clock
}

func TestStatus_ReadsDoNotCreateSessions(t *testing.T) {
	h := newHarness(t)
	for i := range 100_000 {
		id := fmt.Sprintf("session-%d", i)
		st := h.p.Status(id)
		require.Zero(t, st.Messages)
		require.Empty(t, h.p.History(id, 10))
	}
	assert.Zero(t, h.p.sessions.size())
}

func TestSessions_IdleEntriesExpire(t *testing.T) {
	s, clock := newTestSessions(time.Minute, 100)

	s.append("a", types.UserMessage("hi"))
	s.setPrefs("a", Preferences{TTSProvider: SpeakerNone})
	clock.advance(30 * time.Second)
	assert.Equal(t, 1, s.count("a"))
	assert.Equal(t, SpeakerNone, s.prefs("a").TTSProvider)

	clock.advance(2 * time.Minute)
	assert.Zero(t, s.count("a"))
	assert.Equal(t, Preferences{}, s.prefs("a"))
	assert.Zero(t, s.size())
}

func TestSessions_CapEvictsIdleThenLeastRecent(t *testing.T) {
	s, clock := newTestSessions(time.Minute, 3)

	for _, id := range []string{"a", "b", "c"} {
		s.append(id, types.UserMessage(id))
		clock.advance(time.Second)
	}
	s.append("a", types.UserMessage("again"))
	clock.advance(time.Second)

	s.append("d", types.UserMessage("d"))
	assert.Equal(t, 3, s.size())
	assert.Zero(t, s.count("b"))
	assert.Equal(t, 2, s.count("a"))
	assert.Equal(t, 1, s.count("c"))
	assert.Equal(t, 1, s.count("d"))

	clock.advance(2 * time.Minute)
	s.append("e", types.UserMessage("e"))
	assert.Equal(t, 1, s.size())
	assert.Equal(t, 1, s.count("e"))
}
