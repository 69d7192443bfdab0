package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	calendarapi "google.golang.org/api/calendar/v3"

	"github.com/vango-go/vai-voice/pkg/core/credentials"
	"github.com/vango-go/vai-voice/pkg/core/tools"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

type connector struct{}

func (connector) Connection(context.Context, string, credentials.Service) (*credentials.Credential, error) {
	return &credentials.Credential{AccessToken: "tok"}, nil
}

var fixedNow = time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

type fakeCalendar struct {
	*httptest.Server

	mu       sync.Mutex
	inserted []*calendarapi.Event
	deleted  []string
	timeMin  string
	events   map[string]*calendarapi.Event
}

func newFakeCalendar(t *testing.T) *fakeCalendar {
	t.Helper()
	f := &fakeCalendar{events: map[string]*calendarapi.Event{
		"ev1": {Id: "ev1", Summary: "定例会議", Start: &calendarapi.EventDateTime{DateTime: "2026-10-15T01:00:00Z"}},
		"ev2": {Id: "ev2", Summary: "休暇", Start: &calendarapi.EventDateTime{Date: "2026-10-20"}},
	}}
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	notFound := func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Not Found"}}`)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		var ev calendarapi.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		ev.Id = "new-1"
		f.mu.Lock()
		f.inserted = append(f.inserted, &ev)
		f.mu.Unlock()
		writeJSON(w, ev)
	})
	mux.HandleFunc("GET /calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.timeMin = r.URL.Query().Get("timeMin")
		f.mu.Unlock()
		writeJSON(w, calendarapi.Events{Items: []*calendarapi.Event{f.events["ev1"], f.events["ev2"]}})
	})
	mux.HandleFunc("GET /calendars/primary/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		ev, ok := f.events[r.PathValue("id")]
		if !ok {
			notFound(w)
			return
		}
		writeJSON(w, ev)
	})
	mux.HandleFunc("DELETE /calendars/primary/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeCalendar) run(t *testing.T, input map[string]any) (*tools.Result, error) {
	t.Helper()
	tool := New(connector{}, credentials.GoogleClient{CalendarEndpoint: f.URL + "/"}, func() time.Time { return fixedNow })
	return tools.NewRegistry(tool).Execute(context.Background(), "sid", types.ToolCall{Name: "calendar", Input: input})
}

func userMessage(t *testing.T, err error) string {
	t.Helper()
	var ue *tools.UserError
	require.True(t, errors.As(err, &ue), "err = %v", err)
	return ue.Message
}

func TestCreate(t *testing.T) {
	f := newFakeCalendar(t)

	res, err := f.run(t, map[string]any{"action": "create", "title": "歯医者", "start_time": "2026-10-16T15:00:00+09:00", "description": "定期検診"})
	require.NoError(t, err)
	assert.Equal(t, "イベント「歯医者」を作成しました（2026/10/16 15:00）", res.Message)
	assert.Equal(t, "new-1", res.Metadata["event_id"])

	require.Len(t, f.inserted, 1)
	got := f.inserted[0]
	assert.Equal(t, "歯医者", got.Summary)
	assert.Equal(t, "定期検診", got.Description)
	assert.Equal(t, "2026-10-16T15:00:00+09:00", got.Start.DateTime)
	assert.Equal(t, "2026-10-16T16:00:00+09:00", got.End.DateTime)
}

func TestCreate_LocalTimeAndValidation(t *testing.T) {
	f := newFakeCalendar(t)

	res, err := f.run(t, map[string]any{"action": "create", "start_time": "2026-10-16T09:30", "end_time": "2026-10-16T11:00"})
	require.NoError(t, err)
	assert.Equal(t, "イベント「無題のイベント」を作成しました（2026/10/16 09:30）", res.Message)
	assert.Equal(t, "2026-10-16T11:00:00+09:00", f.inserted[0].End.DateTime)

	_, err = f.run(t, map[string]any{"action": "create", "title": "x"})
	assert.Equal(t, "start_timeが必要です", userMessage(t, err))

	_, err = f.run(t, map[string]any{"action": "create", "start_time": "来週"})
	assert.Equal(t, "start_time はRFC3339形式で指定してください", userMessage(t, err))

	_, err = f.run(t, map[string]any{"action": "create", "start_time": "2026-10-16T09:30", "end_time": "2026-10-16T09:00"})
	assert.Equal(t, "終了時刻は開始時刻より後にしてください", userMessage(t, err))
	assert.Len(t, f.inserted, 1)
}

func TestList(t *testing.T) {
	f := newFakeCalendar(t)

	res, err := f.run(t, map[string]any{"action": "list"})
	require.NoError(t, err)
	assert.Equal(t, "📅 予定一覧 (2件)\n1. 2026/10/15 10:00 定例会議 (ID: ev1)\n2. 2026/10/20 終日 休暇 (ID: ev2)", res.Message)
	assert.Equal(t, 2, res.Metadata["count"])
	assert.Equal(t, "2026-10-14T00:00:00Z", f.timeMin)
}

func TestDelete(t *testing.T) {
	f := newFakeCalendar(t)

	res, err := f.run(t, map[string]any{"action": "delete", "event_id": "ev1"})
	require.NoError(t, err)
	assert.Equal(t, "イベント「定例会議」を削除しました", res.Message)
	assert.Equal(t, []string{"ev1"}, f.deleted)

	_, err = f.run(t, map[string]any{"action": "delete", "event_id": "nope"})
	assert.Equal(t, "ID nope のイベントが見つかりません", userMessage(t, err))

	_, err = f.run(t, map[string]any{"action": "delete"})
	assert.Equal(t, "event_idが必要です", userMessage(t, err))
	assert.Equal(t, []string{"ev1"}, f.deleted)
}
