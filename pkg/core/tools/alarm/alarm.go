// Package alarm implements the in-memory, per-session alarm tool.
package alarm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/tools"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

// DefaultLabel names an alarm set without a label.
const DefaultLabel = "アラーム"

// Alarm is one scheduled alarm.
type Alarm struct {
	ID        string    `json:"id"`
	Time      string    `json:"time"`
	Label     string    `json:"label"`
	Message   string    `json:"message,omitempty"`
	Repeat    bool      `json:"repeat"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionAlarms struct {
	nextID int
	alarms []Alarm
}

// Tool stores alarms in memory, isolated per session.
type Tool struct {
	mu       sync.Mutex
	sessions map[string]*sessionAlarms
	now      func() time.Time
}

// New creates the alarm tool.
func New() *Tool {
	return &Tool{sessions: make(map[string]*sessionAlarms), now: time.Now}
}

func (t *Tool) Name() string     { return "alarm" }
func (t *Tool) Configured() bool { return true }

func (t *Tool) Definition() types.Tool {
	return types.Tool{
		Name:        "alarm",
		Description: "アラームの設定、一覧、削除を行います。",
		InputSchema: types.ObjectSchema(map[string]types.JSONSchema{
			"action":   {Type: "string", Description: "実行するアクション（set, list, delete）", Enum: []string{"set", "list", "delete"}},
			"time":     {Type: "string", Description: "アラーム時刻（HH:MM形式）"},
			"label":    {Type: "string", Description: "アラームのラベル", Default: DefaultLabel},
			"message":  {Type: "string", Description: "読み上げるメッセージ"},
			"repeat":   {Type: "boolean", Description: "繰り返し設定", Default: false},
			"alarm_id": {Type: "string", Description: "アラームID（削除時に使用）"},
		}, "action"),
	}
}

func (t *Tool) Execute(_ context.Context, call tools.Call) (*tools.Result, error) {
	switch call.Args.String("action") {
	case "set":
		return t.set(call)
	case "list":
		return t.list(call.SessionID), nil
	case "delete":
		return t.delete(call)
	}
	return nil, tools.Failf("不明なアクション: %s", call.Args.String("action"))
}

// Alarms returns a copy of the session's alarms.
func (t *Tool) Alarms(sessionID string) []Alarm {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sessions[sessionID]
	if s == nil {
		return nil
	}
	return append([]Alarm(nil), s.alarms...)
}

// Reset drops every alarm of a session.
func (t *Tool) Reset(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

func (t *Tool) set(call tools.Call) (*tools.Result, error) {
	raw := call.Args.String("time")
	if raw == "" {
		return nil, tools.Failf("時刻の指定が必要です")
	}
	at, ok := normalizeTime(raw)
	if !ok {
		return nil, tools.Failf("時刻はHH:MM形式で指定してください")
	}
	label := call.Args.String("label")
	if label == "" {
		label = DefaultLabel
	}

	t.mu.Lock()
	s := t.sessions[call.SessionID]
	if s == nil {
		s = &sessionAlarms{nextID: 1}
		t.sessions[call.SessionID] = s
	}
	a := Alarm{
		ID:        strconv.Itoa(s.nextID),
		Time:      at,
		Label:     label,
		Message:   call.Args.String("message"),
		Repeat:    call.Args.Bool("repeat", false),
		Enabled:   true,
		CreatedAt: t.now(),
	}
	s.nextID++
	s.alarms = append(s.alarms, a)
	t.mu.Unlock()

	return &tools.Result{
		Message:  fmt.Sprintf("%sに「%s」のアラームを設定しました", a.Time, a.Label),
		Data:     a,
		Metadata: map[string]any{"alarm_id": a.ID},
	}, nil
}

func (t *Tool) list(sessionID string) *tools.Result {
	alarms := t.Alarms(sessionID)
	if len(alarms) == 0 {
		return &tools.Result{Message: "設定されているアラームはありません", Data: alarms}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ アラーム一覧 (%d件)", len(alarms))
	for _, a := range alarms {
		fmt.Fprintf(&b, "\n%s. %s「%s」", a.ID, a.Time, a.Label)
		if a.Repeat {
			b.WriteString(" (繰り返し)")
		}
	}
	return &tools.Result{Message: b.String(), Data: alarms, Metadata: map[string]any{"count": len(alarms)}}
}

func (t *Tool) delete(call tools.Call) (*tools.Result, error) {
	id := call.Args.String("alarm_id")
	if id == "" {
		return nil, tools.Failf("alarm_idが必要です")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sessions[call.SessionID]
	if s != nil {
		for i, a := range s.alarms {
			if a.ID != id {
				continue
			}
			s.alarms = append(s.alarms[:i], s.alarms[i+1:]...)
			return &tools.Result{
				Message: fmt.Sprintf("「%s」(%s)のアラームを削除しました", a.Label, a.Time),
				Data:    a,
			}, nil
		}
	}
	return nil, tools.Failf("ID %s のアラームが見つかりません", id)
}

func normalizeTime(s string) (string, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "：", ":")
	t, err := time.Parse("15:04", s)
	if err != nil {
		return "", false
	}
	return t.Format("15:04"), true
}
