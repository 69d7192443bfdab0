// Package calendar implements the calendar tool on Google Calendar.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	calendarapi "google.golang.org/api/calendar/v3"

	"github.com/vango-go/vai-voice/pkg/core/credentials"
	"github.com/vango-go/vai-voice/pkg/core/tools"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

const (
	calendarID     = "primary"
	defaultTitle   = "無題のイベント"
	defaultLength  = time.Hour
	upcomingEvents = 10
)

var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"}

// Event is the tool's view of a calendar event.
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Start       string `json:"start_time"`
	End         string `json:"end_time,omitempty"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link,omitempty"`
}

// Tool creates, lists and deletes events in the primary calendar.
type Tool struct {
	creds tools.Connector
	api   credentials.GoogleClient
	loc   *time.Location
	now   func() time.Time
}

// New creates the calendar tool. Times without an offset are read in Asia/Tokyo.
func New(creds tools.Connector, api credentials.GoogleClient, now func() time.Time) *Tool {
	if now == nil {
		now = time.Now
	}
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		loc = time.UTC
	}
	return &Tool{creds: creds, api: api, loc: loc, now: now}
}

func (t *Tool) Name() string     { return "calendar" }
func (t *Tool) Configured() bool { return t.creds != nil }

func (t *Tool) Definition() types.Tool {
	return types.Tool{
		Name:        "calendar",
		Description: "カレンダーイベントの作成、取得、削除を行います",
		InputSchema: types.ObjectSchema(map[string]types.JSONSchema{
			"action":      {Type: "string", Description: "実行するアクション（create, list, delete）", Enum: []string{"create", "list", "delete"}},
			"title":       {Type: "string", Description: "イベントのタイトル"},
			"start_time":  {Type: "string", Description: "開始時刻（RFC3339形式）"},
			"end_time":    {Type: "string", Description: "終了時刻（RFC3339形式、省略時は開始の1時間後）"},
			"description": {Type: "string", Description: "イベントの説明"},
			"event_id":    {Type: "string", Description: "イベントID（削除時に使用）"},
		}, "action"),
	}
}

func (t *Tool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	cred, err := t.creds.Connection(ctx, call.SessionID, credentials.ServiceCalendar)
	if err != nil {
		return nil, err
	}
	svc, err := t.api.Calendar(ctx, cred)
	if err != nil {
		return nil, err
	}

	var res *tools.Result
	switch action := call.Args.String("action"); action {
	case "create":
		res, err = t.create(ctx, svc, call.Args)
	case "list":
		res, err = t.list(ctx, svc)
	case "delete":
		res, err = t.delete(ctx, svc, call.Args)
	default:
		return nil, tools.Failf("不明なアクション: %s", action)
	}
	if err != nil {
		return nil, tools.GoogleError("calendar", "", err)
	}
	return res, nil
}

func (t *Tool) parseTime(s string) (time.Time, bool) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, true
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, s, t.loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func (t *Tool) create(ctx context.Context, svc *calendarapi.Service, args tools.Args) (*tools.Result, error) {
	title := args.String("title")
	if title == "" {
		title = defaultTitle
	}
	raw := args.String("start_time")
	if raw == "" {
		return nil, tools.Failf("start_timeが必要です")
	}
	start, ok := t.parseTime(raw)
	if !ok {
		return nil, tools.Failf("start_time はRFC3339形式で指定してください")
	}
	end := start.Add(defaultLength)
	if raw := args.String("end_time"); raw != "" {
		if end, ok = t.parseTime(raw); !ok {
			return nil, tools.Failf("end_time はRFC3339形式で指定してください")
		}
		if !end.After(start) {
			return nil, tools.Failf("終了時刻は開始時刻より後にしてください")
		}
	}

	created, err := svc.Events.Insert(calendarID, &calendarapi.Event{
		Summary:     title,
		Description: args.String("description"),
		Start:       &calendarapi.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:         &calendarapi.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	ev := toEvent(created)
	return &tools.Result{
		Message:  fmt.Sprintf("イベント「%s」を作成しました（%s）", ev.Title, t.display(created.Start)),
		Data:     ev,
		Metadata: map[string]any{"event_id": ev.ID},
	}, nil
}

func (t *Tool) list(ctx context.Context, svc *calendarapi.Service) (*tools.Result, error) {
	var items []*calendarapi.Event
	err := tools.RetryRead(ctx, func(ctx context.Context) error {
		resp, err := svc.Events.List(calendarID).
			TimeMin(t.now().Format(time.RFC3339)).
			MaxResults(upcomingEvents).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx).Do()
		if err != nil {
			return err
		}
		items = resp.Items
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(items))
	for _, it := range items {
		events = append(events, toEvent(it))
	}
	if len(events) == 0 {
		return &tools.Result{Message: "予定されているイベントはありません", Data: events, Metadata: map[string]any{"count": 0}}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📅 予定一覧 (%d件)", len(events))
	for i, it := range items {
		fmt.Fprintf(&b, "\n%d. %s %s (ID: %s)", i+1, t.display(it.Start), events[i].Title, it.Id)
	}
	return &tools.Result{Message: b.String(), Data: events, Metadata: map[string]any{"count": len(events)}}, nil
}

func (t *Tool) delete(ctx context.Context, svc *calendarapi.Service, args tools.Args) (*tools.Result, error) {
	id := args.String("event_id")
	if id == "" {
		return nil, tools.Failf("event_idが必要です")
	}
	missing := fmt.Sprintf("ID %s のイベントが見つかりません", id)

	var existing *calendarapi.Event
	err := tools.RetryRead(ctx, func(ctx context.Context) error {
		ev, err := svc.Events.Get(calendarID, id).Context(ctx).Do()
		if err != nil {
			return err
		}
		existing = ev
		return nil
	})
	if err != nil {
		return nil, tools.GoogleError("calendar", missing, err)
	}
	if err := svc.Events.Delete(calendarID, id).Context(ctx).Do(); err != nil {
		return nil, tools.GoogleError("calendar", missing, err)
	}
	ev := toEvent(existing)
	return &tools.Result{Message: fmt.Sprintf("イベント「%s」を削除しました", ev.Title), Data: ev}, nil
}

func toEvent(e *calendarapi.Event) Event {
	ev := Event{ID: e.Id, Title: e.Summary, Description: e.Description, Link: e.HtmlLink}
	if ev.Title == "" {
		ev.Title = defaultTitle
	}
	if e.Start != nil {
		ev.Start = firstNonEmpty(e.Start.DateTime, e.Start.Date)
	}
	if e.End != nil {
		ev.End = firstNonEmpty(e.End.DateTime, e.End.Date)
	}
	return ev
}

// display renders an event start in the tool's zone; all-day events show the date only.
func (t *Tool) display(dt *calendarapi.EventDateTime) string {
	if dt == nil {
		return ""
	}
	if ts, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
		return ts.In(t.loc).Format("2006/01/02 15:04")
	}
	if d, err := time.Parse("2006-01-02", dt.Date); err == nil {
		return d.Format("2006/01/02") + " 終日"
	}
	return firstNonEmpty(dt.DateTime, dt.Date)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
