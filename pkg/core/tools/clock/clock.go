// Package clock implements the time tool.
package clock

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/vango-go/vai-voice/pkg/core/tools"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

// DefaultZone is used when no timezone is given or the given one is unknown.
const DefaultZone = "Asia/Tokyo"

var aliases = map[string]string{
	"日本":     "Asia/Tokyo",
	"東京":     "Asia/Tokyo",
	"JST":    "Asia/Tokyo",
	"アメリカ":   "America/New_York",
	"ニューヨーク": "America/New_York",
	"EST":    "America/New_York",
	"EDT":    "America/New_York",
	"ロンドン":   "Europe/London",
	"GMT":    "Europe/London",
	"UTC":    "UTC",
	"協定世界時":  "UTC",
	"北京":     "Asia/Shanghai",
	"上海":     "Asia/Shanghai",
	"香港":     "Asia/Hong_Kong",
	"シドニー":   "Australia/Sydney",
	"ロサンゼルス": "America/Los_Angeles",
	"PST":    "America/Los_Angeles",
	"PDT":    "America/Los_Angeles",
}

var specialDays = map[[2]int]string{
	{1, 1}:   "元日",
	{2, 14}:  "バレンタインデー",
	{3, 14}:  "ホワイトデー",
	{4, 1}:   "エイプリルフール",
	{5, 5}:   "こどもの日",
	{7, 7}:   "七夕",
	{10, 31}: "ハロウィン",
	{12, 24}: "クリスマスイブ",
	{12, 25}: "クリスマス",
	{12, 31}: "大晦日",
}

var weekdays = [...]string{"日", "月", "火", "水", "木", "金", "土"}

// Tool reports the current time in a timezone.
type Tool struct {
	now func() time.Time
}

// New creates the time tool. A nil clock uses time.Now.
func New(now func() time.Time) *Tool {
	if now == nil {
		now = time.Now
	}
	return &Tool{now: now}
}

func (t *Tool) Name() string     { return "time" }
func (t *Tool) Configured() bool { return true }

func (t *Tool) Definition() types.Tool {
	return types.Tool{
		Name:        "time",
		Description: "現在の時刻、日付、タイムゾーン情報を取得します",
		InputSchema: types.ObjectSchema(map[string]types.JSONSchema{
			"timezone": {
				Type:        "string",
				Description: "タイムゾーン（例：Asia/Tokyo, America/New_York, UTC）",
				Default:     DefaultZone,
			},
			"format": {
				Type:        "string",
				Description: "出力形式（datetime, date, time, timestamp）",
				Enum:        []string{"datetime", "date", "time", "timestamp"},
				Default:     "datetime",
			},
		}),
	}
}

// Execute formats the current time. Unknown zones fall back to DefaultZone.
func (t *Tool) Execute(_ context.Context, call tools.Call) (*tools.Result, error) {
	zone, loc := resolveZone(call.Args.String("timezone"))
	now := t.now().In(loc)
	format := call.Args.String("format")

	var msg string
	switch format {
	case "date":
		msg = formatDate(now)
	case "time":
		msg = formatTime(now)
	case "timestamp":
		msg = fmt.Sprintf("Unix タイムスタンプ: %d\nISO形式: %s", now.Unix(), now.Format(time.RFC3339))
	default:
		format = "datetime"
		msg = formatDateTime(now, zone)
	}
	return &tools.Result{
		Message: msg,
		Metadata: map[string]any{
			"timezone":  zone,
			"format":    format,
			"timestamp": now.Unix(),
		},
	}, nil
}

func resolveZone(name string) (string, *time.Location) {
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		name = DefaultZone
		loc, _ = time.LoadLocation(DefaultZone)
	}
	return name, loc
}

func formatDate(t time.Time) string {
	return fmt.Sprintf("%d年%d月%d日（%s曜日）", t.Year(), t.Month(), t.Day(), weekdays[t.Weekday()])
}

func formatTime(t time.Time) string {
	return fmt.Sprintf("%d時%d分%d秒", t.Hour(), t.Minute(), t.Second())
}

func formatDateTime(t time.Time, zone string) string {
	_, week := t.ISOWeek()
	s := fmt.Sprintf("📅 %s\n🕐 %s\n🌍 タイムゾーン: %s\n📊 年間通算: %d日目\n📈 週番号: 第%d週",
		formatDate(t), formatTime(t), zone, t.YearDay(), week)
	if special, ok := specialDays[[2]int{int(t.Month()), t.Day()}]; ok {
		s += "\n🎉 " + special
	}
	return s
}
