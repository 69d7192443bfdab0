// Package gmail implements the Gmail tool on the per-session Google
// credential.
package gmail

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/vango-go/vai-voice/pkg/core/credentials"
	"github.com/vango-go/vai-voice/pkg/core/tools"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

const (
	// DefaultMaxResults bounds a list call without max_results.
	DefaultMaxResults = 10
	maxResultsCap     = 50

	// MetaLatestEmailID is the bindable metadata key naming the newest listed message.
	MetaLatestEmailID = "latest_email_id"

	noMatch  = "該当するメールが見つかりませんでした。"
	notFound = "メールが見つかりませんでした"
)

var metadataHeaders = []string{"From", "Subject", "Date"}

// Summary is one listed message.
type Summary struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
	From     string `json:"from"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
}

// Detail is one read message.
type Detail struct {
	Summary
	To   string `json:"to"`
	Body string `json:"body"`
}

// Sent describes a sent message or a created draft.
type Sent struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
}

// Tool lists, reads, sends, drafts and replies to mail.
type Tool struct {
	creds tools.Connector
	api   credentials.GoogleClient
}

// New creates the Gmail tool. A nil connector leaves it unconfigured.
func New(creds tools.Connector, api credentials.GoogleClient) *Tool {
	return &Tool{creds: creds, api: api}
}

func (t *Tool) Name() string     { return "gmail" }
func (t *Tool) Configured() bool { return t.creds != nil }

func (t *Tool) Definition() types.Tool {
	return types.Tool{
		Name:        "gmail",
		Description: "Gmailでメールの確認、作成、送信、返信を行う",
		InputSchema: types.ObjectSchema(map[string]types.JSONSchema{
			"action": {
				Type:        "string",
				Description: "実行する操作: 'list' (メール一覧取得), 'read' (特定メール読み取り), 'send' (メール送信), 'compose' (下書き作成), 'reply' (返信)",
				Enum:        []string{"list", "read", "send", "compose", "reply"},
			},
			"query":       {Type: "string", Description: "メール検索クエリ。例: 'is:unread', 'from:example@gmail.com', 'subject:重要'"},
			"message_id":  {Type: "string", Description: "メッセージID（read / reply。read で省略時は最新1件を自動選択）"},
			"to":          {Type: "string", Description: "送信先メールアドレス（send / compose）"},
			"subject":     {Type: "string", Description: "メールの件名（send / compose）"},
			"body":        {Type: "string", Description: "メールの本文（send / compose / reply）"},
			"reply_quote": {Type: "boolean", Description: "返信時に引用を含めるか", Default: true},
			"max_results": {Type: "integer", Description: "取得する最大メール数（list）", Default: DefaultMaxResults},
		}, "action"),
	}
}

func (t *Tool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	cred, err := t.creds.Connection(ctx, call.SessionID, credentials.ServiceGmail)
	if err != nil {
		return nil, err
	}
	svc, err := t.api.Gmail(ctx, cred)
	if err != nil {
		return nil, err
	}

	var res *tools.Result
	switch action := call.Args.String("action"); action {
	case "list":
		res, err = list(ctx, svc, call.Args)
	case "read":
		res, err = read(ctx, svc, call.Args)
	case "send":
		res, err = send(ctx, svc, call.Args)
	case "compose":
		res, err = compose(ctx, svc, call.Args)
	case "reply":
		res, err = reply(ctx, svc, call.Args)
	default:
		return nil, tools.Failf("不明なアクション: %s", action)
	}
	if err != nil {
		return nil, tools.GoogleError("gmail", notFound, err)
	}
	return res, nil
}

func search(ctx context.Context, svc *gmailapi.Service, query string, limit int) ([]*gmailapi.Message, error) {
	var out []*gmailapi.Message
	err := tools.RetryRead(ctx, func(ctx context.Context) error {
		call := svc.Users.Messages.List("me").MaxResults(int64(limit)).Context(ctx)
		if query != "" {
			call = call.Q(query)
		}
		resp, err := call.Do()
		if err != nil {
			return err
		}
		out = resp.Messages
		return nil
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func get(ctx context.Context, svc *gmailapi.Service, id string, metadataOnly bool) (*gmailapi.Message, error) {
	var msg *gmailapi.Message
	err := tools.RetryRead(ctx, func(ctx context.Context) error {
		call := svc.Users.Messages.Get("me", id).Context(ctx)
		if metadataOnly {
			call = call.Format("metadata").MetadataHeaders(metadataHeaders...)
		} else {
			call = call.Format("full")
		}
		m, err := call.Do()
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	return msg, err
}

func summarize(msg *gmailapi.Message) Summary {
	h := headersOf(msg.Payload)
	return Summary{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		From:     h.get("From", "不明"),
		Subject:  h.get("Subject", "件名なし"),
		Date:     h.get("Date", "日付不明"),
	}
}

func list(ctx context.Context, svc *gmailapi.Service, args tools.Args) (*tools.Result, error) {
	limit := args.Int("max_results", DefaultMaxResults)
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	limit = min(limit, maxResultsCap)

	found, err := search(ctx, svc, args.String("query"), limit)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return &tools.Result{Message: noMatch, Data: []Summary{}}, nil
	}

	summaries := make([]Summary, 0, len(found))
	for _, ref := range found {
		msg, err := get(ctx, svc, ref.Id, true)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summarize(msg))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📧 メール一覧 (%d件)\n\n", len(summaries))
	for i, s := range summaries {
		fmt.Fprintf(&b, "%d. **%s**\n   差出人: %s\n   日時: %s\n   ID: %s\n\n", i+1, s.Subject, s.From, s.Date, s.ID)
	}
	return &tools.Result{
		Message:  b.String(),
		Data:     summaries,
		Metadata: map[string]any{MetaLatestEmailID: summaries[0].ID},
	}, nil
}

func read(ctx context.Context, svc *gmailapi.Service, args tools.Args) (*tools.Result, error) {
	id := args.String("message_id")
	if id == "" {
		found, err := search(ctx, svc, args.String("query"), 1)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return &tools.Result{Message: noMatch}, nil
		}
		id = found[0].Id
	}

	msg, err := get(ctx, svc, id, false)
	if err != nil {
		return nil, err
	}
	h := headersOf(msg.Payload)
	d := Detail{Summary: summarize(msg), To: h.get("To", "不明"), Body: extractBody(msg.Payload)}

	text := fmt.Sprintf("📧 **メール詳細**\n\n**件名**: %s\n**差出人**: %s\n**宛先**: %s\n**日時**: %s\n\n**本文**:\n%s\n",
		d.Subject, d.From, d.To, d.Date, d.Body)
	return &tools.Result{Message: text, Data: d, Metadata: map[string]any{MetaLatestEmailID: d.ID}}, nil
}

func draftFromArgs(args tools.Args) (outgoing, error) {
	to, subject, body := args.String("to"), args.String("subject"), args.String("body")
	if to == "" || subject == "" || body == "" {
		return outgoing{}, tools.Failf("to, subject, body が全て必要です")
	}
	addrs, err := parseRecipients(to)
	if err != nil {
		return outgoing{}, tools.Failf("宛先のメールアドレスが正しくありません: %s", to)
	}
	return outgoing{To: addrs, Subject: subject, Body: body}, nil
}

func send(ctx context.Context, svc *gmailapi.Service, args tools.Args) (*tools.Result, error) {
	m, err := draftFromArgs(args)
	if err != nil {
		return nil, err
	}
	sent, err := svc.Users.Messages.Send("me", &gmailapi.Message{Raw: m.raw()}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := Sent{ID: sent.Id, ThreadID: sent.ThreadId, To: args.String("to"), Subject: m.Subject}
	return &tools.Result{
		Message: fmt.Sprintf("✅ メールを送信しました\n宛先: %s\n件名: %s\nメッセージID: %s", out.To, out.Subject, out.ID),
		Data:    out,
	}, nil
}

func compose(ctx context.Context, svc *gmailapi.Service, args tools.Args) (*tools.Result, error) {
	m, err := draftFromArgs(args)
	if err != nil {
		return nil, err
	}
	draft, err := svc.Users.Drafts.Create("me", &gmailapi.Draft{Message: &gmailapi.Message{Raw: m.raw()}}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := Sent{ID: draft.Id, To: args.String("to"), Subject: m.Subject}
	return &tools.Result{
		Message: fmt.Sprintf("📝 下書きを作成しました\n宛先: %s\n件名: %s\n下書きID: %s", out.To, out.Subject, out.ID),
		Data:    out,
	}, nil
}

func reply(ctx context.Context, svc *gmailapi.Service, args tools.Args) (*tools.Result, error) {
	id, body := args.String("message_id"), args.String("body")
	if id == "" || body == "" {
		return nil, tools.Failf("message_id と body が必要です")
	}

	orig, err := get(ctx, svc, id, false)
	if err != nil {
		return nil, err
	}
	h := headersOf(orig.Payload)

	target := h.get("Reply-To", h.get("From", ""))
	var to *mail.Address
	if addr, err := mail.ParseAddress(target); err == nil {
		to = &mail.Address{Address: addr.Address}
	} else if strings.Contains(target, "@") {
		to = &mail.Address{Address: target}
	}
	if to == nil {
		return nil, tools.Failf("返信先アドレスを特定できませんでした")
	}

	m := outgoing{
		To:      []*mail.Address{to},
		Subject: replySubject(h.get("Subject", "No subject")),
		Body:    body,
	}
	references := h.get("References", "")
	if msgID := h.get("Message-ID", ""); msgID != "" {
		m.InReplyTo = msgID
		references = strings.TrimSpace(references + " " + msgID)
	}
	m.References = references
	if args.Bool("reply_quote", true) {
		if origBody := extractBody(orig.Payload); origBody != noBody {
			m.Body += quote(origBody)
		}
	}

	sent, err := svc.Users.Messages.Send("me", &gmailapi.Message{Raw: m.raw(), ThreadId: orig.ThreadId}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := Sent{ID: sent.Id, ThreadID: sent.ThreadId, To: to.Address, Subject: m.Subject}
	return &tools.Result{
		Message: fmt.Sprintf("✅ 返信を送信しました\n宛先: %s\n件名: %s\nメッセージID: %s\nスレッドID: %s", out.To, out.Subject, out.ID, out.ThreadID),
		Data:    out,
	}, nil
}
