package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/dispatch"
	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/gateway/auth"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

// WebSocket channels, used as metric labels.
const (
	ChannelChat  = "chat"
	ChannelVoice = "voice"
)

const (
	msgNotRecognized  = "音声を認識できませんでした"
	msgEmptyMessage   = "メッセージが空です"
	msgInvalidFormat  = "Invalid message format"
	msgBinaryExpected = "Audio must be sent as binary frames"
	msgTextExpected   = "Chat messages must be JSON text frames"
	msgVoiceDisabled  = "音声認識は利用できません"
	msgShuttingDown   = "server is shutting down"

	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// Dispatcher is the dispatch pipeline seen by the WebSocket layer.
type Dispatcher interface {
	Handle(ctx context.Context, sessionID, utterance string) (*dispatch.Response, error)
	Configure(sessionID string, prefs dispatch.Preferences) (dispatch.Preferences, error)
	Reset(sessionID string)
	Status(sessionID string) dispatch.Status
}

// Transcriber turns one recorded utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, opts stt.TranscribeOptions) (*stt.Transcript, error)
}

// ConnRecorder observes WebSocket connection lifecycle.
type ConnRecorder interface {
	RecordWSOpen(channel string)
	RecordWSClose(channel string)
	RecordRateLimitHit(limitType string)
}

// WSHandler serves /ws/chat and /ws/voice. Messages on one connection are
// handled in order; each gets its own context, bounded by the pipeline's
// timeouts and canceled only on shutdown.
type WSHandler struct {
	Config    config.Config
	Pipeline  Dispatcher
	STT       Transcriber
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Tracker   *sessions.Tracker
	Metrics   ConnRecorder
	Logger    *slog.Logger
}

// inbound is the union of client frames on /ws/chat.
type inbound struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Content string          `json:"content"`
	Config  json.RawMessage `json:"config"`
}

type responseFrame struct {
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	AudioURL  *string `json:"audio_url"`
	Timestamp string  `json:"timestamp,omitempty"`
}

type statusFrame struct {
	Type    string `json:"type"`
	Status  any    `json:"status"`
	Applied any    `json:"applied,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Chat handles GET /ws/chat.
func (h WSHandler) Chat(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r, ChannelChat)
	if !ok {
		return
	}
	defer c.close()

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadErr(err)
			return
		}
		if mt != websocket.TextMessage {
			_ = c.writeJSON(errorFrame{Type: "error", Message: msgTextExpected})
			continue
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.writeJSON(errorFrame{Type: "error", Message: msgInvalidFormat})
			continue
		}
		if err := h.chatMessage(c, msg); err != nil {
			// The client is gone; the reply is dropped.
			return
		}
	}
}

func (h WSHandler) chatMessage(c *wsConn, msg inbound) error {
	switch msg.Type {
	case "message", "text":
		text := msg.Message
		if text == "" {
			text = msg.Content
		}
		resp, err := h.Pipeline.Handle(c.ctx, c.sessionID, text)
		if err != nil {
			if errors.Is(err, dispatch.ErrEmptyUtterance) {
				return c.writeJSON(errorFrame{Type: "error", Message: msgEmptyMessage})
			}
			h.logger().Error("dispatch failed", "session_id", c.sessionID, "error", err)
			return c.writeJSON(errorFrame{Type: "error", Message: dispatch.Apology})
		}
		return c.writeJSON(responseFrame{
			Type:     "response",
			Content:  resp.Text,
			AudioURL: audioURL(resp),
		})

	case "config_update":
		var prefs dispatch.Preferences
		if len(msg.Config) > 0 && string(msg.Config) != "null" {
			if err := json.Unmarshal(msg.Config, &prefs); err != nil {
				return c.writeJSON(errorFrame{Type: "error", Message: msgInvalidFormat})
			}
		}
		applied, err := h.Pipeline.Configure(c.sessionID, prefs)
		if err != nil {
			return c.writeJSON(errorFrame{Type: "error", Message: configErrorMessage(err)})
		}
		h.logger().Info("session configured", "session_id", c.sessionID, "llm_provider", applied.LLMProvider, "tts_provider", applied.TTSProvider)
		return c.writeJSON(statusFrame{Type: "status", Status: "configured", Applied: applied})

	case "reset":
		h.Pipeline.Reset(c.sessionID)
		return c.writeJSON(statusFrame{Type: "status", Status: "reset_done"})

	case "status_request":
		return c.writeJSON(statusFrame{Type: "status", Status: h.Pipeline.Status(c.sessionID)})

	default:
		h.logger().Warn("unknown chat message type", "session_id", c.sessionID, "type", msg.Type)
		return c.writeJSON(errorFrame{Type: "error", Message: "Unknown message type: " + msg.Type})
	}
}

// Voice handles GET /ws/voice. Each binary frame is one recorded utterance;
// the container format may be hinted with ?format=.
func (h WSHandler) Voice(w http.ResponseWriter, r *http.Request) {
	format := strings.TrimSpace(r.URL.Query().Get("format"))

	c, ok := h.open(w, r, ChannelVoice)
	if !ok {
		return
	}
	defer c.close()

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadErr(err)
			return
		}
		if mt != websocket.BinaryMessage {
			_ = c.writeJSON(errorFrame{Type: "error", Message: msgBinaryExpected})
			continue
		}
		if err := h.voiceMessage(c, data, format); err != nil {
			return
		}
	}
}

func (h WSHandler) voiceMessage(c *wsConn, audio []byte, format string) error {
	if h.STT == nil {
		return c.writeJSON(errorFrame{Type: "error", Message: msgVoiceDisabled})
	}

	timeout := h.Config.VoiceTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sttCtx, cancel := context.WithTimeout(c.ctx, timeout)
	tr, err := h.STT.Transcribe(sttCtx, bytes.NewReader(audio), stt.TranscribeOptions{
		Language: h.Config.STTLanguage,
		Format:   format,
	})
	cancel()
	if err != nil {
		h.logger().Warn("transcription failed", "session_id", c.sessionID, "bytes", len(audio), "error", err)
		return c.writeJSON(errorFrame{Type: "error", Message: msgNotRecognized})
	}
	var text string
	if tr != nil {
		text = strings.TrimSpace(tr.Text)
	}
	if text == "" {
		return c.writeJSON(errorFrame{Type: "error", Message: msgNotRecognized})
	}

	if err := c.writeJSON(responseFrame{Type: "user_message", Content: text, Timestamp: timestamp()}); err != nil {
		return err
	}

	resp, err := h.Pipeline.Handle(c.ctx, c.sessionID, text)
	if err != nil {
		h.logger().Error("dispatch failed", "session_id", c.sessionID, "error", err)
		return c.writeJSON(errorFrame{Type: "error", Message: dispatch.Apology})
	}
	return c.writeJSON(responseFrame{
		Type:      "assistant_message",
		Content:   resp.Text,
		AudioURL:  audioURL(resp),
		Timestamp: timestamp(),
	})
}

// open runs the pre-upgrade checks, upgrades the connection and registers
// it. On failure the HTTP response has already been written.
func (h WSHandler) open(w http.ResponseWriter, r *http.Request, channel string) (*wsConn, bool) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	sid, ok := auth.SessionIDFrom(r.Context())
	if !ok {
		writeError(w, r, auth.ErrMissingSession)
		return nil, false
	}
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrAPI, Message: "server is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return nil, false
	}
	if !h.originAllowed(r) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "origin is not allowed", Param: "Origin", Code: "origin_not_allowed"}, http.StatusForbidden)
		return nil, false
	}

	var permit *ratelimit.Permit
	if h.Limiter != nil {
		dec := h.Limiter.AcquireConnection("session:"+sid, time.Now())
		if !dec.Allowed {
			if h.Metrics != nil {
				h.Metrics.RecordRateLimitHit("connection")
			}
			w.Header().Set("Retry-After", fmt.Sprint(dec.RetryAfter))
			writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrRateLimit, Message: "too many open connections for this session"}, http.StatusTooManyRequests)
			return nil, false
		}
		permit = dec.Permit
	}

	upgrader := websocket.Upgrader{
		// Origin is checked above against the configured allowlist.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		permit.Release()
		return nil, false
	}
	if h.Config.WSMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.WSMaxMessageBytes)
	}

	// Client disconnects must not cancel in-flight work; shutdown does.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &wsConn{
		conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
		sessionID: sid,
		channel:   channel,
		logger:    h.logger(),
		permit:    permit,
		metrics:   h.Metrics,
		done:      make(chan struct{}),
	}
	_, c.unregister = h.Tracker.Register(sessions.Handle{
		SessionID: sid,
		Channel:   channel,
		Cancel:    c.shutdown,
		Warn: func(message string) error {
			return c.writeJSON(errorFrame{Type: "error", Message: message})
		},
	})
	if h.Metrics != nil {
		h.Metrics.RecordWSOpen(channel)
	}
	go c.pingLoop()

	h.logger().Info("websocket connected", "session_id", sid, "channel", channel, "request_id", reqID)
	return c, true
}

// originAllowed accepts requests without an Origin, from the app's own
// origin, or from an allowlisted origin.
func (h WSHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if _, ok := h.Config.CORSAllowedOrigins[origin]; ok {
		return true
	}
	if app := OriginOf(h.Config.AppURL); app != "" && strings.EqualFold(origin, app) {
		return true
	}
	return strings.EqualFold(origin, "http://"+r.Host) || strings.EqualFold(origin, "https://"+r.Host)
}

// OriginOf reduces a base URL to scheme://host, or "" when it has neither.
func OriginOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func (h WSHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type wsConn struct {
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	sessionID string
	channel   string
	logger    *slog.Logger
	permit    *ratelimit.Permit
	metrics   ConnRecorder

	unregister func()

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) pingLoop() {
	t := time.NewTicker(wsPingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// shutdown is called by the tracker when the server drains.
func (c *wsConn) shutdown() {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, msgShuttingDown),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.cancel()
	_ = c.conn.Close()
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		_ = c.conn.Close()
		c.permit.Release()
		c.unregister()
		if c.metrics != nil {
			c.metrics.RecordWSClose(c.channel)
		}
		c.logger.Info("websocket disconnected", "session_id", c.sessionID, "channel", c.channel)
	})
}

func (c *wsConn) logReadErr(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("websocket message too large", "session_id", c.sessionID, "channel", c.channel)
		return
	}
	c.logger.Debug("websocket read ended", "session_id", c.sessionID, "channel", c.channel, "error", err)
}

func audioURL(resp *dispatch.Response) *string {
	if resp == nil || resp.AudioURL == "" {
		return nil
	}
	u := resp.AudioURL
	return &u
}

// configErrorMessage keeps validation messages and hides anything else.
func configErrorMessage(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) && ce.Type == core.ErrInvalidRequest {
		return ce.Message
	}
	return dispatch.UserMessage(err)
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
