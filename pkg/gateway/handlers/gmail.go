package handlers

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core/credentials"
	"github.com/vango-go/vai-voice/pkg/core/oauthflow"
	"github.com/vango-go/vai-voice/pkg/gateway/auth"
)

// AuthFlow is the OAuth coordinator seen by the HTTP layer.
type AuthFlow interface {
	Start(ctx context.Context, sessionID string) (oauthflow.AuthStart, error)
	Callback(ctx context.Context, code, state string) (oauthflow.CallbackResult, error)
}

// Connections is the credential vault seen by the HTTP layer.
type Connections interface {
	Connection(ctx context.Context, sessionID string, svc credentials.Service) (*credentials.Credential, error)
	Identity(ctx context.Context, cred *credentials.Credential) string
	Disconnect(ctx context.Context, sessionID string) error
}

// CallbackRecorder counts OAuth callback outcomes.
type CallbackRecorder interface {
	RecordOAuthCallback(result string)
}

const disconnectedMessage = "Gmail & Calendar連携を解除しました"

// GmailHandler serves the Gmail & Calendar connection endpoints.
type GmailHandler struct {
	Flow    AuthFlow
	Vault   Connections
	Metrics CallbackRecorder
	Logger  *slog.Logger

	// AppOrigin is the only origin the success page posts to. Empty means
	// the page's own origin.
	AppOrigin string
}

// Start handles GET /api/gmail/auth/start.
func (h GmailHandler) Start(w http.ResponseWriter, r *http.Request) {
	sid, ok := auth.SessionIDFrom(r.Context())
	if !ok {
		writeError(w, r, auth.ErrMissingSession)
		return
	}
	start, err := h.Flow.Start(r.Context(), sid)
	if err != nil {
		if !errors.Is(err, oauthflow.ErrConfiguration) {
			h.logger().Error("oauth start failed", "session_id", sid, "error", err)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, start)
}

// Callback handles GET /api/gmail/auth/callback. It is reached by the
// consent popup, so every outcome renders HTML.
func (h GmailHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := strings.TrimSpace(q.Get("state"))
	code := strings.TrimSpace(q.Get("code"))

	if state == "" {
		h.record("invalid_state")
		renderPage(w, http.StatusBadRequest, invalidRequestPage, nil)
		return
	}

	res, err := h.Flow.Callback(r.Context(), code, state)
	switch {
	case err == nil:
		h.record("success")
		h.logger().Info("gmail connected", "session_id", res.SessionID)
		renderPage(w, http.StatusOK, successPage, map[string]string{"SessionID": res.SessionID, "Origin": h.AppOrigin})
	case errors.Is(err, oauthflow.ErrInvalidState):
		h.record("invalid_state")
		h.logger().Warn("oauth callback with unknown state")
		renderPage(w, http.StatusBadRequest, invalidRequestPage, nil)
	default:
		h.record("error")
		h.logger().Error("oauth callback failed", "session_id", res.SessionID, "error", err)
		renderPage(w, http.StatusInternalServerError, failurePage, nil)
	}
}

// Status handles GET /api/gmail/status. A session whose credential is
// missing, expired without a refresh token, or rejected on refresh reports
// connected:false rather than an error.
func (h GmailHandler) Status(w http.ResponseWriter, r *http.Request) {
	type statusResp struct {
		Connected bool    `json:"connected"`
		Email     *string `json:"email"`
	}

	sid, ok := auth.SessionIDFrom(r.Context())
	if !ok {
		writeError(w, r, auth.ErrMissingSession)
		return
	}
	cred, err := h.Vault.Connection(r.Context(), sid, credentials.ServiceGmail)
	if err != nil {
		if !errors.Is(err, credentials.ErrNotConnected) {
			h.logger().Warn("gmail status check failed", "session_id", sid, "error", err)
		}
		writeJSON(w, http.StatusOK, statusResp{Connected: false})
		return
	}
	email := h.Vault.Identity(r.Context(), cred)
	writeJSON(w, http.StatusOK, statusResp{Connected: true, Email: &email})
}

// Disconnect handles POST /api/gmail/disconnect. It succeeds whether or not
// anything was stored.
func (h GmailHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	sid, ok := auth.SessionIDFrom(r.Context())
	if !ok {
		writeError(w, r, auth.ErrMissingSession)
		return
	}
	if err := h.Vault.Disconnect(r.Context(), sid); err != nil {
		h.logger().Error("gmail disconnect failed", "session_id", sid, "error", err)
		writeError(w, r, err)
		return
	}
	h.logger().Info("gmail disconnected", "session_id", sid)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": disconnectedMessage,
	})
}

func (h GmailHandler) record(result string) {
	if h.Metrics != nil {
		h.Metrics.RecordOAuthCallback(result)
	}
}

func (h GmailHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func renderPage(w http.ResponseWriter, status int, page *template.Template, data any) {
	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func pageStyle(background string) string {
	return `<style>
body { font-family: Arial, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; color: white; background: ` + background + `; }
.container { text-align: center; padding: 2rem; background: rgba(255, 255, 255, 0.1); border-radius: 10px; }
</style>`
}

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
` + pageStyle("linear-gradient(135deg, #667eea 0%, #764ba2 100%)") + `
</head>
<body>
<div class="container">
<h1>Gmail & Calendar連携が完了しました！</h1>
<p>GmailとCalendarが両方使えるようになりました。<br>このウィンドウを閉じてください。</p>
</div>
<script>
if (window.opener) {
  window.opener.postMessage({type: 'gmail_auth_success', sessionId: {{.SessionID}}}, {{.Origin}} || window.location.origin);
}
setTimeout(function () { window.close(); }, 2000);
</script>
</body>
</html>`))

var invalidRequestPage = template.Must(template.New("invalid").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
` + pageStyle("#f44336") + `
</head>
<body>
<div class="container">
<h1>エラー</h1>
<p>無効な認証リクエストです。</p>
<p>もう一度お試しください。</p>
<button onclick="window.close()">閉じる</button>
</div>
</body>
</html>`))

var failurePage = template.Must(template.New("failure").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
` + pageStyle("#f44336") + `
</head>
<body>
<div class="container">
<h1>認証エラー</h1>
<p>認証に失敗しました。もう一度お試しください。</p>
<button onclick="window.close()">閉じる</button>
</div>
</body>
</html>`))
