package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core/session"
)

// ErrMissingSession is returned when a request carries no session id.
var ErrMissingSession = errors.New("missing session id")

// MissingSessionMessage is the client-facing text for ErrMissingSession.
const MissingSessionMessage = "Session ID is required. Please include 'X-Session-ID' header."

// Principal identifies the caller of a session-scoped request. Today this is
// only the client-held session id.
type Principal struct {
	SessionID string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// SessionIDFrom returns the validated session id bound to ctx.
func SessionIDFrom(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	if !ok || p.SessionID == "" {
		return "", false
	}
	return p.SessionID, true
}

// ParseSessionID reads the session id from the X-Session-ID header. When
// allowQuery is set, the session_id query parameter is accepted as well since
// browsers cannot set headers on WebSocket upgrades.
func ParseSessionID(r *http.Request, allowQuery bool) (string, error) {
	id := strings.TrimSpace(r.Header.Get(session.Header))
	if id == "" && allowQuery {
		id = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	if id == "" {
		return "", ErrMissingSession
	}
	if !session.Validate(id) {
		return "", session.ErrInvalidSession
	}
	return strings.ToLower(id), nil
}
