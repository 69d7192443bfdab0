package mw

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/gateway/auth"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

// LimitRecorder receives a callback for every rejected request.
type LimitRecorder interface {
	RecordRateLimitHit(limitType string)
}

func RateLimit(limiter *ratelimit.Limiter, rec LimitRecorder, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and metrics endpoints must remain cheap and reliable.
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		dec := limiter.AllowRequest(LimitKey(r), time.Now())
		if !dec.Allowed {
			if rec != nil {
				rec.RecordRateLimitHit("request")
			}
			reqID, _ := RequestIDFrom(r.Context())
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", itoa(dec.RetryAfter))
			}
			writeJSONError(w, http.StatusTooManyRequests, &core.Error{
				Type:      core.ErrRateLimit,
				Message:   "rate limit exceeded",
				RequestID: reqID,
				RetryAfter: func() *int {
					if dec.RetryAfter <= 0 {
						return nil
					}
					v := dec.RetryAfter
					return &v
				}(),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LimitKey picks the bucket a request is charged to: its session when it
// carries a valid one, its client address otherwise.
func LimitKey(r *http.Request) string {
	if sid, err := auth.ParseSessionID(r, true); err == nil {
		return "session:" + sid
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "anonymous"
	}
	return "addr:" + host
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
