package handlers

import (
	"net/http"

	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "Voice assistant backend is running",
	})
}

// ReadyHandler reports whether the process can complete an OAuth grant and
// is not draining.
type ReadyHandler struct {
	OAuth     interface{ Configured() bool }
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		OAuth    bool     `json:"oauth_configured"`
		Draining bool     `json:"draining"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	oauthOK := h.OAuth != nil && h.OAuth.Configured()
	if !oauthOK {
		issues = append(issues, "gmail oauth client is not configured")
	}
	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "server is draining")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResp{
		OK:       ok,
		OAuth:    oauthOK,
		Draining: draining,
		Issues:   issues,
	})
}
