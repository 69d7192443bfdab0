// Package credentials persists per-session OAuth credentials for each
// integrated Google service and keeps them usable through refresh.
package credentials

import (
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ErrNotConnected indicates a session has no usable credential for a service:
// it was never authorized, was disconnected, or could not be refreshed.
var ErrNotConnected = errors.New("credentials: service not connected, authorize first")

// ErrRefreshFailed indicates the refresh token was missing or rejected.
var ErrRefreshFailed = errors.New("credentials: refresh failed, re-authorization required")

// UnknownIdentity is reported when the account identity cannot be resolved.
const UnknownIdentity = "unknown@example.com"

// expirySkew treats a token as expired slightly early so it is never sent
// upstream in its last seconds.
const expirySkew = time.Minute

// Service names an integrated external service.
type Service string

const (
	ServiceGmail    Service = "gmail"
	ServiceCalendar Service = "calendar"
)

// Services lists every service a single Google grant covers.
var Services = []Service{ServiceGmail, ServiceCalendar}

// Resource returns the per-session resource name the credential is stored under.
func (s Service) Resource() string {
	return string(s) + "_token"
}

// Credential holds the OAuth tokens for one service in one session.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Valid reports whether the access token can be used now.
func (c *Credential) Valid() bool {
	return c.validAt(time.Now())
}

func (c *Credential) validAt(now time.Time) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	if c.Expiry.IsZero() {
		return true
	}
	return now.Before(c.Expiry.Add(-expirySkew))
}

// Refreshable reports whether an expired credential can be renewed.
func (c *Credential) Refreshable() bool {
	return c != nil && c.RefreshToken != ""
}

// Token converts the credential to an oauth2 token.
func (c *Credential) Token() *oauth2.Token {
	if c == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// FromToken builds a credential from an oauth2 token and the granted scopes.
func FromToken(tok *oauth2.Token, scopes []string) *Credential {
	if tok == nil {
		return nil
	}
	return &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Scopes:       append([]string(nil), scopes...),
	}
}
