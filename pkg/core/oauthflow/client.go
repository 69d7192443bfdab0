// Package oauthflow runs the Google authorization-code flow for a session:
// it issues authorization URLs, tracks in-flight state→session bindings, and
// exchanges the callback code for credentials stored in the vault.
package oauthflow

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrConfiguration indicates the shared OAuth client credentials are missing
// or unreadable.
var ErrConfiguration = errors.New("oauthflow: oauth client credentials not configured")

// NotConfiguredMessage is the operator-facing explanation for ErrConfiguration.
const NotConfiguredMessage = "Gmail credentials not configured. Please set GMAIL_CREDENTIALS_JSON environment variable or provide credentials file."

// CallbackPath is the route Google redirects back to.
const CallbackPath = "/api/gmail/auth/callback"

// Scopes requested by one grant. The same grant serves Gmail and Calendar.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.compose",
	"https://www.googleapis.com/auth/calendar",
}

// RedirectURL returns the callback URL for a public application base URL.
func RedirectURL(appURL string) string {
	appURL = strings.TrimRight(strings.TrimSpace(appURL), "/")
	if appURL == "" {
		appURL = "http://localhost:8000"
	}
	return appURL + CallbackPath
}

// ClientSource loads the process-wide OAuth client configuration. The inline
// JSON wins over the file. Both use Google's "web" or "installed" client
// secret format.
type ClientSource struct {
	JSON        string
	File        string
	RedirectURL string

	// Endpoint overrides Google's endpoints when non-zero.
	Endpoint oauth2.Endpoint
}

// Configured reports whether client credentials are available.
func (c ClientSource) Configured() bool {
	if strings.TrimSpace(c.JSON) != "" {
		return true
	}
	if c.File == "" {
		return false
	}
	info, err := os.Stat(c.File)
	return err == nil && !info.IsDir()
}

// Config builds the oauth2 configuration. Every call uses the same redirect
// URL so the authorization and exchange requests always agree.
func (c ClientSource) Config() (*oauth2.Config, error) {
	raw := []byte(strings.TrimSpace(c.JSON))
	if len(raw) == 0 {
		if c.File == "" {
			return nil, ErrConfiguration
		}
		data, err := os.ReadFile(c.File)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, ErrConfiguration
			}
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		raw = data
	}

	cfg, err := google.ConfigFromJSON(raw, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if c.RedirectURL != "" {
		cfg.RedirectURL = c.RedirectURL
	}
	if c.Endpoint.AuthURL != "" {
		cfg.Endpoint.AuthURL = c.Endpoint.AuthURL
	}
	if c.Endpoint.TokenURL != "" {
		cfg.Endpoint.TokenURL = c.Endpoint.TokenURL
	}
	if c.Endpoint.AuthStyle != oauth2.AuthStyleAutoDetect {
		cfg.Endpoint.AuthStyle = c.Endpoint.AuthStyle
	}
	return cfg, nil
}
