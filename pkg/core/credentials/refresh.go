package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Refresher renews an expired credential against the provider token endpoint.
type Refresher interface {
	Refresh(ctx context.Context, cred *Credential) (*Credential, error)
}

// ConfigFunc returns the shared OAuth client configuration.
type ConfigFunc func() (*oauth2.Config, error)

// OAuth2Refresher refreshes credentials with golang.org/x/oauth2.
type OAuth2Refresher struct {
	Config ConfigFunc
	// Timeout bounds one refresh round-trip. Zero means no extra bound.
	Timeout time.Duration
}

// Refresh exchanges the refresh token for a new access token. Every failure is
// reported as ErrRefreshFailed.
func (r OAuth2Refresher) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	if !cred.Refreshable() {
		return nil, ErrRefreshFailed
	}
	if r.Config == nil {
		return nil, fmt.Errorf("%w: oauth client is not configured", ErrRefreshFailed)
	}
	cfg, err := r.Config()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	stale := &oauth2.Token{
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Unix(1, 0),
	}
	tok, err := cfg.TokenSource(ctx, stale).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("%w: refresh token revoked", ErrRefreshFailed)
		}
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	out := FromToken(tok, cred.Scopes)
	if out.RefreshToken == "" {
		out.RefreshToken = cred.RefreshToken
	}
	return out, nil
}
