package credentials

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GoogleClient builds Google API clients authorized by a session credential.
// Endpoint overrides point the clients at test servers.
type GoogleClient struct {
	HTTPClient       *http.Client
	GmailEndpoint    string
	CalendarEndpoint string
}

func (g GoogleClient) options(ctx context.Context, cred *Credential, endpoint string) []option.ClientOption {
	base := g.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(cred.Token()))

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

// Gmail returns a Gmail API client for cred.
func (g GoogleClient) Gmail(ctx context.Context, cred *Credential) (*gmail.Service, error) {
	if cred == nil {
		return nil, ErrNotConnected
	}
	return gmail.NewService(ctx, g.options(ctx, cred, g.GmailEndpoint)...)
}

// Calendar returns a Calendar API client for cred.
func (g GoogleClient) Calendar(ctx context.Context, cred *Credential) (*calendar.Service, error) {
	if cred == nil {
		return nil, ErrNotConnected
	}
	return calendar.NewService(ctx, g.options(ctx, cred, g.CalendarEndpoint)...)
}

// IdentityResolver resolves a human-readable account identifier.
type IdentityResolver interface {
	Identity(ctx context.Context, cred *Credential) (string, error)
}

// GmailProfile resolves the account email through the Gmail profile endpoint.
type GmailProfile struct {
	API GoogleClient
}

func (p GmailProfile) Identity(ctx context.Context, cred *Credential) (string, error) {
	svc, err := p.API.Gmail(ctx, cred)
	if err != nil {
		return "", err
	}
	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	email := strings.TrimSpace(profile.EmailAddress)
	if email == "" {
		return "", errors.New("gmail profile has no email address")
	}
	return email, nil
}
