package oauthflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/vango-go/vai-voice/pkg/core/credentials"
	"github.com/vango-go/vai-voice/pkg/core/session"
)

// DefaultStateTTL bounds how long an issued authorization URL stays usable.
const DefaultStateTTL = 10 * time.Minute

// ErrExchangeFailed wraps a rejected or failed code exchange.
var ErrExchangeFailed = errors.New("oauthflow: authorization code exchange failed")

// AuthStart is returned to the browser to open the consent page.
type AuthStart struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// CallbackResult identifies the session a completed grant was stored under.
type CallbackResult struct {
	SessionID  string
	Credential *credentials.Credential
}

// Coordinator binds authorization attempts to sessions and completes them.
type Coordinator struct {
	client  ClientSource
	pending PendingStore
	vault   *credentials.Vault
	logger  *slog.Logger

	stateTTL        time.Duration
	exchangeTimeout time.Duration
	services        []credentials.Service
}

// Config configures a Coordinator.
type Config struct {
	Client          ClientSource
	Pending         PendingStore
	Vault           *credentials.Vault
	Logger          *slog.Logger
	StateTTL        time.Duration
	ExchangeTimeout time.Duration
}

// NewCoordinator creates a Coordinator. A nil Pending store defaults to an
// in-memory store.
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		client:          cfg.Client,
		pending:         cfg.Pending,
		vault:           cfg.Vault,
		logger:          cfg.Logger,
		stateTTL:        cfg.StateTTL,
		exchangeTimeout: cfg.ExchangeTimeout,
		services:        credentials.Services,
	}
	if c.pending == nil {
		c.pending = NewMemoryStore(time.Minute)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.stateTTL <= 0 {
		c.stateTTL = DefaultStateTTL
	}
	if c.exchangeTimeout <= 0 {
		c.exchangeTimeout = 30 * time.Second
	}
	return c
}

// Configured reports whether the OAuth client credentials are available.
func (c *Coordinator) Configured() bool {
	return c.client.Configured()
}

// OAuth2Config exposes the client configuration for token refresh.
func (c *Coordinator) OAuth2Config() (*oauth2.Config, error) {
	return c.client.Config()
}

// Start issues a fresh state bound to sessionID and returns the consent URL.
func (c *Coordinator) Start(ctx context.Context, sessionID string) (AuthStart, error) {
	if !session.Validate(sessionID) {
		return AuthStart{}, session.ErrInvalidSession
	}
	cfg, err := c.client.Config()
	if err != nil {
		return AuthStart{}, err
	}

	state, err := newState()
	if err != nil {
		return AuthStart{}, fmt.Errorf("generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	if err := c.pending.Put(ctx, state, Pending{SessionID: sessionID, Verifier: verifier}, c.stateTTL); err != nil {
		return AuthStart{}, err
	}

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		oauth2.S256ChallengeOption(verifier),
	)

	c.logger.Info("oauth authorization started", "session_id", sessionID)
	return AuthStart{AuthURL: authURL, State: state}, nil
}

// Callback consumes state and exchanges code for tokens. The state is removed
// before the exchange, so it can never be replayed whatever the outcome.
func (c *Coordinator) Callback(ctx context.Context, code, state string) (CallbackResult, error) {
	p, err := c.pending.Consume(ctx, state)
	if err != nil {
		return CallbackResult{}, err
	}
	if !session.Validate(p.SessionID) {
		return CallbackResult{}, ErrInvalidState
	}
	if code == "" {
		return CallbackResult{SessionID: p.SessionID}, fmt.Errorf("%w: missing code", ErrExchangeFailed)
	}

	cfg, err := c.client.Config()
	if err != nil {
		return CallbackResult{SessionID: p.SessionID}, err
	}

	exCtx, cancel := context.WithTimeout(ctx, c.exchangeTimeout)
	defer cancel()

	opts := []oauth2.AuthCodeOption{}
	if p.Verifier != "" {
		opts = append(opts, oauth2.VerifierOption(p.Verifier))
	}
	tok, err := cfg.Exchange(exCtx, code, opts...)
	if err != nil {
		c.logger.Warn("oauth exchange failed", "session_id", p.SessionID, "error", err)
		return CallbackResult{SessionID: p.SessionID}, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	cred := credentials.FromToken(tok, grantedScopes(tok))
	if err := c.vault.SaveGrant(ctx, p.SessionID, cred, c.services...); err != nil {
		return CallbackResult{SessionID: p.SessionID}, fmt.Errorf("store credentials: %w", err)
	}

	c.logger.Info("oauth authorization completed", "session_id", p.SessionID, "has_refresh_token", cred.RefreshToken != "")
	return CallbackResult{SessionID: p.SessionID, Credential: cred}, nil
}

// Close releases the pending store.
func (c *Coordinator) Close() error {
	return c.pending.Close()
}

func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func grantedScopes(tok *oauth2.Token) []string {
	raw, _ := tok.Extra("scope").(string)
	if fields := strings.Fields(raw); len(fields) > 0 {
		return fields
	}
	return append([]string(nil), Scopes...)
}
