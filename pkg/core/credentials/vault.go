package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/singleflight"

	"github.com/vango-go/vai-voice/pkg/core/session"
)

// Vault stores credentials as one JSON file per service inside each session
// directory.
type Vault struct {
	sessions  *session.Store
	refresher Refresher
	identity  IdentityResolver
	logger    *slog.Logger
	now       func() time.Time

	refreshes singleflight.Group
}

// Option configures a Vault.
type Option func(*Vault)

// WithRefresher sets the refresh implementation.
func WithRefresher(r Refresher) Option {
	return func(v *Vault) { v.refresher = r }
}

// WithIdentity sets the account identity resolver.
func WithIdentity(r IdentityResolver) Option {
	return func(v *Vault) { v.identity = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// WithClock overrides the time source used for validity checks.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// NewVault creates a Vault over the given session store.
func NewVault(sessions *session.Store, opts ...Option) *Vault {
	v := &Vault{
		sessions: sessions,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Load returns the stored credential, or nil when the service is not connected.
func (v *Vault) Load(ctx context.Context, sessionID string, svc Service) (*Credential, error) {
	path, err := v.sessions.DataPath(sessionID, svc.Resource())
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s credential: %w", svc, err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decode %s credential: %w", svc, err)
	}
	return &cred, nil
}

// IsValid reports whether cred is usable without refresh.
func (v *Vault) IsValid(cred *Credential) bool {
	return cred.validAt(v.now())
}

// Save atomically replaces the stored credential.
func (v *Vault) Save(ctx context.Context, sessionID string, svc Service, cred *Credential) error {
	if cred == nil {
		return errors.New("credentials: nil credential")
	}
	path, err := v.sessions.DataPath(sessionID, svc.Resource())
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s credential: %w", svc, err)
	}
	return nil
}

// SaveGrant stores one grant under every listed service.
func (v *Vault) SaveGrant(ctx context.Context, sessionID string, cred *Credential, services ...Service) error {
	if len(services) == 0 {
		services = Services
	}
	for _, svc := range services {
		if err := v.Save(ctx, sessionID, svc, cred); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the stored credential. Deleting an absent credential succeeds.
func (v *Vault) Delete(ctx context.Context, sessionID string, svc Service) error {
	path, err := v.sessions.DataPath(sessionID, svc.Resource())
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s credential: %w", svc, err)
	}
	return nil
}

// Disconnect deletes the credentials of every service for a session.
func (v *Vault) Disconnect(ctx context.Context, sessionID string) error {
	var errs []error
	for _, svc := range Services {
		if err := v.Delete(ctx, sessionID, svc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Refresh renews cred with the configured Refresher.
func (v *Vault) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	if !cred.Refreshable() {
		return nil, ErrRefreshFailed
	}
	if v.refresher == nil {
		return nil, fmt.Errorf("%w: no refresher configured", ErrRefreshFailed)
	}
	out, err := v.refresher.Refresh(ctx, cred)
	if err != nil {
		if errors.Is(err, ErrRefreshFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	return out, nil
}

// Connection returns a usable credential, refreshing and persisting it when
// the stored one has expired. Every path that cannot produce a usable
// credential reports ErrNotConnected.
func (v *Vault) Connection(ctx context.Context, sessionID string, svc Service) (*Credential, error) {
	cred, err := v.Load(ctx, sessionID, svc)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrNotConnected
	}
	if v.IsValid(cred) {
		return cred, nil
	}
	if !cred.Refreshable() {
		return nil, ErrNotConnected
	}

	key := sessionID + "/" + string(svc)
	res, err, _ := v.refreshes.Do(key, func() (any, error) {
		fresh, err := v.Refresh(ctx, cred)
		if err != nil {
			return nil, err
		}
		if err := v.Save(ctx, sessionID, svc, fresh); err != nil {
			// The refreshed token is still usable for this request.
			v.logger.Warn("persist refreshed credential", "session_id", sessionID, "service", svc, "error", err)
		}
		return fresh, nil
	})
	if err != nil {
		v.logger.Info("credential refresh failed", "session_id", sessionID, "service", svc, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return res.(*Credential), nil
}

// Identity resolves the account identifier for cred. It never fails;
// UnknownIdentity is returned when the lookup does not succeed.
func (v *Vault) Identity(ctx context.Context, cred *Credential) string {
	if v.identity == nil || cred == nil {
		return UnknownIdentity
	}
	id, err := v.identity.Identity(ctx, cred)
	if err != nil || id == "" {
		if err != nil {
			v.logger.Debug("identity lookup failed", "error", err)
		}
		return UnknownIdentity
	}
	return id
}
