package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/vango-go/vai-voice/pkg/core/session"
)

type tokenServer struct {
	*httptest.Server
	calls  atomic.Int32
	reject bool
}

func newTokenServer(t *testing.T, reject bool) *tokenServer {
	t.Helper()
	ts := &tokenServer{reject: reject}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if ts.reject || r.Form.Get("grant_type") != "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-" + r.Form.Get("refresh_token"),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) config() ConfigFunc {
	return func() (*oauth2.Config, error) {
		return &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint: oauth2.Endpoint{
				TokenURL:  ts.URL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}, nil
	}
}

func newVault(t *testing.T, opts ...Option) *Vault {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewVault(store, opts...)
}

func TestLoad_AbsentIsNil(t *testing.T) {
	v := newVault(t)
	cred, err := v.Load(context.Background(), uuid.NewString(), ServiceGmail)
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	v := newVault(t)
	ctx := context.Background()
	id := uuid.NewString()

	want := &Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
	}
	require.NoError(t, v.Save(ctx, id, ServiceGmail, want))

	got, err := v.Load(ctx, id, ServiceGmail)
	require.NoError(t, err)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, want.Expiry.Equal(got.Expiry))
	assert.Equal(t, want.Scopes, got.Scopes)

	path, err := v.sessions.DataPath(id, ServiceGmail.Resource())
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	v := newVault(t)
	ctx := context.Background()
	id := uuid.NewString()

	for i := 0; i < 5; i++ {
		require.NoError(t, v.Save(ctx, id, ServiceCalendar, &Credential{AccessToken: "a"}))
	}
	dir, err := v.sessions.Dir(id)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "calendar_token.json", entries[0].Name())
}

func TestSaveGrant_WritesEveryService(t *testing.T) {
	v := newVault(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, v.SaveGrant(ctx, id, &Credential{AccessToken: "shared"}))
	for _, svc := range Services {
		cred, err := v.Load(ctx, id, svc)
		require.NoError(t, err)
		require.NotNil(t, cred, svc)
		assert.Equal(t, "shared", cred.AccessToken)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	v := newVault(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, v.Save(ctx, id, ServiceGmail, &Credential{AccessToken: "a"}))
	require.NoError(t, v.Delete(ctx, id, ServiceGmail))
	require.NoError(t, v.Delete(ctx, id, ServiceGmail))
	require.NoError(t, v.Disconnect(ctx, id))
	require.NoError(t, v.Disconnect(ctx, id))

	cred, err := v.Load(ctx, id, ServiceGmail)
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestInvalidSessionRejected(t *testing.T) {
	v := newVault(t)
	ctx := context.Background()

	_, err := v.Load(ctx, "../../etc", ServiceGmail)
	assert.ErrorIs(t, err, session.ErrInvalidSession)
	assert.ErrorIs(t, v.Save(ctx, "../../etc", ServiceGmail, &Credential{AccessToken: "a"}), session.ErrInvalidSession)
	assert.ErrorIs(t, v.Delete(ctx, "nope", ServiceGmail), session.ErrInvalidSession)
}

func TestSessionsDoNotShareCredentials(t *testing.T) {
	v := newVault(t)
	ctx := context.Background()
	s1, s2 := uuid.NewString(), uuid.NewString()

	require.NoError(t, v.SaveGrant(ctx, s1, &Credential{AccessToken: "s1-token"}))

	cred, err := v.Load(ctx, s2, ServiceGmail)
	require.NoError(t, err)
	assert.Nil(t, cred)

	_, err = v.Connection(ctx, s2, ServiceGmail)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestValidity(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v := newVault(t, WithClock(func() time.Time { return now }))

	assert.False(t, v.IsValid(nil))
	assert.False(t, v.IsValid(&Credential{}))
	assert.True(t, v.IsValid(&Credential{AccessToken: "a"}))
	assert.True(t, v.IsValid(&Credential{AccessToken: "a", Expiry: now.Add(time.Hour)}))
	assert.False(t, v.IsValid(&Credential{AccessToken: "a", Expiry: now.Add(30 * time.Second)}))
	assert.False(t, v.IsValid(&Credential{AccessToken: "a", Expiry: now.Add(-time.Hour)}))
}

func TestConnection_RefreshesExpiredAndPersists(t *testing.T) {
	ts := newTokenServer(t, false)
	v := newVault(t, WithRefresher(OAuth2Refresher{Config: ts.config()}))
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, v.Save(ctx, id, ServiceGmail, &Credential{
		AccessToken:  "stale",
		RefreshToken: "rt-1",
		Expiry:       time.Now().Add(-time.Hour),
		Scopes:       []string{"scope-a"},
	}))

	cred, err := v.Connection(ctx, id, ServiceGmail)
	require.NoError(t, err)
	assert.Equal(t, "fresh-rt-1", cred.AccessToken)
	assert.Equal(t, "rt-1", cred.RefreshToken, "refresh token is kept when the provider omits it")
	assert.Equal(t, []string{"scope-a"}, cred.Scopes)
	assert.True(t, cred.Valid())

	stored, err := v.Load(ctx, id, ServiceGmail)
	require.NoError(t, err)
	assert.Equal(t, "fresh-rt-1", stored.AccessToken)

	// A valid credential is served without another round-trip.
	_, err = v.Connection(ctx, id, ServiceGmail)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestConnection_ExpiredWithoutRefreshTokenIsNotConnected(t *testing.T) {
	ts := newTokenServer(t, false)
	v := newVault(t, WithRefresher(OAuth2Refresher{Config: ts.config()}))
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, v.Save(ctx, id, ServiceGmail, &Credential{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Hour),
	}))

	_, err := v.Connection(ctx, id, ServiceGmail)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, int32(0), ts.calls.Load())
}

func TestConnection_RejectedRefreshIsNotConnected(t *testing.T) {
	ts := newTokenServer(t, true)
	v := newVault(t, WithRefresher(OAuth2Refresher{Config: ts.config()}))
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, v.Save(ctx, id, ServiceGmail, &Credential{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	_, err := v.Connection(ctx, id, ServiceGmail)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, ErrRefreshFailed)
}

func TestRefresh_WithoutRefreshToken(t *testing.T) {
	v := newVault(t, WithRefresher(OAuth2Refresher{}))
	_, err := v.Refresh(context.Background(), &Credential{AccessToken: "a"})
	assert.ErrorIs(t, err, ErrRefreshFailed)
}

func TestIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/me/profile") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":401,"message":"bad token"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"emailAddress":"someone@example.org","messagesTotal":3}`))
	}))
	defer srv.Close()

	v := newVault(t, WithIdentity(GmailProfile{API: GoogleClient{GmailEndpoint: srv.URL + "/"}}))
	ctx := context.Background()

	assert.Equal(t, "someone@example.org", v.Identity(ctx, &Credential{AccessToken: "good", TokenType: "Bearer"}))
	assert.Equal(t, UnknownIdentity, v.Identity(ctx, &Credential{AccessToken: "bad", TokenType: "Bearer"}))
	assert.Equal(t, UnknownIdentity, v.Identity(ctx, nil))
	assert.Equal(t, UnknownIdentity, newVault(t).Identity(ctx, &Credential{AccessToken: "good"}))
}
