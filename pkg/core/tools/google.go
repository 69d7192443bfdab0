package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/credentials"
)

// Connector hands out usable per-session credentials. *credentials.Vault
// implements it.
type Connector interface {
	Connection(ctx context.Context, sessionID string, svc credentials.Service) (*credentials.Credential, error)
}

// ReadBackoff is the retry policy for idempotent Google API reads.
var ReadBackoff = func() retry.Backoff {
	return retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
}

// RetryRead runs an idempotent Google API call, retrying throttling and
// server errors.
func RetryRead(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, ReadBackoff(), func(ctx context.Context) error {
		err := fn(ctx)
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// GoogleError classifies a Google API failure. Rejected credentials become
// credentials.ErrNotConnected, a missing resource becomes a UserError with
// notFound, and everything else an upstream error for service.
func GoogleError(service, notFound string, err error) error {
	if err == nil {
		return nil
	}
	var (
		gerr *googleapi.Error
		cerr *core.Error
		uerr *UserError
	)
	if !errors.As(err, &gerr) || errors.As(err, &cerr) || errors.As(err, &uerr) || errors.Is(err, credentials.ErrNotConnected) {
		return err
	}
	switch gerr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", credentials.ErrNotConnected, err)
	case http.StatusNotFound:
		if notFound != "" {
			return &UserError{Message: notFound}
		}
	}
	return core.NewUpstreamError(service, gerr.Code, err)
}
