package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/credentials"
	"github.com/vango-go/vai-voice/pkg/core/oauthflow"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/gateway/auth"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrTimeout,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Domain sentinels.
	switch {
	case errors.Is(err, auth.ErrMissingSession):
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   auth.MissingSessionMessage,
			Param:     session.Header,
			Code:      "missing_session",
			RequestID: requestID,
		}, http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidSession):
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   "invalid session ID format",
			Param:     session.Header,
			Code:      "invalid_session",
			RequestID: requestID,
		}, http.StatusBadRequest
	case errors.Is(err, oauthflow.ErrConfiguration):
		return &core.Error{
			Type:      core.ErrConfiguration,
			Message:   oauthflow.NotConfiguredMessage,
			RequestID: requestID,
		}, http.StatusInternalServerError
	case errors.Is(err, oauthflow.ErrInvalidState):
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   "invalid or expired state parameter",
			Param:     "state",
			Code:      "invalid_state",
			RequestID: requestID,
		}, http.StatusBadRequest
	case errors.Is(err, credentials.ErrNotConnected), errors.Is(err, credentials.ErrRefreshFailed):
		return &core.Error{
			Type:      core.ErrAuthentication,
			Message:   "service not connected, please authorize first",
			Code:      "not_connected",
			RequestID: requestID,
		}, http.StatusUnauthorized
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		if out.Type == core.ErrProvider {
			// Raw upstream text stays in the logs.
			out.Message = "upstream provider error"
		}
		return &out, statusFromType(coreErr.Type)
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrConfiguration:
		return http.StatusInternalServerError
	case core.ErrTimeout:
		return http.StatusGatewayTimeout
	case core.ErrProvider:
		return http.StatusBadGateway
	case core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
