package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nilemarket/storefront/internal/platform/httpx"
	"github.com/nilemarket/storefront/internal/platform/requestctx"
)

// SessionIssuer returns the request's shopper session, issuing one when the caller has none yet.
type SessionIssuer interface {
	Ensure(w http.ResponseWriter, r *http.Request) (string, error)
}

func currentSession(ctx context.Context) string {
	return requestctx.SessionID(ctx)
}

// ensureSession resolves or issues the session and writes the error envelope on failure.
func ensureSession(w http.ResponseWriter, r *http.Request, issuer SessionIssuer) (string, bool) {
	if id := currentSession(r.Context()); id != "" {
		return id, true
	}
	if issuer == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("session_unavailable", "session cannot be issued", http.StatusServiceUnavailable))
		return "", false
	}
	id, err := issuer.Ensure(w, r)
	if err != nil {
		requestctx.Logger(r.Context()).Error("session.issue_failed", zap.Error(err))
		httpx.WriteError(r.Context(), w, httpx.NewError("session_unavailable", "session cannot be issued", http.StatusServiceUnavailable))
		return "", false
	}
	return id, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}
