// ABOUTME: HTTP middleware resolving the caller identity from a bearer token
// ABOUTME: Accepts the Authorization header or an access_token query parameter for WebSocket upgrades

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/huddle/internal/apperr"
	"github.com/2389/huddle/internal/store"
)

// UserLookup resolves a token subject to a persisted user.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// requestToken prefers the Authorization header. Browsers cannot set headers on a
// WebSocket upgrade, so the access_token query parameter is accepted as a fallback.
func requestToken(r *http.Request) (string, string) {
	if h := r.Header.Get("Authorization"); h != "" {
		return extractBearerToken(h)
	}
	if q := r.URL.Query().Get("access_token"); q != "" {
		return q, ""
	}
	return "", "missing authorization header"
}

// Gate resolves identities for inbound requests.
type Gate struct {
	verifier TokenVerifier
	users    UserLookup
	logger   *slog.Logger
}

// NewGate creates an identity gate. A nil logger falls back to slog.Default().
func NewGate(verifier TokenVerifier, users UserLookup, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		verifier: verifier,
		users:    users,
		logger:   logger.With("component", "auth"),
	}
}

// Resolve returns the caller identity for r or an Unauthenticated error.
func (g *Gate) Resolve(r *http.Request) (*Identity, error) {
	token, errMsg := requestToken(r)
	if errMsg != "" {
		return nil, apperr.Unauthenticated("%s", errMsg)
	}

	claims, err := g.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, apperr.Unauthenticated("token expired")
		}
		return nil, apperr.Unauthenticated("invalid token")
	}

	user, err := g.users.GetUser(r.Context(), claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthenticated("unknown identity")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &Identity{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		AvatarRef:   user.AvatarRef,
		IssuedAt:    claims.IssuedAt,
		ExpiresAt:   claims.ExpiresAt,
	}, nil
}

// Middleware rejects requests without a valid identity and attaches the
// Identity to the request context otherwise.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.Resolve(r)
		if err != nil {
			e := apperr.From(err)
			if e.HTTPStatus() == http.StatusInternalServerError {
				g.logger.Error("resolving identity", "error", err)
			}
			writeError(w, e)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func writeError(w http.ResponseWriter, e *apperr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]apperr.Payload{"error": e.Payload()})
}
