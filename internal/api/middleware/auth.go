package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethosengine/doorway/internal/auth"
	"github.com/ethosengine/doorway/pkg/models"
	"github.com/rs/zerolog/log"
)

type requesterContextKey struct{}

// AuthMiddleware authenticates requests using Doorway's JWT session tokens
// and stores the resulting RequesterContext in the request context.
type AuthMiddleware struct {
	issuer      *auth.Issuer
	requireAuth bool
}

// NewAuthMiddleware creates the JWT auth middleware. If requireAuth is
// true, unauthenticated requests to non-public paths are rejected.
func NewAuthMiddleware(issuer *auth.Issuer, requireAuth bool) *AuthMiddleware {
	return &AuthMiddleware{issuer: issuer, requireAuth: requireAuth}
}

// Handler authenticates the request if a token is present. A request with a
// token that fails verification is rejected with 401. A request with no
// token is rejected with 401 when requireAuth is set; otherwise it is
// forwarded as anonymous, and route handlers, via RequesterContextFrom,
// decide whether an anonymous caller may proceed (spec.md §4.9 reach gating
// treats anonymous as a valid, unauthenticated requester).
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := auth.ExtractToken(r)
		if token == "" {
			if am.requireAuth {
				rejectUnauthenticated(w, "authentication_required", "this endpoint requires a session token")
				return
			}
			ctx := WithRequesterContext(r.Context(), models.RequesterContext{Authenticated: false})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		claims, err := am.issuer.Verify(token)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("auth: token verification failed")
			rejectUnauthenticated(w, "authentication_failed", err.Error())
			return
		}

		rc := models.RequesterContext{
			AgentID:       claims.AgentPubKey,
			Authenticated: true,
		}
		ctx := WithRequesterContext(r.Context(), rc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func rejectUnauthenticated(w http.ResponseWriter, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="doorway"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": errCode, "message": message})
}

// WithRequesterContext stores a RequesterContext on ctx.
func WithRequesterContext(ctx context.Context, rc models.RequesterContext) context.Context {
	return context.WithValue(ctx, requesterContextKey{}, rc)
}

// RequesterContextFrom retrieves the RequesterContext stored by
// AuthMiddleware, defaulting to an anonymous, unauthenticated requester.
func RequesterContextFrom(ctx context.Context) models.RequesterContext {
	if rc, ok := ctx.Value(requesterContextKey{}).(models.RequesterContext); ok {
		return rc
	}
	return models.RequesterContext{Authenticated: false}
}

// isAuthPublicPath returns true for paths that should skip authentication.
func isAuthPublicPath(path string) bool {
	publicPaths := []string{
		"/health",
		"/healthz",
		"/ready",
		"/readyz",
		"/status",
		"/version",
		"/metrics",
	}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	if strings.HasPrefix(path, "/signal/") {
		return true
	}
	return false
}
