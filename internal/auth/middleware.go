package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/whisper/dm-server/internal/apierror"
)

type contextKey string

const identityKey contextKey = "identity"

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header, or returns "".
func BearerToken(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// Middleware rejects requests without a valid bearer token and stores the
// identity in the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			apierror.Write(w, r, apierror.ErrUnauthorized)
			return
		}
		id, err := s.ValidateToken(r.Context(), token)
		if err != nil {
			apierror.Write(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity stored by Middleware.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}
