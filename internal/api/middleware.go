package api

// Middleware for authentication and premium gating.

import (
	"context"
	"net/http"

	"github.com/vklg/chatlens/internal/models"
)

// contextKey is a private type to prevent collisions with other context keys.
type contextKey string

const userContextKey = contextKey("user")

// AuthMiddleware verifies the caller's session cookie, loads the user record
// and injects it into the request context for downstream handlers.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("session_token")
		if err != nil {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized: No session token")
			return
		}

		user, err := s.store.GetUserFromSession(cookie.Value)
		if err != nil {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized: Invalid session")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PremiumOnlyMiddleware restricts a route to premium accounts. It must be
// chained after AuthMiddleware.
func (s *Server) PremiumOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := getUserFromContext(r)
		if user == nil {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if !user.IsPremium {
			RespondWithError(w, http.StatusForbidden, "Forbidden: Premium subscription required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getUserFromContext safely retrieves the user from the request context,
// returning nil if absent.
func getUserFromContext(r *http.Request) *models.User {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
