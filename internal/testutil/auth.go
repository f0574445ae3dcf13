package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vklg/chatlens/internal/api"
	"github.com/vklg/chatlens/internal/auth"
)

// CookieForUser creates a user directly in the store, logs them in through
// the API and returns a valid session cookie.
func CookieForUser(t *testing.T, s *api.Server, username, password string, premium bool) *http.Cookie {
	t.Helper()

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password for test user: %v", err)
	}
	if _, err := s.Store().CreateUser(username, passwordHash, premium); err != nil {
		t.Fatalf("Failed to create test user %q: %v", username, err)
	}

	loginPayload := map[string]string{"username": username, "password": password}
	payloadBytes, _ := json.Marshal(loginPayload)
	req, _ := http.NewRequest("POST", "/api/users/login", bytes.NewBuffer(payloadBytes))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Login failed within test helper for user %q: got status %d, want 200", username, rr.Code)
	}

	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == "session_token" {
			return cookie
		}
	}
	t.Fatal("No session cookie returned after successful login")
	return nil
}
