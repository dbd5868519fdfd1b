/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/pulse/lib/backend/memory"
	"github.com/gravitational/pulse/lib/services/local"
)

// newIdentityServer fakes the external identity service: it accepts
// exactly the given bearer tokens and session cookies on the verify
// endpoint.
func newIdentityServer(t *testing.T, tokens map[string]string, cookies map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/verify" {
			http.NotFound(w, r)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			token, ok := cutBearer(auth)
			if ok {
				if id, known := tokens[token]; known {
					replyIdentity(w, id)
					return
				}
			}
		}
		if cookie, err := r.Cookie("session"); err == nil {
			if id, known := cookies[cookie.Value]; known {
				replyIdentity(w, id)
				return
			}
		}
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func cutBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

func replyIdentity(w http.ResponseWriter, id string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"id":"` + id + `","name":"tester","email":"t@example.com"}`))
}

func newAuthService(t *testing.T, identityURL string) (*AuthService, *local.IdentityService) {
	t.Helper()
	b, err := memory.New(memory.Config{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	identity := local.NewIdentityService(b)
	auth, err := NewAuthService(AuthConfig{
		IdentityURL: identityURL,
		Identity:    identity,
		Client:      &http.Client{},
	})
	require.NoError(t, err)
	return auth, identity
}

func TestAuthenticateHeaderToken(t *testing.T) {
	server := newIdentityServer(t, map[string]string{"jwt-abc": "ext-7"}, nil)
	auth, identity := newAuthService(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Auth-Token", "jwt-abc")

	session, err := auth.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, "ext-7", session.ExternalUserID)
	require.Equal(t, "jwt-abc", session.JWTToken)

	// the external user was upserted locally
	user, err := identity.GetUserByExternalID(context.Background(), "ext-7")
	require.NoError(t, err)
	require.Equal(t, session.UserID, user.ID)
	require.Equal(t, "tester", user.Name)
}

func TestAuthenticateBearerJWT(t *testing.T) {
	server := newIdentityServer(t, map[string]string{"jwt-abc": "ext-7"}, nil)
	auth, _ := newAuthService(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer jwt:jwt-abc")

	session, err := auth.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, "ext-7", session.ExternalUserID)
	require.Equal(t, "jwt-abc", session.JWTToken)
}

func TestAuthenticateJWTCookie(t *testing.T) {
	server := newIdentityServer(t, map[string]string{"jwt-abc": "ext-7"}, nil)
	auth, _ := newAuthService(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: jwtCookieName, Value: "jwt-abc"})

	session, err := auth.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, "ext-7", session.ExternalUserID)
}

func TestAuthenticateSessionCookie(t *testing.T) {
	server := newIdentityServer(t, nil, map[string]string{"sess-1": "ext-9"})
	auth, _ := newAuthService(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "sess-1"})

	session, err := auth.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, "ext-9", session.ExternalUserID)
	require.Empty(t, session.JWTToken)
}

func TestAuthenticateAPIKey(t *testing.T) {
	server := newIdentityServer(t, map[string]string{"key-1": "ext-5"}, nil)
	auth, _ := newAuthService(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer key-1")

	session, err := auth.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, "ext-5", session.ExternalUserID)
	require.Empty(t, session.JWTToken)
}

func TestAuthenticateFirstCredentialWins(t *testing.T) {
	server := newIdentityServer(t, map[string]string{
		"jwt-abc": "ext-header",
		"key-1":   "ext-key",
	}, nil)
	auth, _ := newAuthService(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Auth-Token", "jwt-abc")
	req.Header.Set("Authorization", "Bearer key-1")

	session, err := auth.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, "ext-header", session.ExternalUserID)
}

func TestAuthenticateFallsThrough(t *testing.T) {
	// the header token is stale, the api key still verifies
	server := newIdentityServer(t, map[string]string{"key-1": "ext-5"}, nil)
	auth, _ := newAuthService(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Auth-Token", "stale")
	req.Header.Set("Authorization", "Bearer key-1")

	session, err := auth.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, "ext-5", session.ExternalUserID)
}

func TestAuthenticateRejected(t *testing.T) {
	server := newIdentityServer(t, nil, nil)
	auth, _ := newAuthService(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Auth-Token", "nope")

	_, err := auth.Authenticate(req)
	require.True(t, trace.IsAccessDenied(err))

	// no credentials at all
	_, err = auth.Authenticate(httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	require.True(t, trace.IsAccessDenied(err))
}
