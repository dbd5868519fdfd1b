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
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/defaults"
	"github.com/gravitational/pulse/lib/services"
)

// Session is the authentication context attached to a request after
// one of its credentials verified against the identity service.
type Session struct {
	// UserID is the local user id
	UserID string `json:"user_id"`
	// ExternalUserID is the identity service user id
	ExternalUserID string `json:"external_user_id"`
	// JWTToken is the verified JWT, when the request carried one
	JWTToken string `json:"jwt_token,omitempty"`
}

// Authenticator verifies request credentials and resolves them to a
// local session.
type Authenticator interface {
	// Authenticate verifies the request's credentials, upserts the
	// external user locally and returns the session. It returns an
	// access denied error when no credential verifies.
	Authenticate(r *http.Request) (*Session, error)
}

// AuthConfig configures the identity service backed authenticator.
type AuthConfig struct {
	// IdentityURL is the base URL of the external identity service
	IdentityURL string
	// Identity is used to upsert verified users locally
	Identity services.Identity
	// Client overrides the HTTP client used to reach the identity
	// service, used in tests
	Client *http.Client
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *AuthConfig) CheckAndSetDefaults() error {
	if c.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if c.IdentityURL == "" {
		c.IdentityURL = defaults.IdentityServiceURL
	}
	if c.Client == nil {
		c.Client = http.DefaultClient
	}
	return nil
}

// AuthService verifies request credentials against the external
// identity service.
type AuthService struct {
	cfg AuthConfig
	log *log.Entry
}

// NewAuthService returns a new identity service backed authenticator
func NewAuthService(cfg AuthConfig) (*AuthService, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &AuthService{
		cfg: cfg,
		log: log.WithFields(log.Fields{pulse.Component: pulse.ComponentAuth}),
	}, nil
}

// credential is one extracted request credential: the headers to
// present to the identity service and the JWT to remember on success.
type credential struct {
	name     string
	headers  map[string]string
	jwtToken string
}

// requestCredentials extracts the request's candidate credentials in
// verification order.
func requestCredentials(r *http.Request) []credential {
	var creds []credential
	if token := r.Header.Get("Auth-Token"); token != "" {
		creds = append(creds, credential{
			name:     "auth-token header",
			headers:  map[string]string{"Authorization": "Bearer " + token},
			jwtToken: token,
		})
	}
	if bearer := bearerToken(r); bearer != "" {
		if token, ok := strings.CutPrefix(bearer, "jwt:"); ok {
			creds = append(creds, credential{
				name:     "bearer jwt",
				headers:  map[string]string{"Authorization": "Bearer " + token},
				jwtToken: token,
			})
		}
	}
	if cookie, err := r.Cookie(jwtCookieName); err == nil && cookie.Value != "" {
		creds = append(creds, credential{
			name:     "jwt cookie",
			headers:  map[string]string{"Authorization": "Bearer " + cookie.Value},
			jwtToken: cookie.Value,
		})
	}
	if raw := r.Header.Get("Cookie"); raw != "" {
		creds = append(creds, credential{
			name:    "session cookie",
			headers: map[string]string{"Cookie": raw},
		})
	}
	if bearer := bearerToken(r); bearer != "" && !strings.HasPrefix(bearer, "jwt:") {
		creds = append(creds, credential{
			name:    "api key",
			headers: map[string]string{"Authorization": "Bearer " + bearer},
		})
	}
	return creds
}

// jwtCookieName is the cookie the frontend stores the identity JWT in.
const jwtCookieName = "devpad_jwt"

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return token
}

// Authenticate checks the request's credentials in order, the first
// one the identity service verifies wins.
func (a *AuthService) Authenticate(r *http.Request) (*Session, error) {
	creds := requestCredentials(r)
	if len(creds) == 0 {
		return nil, trace.AccessDenied("missing credentials")
	}
	for _, cred := range creds {
		identity, err := a.verify(r.Context(), cred)
		if err != nil {
			a.log.WithError(err).Debugf("Credential %v did not verify.", cred.name)
			continue
		}
		user, err := a.cfg.Identity.UpsertUser(r.Context(), services.User{
			ExternalID: identity.ID,
			Name:       identity.Name,
			Email:      identity.Email,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return &Session{
			UserID:         user.ID,
			ExternalUserID: identity.ID,
			JWTToken:       cred.jwtToken,
		}, nil
	}
	return nil, trace.AccessDenied("access denied")
}

// externalIdentity is the identity service's verification response.
type externalIdentity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// verify presents one credential to the identity service.
func (a *AuthService) verify(ctx context.Context, cred credential) (*externalIdentity, error) {
	clt, err := roundtrip.NewClient(a.cfg.IdentityURL, "api/v1", roundtrip.HTTPClient(&http.Client{
		Transport: &headerTransport{base: a.cfg.Client.Transport, headers: cred.headers},
		Timeout:   a.cfg.Client.Timeout,
	}))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := clt.Get(ctx, clt.Endpoint("auth", "verify"), nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.Code() != http.StatusOK {
		return nil, trace.AccessDenied("identity service rejected credential: %v", resp.Code())
	}
	var identity externalIdentity
	if err := json.Unmarshal(resp.Bytes(), &identity); err != nil {
		return nil, trace.Wrap(err)
	}
	if identity.ID == "" {
		return nil, trace.AccessDenied("identity service returned no user id")
	}
	return &identity, nil
}

// headerTransport injects the credential headers into every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
