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

package services

import (
	"encoding/json"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/pulse"
)

// Account is a single external platform connection attached to a
// profile. Tokens are stored sealed, never in plaintext.
type Account struct {
	// ID is an opaque internal identifier
	ID string `json:"id"`
	// ProfileID is the owning profile
	ProfileID string `json:"profile_id"`
	// Platform is one of the supported platform tags
	Platform string `json:"platform"`
	// ExternalUserID is the platform-assigned user id
	ExternalUserID string `json:"external_user_id"`
	// ExternalHandle is the platform handle, e.g. a github login
	ExternalHandle string `json:"external_handle"`
	// AccessTokenSealed is the sealed access token envelope
	AccessTokenSealed []byte `json:"access_token_sealed"`
	// RefreshTokenSealed is the sealed refresh token envelope, when
	// the platform issued one
	RefreshTokenSealed []byte `json:"refresh_token_sealed,omitempty"`
	// TokenExpiry is when the access token expires, when known
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
	// Active controls whether the cron sweep picks this account up
	Active bool `json:"active"`
	// LastFetchedAt is the time of the last successful fetch
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	// CreatedAt is the creation timestamp
	CreatedAt time.Time `json:"created_at"`
}

// Check validates the account record
func (a *Account) Check() error {
	if a.ProfileID == "" {
		return trace.BadParameter("missing parameter ProfileID")
	}
	if !pulse.IsValidPlatform(a.Platform) {
		return trace.BadParameter("unsupported platform %q", a.Platform)
	}
	if a.ExternalUserID == "" {
		return trace.BadParameter("missing parameter ExternalUserID")
	}
	if len(a.AccessTokenSealed) == 0 {
		return trace.BadParameter("missing parameter AccessTokenSealed")
	}
	return nil
}

// MarshalAccount marshals an account to JSON
func MarshalAccount(a Account) ([]byte, error) {
	if err := a.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// UnmarshalAccount unmarshals an account from JSON
func UnmarshalAccount(data []byte) (*Account, error) {
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, trace.BadParameter("failed to unmarshal account: %v", err)
	}
	if err := a.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &a, nil
}

// PlatformCredential is a bring-your-own OAuth client for one
// (profile, platform) pair, overriding the system-wide client. The
// client id is public, the secret is sealed.
type PlatformCredential struct {
	// ProfileID is the owning profile
	ProfileID string `json:"profile_id"`
	// Platform is one of the supported platform tags
	Platform string `json:"platform"`
	// ClientID is the OAuth client id
	ClientID string `json:"client_id"`
	// ClientSecretSealed is the sealed OAuth client secret
	ClientSecretSealed []byte `json:"client_secret_sealed"`
	// Verified flips true after the first successful end-to-end
	// fetch using these credentials
	Verified bool `json:"verified"`
	// CreatedAt is the creation timestamp
	CreatedAt time.Time `json:"created_at"`
}

// Check validates the credential record
func (c *PlatformCredential) Check() error {
	if c.ProfileID == "" {
		return trace.BadParameter("missing parameter ProfileID")
	}
	if !pulse.IsValidPlatform(c.Platform) {
		return trace.BadParameter("unsupported platform %q", c.Platform)
	}
	if c.ClientID == "" {
		return trace.BadParameter("missing parameter ClientID")
	}
	if len(c.ClientSecretSealed) == 0 {
		return trace.BadParameter("missing parameter ClientSecretSealed")
	}
	return nil
}

// MarshalPlatformCredential marshals a credential to JSON
func MarshalPlatformCredential(c PlatformCredential) ([]byte, error) {
	if err := c.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// UnmarshalPlatformCredential unmarshals a credential from JSON
func UnmarshalPlatformCredential(data []byte) (*PlatformCredential, error) {
	var c PlatformCredential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, trace.BadParameter("failed to unmarshal credential: %v", err)
	}
	if err := c.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &c, nil
}
