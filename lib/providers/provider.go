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

// Package providers defines the platform fetch driver contract shared
// by all platform implementations: the result union, the upstream
// quota report and the closed fetch error taxonomy.
package providers

import (
	"context"
	"encoding/json"
	"time"
)

// Provider is a per-platform fetch driver. Implementations handle
// authentication, pagination and parsing, and always return fully
// parsed typed records, never raw bytes.
type Provider interface {
	// Platform returns the platform tag the provider serves.
	Platform() string

	// Fetch pulls the current activity of the token's user.
	Fetch(ctx context.Context, token string) (*Result, error)
}

// UsernameFetcher is implemented by providers whose platform issues
// app-level tokens that cannot resolve the authenticated user. The
// caller supplies the handle instead.
type UsernameFetcher interface {
	// FetchForUsername pulls activity of the named handle using an
	// app-level token.
	FetchForUsername(ctx context.Context, token, handle string) (*Result, error)
}

// TokenRefresher is implemented by providers whose platform supports
// refresh tokens.
type TokenRefresher interface {
	// Refresh exchanges a refresh token for a new token pair.
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// Token is a refreshed token pair.
type Token struct {
	// AccessToken is the new access token
	AccessToken string
	// RefreshToken is the new refresh token; empty when the platform
	// keeps the old one valid
	RefreshToken string
	// Expiry is when the access token expires, zero when unknown
	Expiry time.Time
}

// OAuthClient is an OAuth client id and secret, either the system-wide
// pair or a profile's bring-your-own pair.
type OAuthClient struct {
	// ID is the OAuth client id
	ID string
	// Secret is the OAuth client secret in plaintext; callers unseal
	// it right before constructing a provider
	Secret string
}

// Quota is the upstream rate limit report parsed from response headers.
type Quota struct {
	// Remaining is the number of calls left in the current window
	Remaining *int
	// ResetAt is when the window refills
	ResetAt *time.Time
}

// Result is the platform-specific fetch result. Exactly one of the
// typed fields is set, matching the provider's platform; this is a
// closed union, single-store platforms use Raw.
type Result struct {
	// Platform is the platform tag the result came from
	Platform string
	// Github is set by the github provider
	Github *GithubResult
	// Reddit is set by the reddit provider
	Reddit *RedditResult
	// Twitter is set by the twitter provider
	Twitter *TwitterResult
	// Raw is set by single-store platforms (bluesky, youtube, linear)
	Raw json.RawMessage
	// Quota is the upstream quota report, when the platform sent one
	Quota *Quota
}
