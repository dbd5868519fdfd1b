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

// Package services defines the resource types persisted by pulse and
// the interfaces for reading and writing them.
package services

import "context"

// Identity manages users, profiles, platform accounts and everything
// hanging off them.
type Identity interface {
	// UpsertUser creates or updates a user keyed by its external
	// identity id and returns the stored user.
	UpsertUser(ctx context.Context, user User) (*User, error)

	// GetUser returns a user by internal id.
	GetUser(ctx context.Context, id string) (*User, error)

	// GetUserByExternalID returns a user by external identity id.
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)

	// GetUsers returns every known user, used by the cron sweep.
	GetUsers(ctx context.Context) ([]User, error)

	// CreateProfile creates a new profile. The (user, slug) pair has
	// to be unique.
	CreateProfile(ctx context.Context, profile Profile) (*Profile, error)

	// GetProfile returns a profile by id.
	GetProfile(ctx context.Context, id string) (*Profile, error)

	// GetProfileBySlug returns the profile of the user with the slug.
	GetProfileBySlug(ctx context.Context, userID, slug string) (*Profile, error)

	// GetProfiles returns all profiles owned by the user.
	GetProfiles(ctx context.Context, userID string) ([]Profile, error)

	// UpdateProfile updates an existing profile.
	UpdateProfile(ctx context.Context, profile Profile) error

	// DeleteProfile deletes a profile and cascades to its accounts,
	// filters, settings and credentials. It returns the ids of the
	// deleted accounts.
	DeleteProfile(ctx context.Context, id string) ([]string, error)

	// CreateAccount attaches a platform account to a profile. The
	// (profile, platform, external user id) triple has to be unique.
	CreateAccount(ctx context.Context, account Account) (*Account, error)

	// GetAccount returns an account by id.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// GetAccounts returns all accounts of the profile.
	GetAccounts(ctx context.Context, profileID string) ([]Account, error)

	// GetActiveAccounts returns every active account across all
	// profiles, used by the cron sweep.
	GetActiveAccounts(ctx context.Context) ([]Account, error)

	// UpdateAccount updates an existing account.
	UpdateAccount(ctx context.Context, account Account) error

	// DeleteAccount deletes an account and its settings and rate
	// limit state.
	DeleteAccount(ctx context.Context, id string) error

	// GetAccountSettings returns the setting map of the account.
	GetAccountSettings(ctx context.Context, accountID string) (map[string]string, error)

	// UpsertAccountSetting sets one setting key of the account.
	UpsertAccountSetting(ctx context.Context, accountID, key, value string) error

	// CreateFilter adds a filter to a profile.
	CreateFilter(ctx context.Context, filter Filter) (*Filter, error)

	// GetFilters returns all filters of the profile.
	GetFilters(ctx context.Context, profileID string) ([]Filter, error)

	// DeleteFilter deletes a filter of the profile.
	DeleteFilter(ctx context.Context, profileID, filterID string) error

	// UpsertPlatformCredential stores bring-your-own OAuth client
	// credentials for (profile, platform).
	UpsertPlatformCredential(ctx context.Context, cred PlatformCredential) error

	// GetPlatformCredential returns the credentials for
	// (profile, platform).
	GetPlatformCredential(ctx context.Context, profileID, platform string) (*PlatformCredential, error)

	// DeletePlatformCredential removes the credentials for
	// (profile, platform).
	DeletePlatformCredential(ctx context.Context, profileID, platform string) error
}

// RateLimits manages per-account fetch governance state.
type RateLimits interface {
	// GetRateLimit returns the rate limit state of the account,
	// a zero-valued record if none was stored yet.
	GetRateLimit(ctx context.Context, accountID string) (*RateLimit, error)

	// UpsertRateLimit stores the rate limit state of the account.
	UpsertRateLimit(ctx context.Context, limit RateLimit) error

	// DeleteRateLimit removes the state of the account.
	DeleteRateLimit(ctx context.Context, accountID string) error
}
