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

package local

import (
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/backend/memory"
	"github.com/gravitational/pulse/lib/services"
)

func newIdentityService(t *testing.T) *IdentityService {
	b, err := memory.New(memory.Config{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return NewIdentityService(b)
}

func TestUpsertUser(t *testing.T) {
	s := newIdentityService(t)
	ctx := context.Background()

	user, err := s.UpsertUser(ctx, services.User{ExternalID: "ext-1", Name: "Alice"})
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)

	// second upsert with the same external id keeps the internal id
	again, err := s.UpsertUser(ctx, services.User{ExternalID: "ext-1", Name: "Alice A."})
	require.NoError(t, err)
	require.Equal(t, user.ID, again.ID)
	require.Equal(t, "Alice A.", again.Name)

	byExternal, err := s.GetUserByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	require.Equal(t, user.ID, byExternal.ID)

	_, err = s.GetUser(ctx, "no-such-user")
	require.True(t, trace.IsNotFound(err))
}

func TestProfileCRUD(t *testing.T) {
	s := newIdentityService(t)
	ctx := context.Background()

	profile, err := s.CreateProfile(ctx, services.Profile{
		UserID: "u1", Slug: "main", Name: "Main",
	})
	require.NoError(t, err)
	require.NotEmpty(t, profile.ID)

	// slug is unique per owner
	_, err = s.CreateProfile(ctx, services.Profile{UserID: "u1", Slug: "main", Name: "Other"})
	require.True(t, trace.IsAlreadyExists(err))

	// but not across owners
	_, err = s.CreateProfile(ctx, services.Profile{UserID: "u2", Slug: "main", Name: "Main"})
	require.NoError(t, err)

	// invalid slugs are rejected
	_, err = s.CreateProfile(ctx, services.Profile{UserID: "u1", Slug: "Not A Slug", Name: "X"})
	require.True(t, trace.IsBadParameter(err))

	bySlug, err := s.GetProfileBySlug(ctx, "u1", "main")
	require.NoError(t, err)
	require.Equal(t, profile.ID, bySlug.ID)

	profile.Description = "updated"
	require.NoError(t, s.UpdateProfile(ctx, *profile))
	got, err := s.GetProfile(ctx, profile.ID)
	require.NoError(t, err)
	require.Equal(t, "updated", got.Description)

	profiles, err := s.GetProfiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, profiles, 1)
}

func TestDeleteProfileCascades(t *testing.T) {
	s := newIdentityService(t)
	ctx := context.Background()

	profile, err := s.CreateProfile(ctx, services.Profile{UserID: "u1", Slug: "main", Name: "Main"})
	require.NoError(t, err)

	account, err := s.CreateAccount(ctx, services.Account{
		ProfileID:         profile.ID,
		Platform:          pulse.PlatformGithub,
		ExternalUserID:    "gh-1",
		ExternalHandle:    "alice",
		AccessTokenSealed: []byte("sealed"),
	})
	require.NoError(t, err)

	_, err = s.CreateFilter(ctx, services.Filter{
		ProfileID: profile.ID,
		AccountID: account.ID,
		Type:      services.FilterTypeExclude,
		Key:       services.FilterKeyRepo,
		Value:     "owner/drop",
	})
	require.NoError(t, err)

	deleted, err := s.DeleteProfile(ctx, profile.ID)
	require.NoError(t, err)
	require.Equal(t, []string{account.ID}, deleted)

	_, err = s.GetProfile(ctx, profile.ID)
	require.True(t, trace.IsNotFound(err))
	_, err = s.GetAccount(ctx, account.ID)
	require.True(t, trace.IsNotFound(err))

	filters, err := s.GetFilters(ctx, profile.ID)
	require.NoError(t, err)
	require.Empty(t, filters)
}

func TestAccountUniqueness(t *testing.T) {
	s := newIdentityService(t)
	ctx := context.Background()

	account := services.Account{
		ProfileID:         "p1",
		Platform:          pulse.PlatformReddit,
		ExternalUserID:    "rd-1",
		AccessTokenSealed: []byte("sealed"),
		Active:            true,
	}
	created, err := s.CreateAccount(ctx, account)
	require.NoError(t, err)

	_, err = s.CreateAccount(ctx, account)
	require.True(t, trace.IsAlreadyExists(err))

	// same external user on a different platform is fine
	account.Platform = pulse.PlatformTwitter
	_, err = s.CreateAccount(ctx, account)
	require.NoError(t, err)

	active, err := s.GetActiveAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	created.Active = false
	require.NoError(t, s.UpdateAccount(ctx, *created))
	active, err = s.GetActiveAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	// deleting the account releases the identity for reconnection
	require.NoError(t, s.DeleteAccount(ctx, created.ID))
	account.Platform = pulse.PlatformReddit
	_, err = s.CreateAccount(ctx, account)
	require.NoError(t, err)
}

// Uniqueness of (profile, platform, external user id) must hold under
// concurrent writers, not just the single-scheduler path.
func TestAccountUniquenessConcurrent(t *testing.T) {
	s := newIdentityService(t)
	ctx := context.Background()

	account := services.Account{
		ProfileID:         "p1",
		Platform:          pulse.PlatformGithub,
		ExternalUserID:    "gh-1",
		AccessTokenSealed: []byte("sealed"),
		Active:            true,
	}

	const writers = 8
	errC := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			_, err := s.CreateAccount(ctx, account)
			errC <- err
		}()
	}
	var ok, dup int
	for i := 0; i < writers; i++ {
		switch err := <-errC; {
		case err == nil:
			ok++
		case trace.IsAlreadyExists(err):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, writers-1, dup)

	accounts, err := s.GetAccounts(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
}

func TestAccountSettings(t *testing.T) {
	s := newIdentityService(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAccountSetting(ctx, "a1", "hidden_repos", `["owner/noise"]`))
	require.NoError(t, s.UpsertAccountSetting(ctx, "a1", "hidden_subreddits", `[]`))

	settings, err := s.GetAccountSettings(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"hidden_repos":      `["owner/noise"]`,
		"hidden_subreddits": `[]`,
	}, settings)
}

func TestPlatformCredentials(t *testing.T) {
	s := newIdentityService(t)
	ctx := context.Background()

	cred := services.PlatformCredential{
		ProfileID:          "p1",
		Platform:           pulse.PlatformReddit,
		ClientID:           "client-id",
		ClientSecretSealed: []byte("sealed"),
	}
	require.NoError(t, s.UpsertPlatformCredential(ctx, cred))

	got, err := s.GetPlatformCredential(ctx, "p1", pulse.PlatformReddit)
	require.NoError(t, err)
	require.Equal(t, "client-id", got.ClientID)
	require.False(t, got.Verified)

	got.Verified = true
	require.NoError(t, s.UpsertPlatformCredential(ctx, *got))
	got, err = s.GetPlatformCredential(ctx, "p1", pulse.PlatformReddit)
	require.NoError(t, err)
	require.True(t, got.Verified)

	require.NoError(t, s.DeletePlatformCredential(ctx, "p1", pulse.PlatformReddit))
	_, err = s.GetPlatformCredential(ctx, "p1", pulse.PlatformReddit)
	require.True(t, trace.IsNotFound(err))
}

func TestRateLimitDefaults(t *testing.T) {
	s := newIdentityService(t)
	ctx := context.Background()

	// unknown accounts get a zero valued record
	limit, err := s.GetRateLimit(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "a1", limit.AccountID)
	require.Zero(t, limit.ConsecutiveFailures)
	require.Nil(t, limit.Remaining)

	limit.ConsecutiveFailures = 2
	require.NoError(t, s.UpsertRateLimit(ctx, *limit))
	limit, err = s.GetRateLimit(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 2, limit.ConsecutiveFailures)
}
