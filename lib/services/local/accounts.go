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

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/gravitational/pulse/lib/backend"
	"github.com/gravitational/pulse/lib/services"
)

// CreateAccount attaches a platform account to a profile, enforcing
// uniqueness of (profile, platform, external user id)
func (s *IdentityService) CreateAccount(ctx context.Context, account services.Account) (*services.Account, error) {
	if err := account.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.CreatedAt = s.Clock().Now().UTC()

	// reserving the identity index key first keeps uniqueness atomic
	// under concurrent writers
	if err := s.Create(ctx, backend.Item{
		Key:   accountIdentityKey(account),
		Value: []byte(account.ID),
	}); err != nil {
		if trace.IsAlreadyExists(err) {
			return nil, trace.AlreadyExists(
				"account for %v user %q already connected", account.Platform, account.ExternalUserID)
		}
		return nil, trace.Wrap(err)
	}
	if err := s.putAccount(ctx, account); err != nil {
		return nil, trace.Wrap(err)
	}
	return &account, nil
}

func accountIdentityKey(account services.Account) []byte {
	return backend.Key(accountsByIdentity, account.ProfileID, account.Platform, account.ExternalUserID)
}

// GetAccount returns an account by id
func (s *IdentityService) GetAccount(ctx context.Context, id string) (*services.Account, error) {
	if id == "" {
		return nil, trace.BadParameter("missing parameter id")
	}
	item, err := s.Get(ctx, backend.Key(accountsPrefix, id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("account %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return services.UnmarshalAccount(item.Value)
}

// GetAccounts returns all accounts of the profile
func (s *IdentityService) GetAccounts(ctx context.Context, profileID string) ([]services.Account, error) {
	if profileID == "" {
		return nil, trace.BadParameter("missing parameter profileID")
	}
	startKey := backend.Key(accountsByProfile, profileID)
	result, err := s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]services.Account, 0, len(result.Items))
	for _, item := range result.Items {
		account, err := s.GetAccount(ctx, string(item.Value))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *account)
	}
	return out, nil
}

// GetActiveAccounts returns every active account across all profiles
func (s *IdentityService) GetActiveAccounts(ctx context.Context) ([]services.Account, error) {
	// trailing empty part keeps the range from spilling into sibling
	// prefixes like accounts_by_profile
	startKey := backend.Key(accountsPrefix, "")
	result, err := s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []services.Account
	for _, item := range result.Items {
		account, err := services.UnmarshalAccount(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if account.Active {
			out = append(out, *account)
		}
	}
	return out, nil
}

// UpdateAccount updates an existing account
func (s *IdentityService) UpdateAccount(ctx context.Context, account services.Account) error {
	if account.ID == "" {
		return trace.BadParameter("missing parameter ID")
	}
	if err := account.Check(); err != nil {
		return trace.Wrap(err)
	}
	existing, err := s.GetAccount(ctx, account.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	if existing.ProfileID != account.ProfileID {
		return trace.BadParameter("account profile cannot change")
	}
	account.CreatedAt = existing.CreatedAt
	return trace.Wrap(s.putAccount(ctx, account))
}

// DeleteAccount deletes an account along with its settings and rate
// limit state
func (s *IdentityService) DeleteAccount(ctx context.Context, id string) error {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return trace.Wrap(err)
	}
	settingsKey := backend.Key(settingsPrefix, id)
	if err := s.DeleteRange(ctx, settingsKey, backend.RangeEnd(settingsKey)); err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	if err := s.Delete(ctx, backend.Key(rateLimitsPrefix, id)); err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	if err := s.Delete(ctx, backend.Key(accountsByProfile, account.ProfileID, id)); err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	if err := s.Delete(ctx, accountIdentityKey(*account)); err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.Delete(ctx, backend.Key(accountsPrefix, id)))
}

// GetAccountSettings returns the setting map of the account
func (s *IdentityService) GetAccountSettings(ctx context.Context, accountID string) (map[string]string, error) {
	if accountID == "" {
		return nil, trace.BadParameter("missing parameter accountID")
	}
	startKey := backend.Key(settingsPrefix, accountID)
	result, err := s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	settings := make(map[string]string, len(result.Items))
	for _, item := range result.Items {
		key := string(item.Key[len(startKey)+1:])
		settings[key] = string(item.Value)
	}
	return settings, nil
}

// UpsertAccountSetting sets one setting key of the account. Values are
// JSON-encoded by the caller.
func (s *IdentityService) UpsertAccountSetting(ctx context.Context, accountID, key, value string) error {
	if accountID == "" || key == "" {
		return trace.BadParameter("missing parameter accountID or key")
	}
	return trace.Wrap(s.Put(ctx, backend.Item{
		Key:   backend.Key(settingsPrefix, accountID, key),
		Value: []byte(value),
	}))
}

func (s *IdentityService) putAccount(ctx context.Context, account services.Account) error {
	value, err := services.MarshalAccount(account)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := s.Put(ctx, backend.Item{
		Key:   backend.Key(accountsPrefix, account.ID),
		Value: value,
	}); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.Put(ctx, backend.Item{
		Key:   backend.Key(accountsByProfile, account.ProfileID, account.ID),
		Value: []byte(account.ID),
	}))
}
