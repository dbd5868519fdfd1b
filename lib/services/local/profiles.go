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

// CreateProfile creates a new profile, enforcing slug uniqueness per owner
func (s *IdentityService) CreateProfile(ctx context.Context, profile services.Profile) (*services.Profile, error) {
	if err := profile.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	existing, err := s.GetProfileBySlug(ctx, profile.UserID, profile.Slug)
	if err != nil && !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}
	if existing != nil {
		return nil, trace.AlreadyExists("profile with slug %q already exists", profile.Slug)
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	profile.CreatedAt = s.Clock().Now().UTC()

	if err := s.putProfile(ctx, profile); err != nil {
		return nil, trace.Wrap(err)
	}
	return &profile, nil
}

// GetProfile returns a profile by id
func (s *IdentityService) GetProfile(ctx context.Context, id string) (*services.Profile, error) {
	if id == "" {
		return nil, trace.BadParameter("missing parameter id")
	}
	item, err := s.Get(ctx, backend.Key(profilesPrefix, id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("profile %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return services.UnmarshalProfile(item.Value)
}

// GetProfileBySlug returns the profile of the user with the slug
func (s *IdentityService) GetProfileBySlug(ctx context.Context, userID, slug string) (*services.Profile, error) {
	profiles, err := s.GetProfiles(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for i := range profiles {
		if profiles[i].Slug == slug {
			return &profiles[i], nil
		}
	}
	return nil, trace.NotFound("profile with slug %q is not found", slug)
}

// GetProfiles returns all profiles owned by the user
func (s *IdentityService) GetProfiles(ctx context.Context, userID string) ([]services.Profile, error) {
	if userID == "" {
		return nil, trace.BadParameter("missing parameter userID")
	}
	startKey := backend.Key(profilesByUser, userID)
	result, err := s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]services.Profile, 0, len(result.Items))
	for _, item := range result.Items {
		profile, err := s.GetProfile(ctx, string(item.Value))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *profile)
	}
	return out, nil
}

// UpdateProfile updates an existing profile
func (s *IdentityService) UpdateProfile(ctx context.Context, profile services.Profile) error {
	if profile.ID == "" {
		return trace.BadParameter("missing parameter ID")
	}
	if err := profile.Check(); err != nil {
		return trace.Wrap(err)
	}
	existing, err := s.GetProfile(ctx, profile.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	if existing.UserID != profile.UserID {
		return trace.BadParameter("profile owner cannot change")
	}
	if existing.Slug != profile.Slug {
		if other, err := s.GetProfileBySlug(ctx, profile.UserID, profile.Slug); err == nil && other.ID != profile.ID {
			return trace.AlreadyExists("profile with slug %q already exists", profile.Slug)
		} else if err != nil && !trace.IsNotFound(err) {
			return trace.Wrap(err)
		}
	}
	profile.CreatedAt = existing.CreatedAt
	return trace.Wrap(s.putProfile(ctx, profile))
}

// DeleteProfile deletes a profile and cascades to its accounts, filters
// and credentials, and returns the deleted account ids
func (s *IdentityService) DeleteProfile(ctx context.Context, id string) ([]string, error) {
	profile, err := s.GetProfile(ctx, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	accounts, err := s.GetAccounts(ctx, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	deleted := make([]string, 0, len(accounts))
	for _, account := range accounts {
		if err := s.DeleteAccount(ctx, account.ID); err != nil && !trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
		deleted = append(deleted, account.ID)
	}
	for _, prefix := range []string{filtersPrefix, credentialsPrefix} {
		startKey := backend.Key(prefix, id)
		if err := s.DeleteRange(ctx, startKey, backend.RangeEnd(startKey)); err != nil && !trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
	}
	if err := s.Delete(ctx, backend.Key(profilesByUser, profile.UserID, id)); err != nil && !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}
	if err := s.Delete(ctx, backend.Key(profilesPrefix, id)); err != nil {
		return nil, trace.Wrap(err)
	}
	return deleted, nil
}

func (s *IdentityService) putProfile(ctx context.Context, profile services.Profile) error {
	value, err := services.MarshalProfile(profile)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := s.Put(ctx, backend.Item{
		Key:   backend.Key(profilesPrefix, profile.ID),
		Value: value,
	}); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.Put(ctx, backend.Item{
		Key:   backend.Key(profilesByUser, profile.UserID, profile.ID),
		Value: []byte(profile.ID),
	}))
}

// CreateFilter adds a filter to a profile
func (s *IdentityService) CreateFilter(ctx context.Context, filter services.Filter) (*services.Filter, error) {
	if err := filter.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if filter.ID == "" {
		filter.ID = uuid.NewString()
	}
	value, err := services.MarshalFilter(filter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.Create(ctx, backend.Item{
		Key:   backend.Key(filtersPrefix, filter.ProfileID, filter.ID),
		Value: value,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	return &filter, nil
}

// GetFilters returns all filters of the profile
func (s *IdentityService) GetFilters(ctx context.Context, profileID string) ([]services.Filter, error) {
	if profileID == "" {
		return nil, trace.BadParameter("missing parameter profileID")
	}
	startKey := backend.Key(filtersPrefix, profileID)
	result, err := s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]services.Filter, 0, len(result.Items))
	for _, item := range result.Items {
		filter, err := services.UnmarshalFilter(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *filter)
	}
	return out, nil
}

// DeleteFilter deletes a filter of the profile
func (s *IdentityService) DeleteFilter(ctx context.Context, profileID, filterID string) error {
	if profileID == "" || filterID == "" {
		return trace.BadParameter("missing parameter profileID or filterID")
	}
	err := s.Delete(ctx, backend.Key(filtersPrefix, profileID, filterID))
	if trace.IsNotFound(err) {
		return trace.NotFound("filter %q is not found", filterID)
	}
	return trace.Wrap(err)
}

// UpsertPlatformCredential stores bring-your-own OAuth client credentials
func (s *IdentityService) UpsertPlatformCredential(ctx context.Context, cred services.PlatformCredential) error {
	if err := cred.Check(); err != nil {
		return trace.Wrap(err)
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = s.Clock().Now().UTC()
	}
	value, err := services.MarshalPlatformCredential(cred)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.Put(ctx, backend.Item{
		Key:   backend.Key(credentialsPrefix, cred.ProfileID, cred.Platform),
		Value: value,
	}))
}

// GetPlatformCredential returns the credentials for (profile, platform)
func (s *IdentityService) GetPlatformCredential(ctx context.Context, profileID, platform string) (*services.PlatformCredential, error) {
	if profileID == "" || platform == "" {
		return nil, trace.BadParameter("missing parameter profileID or platform")
	}
	item, err := s.Get(ctx, backend.Key(credentialsPrefix, profileID, platform))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("credentials for platform %q are not found", platform)
		}
		return nil, trace.Wrap(err)
	}
	return services.UnmarshalPlatformCredential(item.Value)
}

// DeletePlatformCredential removes the credentials for (profile, platform)
func (s *IdentityService) DeletePlatformCredential(ctx context.Context, profileID, platform string) error {
	if profileID == "" || platform == "" {
		return trace.BadParameter("missing parameter profileID or platform")
	}
	err := s.Delete(ctx, backend.Key(credentialsPrefix, profileID, platform))
	if trace.IsNotFound(err) {
		return trace.NotFound("credentials for platform %q are not found", platform)
	}
	return trace.Wrap(err)
}
