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

// Package local implements the services interfaces on top of the
// storage backend.
package local

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/gravitational/pulse/lib/backend"
	"github.com/gravitational/pulse/lib/services"
)

const (
	usersPrefix        = "users"
	usersByExternal    = "users_by_external"
	profilesPrefix     = "profiles"
	profilesByUser     = "profiles_by_user"
	accountsPrefix     = "accounts"
	accountsByProfile  = "accounts_by_profile"
	accountsByIdentity = "accounts_by_identity"
	settingsPrefix     = "settings"
	filtersPrefix      = "filters"
	credentialsPrefix  = "credentials"
	rateLimitsPrefix   = "rate_limits"
)

// IdentityService manages users, profiles and accounts in the backend
type IdentityService struct {
	backend.Backend
}

// NewIdentityService returns a new instance of IdentityService
func NewIdentityService(backend backend.Backend) *IdentityService {
	return &IdentityService{Backend: backend}
}

// UpsertUser creates or updates a user keyed by its external identity id
func (s *IdentityService) UpsertUser(ctx context.Context, user services.User) (*services.User, error) {
	if err := user.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	now := s.Clock().Now().UTC()
	existing, err := s.GetUserByExternalID(ctx, user.ExternalID)
	switch {
	case err == nil:
		user.ID = existing.ID
		user.CreatedAt = existing.CreatedAt
	case trace.IsNotFound(err):
		if user.ID == "" {
			user.ID = uuid.NewString()
		}
		user.CreatedAt = now
	default:
		return nil, trace.Wrap(err)
	}
	user.UpdatedAt = now

	value, err := services.MarshalUser(user)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.Put(ctx, backend.Item{
		Key:   backend.Key(usersPrefix, user.ID),
		Value: value,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.Put(ctx, backend.Item{
		Key:   backend.Key(usersByExternal, user.ExternalID),
		Value: []byte(user.ID),
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	return &user, nil
}

// GetUser returns a user by internal id
func (s *IdentityService) GetUser(ctx context.Context, id string) (*services.User, error) {
	if id == "" {
		return nil, trace.BadParameter("missing parameter id")
	}
	item, err := s.Get(ctx, backend.Key(usersPrefix, id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return services.UnmarshalUser(item.Value)
}

// GetUsers returns every known user
func (s *IdentityService) GetUsers(ctx context.Context) ([]services.User, error) {
	startKey := backend.Key(usersPrefix, "")
	result, err := s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]services.User, 0, len(result.Items))
	for _, item := range result.Items {
		user, err := services.UnmarshalUser(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *user)
	}
	return out, nil
}

// GetUserByExternalID returns a user by external identity id
func (s *IdentityService) GetUserByExternalID(ctx context.Context, externalID string) (*services.User, error) {
	if externalID == "" {
		return nil, trace.BadParameter("missing parameter externalID")
	}
	item, err := s.Get(ctx, backend.Key(usersByExternal, externalID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user with external id %q is not found", externalID)
		}
		return nil, trace.Wrap(err)
	}
	return s.GetUser(ctx, string(item.Value))
}
