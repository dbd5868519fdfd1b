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

	"github.com/gravitational/trace"

	"github.com/gravitational/pulse/lib/backend"
	"github.com/gravitational/pulse/lib/services"
)

// GetRateLimit returns the rate limit state of the account. A zero
// valued record is returned when nothing was stored yet so callers do
// not have to special-case first fetches.
func (s *IdentityService) GetRateLimit(ctx context.Context, accountID string) (*services.RateLimit, error) {
	if accountID == "" {
		return nil, trace.BadParameter("missing parameter accountID")
	}
	item, err := s.Get(ctx, backend.Key(rateLimitsPrefix, accountID))
	if err != nil {
		if trace.IsNotFound(err) {
			return &services.RateLimit{AccountID: accountID}, nil
		}
		return nil, trace.Wrap(err)
	}
	return services.UnmarshalRateLimit(item.Value)
}

// UpsertRateLimit stores the rate limit state of the account
func (s *IdentityService) UpsertRateLimit(ctx context.Context, limit services.RateLimit) error {
	value, err := services.MarshalRateLimit(limit)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.Put(ctx, backend.Item{
		Key:   backend.Key(rateLimitsPrefix, limit.AccountID),
		Value: value,
	}))
}

// DeleteRateLimit removes the state of the account
func (s *IdentityService) DeleteRateLimit(ctx context.Context, accountID string) error {
	if accountID == "" {
		return trace.BadParameter("missing parameter accountID")
	}
	err := s.Delete(ctx, backend.Key(rateLimitsPrefix, accountID))
	if trace.IsNotFound(err) {
		return nil
	}
	return trace.Wrap(err)
}
