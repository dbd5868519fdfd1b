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

package sync

import (
	"time"

	"github.com/gravitational/pulse/lib/defaults"
	"github.com/gravitational/pulse/lib/providers"
	"github.com/gravitational/pulse/lib/services"
)

// ShouldFetch decides whether an account is allowed to fetch now:
// false while the circuit is open or while a known-exhausted quota
// window has not refilled yet.
func ShouldFetch(limit *services.RateLimit, now time.Time) bool {
	if limit.CircuitOpenUntil != nil && now.Before(*limit.CircuitOpenUntil) {
		return false
	}
	if limit.Remaining != nil && *limit.Remaining <= 0 &&
		limit.ResetAt != nil && now.Before(*limit.ResetAt) {
		return false
	}
	return true
}

// RecordSuccess resets the failure and circuit state and stores the
// quota window the upstream reported, when it reported one.
func RecordSuccess(limit *services.RateLimit, quota *providers.Quota) {
	limit.ConsecutiveFailures = 0
	limit.LastFailureAt = nil
	limit.CircuitOpenUntil = nil
	if quota != nil {
		limit.Remaining = quota.Remaining
		limit.ResetAt = quota.ResetAt
	}
}

// RecordFailure counts the failure, trips the circuit after the
// threshold of consecutive failures and, for rate limit errors,
// marks the quota window as exhausted until the upstream's retry hint.
func RecordFailure(limit *services.RateLimit, err error, now time.Time) {
	limit.ConsecutiveFailures++
	failedAt := now
	limit.LastFailureAt = &failedAt
	if providers.IsRateLimited(err) {
		zero := 0
		resetAt := now.Add(providers.RetryAfter(err))
		limit.Remaining = &zero
		limit.ResetAt = &resetAt
	}
	if limit.ConsecutiveFailures >= defaults.BreakerFailureThreshold {
		openUntil := now.Add(defaults.BreakerOpenWindow)
		limit.CircuitOpenUntil = &openUntil
	}
}
