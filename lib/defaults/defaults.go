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

// Package defaults contains default values shared across the pulse
// project, gathered in one place to keep tuning knobs discoverable.
package defaults

import (
	"time"

	"github.com/gravitational/pulse"
)

const (
	// HTTPListenAddr is the default address the API server binds to.
	HTTPListenAddr = "127.0.0.1:3280"

	// IdentityServiceURL is the base URL of the external identity service
	// used to verify request credentials.
	IdentityServiceURL = "https://devpad.tools"

	// SyncInterval is how often the cron scheduler sweeps all active
	// accounts.
	SyncInterval = 30 * time.Minute

	// AccountSyncBudget bounds the wall clock time a single account is
	// allowed to spend on one sync attempt, including provider calls,
	// merging and store writes.
	AccountSyncBudget = 90 * time.Second

	// ProviderRequestTimeout caps a single upstream HTTP request issued
	// by a platform provider.
	ProviderRequestTimeout = 30 * time.Second

	// BreakerFailureThreshold is the number of consecutive fetch failures
	// after which the per-account circuit opens.
	BreakerFailureThreshold = 3

	// BreakerOpenWindow is how long a tripped circuit stays open.
	BreakerOpenWindow = 5 * time.Minute

	// CommitTitleRunes is the maximum length of a commit message used as
	// a timeline item title.
	CommitTitleRunes = 100

	// PostContentRunes is the maximum length of social post content
	// carried in a timeline item payload.
	PostContentRunes = 200

	// TimelineItemLimit is the default number of items returned by the
	// profile timeline endpoint when the caller does not pass a limit.
	TimelineItemLimit = 50

	// SnapshotListLimit is the default page size of store listings.
	SnapshotListLimit = 20
)

const (
	// GithubPageSize is the per-page item count for github pagination.
	GithubPageSize = 30

	// RedditPageSize is the per-page item count for reddit listings.
	RedditPageSize = 25

	// TwitterPageSize is the per-request tweet count. The twitter quota
	// is the tightest of all platforms, hence the small page.
	TwitterPageSize = 5
)

// MinFetchInterval returns the platform-mandated minimum number of days
// between two successful fetches of the same account. Zero means the
// platform imposes no floor beyond its rate limit headers.
func MinFetchInterval(platform string) time.Duration {
	switch platform {
	case pulse.PlatformTwitter:
		return 3 * 24 * time.Hour
	case pulse.PlatformYoutube, pulse.PlatformLinear:
		return 24 * time.Hour
	default:
		return 0
	}
}
