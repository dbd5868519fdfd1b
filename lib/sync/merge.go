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

// Package sync implements the sync engine: the per-account fetch
// pipeline with rate limit and circuit breaker enforcement, the
// incremental merge of fetched collections into the snapshot store and
// the cron scheduler fanning out over active accounts.
package sync

import (
	"github.com/gravitational/pulse/lib/providers"
)

// MergeByKey merges incoming into existing keyed by keyFn. Items whose
// key is already present are replaced in place, keeping the existing
// order; new items are appended in their incoming order. The second
// return value counts the appended items.
func MergeByKey[T any](existing, incoming []T, keyFn func(T) string) ([]T, int) {
	index := make(map[string]int, len(existing))
	merged := make([]T, len(existing))
	copy(merged, existing)
	for i, item := range merged {
		index[keyFn(item)] = i
	}
	newCount := 0
	for _, item := range incoming {
		if i, ok := index[keyFn(item)]; ok {
			merged[i] = item
			continue
		}
		index[keyFn(item)] = len(merged)
		merged = append(merged, item)
		newCount++
	}
	return merged, newCount
}

// TweetsPayload is the persisted tweets collection. Unlike the other
// collections it tracks the pagination window of the last pull.
type TweetsPayload struct {
	// Tweets is the merged tweet collection
	Tweets []providers.Tweet `json:"tweets"`
	// OldestID is the oldest tweet id ever observed
	OldestID string `json:"oldest_id,omitempty"`
	// NewestID is the newest tweet id observed on the last pull
	NewestID string `json:"newest_id,omitempty"`
}

// mergeTweets merges an incoming pull into the stored payload,
// keeping OldestID anchored at the first pull and advancing NewestID.
func mergeTweets(existing TweetsPayload, incoming *providers.TwitterResult) (TweetsPayload, int) {
	merged, newCount := MergeByKey(existing.Tweets, incoming.Tweets, func(t providers.Tweet) string {
		return t.ID
	})
	out := TweetsPayload{
		Tweets:   merged,
		OldestID: existing.OldestID,
		NewestID: incoming.NewestID,
	}
	if out.OldestID == "" {
		out.OldestID = incoming.OldestID
	}
	if out.NewestID == "" {
		out.NewestID = existing.NewestID
	}
	return out, newCount
}
