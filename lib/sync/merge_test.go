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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/pulse/lib/providers"
)

type entry struct {
	Key   string
	Value int
}

func entryKey(e entry) string { return e.Key }

func TestMergeByKey(t *testing.T) {
	tests := []struct {
		name     string
		existing []entry
		incoming []entry
		merged   []entry
		newCount int
	}{
		{
			name:     "into empty",
			incoming: []entry{{"a", 1}, {"b", 2}},
			merged:   []entry{{"a", 1}, {"b", 2}},
			newCount: 2,
		},
		{
			name:     "empty incoming",
			existing: []entry{{"a", 1}},
			merged:   []entry{{"a", 1}},
			newCount: 0,
		},
		{
			name:     "appends new after existing",
			existing: []entry{{"a", 1}, {"b", 2}},
			incoming: []entry{{"c", 3}, {"d", 4}},
			merged:   []entry{{"a", 1}, {"b", 2}, {"c", 3}, {"d", 4}},
			newCount: 2,
		},
		{
			name:     "overwrites in place on key collision",
			existing: []entry{{"a", 1}, {"b", 2}},
			incoming: []entry{{"b", 20}, {"c", 3}},
			merged:   []entry{{"a", 1}, {"b", 20}, {"c", 3}},
			newCount: 1,
		},
		{
			name:     "duplicate keys within incoming count once",
			existing: []entry{{"a", 1}},
			incoming: []entry{{"b", 2}, {"b", 3}},
			merged:   []entry{{"a", 1}, {"b", 3}},
			newCount: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			merged, newCount := MergeByKey(tc.existing, tc.incoming, entryKey)
			require.Equal(t, tc.merged, merged)
			require.Equal(t, tc.newCount, newCount)
		})
	}
}

func TestMergeByKeyDoesNotMutateExisting(t *testing.T) {
	existing := []entry{{"a", 1}}
	merged, _ := MergeByKey(existing, []entry{{"a", 2}, {"b", 3}}, entryKey)
	require.Equal(t, []entry{{"a", 1}}, existing)
	require.Equal(t, []entry{{"a", 2}, {"b", 3}}, merged)
}

func TestMergeTweets(t *testing.T) {
	existing := TweetsPayload{
		Tweets:   []providers.Tweet{{ID: "100"}, {ID: "101"}},
		OldestID: "100",
		NewestID: "101",
	}
	merged, newCount := mergeTweets(existing, &providers.TwitterResult{
		Tweets:   []providers.Tweet{{ID: "101"}, {ID: "102"}},
		OldestID: "101",
		NewestID: "102",
	})
	require.Equal(t, 1, newCount)
	require.Len(t, merged.Tweets, 3)
	// the oldest id stays anchored at the first pull
	require.Equal(t, "100", merged.OldestID)
	require.Equal(t, "102", merged.NewestID)
}

func TestMergeTweetsFirstPull(t *testing.T) {
	merged, newCount := mergeTweets(TweetsPayload{}, &providers.TwitterResult{
		Tweets:   []providers.Tweet{{ID: "1"}},
		OldestID: "1",
		NewestID: "1",
	})
	require.Equal(t, 1, newCount)
	require.Equal(t, "1", merged.OldestID)
	require.Equal(t, "1", merged.NewestID)
}
