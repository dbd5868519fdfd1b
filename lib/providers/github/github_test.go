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

package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/pulse/lib/providers"
)

// newTestProvider points the provider at a local server; go-github
// mounts enterprise endpoints under /api/v3.
func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider, err := New(Config{
		BaseURL: server.URL + "/",
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	return provider
}

func TestFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"login": "gopher", "name": "Go Pher"}`)
	})
	mux.HandleFunc("/api/v3/user/repos", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "pushed", r.URL.Query().Get("sort"))
		w.Header().Set("X-Ratelimit-Remaining", "4990")
		w.Header().Set("X-Ratelimit-Reset", "1714600000")
		fmt.Fprint(w, `[{
			"name": "pulse",
			"full_name": "gopher/pulse",
			"default_branch": "main",
			"private": false,
			"owner": {"login": "gopher"},
			"pushed_at": "2024-05-01T09:00:00Z"
		}]`)
	})
	mux.HandleFunc("/api/v3/repos/gopher/pulse/commits", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "gopher", r.URL.Query().Get("author"))
		require.Equal(t, "main", r.URL.Query().Get("sha"))
		fmt.Fprint(w, `[{
			"sha": "abc123",
			"html_url": "https://github.com/gopher/pulse/commit/abc123",
			"commit": {"message": "fix flaky retry", "author": {"date": "2024-05-01T08:00:00Z"}}
		}]`)
	})
	mux.HandleFunc("/api/v3/repos/gopher/pulse/commits/abc123", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"sha": "abc123",
			"stats": {"additions": 12, "deletions": 4},
			"files": [{"filename": "a.go"}, {"filename": "b.go"}]
		}`)
	})
	mux.HandleFunc("/api/v3/repos/gopher/pulse/pulls", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{
				"number": 7,
				"title": "retry on transient failures",
				"html_url": "https://github.com/gopher/pulse/pull/7",
				"state": "closed",
				"merge_commit_sha": "merge777",
				"user": {"login": "gopher"},
				"created_at": "2024-04-28T10:00:00Z",
				"updated_at": "2024-04-30T10:00:00Z",
				"merged_at": "2024-04-30T10:00:00Z"
			},
			{
				"number": 8,
				"title": "drive-by from someone else",
				"state": "open",
				"user": {"login": "other"}
			}
		]`)
	})
	mux.HandleFunc("/api/v3/repos/gopher/pulse/pulls/7/commits", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"sha": "abc123"}, {"sha": "def456"}]`)
	})
	provider := newTestProvider(t, mux)

	result, err := provider.Fetch(context.Background(), "test-token")
	require.NoError(t, err)
	require.NotNil(t, result.Github)
	require.Equal(t, "gopher", result.Github.Meta.Login)
	require.Len(t, result.Github.Meta.Repos, 1)
	require.Equal(t, "main", result.Github.Meta.Repos[0].DefaultBranch)

	commits := result.Github.Commits["gopher/pulse"]
	require.Len(t, commits, 1)
	require.Equal(t, "fix flaky retry", commits[0].Message)
	require.Equal(t, 12, commits[0].Additions)
	require.Equal(t, 4, commits[0].Deletions)
	require.Equal(t, 2, commits[0].FilesChanged)

	prs := result.Github.PullRequests["gopher/pulse"]
	require.Len(t, prs, 1)
	require.Equal(t, 7, prs[0].Number)
	require.Equal(t, []string{"abc123", "def456"}, prs[0].CommitSHAs)
	require.NotNil(t, prs[0].MergedAt)

	require.NotNil(t, result.Quota)
	require.Equal(t, 4990, *result.Quota.Remaining)
}

func TestFetchEmptyRepoSkipped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"login": "gopher"}`)
	})
	mux.HandleFunc("/api/v3/user/repos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{
			"name": "empty",
			"full_name": "gopher/empty",
			"default_branch": "main",
			"owner": {"login": "gopher"}
		}]`)
	})
	mux.HandleFunc("/api/v3/repos/gopher/empty/commits", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Git Repository is empty."}`, http.StatusConflict)
	})
	mux.HandleFunc("/api/v3/repos/gopher/empty/pulls", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	provider := newTestProvider(t, mux)

	result, err := provider.Fetch(context.Background(), "test-token")
	require.NoError(t, err)
	require.Empty(t, result.Github.Commits)
	require.Empty(t, result.Github.PullRequests)
}

func TestFetchExpiredToken(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Bad credentials"}`, http.StatusUnauthorized)
	}))
	_, err := provider.Fetch(context.Background(), "stale")
	require.True(t, providers.IsAuthExpired(err))
}

func TestFetchRateLimited(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Remaining", "0")
		w.Header().Set("X-Ratelimit-Reset", "1714600000")
		http.Error(w, `{"message": "API rate limit exceeded"}`, http.StatusForbidden)
	}))
	_, err := provider.Fetch(context.Background(), "busy")
	require.True(t, providers.IsRateLimited(err))
}
