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

package reddit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/pulse/lib/providers"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider, err := New(Config{
		BaseURL:  server.URL,
		TokenURL: server.URL + "/api/v1/access_token",
		Clock:    clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	return provider
}

func TestFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bearer test-token", r.Header.Get("Authorization"))
		require.Equal(t, userAgent, r.Header.Get("User-Agent"))
		fmt.Fprint(w, `{"name": "gopher"}`)
	})
	mux.HandleFunc("/user/gopher/submitted", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "new", r.URL.Query().Get("sort"))
		fmt.Fprint(w, `{"data": {"children": [
			{"data": {"id": "p1", "subreddit": "golang", "title": "generics", "selftext": "body", "permalink": "/r/golang/p1", "score": 42, "num_comments": 7, "created_utc": 1700000000}}
		]}}`)
	})
	mux.HandleFunc("/user/gopher/comments", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Remaining", "99.0")
		w.Header().Set("X-Ratelimit-Reset", "600")
		fmt.Fprint(w, `{"data": {"children": [
			{"data": {"id": "c1", "subreddit": "programming", "body": "nice", "permalink": "/r/programming/c1", "link_title": "post", "is_submitter": true, "score": 3, "created_utc": 1700000100}}
		]}}`)
	})
	provider := newTestProvider(t, mux)

	result, err := provider.Fetch(context.Background(), "test-token")
	require.NoError(t, err)
	require.NotNil(t, result.Reddit)
	require.Equal(t, "gopher", result.Reddit.Meta.Username)
	require.Equal(t, []string{"golang", "programming"}, result.Reddit.Meta.Subreddits)

	require.Len(t, result.Reddit.Posts, 1)
	require.Equal(t, "generics", result.Reddit.Posts[0].Title)
	require.Equal(t, 42, result.Reddit.Posts[0].Score)

	require.Len(t, result.Reddit.Comments, 1)
	require.True(t, result.Reddit.Comments[0].IsOP)
	require.Equal(t, "post", result.Reddit.Comments[0].PostTitle)

	require.NotNil(t, result.Quota)
	require.Equal(t, 99, *result.Quota.Remaining)
	require.NotNil(t, result.Quota.ResetAt)
}

func TestFetchForUsername(t *testing.T) {
	var sawIdentityCall bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		sawIdentityCall = true
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
	mux.HandleFunc("/user/scripted/submitted", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"children": []}}`)
	})
	mux.HandleFunc("/user/scripted/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"children": []}}`)
	})
	provider := newTestProvider(t, mux)

	result, err := provider.FetchForUsername(context.Background(), "app-token", "scripted")
	require.NoError(t, err)
	require.Equal(t, "scripted", result.Reddit.Meta.Username)
	require.False(t, sawIdentityCall)

	_, err = provider.FetchForUsername(context.Background(), "app-token", "")
	require.Error(t, err)
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "expired token maps to auth error",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				require.True(t, providers.IsAuthExpired(err))
			},
		},
		{
			name:   "forbidden maps to auth error",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				require.True(t, providers.IsAuthExpired(err))
			},
		},
		{
			name:    "throttled maps to rate limit with retry hint",
			status:  http.StatusTooManyRequests,
			headers: map[string]string{"Retry-After": "120"},
			check: func(t *testing.T, err error) {
				require.True(t, providers.IsRateLimited(err))
				require.Equal(t, 2*time.Minute, providers.RetryAfter(err))
			},
		},
		{
			name:   "server failure maps to api error",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				require.False(t, providers.IsAuthExpired(err))
				require.False(t, providers.IsRateLimited(err))
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
			}))
			_, err := provider.Fetch(context.Background(), "test-token")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestFetchBadPayload(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>maintenance</html>`)
	}))
	_, err := provider.Fetch(context.Background(), "test-token")
	require.True(t, providers.IsParseError(err))
}

func TestRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "old-refresh", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token": "new-access", "refresh_token": "new-refresh", "token_type": "bearer", "expires_in": 3600}`)
	})
	provider := newTestProvider(t, mux)
	provider.cfg.Client = providers.OAuthClient{ID: "client-id", Secret: "client-secret"}

	token, err := provider.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	require.Equal(t, "new-access", token.AccessToken)
	require.Equal(t, "new-refresh", token.RefreshToken)
	require.False(t, token.Expiry.IsZero())
}

func TestRefreshRevoked(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid_grant"}`, http.StatusBadRequest)
	}))
	provider.cfg.Client = providers.OAuthClient{ID: "client-id", Secret: "client-secret"}

	_, err := provider.Refresh(context.Background(), "revoked")
	require.Error(t, err)
}

func TestRefreshWithoutClient(t *testing.T) {
	provider := newTestProvider(t, http.NewServeMux())
	_, err := provider.Refresh(context.Background(), "anything")
	require.Error(t, err)
}
