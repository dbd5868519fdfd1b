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

package store

import (
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/backend/memory"
)

func newStore(t *testing.T) *Store {
	b, err := memory.New(memory.Config{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return New(b)
}

func TestParseID(t *testing.T) {
	valid := []string{
		"media/raw/github/a1",
		"media/raw/bluesky/a1",
		"media/timeline/u1",
		"media/github/a1/meta",
		"media/github/a1/commits/owner/repo",
		"media/github/a1/prs/owner/repo",
		"media/reddit/a1/meta",
		"media/reddit/a1/posts",
		"media/reddit/a1/comments",
		"media/twitter/a1/meta",
		"media/twitter/a1/tweets",
	}
	for _, s := range valid {
		id, err := ParseID(s)
		require.NoError(t, err, s)
		require.Equal(t, s, id.String(), s)
	}

	invalid := []string{
		"",
		"media",
		"media/raw/github",
		"media/raw/myspace/a1",
		"media/github/a1",
		"media/github/a1/commits/owner",
		"media/github/a1/branches/owner/repo",
		"media/reddit/a1/tweets",
		"media/twitter/a1/posts",
		"media/timeline/u1/extra",
		"other/timeline/u1",
		"media//github/a1",
	}
	for _, s := range invalid {
		_, err := ParseID(s)
		require.Error(t, err, s)
	}
}

func TestPutIsContentAddressed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := RawID(pulse.PlatformBluesky, "a1")

	v1, err := s.Put(ctx, id, []byte(`{"posts":[1]}`), PutParams{})
	require.NoError(t, err)

	// identical payload does not produce a new version
	v2, err := s.Put(ctx, id, []byte(`{"posts":[1]}`), PutParams{})
	require.NoError(t, err)
	require.Equal(t, v1, v2)

	latest, err := s.GetLatest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, v1, latest.Version)
	require.JSONEq(t, `{"posts":[1]}`, string(latest.Data))

	// changed payload advances the head
	v3, err := s.Put(ctx, id, []byte(`{"posts":[1,2]}`), PutParams{})
	require.NoError(t, err)
	require.NotEqual(t, v1, v3)

	latest, err = s.GetLatest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, v3, latest.Version)

	// older versions stay readable
	old, err := s.Get(ctx, id, v1)
	require.NoError(t, err)
	require.JSONEq(t, `{"posts":[1]}`, string(old.Data))
}

func TestGetLatestEmptyStore(t *testing.T) {
	s := newStore(t)
	_, err := s.GetLatest(context.Background(), RawID(pulse.PlatformYoutube, "nope"))
	require.True(t, trace.IsNotFound(err))
}

func TestList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := RedditPostsID("a1")

	var versions []string
	for _, payload := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		v, err := s.Put(ctx, id, []byte(payload), PutParams{Tags: []string{"platform:reddit"}})
		require.NoError(t, err)
		versions = append(versions, v)
	}

	metas, err := s.List(ctx, id, ListParams{})
	require.NoError(t, err)
	require.Len(t, metas, 3)
	// reverse chronological
	require.Equal(t, versions[2], metas[0].Version)
	require.Equal(t, versions[0], metas[2].Version)
	require.Equal(t, []string{"platform:reddit"}, metas[0].Tags)

	metas, err = s.List(ctx, id, ListParams{Limit: 1})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, versions[2], metas[0].Version)

	metas, err = s.List(ctx, id, ListParams{Before: versions[2]})
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, versions[1], metas[0].Version)
}

func TestParents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rawID := RawID(pulse.PlatformBluesky, "a1")
	rawVersion, err := s.Put(ctx, rawID, []byte(`{"posts":[]}`), PutParams{})
	require.NoError(t, err)

	timelineID := TimelineID("u1")
	parents := []Parent{{StoreID: rawID.String(), Version: rawVersion, Role: RoleSource}}
	timelineVersion, err := s.Put(ctx, timelineID, []byte(`{"groups":[]}`), PutParams{Parents: parents})
	require.NoError(t, err)

	snapshot, err := s.GetLatest(ctx, timelineID)
	require.NoError(t, err)
	require.Equal(t, parents, snapshot.Parents)

	edges, err := s.GetParents(ctx, timelineID, timelineVersion)
	require.NoError(t, err)
	require.Equal(t, parents, edges)
}

func TestDeleteAccountStores(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, GithubMetaID("a1"), []byte(`{"repos":[]}`), PutParams{})
	require.NoError(t, err)
	_, err = s.Put(ctx, GithubCommitsID("a1", "owner", "repo"), []byte(`{"commits":[]}`), PutParams{})
	require.NoError(t, err)
	_, err = s.Put(ctx, RawID(pulse.PlatformGithub, "a1"), []byte(`{}`), PutParams{})
	require.NoError(t, err)
	// another account's store must survive
	_, err = s.Put(ctx, GithubMetaID("a2"), []byte(`{"repos":[]}`), PutParams{})
	require.NoError(t, err)

	deleted, err := s.DeleteAccountStores(ctx, pulse.PlatformGithub, "a1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"media/github/a1/meta",
		"media/github/a1/commits/owner/repo",
		"media/raw/github/a1",
	}, deleted)

	_, err = s.GetLatest(ctx, GithubMetaID("a1"))
	require.True(t, trace.IsNotFound(err))
	_, err = s.GetLatest(ctx, GithubMetaID("a2"))
	require.NoError(t, err)
}
