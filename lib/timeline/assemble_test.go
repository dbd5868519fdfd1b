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

package timeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/backend/memory"
	"github.com/gravitational/pulse/lib/providers"
	"github.com/gravitational/pulse/lib/services"
	"github.com/gravitational/pulse/lib/services/local"
	"github.com/gravitational/pulse/lib/store"
)

type pack struct {
	clock     *clockwork.FakeClock
	identity  *local.IdentityService
	store     *store.Store
	assembler *Assembler
}

func newPack(t *testing.T) *pack {
	t.Helper()
	clock := clockwork.NewFakeClock()
	b, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	identity := local.NewIdentityService(b)
	s := store.New(b)
	assembler, err := NewAssembler(Config{Identity: identity, Store: s, Clock: clock})
	require.NoError(t, err)
	return &pack{clock: clock, identity: identity, store: s, assembler: assembler}
}

func (p *pack) seedAccount(t *testing.T, platform string) services.Account {
	t.Helper()
	ctx := context.Background()
	user, err := p.identity.UpsertUser(ctx, services.User{ExternalID: "ext-" + platform, Name: "tester"})
	require.NoError(t, err)
	profile, err := p.identity.CreateProfile(ctx, services.Profile{UserID: user.ID, Slug: "main-" + platform, Name: "Main"})
	require.NoError(t, err)
	account, err := p.identity.CreateAccount(ctx, services.Account{
		ProfileID:         profile.ID,
		Platform:          platform,
		ExternalUserID:    "u-" + platform,
		ExternalHandle:    "gopher",
		AccessTokenSealed: []byte("sealed"),
		Active:            true,
	})
	require.NoError(t, err)
	return *account
}

func (p *pack) put(t *testing.T, id store.ID, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = p.store.Put(context.Background(), id, data, store.PutParams{})
	require.NoError(t, err)
}

func (p *pack) seedGithub(t *testing.T, accountID string, commits []providers.Commit, prs []providers.PullRequest) {
	t.Helper()
	p.put(t, store.GithubMetaID(accountID), providers.GithubMeta{
		Login: "gopher",
		Repos: []providers.Repo{{Owner: "owner", Name: "r", FullName: "owner/r", DefaultBranch: "main"}},
	})
	if commits != nil {
		p.put(t, store.GithubCommitsID(accountID, "owner", "r"), commits)
	}
	if prs != nil {
		p.put(t, store.GithubPRsID(accountID, "owner", "r"), prs)
	}
}

func (p *pack) userTimeline(t *testing.T, userID string) *Timeline {
	t.Helper()
	timeline, _, err := p.assembler.GetUserTimeline(context.Background(), userID)
	require.NoError(t, err)
	return timeline
}

func TestCombineCommitGrouping(t *testing.T) {
	p := newPack(t)
	ctx := context.Background()
	account := p.seedAccount(t, pulse.PlatformGithub)
	p.seedGithub(t, account.ID, []providers.Commit{
		{SHA: "aaa", Repo: "owner/r", Branch: "main", AuthoredAt: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), Additions: 3, Deletions: 1, FilesChanged: 1},
		{SHA: "bbb", Repo: "owner/r", Branch: "main", AuthoredAt: time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC), Additions: 5, Deletions: 2, FilesChanged: 2},
	}, nil)

	require.NoError(t, p.assembler.CombineUserTimeline(ctx, "u1", []services.Account{account}))

	timeline := p.userTimeline(t, "u1")
	require.Len(t, timeline.Groups, 1)
	require.Equal(t, "2024-01-02", timeline.Groups[0].Date)
	require.Len(t, timeline.Groups[0].Entries, 1)

	group := timeline.Groups[0].Entries[0].CommitGroup
	require.NotNil(t, group)
	require.Equal(t, "owner/r", group.Repo)
	require.Equal(t, "main", group.Branch)
	// newest commit first
	require.Equal(t, "bbb", group.Commits[0].Payload.Commit.SHA)
	require.Equal(t, "aaa", group.Commits[1].Payload.Commit.SHA)
	require.Equal(t, 8, group.Additions)
	require.Equal(t, 3, group.Deletions)
	require.Equal(t, 3, group.FilesChanged)
}

func TestCombineCommitAbsorbedIntoPR(t *testing.T) {
	p := newPack(t)
	ctx := context.Background()
	account := p.seedAccount(t, pulse.PlatformGithub)
	mergedAt := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	p.seedGithub(t, account.ID, []providers.Commit{
		{SHA: "aaa", Repo: "owner/r", Branch: "main", Message: "first", AuthoredAt: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)},
		{SHA: "bbb", Repo: "owner/r", Branch: "main", Message: "second", AuthoredAt: time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC)},
	}, []providers.PullRequest{
		{Number: 7, Repo: "owner/r", Title: "feature", State: "closed", CommitSHAs: []string{"aaa", "bbb"}, UpdatedAt: mergedAt, MergedAt: &mergedAt},
	})

	require.NoError(t, p.assembler.CombineUserTimeline(ctx, "u1", []services.Account{account}))

	timeline := p.userTimeline(t, "u1")
	require.Len(t, timeline.Groups, 1)
	// no standalone commit group survives, only the PR
	require.Len(t, timeline.Groups[0].Entries, 1)
	item := timeline.Groups[0].Entries[0].Item
	require.NotNil(t, item)
	require.Equal(t, TypePR, item.Type)
	require.Len(t, item.Payload.PR.Commits, 2)
	require.Equal(t, "first", item.Payload.PR.Commits[0].Message)
}

// The serialized type tags are an API contract: clients dispatch on the
// literal strings, so the constants must not drift.
func TestItemTypeTags(t *testing.T) {
	require.Equal(t, "commit", TypeCommit)
	require.Equal(t, "pull_request", TypePR)
	require.Equal(t, "post", TypePost)
	require.Equal(t, "comment", TypeComment)
	require.Equal(t, "tweet", TypeTweet)

	out, err := json.Marshal(Item{ID: "github:pr:owner/r:7", Type: TypePR})
	require.NoError(t, err)
	require.Contains(t, string(out), `"type":"pull_request"`)
}

func TestCombineDateOrdering(t *testing.T) {
	p := newPack(t)
	ctx := context.Background()
	account := p.seedAccount(t, pulse.PlatformReddit)
	p.put(t, store.RedditPostsID(account.ID), []providers.Post{
		{ID: "p1", Subreddit: "golang", Title: "old", CreatedUTC: float64(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC).Unix())},
		{ID: "p2", Subreddit: "golang", Title: "new", CreatedUTC: float64(time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC).Unix())},
		{ID: "p3", Subreddit: "golang", Title: "mid", CreatedUTC: float64(time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC).Unix())},
	})

	require.NoError(t, p.assembler.CombineUserTimeline(ctx, "u1", []services.Account{account}))

	timeline := p.userTimeline(t, "u1")
	require.Len(t, timeline.Groups, 2)
	require.Equal(t, "2024-01-03", timeline.Groups[0].Date)
	require.Equal(t, "2024-01-01", timeline.Groups[1].Date)
	// within a bucket entries are newest first
	require.Equal(t, "new", timeline.Groups[0].Entries[0].Item.Title)
	require.Equal(t, "mid", timeline.Groups[0].Entries[1].Item.Title)
}

func TestCombineEmptyUser(t *testing.T) {
	p := newPack(t)
	ctx := context.Background()

	require.NoError(t, p.assembler.CombineUserTimeline(ctx, "u3", nil))

	snapshot, err := p.store.GetLatest(ctx, store.TimelineID("u3"))
	require.NoError(t, err)
	var timeline Timeline
	require.NoError(t, json.Unmarshal(snapshot.Data, &timeline))
	require.NotNil(t, timeline.Groups)
	require.Empty(t, timeline.Groups)
	require.False(t, timeline.GeneratedAt.IsZero())

	parents, err := p.store.GetParents(ctx, store.TimelineID("u3"), snapshot.Version)
	require.NoError(t, err)
	require.Empty(t, parents)
}

func TestCombineRecordsParents(t *testing.T) {
	p := newPack(t)
	ctx := context.Background()
	account := p.seedAccount(t, pulse.PlatformGithub)
	p.seedGithub(t, account.ID, []providers.Commit{
		{SHA: "aaa", Repo: "owner/r", Branch: "main", AuthoredAt: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)},
	}, nil)

	require.NoError(t, p.assembler.CombineUserTimeline(ctx, "u1", []services.Account{account}))

	snapshot, err := p.store.GetLatest(ctx, store.TimelineID("u1"))
	require.NoError(t, err)
	parents, err := p.store.GetParents(ctx, store.TimelineID("u1"), snapshot.Version)
	require.NoError(t, err)
	// meta and commits stores contributed
	require.Len(t, parents, 2)
	for _, parent := range parents {
		require.Equal(t, store.RoleSource, parent.Role)
	}
}

func TestNormalizeTweet(t *testing.T) {
	item := normalizeTweet("a1", providers.Tweet{
		ID:              "1001",
		Text:            "hello",
		AuthorHandle:    "gopher",
		CreatedAt:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		InReplyToUserID: "77",
		Referenced:      []providers.ReferencedTweet{{Type: "retweeted", ID: "900"}},
		RetweetCount:    2,
		QuoteCount:      3,
		LikeCount:       9,
	})
	require.Equal(t, "twitter:tweet:1001", item.ID)
	require.True(t, item.Payload.Tweet.IsReply)
	require.True(t, item.Payload.Tweet.IsRepost)
	require.Equal(t, 5, item.Payload.Tweet.RepostCount)
	require.Equal(t, 9, item.Payload.Tweet.LikeCount)
}

func TestNormalizePostMedia(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://i.redd.it/abc.jpg", true},
		{"https://v.redd.it/xyz", true},
		{"https://imgur.com/gallery/a", true},
		{"https://example.com/photo.PNG", true},
		{"https://example.com/article", false},
		{"", false},
	}
	for _, tc := range tests {
		item := normalizePost("a1", providers.Post{ID: "p", URL: tc.url})
		require.Equal(t, tc.want, item.Payload.Post.HasMedia, "url %q", tc.url)
	}
}

func TestNormalizeCommitTruncation(t *testing.T) {
	long := make([]rune, 150)
	for i := range long {
		long[i] = 'x'
	}
	item := normalizeCommit("a1", providers.Commit{
		SHA:     "abcdef0123456789",
		Repo:    "owner/r",
		Message: string(long),
	})
	require.Equal(t, "github:commit:owner/r:abcdef0", item.ID)
	require.Len(t, []rune(item.Title), 100)
	// payload keeps the full message
	require.Len(t, item.Payload.Commit.Message, 150)
}

func TestNormalizeRedditTimestamp(t *testing.T) {
	item := normalizePost("a1", providers.Post{ID: "p", CreatedUTC: 1704189600.5})
	require.Equal(t, time.UnixMilli(1704189600500).UTC(), item.Timestamp)
}
