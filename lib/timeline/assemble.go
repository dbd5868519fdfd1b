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
	"fmt"
	"sort"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/providers"
	"github.com/gravitational/pulse/lib/services"
	"github.com/gravitational/pulse/lib/store"
	"github.com/gravitational/pulse/lib/sync"
)

// Config holds the assembler dependencies
type Config struct {
	// Identity is the resource service
	Identity services.Identity
	// Store is the snapshot store
	Store *store.Store
	// Clock is the time source
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *Config) CheckAndSetDefaults() error {
	if c.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Assembler builds user timelines from the latest stored snapshots.
type Assembler struct {
	cfg Config
	log *logrus.Entry
}

// NewAssembler returns a new timeline assembler
func NewAssembler(cfg Config) (*Assembler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Assembler{
		cfg: cfg,
		log: logrus.WithField(pulse.Component, pulse.ComponentTimeline),
	}, nil
}

// sources are the normalized items loaded for a set of accounts plus
// the lineage of every snapshot they came from.
type sources struct {
	commits []Item
	prs     []Item
	others  []Item
	parents []store.Parent
}

// CombineUserTimeline assembles the user's timeline from the latest
// snapshots of the given accounts and persists it. An empty account
// set still writes an empty timeline so reads never miss.
func (a *Assembler) CombineUserTimeline(ctx context.Context, userID string, accounts []services.Account) error {
	src := a.load(ctx, accounts)
	timeline := assemble(src)
	timeline.UserID = userID
	timeline.GeneratedAt = a.cfg.Clock.Now().UTC()

	data, err := json.Marshal(timeline)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = a.cfg.Store.Put(ctx, store.TimelineID(userID), data, store.PutParams{
		Parents: src.parents,
	})
	return trace.Wrap(err)
}

// GetUserTimeline returns the latest assembled timeline of the user.
func (a *Assembler) GetUserTimeline(ctx context.Context, userID string) (*Timeline, *store.Meta, error) {
	snapshot, err := a.cfg.Store.GetLatest(ctx, store.TimelineID(userID))
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	var timeline Timeline
	if err := json.Unmarshal(snapshot.Data, &timeline); err != nil {
		return nil, nil, trace.BadParameter("failed to parse timeline of user %v: %v", userID, err)
	}
	return &timeline, &snapshot.Meta, nil
}

// load reads and normalizes the latest snapshots of every account.
// Unreadable stores contribute nothing; the timeline stays consistent
// with what was readable.
func (a *Assembler) load(ctx context.Context, accounts []services.Account) *sources {
	src := &sources{}
	for _, account := range accounts {
		switch account.Platform {
		case pulse.PlatformGithub:
			a.loadGithub(ctx, account, src)
		case pulse.PlatformReddit:
			a.loadReddit(ctx, account, src)
		case pulse.PlatformTwitter:
			a.loadTwitter(ctx, account, src)
		default:
			// single-store platforms contribute lineage only
			a.addParent(ctx, store.RawID(account.Platform, account.ID), src)
		}
	}
	return src
}

func (a *Assembler) loadGithub(ctx context.Context, account services.Account, src *sources) {
	var meta providers.GithubMeta
	if !a.read(ctx, store.GithubMetaID(account.ID), &meta, src) {
		return
	}
	for _, repo := range meta.Repos {
		var commits []providers.Commit
		if a.read(ctx, store.GithubCommitsID(account.ID, repo.Owner, repo.Name), &commits, src) {
			for _, commit := range commits {
				src.commits = append(src.commits, normalizeCommit(account.ID, commit))
			}
		}
		var prs []providers.PullRequest
		if a.read(ctx, store.GithubPRsID(account.ID, repo.Owner, repo.Name), &prs, src) {
			for _, pr := range prs {
				src.prs = append(src.prs, normalizePR(account.ID, pr))
			}
		}
	}
}

func (a *Assembler) loadReddit(ctx context.Context, account services.Account, src *sources) {
	var posts []providers.Post
	if a.read(ctx, store.RedditPostsID(account.ID), &posts, src) {
		for _, post := range posts {
			src.others = append(src.others, normalizePost(account.ID, post))
		}
	}
	var comments []providers.Comment
	if a.read(ctx, store.RedditCommentsID(account.ID), &comments, src) {
		for _, comment := range comments {
			src.others = append(src.others, normalizeComment(account.ID, comment))
		}
	}
}

func (a *Assembler) loadTwitter(ctx context.Context, account services.Account, src *sources) {
	var payload sync.TweetsPayload
	if a.read(ctx, store.TwitterTweetsID(account.ID), &payload, src) {
		for _, tweet := range payload.Tweets {
			src.others = append(src.others, normalizeTweet(account.ID, tweet))
		}
	}
}

// read loads the latest snapshot of the store into out and records the
// lineage edge. Returns false when the store is empty or unreadable.
func (a *Assembler) read(ctx context.Context, id store.ID, out interface{}, src *sources) bool {
	snapshot, err := a.cfg.Store.GetLatest(ctx, id)
	if err != nil {
		if !trace.IsNotFound(err) {
			a.log.WithError(err).WithField("store", id.String()).Warn("Failed to read snapshot.")
		}
		return false
	}
	if err := json.Unmarshal(snapshot.Data, out); err != nil {
		a.log.WithError(err).WithField("store", id.String()).Warn("Failed to parse snapshot.")
		return false
	}
	src.parents = append(src.parents, store.Parent{
		StoreID: snapshot.StoreID,
		Version: snapshot.Version,
		Role:    store.RoleSource,
	})
	return true
}

func (a *Assembler) addParent(ctx context.Context, id store.ID, src *sources) {
	snapshot, err := a.cfg.Store.GetLatest(ctx, id)
	if err != nil {
		if !trace.IsNotFound(err) {
			a.log.WithError(err).WithField("store", id.String()).Warn("Failed to read snapshot.")
		}
		return
	}
	src.parents = append(src.parents, store.Parent{
		StoreID: snapshot.StoreID,
		Version: snapshot.Version,
		Role:    store.RoleSource,
	})
}

// assemble turns normalized items into the grouped timeline: commits
// absorbed by pull requests disappear into the PR's commit list, the
// orphans are grouped by repository, branch and day, and everything is
// bucketed by date in descending order.
func assemble(src *sources) Timeline {
	absorbed := map[string]bool{}
	for _, pr := range src.prs {
		for _, sha := range pr.Payload.PR.CommitSHAs {
			absorbed[sha] = true
		}
		if sha := pr.Payload.PR.MergeCommitSHA; sha != "" {
			absorbed[sha] = true
		}
	}
	bySHA := map[string]Item{}
	var orphans []Item
	for _, commit := range src.commits {
		bySHA[commit.Payload.Commit.SHA] = commit
		if !absorbed[commit.Payload.Commit.SHA] {
			orphans = append(orphans, commit)
		}
	}
	prs := make([]Item, len(src.prs))
	for i, pr := range src.prs {
		payload := *pr.Payload.PR
		payload.Commits = []PRCommit{}
		for _, sha := range payload.CommitSHAs {
			commit, ok := bySHA[sha]
			if !ok {
				continue
			}
			payload.Commits = append(payload.Commits, PRCommit{
				SHA:     commit.Payload.Commit.SHA,
				Message: commit.Payload.Commit.Message,
				URL:     commit.Payload.Commit.URL,
			})
		}
		pr.Payload = Payload{PR: &payload}
		prs[i] = pr
	}

	var entries []Entry
	for _, group := range groupCommits(orphans) {
		group := group
		entries = append(entries, Entry{CommitGroup: group})
	}
	for i := range prs {
		entries = append(entries, Entry{Item: &prs[i]})
	}
	for i := range src.others {
		entries = append(entries, Entry{Item: &src.others[i]})
	}

	return Timeline{Groups: groupByDate(entries)}
}

// groupCommits buckets commits by (repo, branch, day) and sums the
// line stats per bucket.
func groupCommits(commits []Item) []*CommitGroup {
	groups := map[string]*CommitGroup{}
	var order []string
	for _, commit := range commits {
		payload := commit.Payload.Commit
		key := fmt.Sprintf("%v\x00%v\x00%v", payload.Repo, payload.Branch, dateKey(commit.Timestamp))
		group, ok := groups[key]
		if !ok {
			group = &CommitGroup{
				Repo:   payload.Repo,
				Branch: payload.Branch,
				Date:   dateKey(commit.Timestamp),
			}
			groups[key] = group
			order = append(order, key)
		}
		group.Commits = append(group.Commits, commit)
		group.Additions += payload.Additions
		group.Deletions += payload.Deletions
		group.FilesChanged += payload.FilesChanged
	}
	out := make([]*CommitGroup, 0, len(order))
	for _, key := range order {
		group := groups[key]
		sort.SliceStable(group.Commits, func(i, j int) bool {
			return group.Commits[i].Timestamp.After(group.Commits[j].Timestamp)
		})
		out = append(out, group)
	}
	return out
}

// groupByDate buckets entries by their effective date, newest date
// first, entries within a bucket newest first.
func groupByDate(entries []Entry) []DateGroup {
	buckets := map[string][]Entry{}
	for _, entry := range entries {
		key := entry.Timestamp().UTC().Format("2006-01-02")
		if entry.CommitGroup != nil {
			key = entry.CommitGroup.Date
		}
		buckets[key] = append(buckets[key], entry)
	}
	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	groups := make([]DateGroup, 0, len(keys))
	for _, key := range keys {
		bucket := buckets[key]
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].Timestamp().After(bucket[j].Timestamp())
		})
		groups = append(groups, DateGroup{Date: key, Entries: bucket})
	}
	return groups
}
