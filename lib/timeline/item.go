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

// Package timeline normalizes stored platform snapshots into timeline
// items, deduplicates commits absorbed by pull requests, groups the
// result by repository and date and serves profile-filtered views.
package timeline

import (
	"time"
)

// Item types, a closed set.
const (
	TypeCommit  = "commit"
	TypePR      = "pull_request"
	TypePost    = "post"
	TypeComment = "comment"
	TypeTweet   = "tweet"
)

// Item is one normalized activity entry. Exactly one payload variant
// is set, matching Type.
type Item struct {
	// ID is the deterministic item id, e.g. github:commit:owner/r:abc1234
	ID string `json:"id"`
	// Type is one of the item type constants
	Type string `json:"type"`
	// Platform is the originating platform tag
	Platform string `json:"platform"`
	// AccountID is the account the item was fetched through
	AccountID string `json:"account_id"`
	// Timestamp is the item's effective time
	Timestamp time.Time `json:"timestamp"`
	// Title is the short display text
	Title string `json:"title"`
	// Payload is the typed payload union
	Payload Payload `json:"payload"`
}

// Payload is the per-type item payload, a closed union.
type Payload struct {
	Commit  *CommitPayload  `json:"commit,omitempty"`
	PR      *PRPayload      `json:"pr,omitempty"`
	Post    *PostPayload    `json:"post,omitempty"`
	Comment *CommentPayload `json:"comment,omitempty"`
	Tweet   *TweetPayload   `json:"tweet,omitempty"`
}

// CommitPayload carries one commit
type CommitPayload struct {
	SHA          string `json:"sha"`
	Repo         string `json:"repo"`
	Branch       string `json:"branch"`
	Message      string `json:"message"`
	URL          string `json:"url,omitempty"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
	FilesChanged int    `json:"files_changed"`
}

// PRCommit is one commit resolved into a pull request entry
type PRCommit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// PRPayload carries one pull request with its resolved commits
type PRPayload struct {
	Number         int        `json:"number"`
	Repo           string     `json:"repo"`
	State          string     `json:"state"`
	URL            string     `json:"url,omitempty"`
	CommitSHAs     []string   `json:"commit_shas,omitempty"`
	MergeCommitSHA string     `json:"merge_commit_sha,omitempty"`
	MergedAt       *time.Time `json:"merged_at,omitempty"`
	Commits        []PRCommit `json:"commits"`
}

// PostPayload carries one reddit submission
type PostPayload struct {
	Subreddit   string `json:"subreddit"`
	Content     string `json:"content,omitempty"`
	URL         string `json:"url,omitempty"`
	Permalink   string `json:"permalink,omitempty"`
	Score       int    `json:"score"`
	NumComments int    `json:"num_comments"`
	HasMedia    bool   `json:"has_media"`
}

// CommentPayload carries one reddit comment
type CommentPayload struct {
	Subreddit string `json:"subreddit"`
	Content   string `json:"content,omitempty"`
	PostTitle string `json:"post_title,omitempty"`
	PostURL   string `json:"post_url,omitempty"`
	Permalink string `json:"permalink,omitempty"`
	IsOP      bool   `json:"is_op"`
	Score     int    `json:"score"`
}

// TweetPayload carries one tweet
type TweetPayload struct {
	AuthorHandle string `json:"author_handle"`
	Content      string `json:"content"`
	URL          string `json:"url,omitempty"`
	LikeCount    int    `json:"like_count"`
	ReplyCount   int    `json:"reply_count"`
	RepostCount  int    `json:"repost_count"`
	IsReply      bool   `json:"is_reply"`
	IsRepost     bool   `json:"is_repost"`
}

// CommitGroup bundles the orphan commits of one repository, branch and
// day. Totals are sums over the grouped commits.
type CommitGroup struct {
	// Repo is the full repository name
	Repo string `json:"repo"`
	// Branch is the branch the commits landed on
	Branch string `json:"branch"`
	// Date is the group's date key, YYYY-MM-DD in UTC
	Date string `json:"date"`
	// Commits are the grouped commit items, newest first
	Commits []Item `json:"commits"`
	// Additions sums line additions over the group
	Additions int `json:"additions"`
	// Deletions sums line deletions over the group
	Deletions int `json:"deletions"`
	// FilesChanged sums changed files over the group
	FilesChanged int `json:"files_changed"`
}

// Timestamp is the group's effective time: its newest commit.
func (g *CommitGroup) Timestamp() time.Time {
	if len(g.Commits) == 0 {
		return time.Time{}
	}
	return g.Commits[0].Timestamp
}

// Entry is one date group member: either a commit group or a single
// item.
type Entry struct {
	CommitGroup *CommitGroup `json:"commit_group,omitempty"`
	Item        *Item        `json:"item,omitempty"`
}

// Timestamp is the entry's sort key within a date group.
func (e Entry) Timestamp() time.Time {
	if e.CommitGroup != nil {
		return e.CommitGroup.Timestamp()
	}
	if e.Item != nil {
		return e.Item.Timestamp
	}
	return time.Time{}
}

// items counts the individual items the entry carries, used by the
// profile view's limit accounting.
func (e Entry) items() int {
	if e.CommitGroup != nil {
		return len(e.CommitGroup.Commits)
	}
	return 1
}

// DateGroup is one day's worth of entries, newest entry first.
type DateGroup struct {
	// Date is the bucket key, YYYY-MM-DD in UTC
	Date string `json:"date"`
	// Entries are the bucket members, sorted by timestamp descending
	Entries []Entry `json:"entries"`
}

// Timeline is the persisted assembled timeline payload.
type Timeline struct {
	// UserID is the timeline's owner
	UserID string `json:"user_id"`
	// GeneratedAt is when the timeline was assembled
	GeneratedAt time.Time `json:"generated_at"`
	// Groups are the date buckets, newest date first
	Groups []DateGroup `json:"groups"`
}

// dateKey formats a timestamp as the UTC date bucket key.
func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
