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

package providers

import "time"

// Repo is a code host repository summary.
type Repo struct {
	// Owner is the repository owner login
	Owner string `json:"owner"`
	// Name is the repository name
	Name string `json:"name"`
	// FullName is "owner/name"
	FullName string `json:"full_name"`
	// DefaultBranch is the default branch name
	DefaultBranch string `json:"default_branch"`
	// Private marks repositories not visible publicly
	Private bool `json:"private"`
	// PushedAt is the last push time
	PushedAt time.Time `json:"pushed_at"`
}

// Commit is a single commit keyed by its hash.
type Commit struct {
	// SHA is the commit hash
	SHA string `json:"sha"`
	// Repo is "owner/name"
	Repo string `json:"repo"`
	// Branch is the branch the commit was fetched from
	Branch string `json:"branch"`
	// Message is the full commit message
	Message string `json:"message"`
	// URL links to the commit page
	URL string `json:"url"`
	// AuthoredAt is the author date
	AuthoredAt time.Time `json:"authored_at"`
	// Additions is the number of added lines
	Additions int `json:"additions"`
	// Deletions is the number of deleted lines
	Deletions int `json:"deletions"`
	// FilesChanged is the number of touched files
	FilesChanged int `json:"files_changed"`
}

// PullRequest is a single pull request keyed by its number.
type PullRequest struct {
	// Number is the PR number within the repository
	Number int `json:"number"`
	// Repo is "owner/name"
	Repo string `json:"repo"`
	// Title is the PR title
	Title string `json:"title"`
	// URL links to the PR page
	URL string `json:"url"`
	// State is open, closed or merged
	State string `json:"state"`
	// CommitSHAs are the hashes of the PR's commits
	CommitSHAs []string `json:"commit_shas"`
	// MergeCommitSHA is the merge commit hash, when merged
	MergeCommitSHA string `json:"merge_commit_sha,omitempty"`
	// CreatedAt is the PR creation time
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last PR update time
	UpdatedAt time.Time `json:"updated_at"`
	// MergedAt is the merge time, when merged
	MergedAt *time.Time `json:"merged_at,omitempty"`
}

// GithubMeta is the github profile summary of an account.
type GithubMeta struct {
	// Login is the github login
	Login string `json:"login"`
	// Name is the display name
	Name string `json:"name,omitempty"`
	// Repos are the repositories the account pushed to recently
	Repos []Repo `json:"repos"`
}

// GithubResult is the github fetch result: meta plus per-repo commit
// and pull request collections keyed by "owner/name".
type GithubResult struct {
	// Meta is the profile summary
	Meta GithubMeta `json:"meta"`
	// Commits maps "owner/name" to that repo's commits
	Commits map[string][]Commit `json:"commits"`
	// PullRequests maps "owner/name" to that repo's pull requests
	PullRequests map[string][]PullRequest `json:"pull_requests"`
}

// Post is a reddit submission keyed by its platform id.
type Post struct {
	// ID is the platform-stable id
	ID string `json:"id"`
	// Subreddit is the subreddit name without the /r/ prefix
	Subreddit string `json:"subreddit"`
	// Title is the submission title
	Title string `json:"title"`
	// Content is the self text, possibly empty for link posts
	Content string `json:"content,omitempty"`
	// URL is the submitted or permalink URL
	URL string `json:"url"`
	// Permalink is the comments page URL
	Permalink string `json:"permalink"`
	// Score is the current vote score
	Score int `json:"score"`
	// NumComments is the current reply count
	NumComments int `json:"num_comments"`
	// CreatedUTC is the creation time in epoch seconds
	CreatedUTC float64 `json:"created_utc"`
}

// Comment is a reddit comment keyed by its platform id.
type Comment struct {
	// ID is the platform-stable id
	ID string `json:"id"`
	// Subreddit is the subreddit name without the /r/ prefix
	Subreddit string `json:"subreddit"`
	// Body is the comment text
	Body string `json:"body"`
	// Permalink is the comment URL
	Permalink string `json:"permalink"`
	// PostTitle is the title of the parent submission
	PostTitle string `json:"post_title"`
	// PostURL is the URL of the parent submission
	PostURL string `json:"post_url"`
	// IsOP is true when the commenter authored the parent submission
	IsOP bool `json:"is_op"`
	// Score is the current vote score
	Score int `json:"score"`
	// CreatedUTC is the creation time in epoch seconds
	CreatedUTC float64 `json:"created_utc"`
}

// RedditMeta is the reddit profile summary of an account.
type RedditMeta struct {
	// Username is the reddit username
	Username string `json:"username"`
	// Subreddits are subreddits the account posted in recently
	Subreddits []string `json:"subreddits"`
}

// RedditResult is the reddit fetch result.
type RedditResult struct {
	// Meta is the profile summary
	Meta RedditMeta `json:"meta"`
	// Posts are recent submissions
	Posts []Post `json:"posts"`
	// Comments are recent comments
	Comments []Comment `json:"comments"`
}

// ReferencedTweet is a reference carried by a tweet, e.g. the retweeted
// original.
type ReferencedTweet struct {
	// Type is the reference type, e.g. "retweeted" or "quoted"
	Type string `json:"type"`
	// ID is the referenced tweet id
	ID string `json:"id"`
}

// Tweet is a single tweet keyed by its platform id.
type Tweet struct {
	// ID is the platform-stable id
	ID string `json:"id"`
	// Text is the tweet text
	Text string `json:"text"`
	// AuthorHandle is the author's handle without the @ prefix
	AuthorHandle string `json:"author_handle"`
	// URL links to the tweet
	URL string `json:"url"`
	// CreatedAt is the tweet creation time
	CreatedAt time.Time `json:"created_at"`
	// InReplyToUserID is set when the tweet is a reply
	InReplyToUserID string `json:"in_reply_to_user_id,omitempty"`
	// Referenced are referenced tweets, e.g. the retweeted original
	Referenced []ReferencedTweet `json:"referenced,omitempty"`
	// RetweetCount is the current retweet count
	RetweetCount int `json:"retweet_count"`
	// QuoteCount is the current quote count
	QuoteCount int `json:"quote_count"`
	// ReplyCount is the current reply count
	ReplyCount int `json:"reply_count"`
	// LikeCount is the current like count
	LikeCount int `json:"like_count"`
}

// TwitterMeta is the twitter profile summary of an account.
type TwitterMeta struct {
	// UserID is the platform user id, empty for app-level tokens
	UserID string `json:"user_id,omitempty"`
	// Handle is the account handle without the @ prefix
	Handle string `json:"handle"`
	// Name is the display name
	Name string `json:"name,omitempty"`
}

// TwitterResult is the twitter fetch result.
type TwitterResult struct {
	// Meta is the profile summary
	Meta TwitterMeta `json:"meta"`
	// Tweets are the fetched tweets, newest first
	Tweets []Tweet `json:"tweets"`
	// OldestID is the oldest fetched tweet id
	OldestID string `json:"oldest_id,omitempty"`
	// NewestID is the newest fetched tweet id
	NewestID string `json:"newest_id,omitempty"`
}
