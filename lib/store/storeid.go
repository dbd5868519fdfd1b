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
	"fmt"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/pulse"
)

// Kind is the typed discriminant a store id parses into.
type Kind string

const (
	// KindRaw is an unparsed per-account payload store
	KindRaw Kind = "raw"
	// KindTimeline is a per-user assembled timeline store
	KindTimeline Kind = "timeline"
	// KindGithubMeta holds the github profile summary
	KindGithubMeta Kind = "github-meta"
	// KindGithubCommits holds commits of one repository
	KindGithubCommits Kind = "github-commits"
	// KindGithubPRs holds pull requests of one repository
	KindGithubPRs Kind = "github-prs"
	// KindRedditMeta holds the reddit profile summary
	KindRedditMeta Kind = "reddit-meta"
	// KindRedditPosts holds reddit posts
	KindRedditPosts Kind = "reddit-posts"
	// KindRedditComments holds reddit comments
	KindRedditComments Kind = "reddit-comments"
	// KindTwitterMeta holds the twitter profile summary
	KindTwitterMeta Kind = "twitter-meta"
	// KindTwitterTweets holds tweets
	KindTwitterTweets Kind = "twitter-tweets"
)

// mediaPrefix roots every persisted store id.
const mediaPrefix = "media"

// ID is a parsed store id. The canonical string form is hierarchical
// and slash-delimited:
//
//	media/raw/<platform>/<account_id>
//	media/timeline/<user_id>
//	media/github/<account_id>/meta
//	media/github/<account_id>/commits/<owner>/<repo>
//	media/github/<account_id>/prs/<owner>/<repo>
//	media/reddit/<account_id>/{meta|posts|comments}
//	media/twitter/<account_id>/{meta|tweets}
type ID struct {
	// Kind is the typed discriminant
	Kind Kind
	// Platform is set for raw stores
	Platform string
	// AccountID is set for every store except timelines
	AccountID string
	// UserID is set for timeline stores
	UserID string
	// Owner is the repository owner for github commit/PR stores
	Owner string
	// Repo is the repository name for github commit/PR stores
	Repo string
}

// RawID returns the id of the raw store of the account.
func RawID(platform, accountID string) ID {
	return ID{Kind: KindRaw, Platform: platform, AccountID: accountID}
}

// TimelineID returns the id of the user's timeline store.
func TimelineID(userID string) ID {
	return ID{Kind: KindTimeline, UserID: userID}
}

// GithubMetaID returns the id of the github meta store of the account.
func GithubMetaID(accountID string) ID {
	return ID{Kind: KindGithubMeta, AccountID: accountID}
}

// GithubCommitsID returns the id of the per-repo commit store.
func GithubCommitsID(accountID, owner, repo string) ID {
	return ID{Kind: KindGithubCommits, AccountID: accountID, Owner: owner, Repo: repo}
}

// GithubPRsID returns the id of the per-repo pull request store.
func GithubPRsID(accountID, owner, repo string) ID {
	return ID{Kind: KindGithubPRs, AccountID: accountID, Owner: owner, Repo: repo}
}

// RedditMetaID returns the id of the reddit meta store of the account.
func RedditMetaID(accountID string) ID {
	return ID{Kind: KindRedditMeta, AccountID: accountID}
}

// RedditPostsID returns the id of the reddit post store of the account.
func RedditPostsID(accountID string) ID {
	return ID{Kind: KindRedditPosts, AccountID: accountID}
}

// RedditCommentsID returns the id of the reddit comment store of the account.
func RedditCommentsID(accountID string) ID {
	return ID{Kind: KindRedditComments, AccountID: accountID}
}

// TwitterMetaID returns the id of the twitter meta store of the account.
func TwitterMetaID(accountID string) ID {
	return ID{Kind: KindTwitterMeta, AccountID: accountID}
}

// TwitterTweetsID returns the id of the tweet store of the account.
func TwitterTweetsID(accountID string) ID {
	return ID{Kind: KindTwitterTweets, AccountID: accountID}
}

// String returns the canonical slash-delimited form of the id.
func (id ID) String() string {
	switch id.Kind {
	case KindRaw:
		return fmt.Sprintf("%v/raw/%v/%v", mediaPrefix, id.Platform, id.AccountID)
	case KindTimeline:
		return fmt.Sprintf("%v/timeline/%v", mediaPrefix, id.UserID)
	case KindGithubMeta:
		return fmt.Sprintf("%v/github/%v/meta", mediaPrefix, id.AccountID)
	case KindGithubCommits:
		return fmt.Sprintf("%v/github/%v/commits/%v/%v", mediaPrefix, id.AccountID, id.Owner, id.Repo)
	case KindGithubPRs:
		return fmt.Sprintf("%v/github/%v/prs/%v/%v", mediaPrefix, id.AccountID, id.Owner, id.Repo)
	case KindRedditMeta:
		return fmt.Sprintf("%v/reddit/%v/meta", mediaPrefix, id.AccountID)
	case KindRedditPosts:
		return fmt.Sprintf("%v/reddit/%v/posts", mediaPrefix, id.AccountID)
	case KindRedditComments:
		return fmt.Sprintf("%v/reddit/%v/comments", mediaPrefix, id.AccountID)
	case KindTwitterMeta:
		return fmt.Sprintf("%v/twitter/%v/meta", mediaPrefix, id.AccountID)
	case KindTwitterTweets:
		return fmt.Sprintf("%v/twitter/%v/tweets", mediaPrefix, id.AccountID)
	}
	return ""
}

// Check validates the id parses back into a known discriminant.
func (id ID) Check() error {
	s := id.String()
	if s == "" {
		return trace.BadParameter("unsupported store kind %q", id.Kind)
	}
	parsed, err := ParseID(s)
	if err != nil {
		return trace.Wrap(err)
	}
	if parsed != id {
		return trace.BadParameter("store id %q does not round-trip", s)
	}
	return nil
}

// ParseID parses the slash-delimited form, rejecting anything that does
// not match the grammar.
func ParseID(s string) (ID, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 3 || parts[0] != mediaPrefix {
		return ID{}, trace.BadParameter("invalid store id %q", s)
	}
	for _, part := range parts {
		if part == "" {
			return ID{}, trace.BadParameter("invalid store id %q: empty segment", s)
		}
	}
	switch parts[1] {
	case "raw":
		if len(parts) != 4 || !pulse.IsValidPlatform(parts[2]) {
			return ID{}, trace.BadParameter("invalid raw store id %q", s)
		}
		return RawID(parts[2], parts[3]), nil
	case "timeline":
		if len(parts) != 3 {
			return ID{}, trace.BadParameter("invalid timeline store id %q", s)
		}
		return TimelineID(parts[2]), nil
	case pulse.PlatformGithub:
		switch {
		case len(parts) == 4 && parts[3] == "meta":
			return GithubMetaID(parts[2]), nil
		case len(parts) == 6 && parts[3] == "commits":
			return GithubCommitsID(parts[2], parts[4], parts[5]), nil
		case len(parts) == 6 && parts[3] == "prs":
			return GithubPRsID(parts[2], parts[4], parts[5]), nil
		}
		return ID{}, trace.BadParameter("invalid github store id %q", s)
	case pulse.PlatformReddit:
		if len(parts) != 4 {
			return ID{}, trace.BadParameter("invalid reddit store id %q", s)
		}
		switch parts[3] {
		case "meta":
			return RedditMetaID(parts[2]), nil
		case "posts":
			return RedditPostsID(parts[2]), nil
		case "comments":
			return RedditCommentsID(parts[2]), nil
		}
		return ID{}, trace.BadParameter("invalid reddit store id %q", s)
	case pulse.PlatformTwitter:
		if len(parts) != 4 {
			return ID{}, trace.BadParameter("invalid twitter store id %q", s)
		}
		switch parts[3] {
		case "meta":
			return TwitterMetaID(parts[2]), nil
		case "tweets":
			return TwitterTweetsID(parts[2]), nil
		}
		return ID{}, trace.BadParameter("invalid twitter store id %q", s)
	}
	return ID{}, trace.BadParameter("invalid store id %q", s)
}
