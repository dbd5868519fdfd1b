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
	"fmt"
	"strings"
	"time"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/defaults"
	"github.com/gravitational/pulse/lib/providers"
)

// shortSHALength is used in commit item ids
const shortSHALength = 7

// mediaSuffixes and mediaHosts drive the has_media inference on posts
var (
	mediaSuffixes = []string{".jpg", ".jpeg", ".png", ".gif", ".gifv", ".mp4", ".webm"}
	mediaHosts    = []string{"i.redd.it", "v.redd.it", "i.imgur.com", "imgur.com"}
)

func normalizeCommit(accountID string, c providers.Commit) Item {
	sha := c.SHA
	if len(sha) > shortSHALength {
		sha = sha[:shortSHALength]
	}
	return Item{
		ID:        fmt.Sprintf("%v:commit:%v:%v", pulse.PlatformGithub, c.Repo, sha),
		Type:      TypeCommit,
		Platform:  pulse.PlatformGithub,
		AccountID: accountID,
		Timestamp: c.AuthoredAt,
		Title:     truncate(firstLine(c.Message), defaults.CommitTitleRunes),
		Payload: Payload{Commit: &CommitPayload{
			SHA:          c.SHA,
			Repo:         c.Repo,
			Branch:       c.Branch,
			Message:      c.Message,
			URL:          c.URL,
			Additions:    c.Additions,
			Deletions:    c.Deletions,
			FilesChanged: c.FilesChanged,
		}},
	}
}

func normalizePR(accountID string, pr providers.PullRequest) Item {
	timestamp := pr.UpdatedAt
	if pr.MergedAt != nil {
		timestamp = *pr.MergedAt
	}
	return Item{
		ID:        fmt.Sprintf("%v:pr:%v:%v", pulse.PlatformGithub, pr.Repo, pr.Number),
		Type:      TypePR,
		Platform:  pulse.PlatformGithub,
		AccountID: accountID,
		Timestamp: timestamp,
		Title:     truncate(pr.Title, defaults.CommitTitleRunes),
		Payload: Payload{PR: &PRPayload{
			Number:         pr.Number,
			Repo:           pr.Repo,
			State:          pr.State,
			URL:            pr.URL,
			CommitSHAs:     pr.CommitSHAs,
			MergeCommitSHA: pr.MergeCommitSHA,
			MergedAt:       pr.MergedAt,
			Commits:        []PRCommit{},
		}},
	}
}

func normalizePost(accountID string, post providers.Post) Item {
	return Item{
		ID:        fmt.Sprintf("%v:post:%v", pulse.PlatformReddit, post.ID),
		Type:      TypePost,
		Platform:  pulse.PlatformReddit,
		AccountID: accountID,
		Timestamp: fromCreatedUTC(post.CreatedUTC),
		Title:     truncate(post.Title, defaults.PostContentRunes),
		Payload: Payload{Post: &PostPayload{
			Subreddit:   post.Subreddit,
			Content:     truncate(post.Content, defaults.PostContentRunes),
			URL:         post.URL,
			Permalink:   post.Permalink,
			Score:       post.Score,
			NumComments: post.NumComments,
			HasMedia:    hasMedia(post.URL),
		}},
	}
}

func normalizeComment(accountID string, comment providers.Comment) Item {
	return Item{
		ID:        fmt.Sprintf("%v:comment:%v", pulse.PlatformReddit, comment.ID),
		Type:      TypeComment,
		Platform:  pulse.PlatformReddit,
		AccountID: accountID,
		Timestamp: fromCreatedUTC(comment.CreatedUTC),
		Title:     truncate(comment.PostTitle, defaults.PostContentRunes),
		Payload: Payload{Comment: &CommentPayload{
			Subreddit: comment.Subreddit,
			Content:   truncate(comment.Body, defaults.PostContentRunes),
			PostTitle: comment.PostTitle,
			PostURL:   comment.PostURL,
			Permalink: comment.Permalink,
			IsOP:      comment.IsOP,
			Score:     comment.Score,
		}},
	}
}

func normalizeTweet(accountID string, tweet providers.Tweet) Item {
	isRepost := false
	for _, ref := range tweet.Referenced {
		if ref.Type == "retweeted" {
			isRepost = true
			break
		}
	}
	return Item{
		ID:        fmt.Sprintf("%v:tweet:%v", pulse.PlatformTwitter, tweet.ID),
		Type:      TypeTweet,
		Platform:  pulse.PlatformTwitter,
		AccountID: accountID,
		Timestamp: tweet.CreatedAt,
		Title:     truncate(tweet.Text, defaults.PostContentRunes),
		Payload: Payload{Tweet: &TweetPayload{
			AuthorHandle: tweet.AuthorHandle,
			Content:      tweet.Text,
			URL:          tweet.URL,
			LikeCount:    tweet.LikeCount,
			ReplyCount:   tweet.ReplyCount,
			RepostCount:  tweet.RetweetCount + tweet.QuoteCount,
			IsReply:      tweet.InReplyToUserID != "",
			IsRepost:     isRepost,
		}},
	}
}

// fromCreatedUTC converts reddit's fractional epoch seconds
func fromCreatedUTC(created float64) time.Time {
	millis := int64(created * 1000)
	return time.UnixMilli(millis).UTC()
}

// hasMedia infers whether a post links directly to media
func hasMedia(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, suffix := range mediaSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	for _, host := range mediaHosts {
		if strings.Contains(lower, "//"+host+"/") {
			return true
		}
	}
	return false
}

// truncate limits s to n runes
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// firstLine cuts a commit message at the first newline
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
