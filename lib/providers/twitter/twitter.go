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

// Package twitter implements the microblog fetch driver against the
// twitter v2 JSON API.
package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/defaults"
	"github.com/gravitational/pulse/lib/providers"
)

const (
	// apiURL is the twitter v2 API endpoint
	apiURL = "https://api.twitter.com"

	// tokenURL is the twitter OAuth2 token endpoint used for refresh
	tokenURL = "https://api.twitter.com/2/oauth2/token"
)

// Config holds twitter provider configuration
type Config struct {
	// Client is the OAuth client used for token refresh
	Client providers.OAuthClient

	// HTTPClient is an optional HTTP client override used in tests
	HTTPClient *http.Client

	// BaseURL points the provider at a different API endpoint,
	// used in tests
	BaseURL string

	// TokenURL points token refresh at a different endpoint,
	// used in tests
	TokenURL string

	// PageSize is the per-request tweet count; the twitter API
	// floor is 5
	PageSize int

	// Clock is an optional clock override used in tests
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *Config) CheckAndSetDefaults() error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaults.ProviderRequestTimeout}
	}
	if c.BaseURL == "" {
		c.BaseURL = apiURL
	}
	if c.TokenURL == "" {
		c.TokenURL = tokenURL
	}
	if c.PageSize <= 0 {
		c.PageSize = defaults.TwitterPageSize
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Provider fetches twitter activity: identity and recent tweets
type Provider struct {
	cfg Config
	log *logrus.Entry
}

// New returns a new twitter provider
func New(cfg Config) (*Provider, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Provider{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{pulse.Component: pulse.ComponentProvider, "platform": pulse.PlatformTwitter}),
	}, nil
}

// Platform returns the platform tag
func (p *Provider) Platform() string {
	return pulse.PlatformTwitter
}

// user is the twitter v2 user object
type user struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Fetch resolves the token's identity and pulls its recent tweets.
func (p *Provider) Fetch(ctx context.Context, token string) (*providers.Result, error) {
	var me struct {
		Data user `json:"data"`
	}
	quota, err := p.get(ctx, token, "/2/users/me", nil, &me)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if me.Data.ID == "" {
		return nil, providers.ParseError("identity response carries no user id")
	}
	return p.fetchTweets(ctx, token, me.Data, quota)
}

// FetchForUsername resolves the handle to a user id and pulls its
// tweets. Used with app-level bearer tokens, which cannot call the
// /users/me endpoint.
func (p *Provider) FetchForUsername(ctx context.Context, token, handle string) (*providers.Result, error) {
	if handle == "" {
		return nil, providers.BadRequest("missing username for app-level twitter token")
	}
	var resolved struct {
		Data user `json:"data"`
	}
	quota, err := p.get(ctx, token, "/2/users/by/username/"+handle, nil, &resolved)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if resolved.Data.ID == "" {
		return nil, providers.ParseError("user lookup carries no user id")
	}
	return p.fetchTweets(ctx, token, resolved.Data, quota)
}

// tweetOptions is the query string of the user tweets endpoint
type tweetOptions struct {
	MaxResults  int    `url:"max_results"`
	TweetFields string `url:"tweet.fields"`
}

func (p *Provider) fetchTweets(ctx context.Context, token string, u user, quota *providers.Quota) (*providers.Result, error) {
	opts := tweetOptions{
		MaxResults:  p.cfg.PageSize,
		TweetFields: "created_at,public_metrics,referenced_tweets,in_reply_to_user_id",
	}
	var listing struct {
		Data []struct {
			ID              string `json:"id"`
			Text            string `json:"text"`
			CreatedAt       time.Time `json:"created_at"`
			InReplyToUserID string `json:"in_reply_to_user_id"`
			ReferencedTweets []struct {
				Type string `json:"type"`
				ID   string `json:"id"`
			} `json:"referenced_tweets"`
			PublicMetrics struct {
				RetweetCount int `json:"retweet_count"`
				ReplyCount   int `json:"reply_count"`
				LikeCount    int `json:"like_count"`
				QuoteCount   int `json:"quote_count"`
			} `json:"public_metrics"`
		} `json:"data"`
		Meta struct {
			OldestID string `json:"oldest_id"`
			NewestID string `json:"newest_id"`
		} `json:"meta"`
	}
	q, err := p.get(ctx, token, fmt.Sprintf("/2/users/%v/tweets", u.ID), &opts, &listing)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if q != nil {
		quota = q
	}

	result := &providers.TwitterResult{
		Meta: providers.TwitterMeta{
			UserID: u.ID,
			Handle: u.Username,
			Name:   u.Name,
		},
		OldestID: listing.Meta.OldestID,
		NewestID: listing.Meta.NewestID,
	}
	for _, t := range listing.Data {
		tweet := providers.Tweet{
			ID:              t.ID,
			Text:            t.Text,
			AuthorHandle:    u.Username,
			URL:             fmt.Sprintf("https://twitter.com/%v/status/%v", u.Username, t.ID),
			CreatedAt:       t.CreatedAt,
			InReplyToUserID: t.InReplyToUserID,
			RetweetCount:    t.PublicMetrics.RetweetCount,
			ReplyCount:      t.PublicMetrics.ReplyCount,
			LikeCount:       t.PublicMetrics.LikeCount,
			QuoteCount:      t.PublicMetrics.QuoteCount,
		}
		for _, ref := range t.ReferencedTweets {
			tweet.Referenced = append(tweet.Referenced, providers.ReferencedTweet{
				Type: ref.Type,
				ID:   ref.ID,
			})
		}
		result.Tweets = append(result.Tweets, tweet)
	}
	p.log.Debugf("Fetched %v tweets for %v.", len(result.Tweets), u.Username)

	return &providers.Result{
		Platform: pulse.PlatformTwitter,
		Twitter:  result,
		Quota:    quota,
	}, nil
}

// Refresh exchanges a refresh token for a new token pair using the
// configured OAuth client.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*providers.Token, error) {
	if p.cfg.Client.ID == "" {
		return nil, providers.BadRequest("no OAuth client configured for twitter token refresh")
	}
	conf := &oauth2.Config{
		ClientID:     p.cfg.Client.ID,
		ClientSecret: p.cfg.Client.Secret,
		Endpoint:     oauth2.Endpoint{TokenURL: p.cfg.TokenURL},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.cfg.HTTPClient)
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, providers.FromStatus(retrieveErr.Response.StatusCode, string(retrieveErr.Body), 0)
		}
		return nil, providers.NetworkError(err)
	}
	return &providers.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, nil
}

// get issues an authenticated GET and decodes the JSON response into
// out, translating failures into the provider error taxonomy.
func (p *Provider) get(ctx context.Context, token, path string, opts interface{}, out interface{}) (*providers.Quota, error) {
	url := p.cfg.BaseURL + path
	if opts != nil {
		values, err := query.Values(opts)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		url += "?" + values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, providers.NetworkError(err)
	}
	defer resp.Body.Close()

	quota := p.quotaFromHeaders(resp.Header)
	if resp.StatusCode != http.StatusOK {
		return nil, providers.FromStatus(resp.StatusCode, resp.Status, p.retryAfter(resp.Header))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, providers.ParseError(fmt.Sprintf("failed to decode %v response: %v", path, err))
	}
	return quota, nil
}

// quotaFromHeaders parses twitter's x-rate-limit headers; reset is an
// epoch timestamp.
func (p *Provider) quotaFromHeaders(h http.Header) *providers.Quota {
	remainingRaw := h.Get("x-rate-limit-remaining")
	resetRaw := h.Get("x-rate-limit-reset")
	if remainingRaw == "" && resetRaw == "" {
		return nil
	}
	quota := &providers.Quota{}
	if n, err := strconv.Atoi(remainingRaw); err == nil {
		quota.Remaining = &n
	}
	if epoch, err := strconv.ParseInt(resetRaw, 10, 64); err == nil {
		resetAt := time.Unix(epoch, 0).UTC()
		quota.ResetAt = &resetAt
	}
	return quota
}

func (p *Provider) retryAfter(h http.Header) time.Duration {
	if s, err := strconv.Atoi(h.Get("Retry-After")); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	if epoch, err := strconv.ParseInt(h.Get("x-rate-limit-reset"), 10, 64); err == nil {
		if d := time.Unix(epoch, 0).Sub(p.cfg.Clock.Now()); d > 0 {
			return d
		}
	}
	return 15 * time.Minute
}
