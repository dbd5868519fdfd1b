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

// Package reddit implements the reddit fetch driver against the
// oauth.reddit.com JSON API.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/go-querystring/query"
	"golang.org/x/oauth2"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/defaults"
	"github.com/gravitational/pulse/lib/providers"
)

// apiURL is the authenticated reddit API endpoint
const apiURL = "https://oauth.reddit.com"

// userAgent identifies pulse to reddit, which rejects generic agents
const userAgent = "pulse/" + pulse.Version + " (activity aggregator)"

// tokenURL is the reddit OAuth token endpoint used for refresh
const tokenURL = "https://www.reddit.com/api/v1/access_token"

// Config holds reddit provider configuration
type Config struct {
	// Client is the OAuth client used for token refresh, either the
	// system-wide pair or a profile's bring-your-own pair
	Client providers.OAuthClient

	// HTTPClient is an optional HTTP client override used in tests
	HTTPClient *http.Client

	// BaseURL points the provider at a different API endpoint,
	// used in tests
	BaseURL string

	// TokenURL points token refresh at a different endpoint,
	// used in tests
	TokenURL string

	// PageSize is the listing page size
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
		c.PageSize = defaults.RedditPageSize
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Provider fetches reddit activity: identity, submissions and comments
type Provider struct {
	cfg Config
	log *logrus.Entry
}

// New returns a new reddit provider
func New(cfg Config) (*Provider, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Provider{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{pulse.Component: pulse.ComponentProvider, "platform": pulse.PlatformReddit}),
	}, nil
}

// Platform returns the platform tag
func (p *Provider) Platform() string {
	return pulse.PlatformReddit
}

// Fetch resolves the token's identity and pulls its submissions and
// comments.
func (p *Provider) Fetch(ctx context.Context, token string) (*providers.Result, error) {
	var me struct {
		Name string `json:"name"`
	}
	quota, err := p.get(ctx, token, "/api/v1/me", nil, &me)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if me.Name == "" {
		return nil, providers.ParseError("identity response carries no username")
	}
	return p.fetchUser(ctx, token, me.Name, quota)
}

// FetchForUsername pulls the named user's activity. Used with script
// app client-credentials tokens, which cannot resolve their own
// identity; the caller-supplied handle is trusted as the identity.
func (p *Provider) FetchForUsername(ctx context.Context, token, handle string) (*providers.Result, error) {
	if handle == "" {
		return nil, providers.BadRequest("missing username for app-level reddit token")
	}
	return p.fetchUser(ctx, token, handle, nil)
}

// listingOptions is the query string of reddit listing endpoints
type listingOptions struct {
	Limit int    `url:"limit"`
	Sort  string `url:"sort"`
	Raw   int    `url:"raw_json"`
}

func (p *Provider) fetchUser(ctx context.Context, token, username string, quota *providers.Quota) (*providers.Result, error) {
	opts := listingOptions{Limit: p.cfg.PageSize, Sort: "new", Raw: 1}

	var submitted listing
	q, err := p.get(ctx, token, fmt.Sprintf("/user/%v/submitted", username), &opts, &submitted)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if q != nil {
		quota = q
	}
	var commented listing
	q, err = p.get(ctx, token, fmt.Sprintf("/user/%v/comments", username), &opts, &commented)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if q != nil {
		quota = q
	}

	result := &providers.RedditResult{
		Meta: providers.RedditMeta{Username: username},
	}
	subreddits := map[string]bool{}
	for _, child := range submitted.Data.Children {
		d := child.Data
		result.Posts = append(result.Posts, providers.Post{
			ID:          d.ID,
			Subreddit:   d.Subreddit,
			Title:       d.Title,
			Content:     d.Selftext,
			URL:         d.URL,
			Permalink:   d.Permalink,
			Score:       d.Score,
			NumComments: d.NumComments,
			CreatedUTC:  d.CreatedUTC,
		})
		subreddits[d.Subreddit] = true
	}
	for _, child := range commented.Data.Children {
		d := child.Data
		result.Comments = append(result.Comments, providers.Comment{
			ID:         d.ID,
			Subreddit:  d.Subreddit,
			Body:       d.Body,
			Permalink:  d.Permalink,
			PostTitle:  d.LinkTitle,
			PostURL:    d.LinkURL,
			IsOP:       d.IsSubmitter,
			Score:      d.Score,
			CreatedUTC: d.CreatedUTC,
		})
		subreddits[d.Subreddit] = true
	}
	for subreddit := range subreddits {
		result.Meta.Subreddits = append(result.Meta.Subreddits, subreddit)
	}
	sort.Strings(result.Meta.Subreddits)
	p.log.Debugf("Fetched %v posts and %v comments for %v.", len(result.Posts), len(result.Comments), username)

	return &providers.Result{
		Platform: pulse.PlatformReddit,
		Reddit:   result,
		Quota:    quota,
	}, nil
}

// Refresh exchanges a refresh token for a new access token using the
// configured OAuth client.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*providers.Token, error) {
	if p.cfg.Client.ID == "" {
		return nil, providers.BadRequest("no OAuth client configured for reddit token refresh")
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

// listing is the reddit envelope around post and comment lists
type listing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID          string  `json:"id"`
				Subreddit   string  `json:"subreddit"`
				Title       string  `json:"title"`
				Selftext    string  `json:"selftext"`
				URL         string  `json:"url"`
				Permalink   string  `json:"permalink"`
				Score       int     `json:"score"`
				NumComments int     `json:"num_comments"`
				Body        string  `json:"body"`
				LinkTitle   string  `json:"link_title"`
				LinkURL     string  `json:"link_url"`
				IsSubmitter bool    `json:"is_submitter"`
				CreatedUTC  float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
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
	req.Header.Set("Authorization", "bearer "+token)
	req.Header.Set("User-Agent", userAgent)

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

// quotaFromHeaders parses reddit's X-Ratelimit headers. Remaining is
// reported as a float, reset as seconds from now.
func (p *Provider) quotaFromHeaders(h http.Header) *providers.Quota {
	remainingRaw := h.Get("X-Ratelimit-Remaining")
	resetRaw := h.Get("X-Ratelimit-Reset")
	if remainingRaw == "" && resetRaw == "" {
		return nil
	}
	quota := &providers.Quota{}
	if f, err := strconv.ParseFloat(remainingRaw, 64); err == nil {
		remaining := int(f)
		quota.Remaining = &remaining
	}
	if s, err := strconv.Atoi(resetRaw); err == nil {
		resetAt := p.cfg.Clock.Now().UTC().Add(time.Duration(s) * time.Second)
		quota.ResetAt = &resetAt
	}
	return quota
}

func (p *Provider) retryAfter(h http.Header) time.Duration {
	if s, err := strconv.Atoi(h.Get("Retry-After")); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	if s, err := strconv.Atoi(h.Get("X-Ratelimit-Reset")); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	return time.Minute
}
