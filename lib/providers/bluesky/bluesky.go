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

// Package bluesky implements the bluesky fetch driver. Bluesky is a
// single-store platform: the parsed author feed is persisted as one
// raw payload.
package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/defaults"
	"github.com/gravitational/pulse/lib/providers"
)

// apiURL is the bluesky XRPC endpoint
const apiURL = "https://bsky.social"

// feedLimit is the author feed page size
const feedLimit = 30

// Config holds bluesky provider configuration
type Config struct {
	// HTTPClient is an optional HTTP client override used in tests
	HTTPClient *http.Client

	// BaseURL points the provider at a different endpoint, used in tests
	BaseURL string
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *Config) CheckAndSetDefaults() error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaults.ProviderRequestTimeout}
	}
	if c.BaseURL == "" {
		c.BaseURL = apiURL
	}
	return nil
}

// Provider fetches the account's author feed
type Provider struct {
	cfg Config
	log *logrus.Entry
}

// New returns a new bluesky provider
func New(cfg Config) (*Provider, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Provider{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{pulse.Component: pulse.ComponentProvider, "platform": pulse.PlatformBluesky}),
	}, nil
}

// Platform returns the platform tag
func (p *Provider) Platform() string {
	return pulse.PlatformBluesky
}

// feedPost is the subset of a feed entry pulse keeps
type feedPost struct {
	URI       string    `json:"uri"`
	CID       string    `json:"cid"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Likes     int       `json:"likes"`
	Reposts   int       `json:"reposts"`
	Replies   int       `json:"replies"`
}

// rawPayload is the single-store payload persisted for bluesky
type rawPayload struct {
	DID    string     `json:"did"`
	Handle string     `json:"handle"`
	Posts  []feedPost `json:"posts"`
}

// Fetch resolves the session identity and pulls the author feed.
func (p *Provider) Fetch(ctx context.Context, token string) (*providers.Result, error) {
	var session struct {
		DID    string `json:"did"`
		Handle string `json:"handle"`
	}
	if err := p.get(ctx, token, "/xrpc/com.atproto.server.getSession", nil, &session); err != nil {
		return nil, trace.Wrap(err)
	}
	if session.DID == "" {
		return nil, providers.ParseError("session response carries no DID")
	}

	var feed struct {
		Feed []struct {
			Post struct {
				URI    string `json:"uri"`
				CID    string `json:"cid"`
				Record struct {
					Text      string    `json:"text"`
					CreatedAt time.Time `json:"createdAt"`
				} `json:"record"`
				LikeCount   int `json:"likeCount"`
				RepostCount int `json:"repostCount"`
				ReplyCount  int `json:"replyCount"`
			} `json:"post"`
		} `json:"feed"`
	}
	params := url.Values{"actor": {session.DID}, "limit": {fmt.Sprint(feedLimit)}}
	if err := p.get(ctx, token, "/xrpc/app.bsky.feed.getAuthorFeed", params, &feed); err != nil {
		return nil, trace.Wrap(err)
	}

	payload := rawPayload{DID: session.DID, Handle: session.Handle}
	for _, entry := range feed.Feed {
		payload.Posts = append(payload.Posts, feedPost{
			URI:       entry.Post.URI,
			CID:       entry.Post.CID,
			Text:      entry.Post.Record.Text,
			CreatedAt: entry.Post.Record.CreatedAt,
			Likes:     entry.Post.LikeCount,
			Reposts:   entry.Post.RepostCount,
			Replies:   entry.Post.ReplyCount,
		})
	}
	p.log.Debugf("Fetched %v feed posts for %v.", len(payload.Posts), session.Handle)

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &providers.Result{
		Platform: pulse.PlatformBluesky,
		Raw:      raw,
	}, nil
}

func (p *Provider) get(ctx context.Context, token, path string, params url.Values, out interface{}) error {
	u := p.cfg.BaseURL + path
	if len(params) != 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return providers.NetworkError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return providers.FromStatus(resp.StatusCode, resp.Status, 0)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return providers.ParseError(fmt.Sprintf("failed to decode %v response: %v", path, err))
	}
	return nil
}
