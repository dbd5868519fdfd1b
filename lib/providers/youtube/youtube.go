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

// Package youtube implements the video host fetch driver. Youtube is a
// single-store platform: the channel's recent uploads are persisted as
// one raw payload.
package youtube

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

// apiURL is the youtube data API endpoint
const apiURL = "https://www.googleapis.com/youtube/v3"

// uploadsLimit is the uploads page size
const uploadsLimit = 25

// Config holds youtube provider configuration
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

// Provider fetches the channel's recent uploads
type Provider struct {
	cfg Config
	log *logrus.Entry
}

// New returns a new youtube provider
func New(cfg Config) (*Provider, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Provider{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{pulse.Component: pulse.ComponentProvider, "platform": pulse.PlatformYoutube}),
	}, nil
}

// Platform returns the platform tag
func (p *Provider) Platform() string {
	return pulse.PlatformYoutube
}

// video is the subset of an upload pulse keeps
type video struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url"`
}

// rawPayload is the single-store payload persisted for youtube
type rawPayload struct {
	ChannelID    string  `json:"channel_id"`
	ChannelTitle string  `json:"channel_title"`
	Videos       []video `json:"videos"`
}

// Fetch resolves the authenticated channel and pulls its uploads
// playlist.
func (p *Provider) Fetch(ctx context.Context, token string) (*providers.Result, error) {
	var channels struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
			ContentDetails struct {
				RelatedPlaylists struct {
					Uploads string `json:"uploads"`
				} `json:"relatedPlaylists"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	params := url.Values{"part": {"snippet,contentDetails"}, "mine": {"true"}}
	if err := p.get(ctx, token, "/channels", params, &channels); err != nil {
		return nil, trace.Wrap(err)
	}
	if len(channels.Items) == 0 {
		return nil, providers.ParseError("channel response carries no items")
	}
	channel := channels.Items[0]

	var playlist struct {
		Items []struct {
			Snippet struct {
				Title       string    `json:"title"`
				Description string    `json:"description"`
				PublishedAt time.Time `json:"publishedAt"`
				ResourceID  struct {
					VideoID string `json:"videoId"`
				} `json:"resourceId"`
			} `json:"snippet"`
		} `json:"items"`
	}
	params = url.Values{
		"part":       {"snippet"},
		"playlistId": {channel.ContentDetails.RelatedPlaylists.Uploads},
		"maxResults": {fmt.Sprint(uploadsLimit)},
	}
	if err := p.get(ctx, token, "/playlistItems", params, &playlist); err != nil {
		return nil, trace.Wrap(err)
	}

	payload := rawPayload{
		ChannelID:    channel.ID,
		ChannelTitle: channel.Snippet.Title,
	}
	for _, item := range playlist.Items {
		payload.Videos = append(payload.Videos, video{
			ID:          item.Snippet.ResourceID.VideoID,
			Title:       item.Snippet.Title,
			Description: item.Snippet.Description,
			PublishedAt: item.Snippet.PublishedAt,
			URL:         "https://www.youtube.com/watch?v=" + item.Snippet.ResourceID.VideoID,
		})
	}
	p.log.Debugf("Fetched %v uploads for channel %v.", len(payload.Videos), channel.ID)

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &providers.Result{
		Platform: pulse.PlatformYoutube,
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
