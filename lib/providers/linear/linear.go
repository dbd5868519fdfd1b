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

// Package linear implements the task tracker fetch driver. Linear is a
// single-store platform: the viewer's recently updated issues are
// persisted as one raw payload.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/defaults"
	"github.com/gravitational/pulse/lib/providers"
)

// apiURL is the linear GraphQL endpoint
const apiURL = "https://api.linear.app/graphql"

// issuesLimit is the issue page size
const issuesLimit = 25

// issuesQuery pulls the viewer's identity and their recently updated
// assigned issues in one round trip.
const issuesQuery = `query($first: Int!) {
  viewer {
    id
    name
    displayName
    assignedIssues(first: $first, orderBy: updatedAt) {
      nodes {
        identifier
        title
        url
        createdAt
        updatedAt
        completedAt
        state { name type }
        team { key name }
      }
    }
  }
}`

// Config holds linear provider configuration
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

// Provider fetches the viewer's assigned issues
type Provider struct {
	cfg Config
	log *logrus.Entry
}

// New returns a new linear provider
func New(cfg Config) (*Provider, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Provider{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{pulse.Component: pulse.ComponentProvider, "platform": pulse.PlatformLinear}),
	}, nil
}

// Platform returns the platform tag
func (p *Provider) Platform() string {
	return pulse.PlatformLinear
}

// issue is the subset of a linear issue pulse keeps
type issue struct {
	Identifier  string     `json:"identifier"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	State       string     `json:"state"`
	StateType   string     `json:"state_type"`
	Team        string     `json:"team"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// rawPayload is the single-store payload persisted for linear
type rawPayload struct {
	UserID      string  `json:"user_id"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Issues      []issue `json:"issues"`
}

// Fetch queries the viewer and their recently updated assigned issues.
func (p *Provider) Fetch(ctx context.Context, token string) (*providers.Result, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query":     issuesQuery,
		"variables": map[string]interface{}{"first": issuesLimit},
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, providers.NetworkError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, providers.FromStatus(resp.StatusCode, resp.Status, 0)
	}

	var envelope struct {
		Data struct {
			Viewer struct {
				ID             string `json:"id"`
				Name           string `json:"name"`
				DisplayName    string `json:"displayName"`
				AssignedIssues struct {
					Nodes []struct {
						Identifier  string     `json:"identifier"`
						Title       string     `json:"title"`
						URL         string     `json:"url"`
						CreatedAt   time.Time  `json:"createdAt"`
						UpdatedAt   time.Time  `json:"updatedAt"`
						CompletedAt *time.Time `json:"completedAt"`
						State       struct {
							Name string `json:"name"`
							Type string `json:"type"`
						} `json:"state"`
						Team struct {
							Key  string `json:"key"`
							Name string `json:"name"`
						} `json:"team"`
					} `json:"nodes"`
				} `json:"assignedIssues"`
			} `json:"viewer"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, providers.ParseError(fmt.Sprintf("failed to decode graphql response: %v", err))
	}
	if len(envelope.Errors) != 0 {
		return nil, providers.APIError(resp.StatusCode, envelope.Errors[0].Message)
	}

	viewer := envelope.Data.Viewer
	payload := rawPayload{
		UserID:      viewer.ID,
		Name:        viewer.Name,
		DisplayName: viewer.DisplayName,
	}
	for _, node := range viewer.AssignedIssues.Nodes {
		payload.Issues = append(payload.Issues, issue{
			Identifier:  node.Identifier,
			Title:       node.Title,
			URL:         node.URL,
			State:       node.State.Name,
			StateType:   node.State.Type,
			Team:        node.Team.Key,
			CreatedAt:   node.CreatedAt,
			UpdatedAt:   node.UpdatedAt,
			CompletedAt: node.CompletedAt,
		})
	}
	p.log.Debugf("Fetched %v issues for user %v.", len(payload.Issues), viewer.ID)

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &providers.Result{
		Platform: pulse.PlatformLinear,
		Raw:      raw,
	}, nil
}
