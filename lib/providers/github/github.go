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

// Package github implements the code host fetch driver on top of the
// GitHub REST API.
package github

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v70/github"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/defaults"
	"github.com/gravitational/pulse/lib/providers"
)

// recentRepoLimit caps how many recently pushed repositories are
// scanned for commits and PRs on every fetch.
const recentRepoLimit = 10

// Config holds github provider configuration
type Config struct {
	// HTTPClient is an optional HTTP client override used in tests
	HTTPClient *http.Client

	// BaseURL points the provider at a different API endpoint, used
	// in tests; has to end with a trailing slash
	BaseURL string

	// PageSize is the per-page item count for list calls
	PageSize int

	// Clock is an optional clock override used in tests
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *Config) CheckAndSetDefaults() error {
	if c.PageSize <= 0 {
		c.PageSize = defaults.GithubPageSize
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.BaseURL != "" && !strings.HasSuffix(c.BaseURL, "/") {
		return trace.BadParameter("base URL %q has to end with a slash", c.BaseURL)
	}
	return nil
}

// Provider fetches github activity: profile, per-repo commits and
// per-repo pull requests
type Provider struct {
	cfg Config
	log *logrus.Entry
}

// New returns a new github provider
func New(cfg Config) (*Provider, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Provider{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{pulse.Component: pulse.ComponentProvider, "platform": pulse.PlatformGithub}),
	}, nil
}

// Platform returns the platform tag
func (p *Provider) Platform() string {
	return pulse.PlatformGithub
}

// Fetch pulls the authenticated user's profile, recently pushed
// repositories and, per repository, the user's commits on the default
// branch and pull requests.
func (p *Provider) Fetch(ctx context.Context, token string) (*providers.Result, error) {
	client := github.NewClient(p.cfg.HTTPClient).WithAuthToken(token)
	if p.cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(p.cfg.BaseURL, p.cfg.BaseURL)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	user, resp, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, p.convertError(err)
	}
	login := user.GetLogin()
	quota := quotaFromResponse(resp)

	repos, resp, err := client.Repositories.ListByAuthenticatedUser(ctx, &github.RepositoryListByAuthenticatedUserOptions{
		Sort:        "pushed",
		ListOptions: github.ListOptions{PerPage: p.cfg.PageSize},
	})
	if err != nil {
		return nil, p.convertError(err)
	}
	quota = quotaFromResponse(resp)
	p.log.Debugf("Fetched %v repositories for %v.", len(repos), login)

	result := &providers.GithubResult{
		Meta: providers.GithubMeta{
			Login: login,
			Name:  user.GetName(),
		},
		Commits:      map[string][]providers.Commit{},
		PullRequests: map[string][]providers.PullRequest{},
	}

	for i, repo := range repos {
		if i >= recentRepoLimit {
			break
		}
		owner := repo.GetOwner().GetLogin()
		name := repo.GetName()
		result.Meta.Repos = append(result.Meta.Repos, providers.Repo{
			Owner:         owner,
			Name:          name,
			FullName:      repo.GetFullName(),
			DefaultBranch: repo.GetDefaultBranch(),
			Private:       repo.GetPrivate(),
			PushedAt:      repo.GetPushedAt().Time,
		})

		commits, err := p.fetchCommits(ctx, client, login, owner, repo)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if len(commits) != 0 {
			result.Commits[repo.GetFullName()] = commits
		}

		prs, err := p.fetchPullRequests(ctx, client, login, owner, repo)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if len(prs) != 0 {
			result.PullRequests[repo.GetFullName()] = prs
		}
	}

	return &providers.Result{
		Platform: pulse.PlatformGithub,
		Github:   result,
		Quota:    quota,
	}, nil
}

func (p *Provider) fetchCommits(ctx context.Context, client *github.Client, login, owner string, repo *github.Repository) ([]providers.Commit, error) {
	listed, _, err := client.Repositories.ListCommits(ctx, owner, repo.GetName(), &github.CommitsListOptions{
		Author:      login,
		SHA:         repo.GetDefaultBranch(),
		ListOptions: github.ListOptions{PerPage: p.cfg.PageSize},
	})
	if err != nil {
		// a repository without commits replies 409
		var errResp *github.ErrorResponse
		if errors.As(err, &errResp) && errResp.Response.StatusCode == http.StatusConflict {
			return nil, nil
		}
		return nil, p.convertError(err)
	}
	out := make([]providers.Commit, 0, len(listed))
	for _, c := range listed {
		// the list call carries no line stats, fetch them per commit
		detailed, _, err := client.Repositories.GetCommit(ctx, owner, repo.GetName(), c.GetSHA(), nil)
		if err != nil {
			return nil, p.convertError(err)
		}
		out = append(out, providers.Commit{
			SHA:          c.GetSHA(),
			Repo:         repo.GetFullName(),
			Branch:       repo.GetDefaultBranch(),
			Message:      c.GetCommit().GetMessage(),
			URL:          c.GetHTMLURL(),
			AuthoredAt:   c.GetCommit().GetAuthor().GetDate().Time,
			Additions:    detailed.GetStats().GetAdditions(),
			Deletions:    detailed.GetStats().GetDeletions(),
			FilesChanged: len(detailed.Files),
		})
	}
	return out, nil
}

func (p *Provider) fetchPullRequests(ctx context.Context, client *github.Client, login, owner string, repo *github.Repository) ([]providers.PullRequest, error) {
	listed, _, err := client.PullRequests.List(ctx, owner, repo.GetName(), &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: p.cfg.PageSize},
	})
	if err != nil {
		return nil, p.convertError(err)
	}
	var out []providers.PullRequest
	for _, pr := range listed {
		if pr.GetUser().GetLogin() != login {
			continue
		}
		commits, _, err := client.PullRequests.ListCommits(ctx, owner, repo.GetName(), pr.GetNumber(), &github.ListOptions{
			PerPage: p.cfg.PageSize,
		})
		if err != nil {
			return nil, p.convertError(err)
		}
		shas := make([]string, 0, len(commits))
		for _, c := range commits {
			shas = append(shas, c.GetSHA())
		}
		record := providers.PullRequest{
			Number:         pr.GetNumber(),
			Repo:           repo.GetFullName(),
			Title:          pr.GetTitle(),
			URL:            pr.GetHTMLURL(),
			State:          pr.GetState(),
			CommitSHAs:     shas,
			MergeCommitSHA: pr.GetMergeCommitSHA(),
			CreatedAt:      pr.GetCreatedAt().Time,
			UpdatedAt:      pr.GetUpdatedAt().Time,
		}
		if merged := pr.GetMergedAt(); !merged.IsZero() {
			mergedAt := merged.Time
			record.MergedAt = &mergedAt
		}
		out = append(out, record)
	}
	return out, nil
}

// convertError maps go-github errors to the provider error taxonomy
func (p *Provider) convertError(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return providers.RateLimited(rateErr.Rate.Reset.Time.Sub(p.cfg.Clock.Now()))
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		retryAfter := time.Minute
		if abuseErr.RetryAfter != nil {
			retryAfter = *abuseErr.RetryAfter
		}
		return providers.RateLimited(retryAfter)
	}
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) {
		return providers.FromStatus(errResp.Response.StatusCode, errResp.Message, 0)
	}
	return providers.NetworkError(err)
}

func quotaFromResponse(resp *github.Response) *providers.Quota {
	if resp == nil {
		return nil
	}
	remaining := resp.Rate.Remaining
	resetAt := resp.Rate.Reset.Time.UTC()
	return &providers.Quota{Remaining: &remaining, ResetAt: &resetAt}
}
