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

package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/defaults"
	"github.com/gravitational/pulse/lib/providers"
	"github.com/gravitational/pulse/lib/secret"
	"github.com/gravitational/pulse/lib/services"
	"github.com/gravitational/pulse/lib/store"
)

// SettingTokenType is the account setting selecting how the stored
// token authenticates. SettingTokenTypeApp marks an app-level token
// that cannot resolve its own identity; the stored handle is used
// instead.
const (
	SettingTokenType    = "token_type"
	SettingTokenTypeApp = "app"
)

// Factory builds the fetch driver for an account, selecting between
// the system-wide OAuth client and the profile's bring-your-own
// credentials.
type Factory interface {
	// Provider returns a fetch driver for the account's platform.
	Provider(ctx context.Context, account services.Account) (providers.Provider, error)
}

// Descriptor summarizes one successful account sync; the scheduler
// aggregates these into the cron summary.
type Descriptor struct {
	// AccountID is the synced account
	AccountID string
	// ProfileID is the owning profile
	ProfileID string
	// Platform is the account's platform tag
	Platform string
	// Versions maps every written store id to its resulting version
	Versions map[string]string
	// NewItems counts items appended across all collections
	NewItems int
	// Total counts items present across all collections after merge
	Total int
}

// ProcessorConfig holds the account processor dependencies
type ProcessorConfig struct {
	// Identity is the resource service
	Identity services.Identity
	// Limits is the rate limit state service
	Limits services.RateLimits
	// Store is the snapshot store
	Store *store.Store
	// Key unseals stored tokens
	Key secret.Key
	// Providers builds per-account fetch drivers
	Providers Factory
	// Clock is the time source
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *ProcessorConfig) CheckAndSetDefaults() error {
	if c.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if c.Limits == nil {
		return trace.BadParameter("missing parameter Limits")
	}
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if len(c.Key) == 0 {
		return trace.BadParameter("missing parameter Key")
	}
	if c.Providers == nil {
		return trace.BadParameter("missing parameter Providers")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Processor runs the per-account sync pipeline: gate on rate limit
// state, unseal the token, fetch, merge into the store and update the
// bookkeeping.
type Processor struct {
	cfg ProcessorConfig
	log *logrus.Entry
}

// NewProcessor returns a new account processor
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Processor{
		cfg: cfg,
		log: logrus.WithField(pulse.Component, pulse.ComponentSync),
	}, nil
}

// ProcessAccount syncs one account end to end. A nil descriptor with a
// nil error means the account was skipped: the circuit is open, the
// quota window is exhausted or the platform's minimum fetch interval
// has not elapsed yet.
func (p *Processor) ProcessAccount(ctx context.Context, account services.Account) (*Descriptor, error) {
	log := p.log.WithFields(logrus.Fields{
		"account":  account.ID,
		"platform": account.Platform,
	})
	limit, err := p.cfg.Limits.GetRateLimit(ctx, account.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	now := p.cfg.Clock.Now().UTC()
	if !ShouldFetch(limit, now) {
		log.Debugf("Skipping, circuit open or quota exhausted.")
		return nil, nil
	}
	if interval := defaults.MinFetchInterval(account.Platform); interval > 0 &&
		account.LastFetchedAt != nil && now.Sub(*account.LastFetchedAt) < interval {
		log.Debugf("Skipping, fetched %v ago, platform floor is %v.", now.Sub(*account.LastFetchedAt), interval)
		return nil, nil
	}
	token, err := p.cfg.Key.Open(account.AccessTokenSealed)
	if err != nil {
		log.WithError(err).Error("Failed to unseal access token.")
		return nil, nil
	}
	provider, err := p.cfg.Providers.Provider(ctx, account)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	settings, err := p.cfg.Identity.GetAccountSettings(ctx, account.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaults.AccountSyncBudget)
	defer cancel()

	result, err := p.fetch(ctx, provider, account, settings, string(token))
	if err != nil && providers.IsAuthExpired(err) && len(account.RefreshTokenSealed) != 0 {
		refresher, ok := provider.(providers.TokenRefresher)
		if ok {
			log.Info("Access token expired, attempting refresh.")
			refreshed, refreshErr := p.refreshToken(ctx, refresher, &account)
			if refreshErr != nil {
				p.fail(ctx, log, limit, refreshErr)
				return nil, trace.Wrap(refreshErr)
			}
			result, err = p.fetch(ctx, provider, account, settings, refreshed)
		}
	}
	if err != nil {
		p.fail(ctx, log, limit, err)
		return nil, trace.Wrap(err)
	}

	desc, err := p.persist(ctx, account, result)
	if err != nil {
		p.fail(ctx, log, limit, err)
		return nil, trace.Wrap(err)
	}

	RecordSuccess(limit, result.Quota)
	if err := p.cfg.Limits.UpsertRateLimit(ctx, *limit); err != nil {
		return nil, trace.Wrap(err)
	}
	fetchedAt := now
	account.LastFetchedAt = &fetchedAt
	if err := p.cfg.Identity.UpdateAccount(ctx, account); err != nil {
		return nil, trace.Wrap(err)
	}
	p.verifyCredential(ctx, log, account)
	log.Infof("Synced %v items, %v new.", desc.Total, desc.NewItems)
	return desc, nil
}

func (p *Processor) fetch(ctx context.Context, provider providers.Provider, account services.Account, settings map[string]string, token string) (*providers.Result, error) {
	if settings[SettingTokenType] == SettingTokenTypeApp {
		if fetcher, ok := provider.(providers.UsernameFetcher); ok {
			return fetcher.FetchForUsername(ctx, token, account.ExternalHandle)
		}
	}
	return provider.Fetch(ctx, token)
}

// refreshToken exchanges the account's refresh token for a new pair,
// reseals both and persists the account. Returns the new plaintext
// access token.
func (p *Processor) refreshToken(ctx context.Context, refresher providers.TokenRefresher, account *services.Account) (string, error) {
	refreshToken, err := p.cfg.Key.Open(account.RefreshTokenSealed)
	if err != nil {
		return "", trace.Wrap(err)
	}
	refreshed, err := refresher.Refresh(ctx, string(refreshToken))
	if err != nil {
		return "", trace.Wrap(err)
	}
	sealed, err := p.cfg.Key.Seal([]byte(refreshed.AccessToken))
	if err != nil {
		return "", trace.Wrap(err)
	}
	account.AccessTokenSealed = sealed
	if refreshed.RefreshToken != "" {
		sealed, err := p.cfg.Key.Seal([]byte(refreshed.RefreshToken))
		if err != nil {
			return "", trace.Wrap(err)
		}
		account.RefreshTokenSealed = sealed
	}
	if !refreshed.Expiry.IsZero() {
		expiry := refreshed.Expiry.UTC()
		account.TokenExpiry = &expiry
	}
	if err := p.cfg.Identity.UpdateAccount(ctx, *account); err != nil {
		return "", trace.Wrap(err)
	}
	return refreshed.AccessToken, nil
}

func (p *Processor) fail(ctx context.Context, log *logrus.Entry, limit *services.RateLimit, err error) {
	log.WithError(err).Warn("Account sync failed.")
	RecordFailure(limit, err, p.cfg.Clock.Now().UTC())
	if upsertErr := p.cfg.Limits.UpsertRateLimit(ctx, *limit); upsertErr != nil {
		log.WithError(upsertErr).Error("Failed to store rate limit state.")
	}
}

// verifyCredential flips the profile's bring-your-own credential to
// verified after the first successful end-to-end fetch.
func (p *Processor) verifyCredential(ctx context.Context, log *logrus.Entry, account services.Account) {
	cred, err := p.cfg.Identity.GetPlatformCredential(ctx, account.ProfileID, account.Platform)
	if err != nil {
		if !trace.IsNotFound(err) {
			log.WithError(err).Warn("Failed to read platform credential.")
		}
		return
	}
	if cred.Verified {
		return
	}
	cred.Verified = true
	if err := p.cfg.Identity.UpsertPlatformCredential(ctx, *cred); err != nil {
		log.WithError(err).Warn("Failed to mark platform credential verified.")
	}
}

// persist routes the fetch result to the platform's store layout:
// multi-store platforms merge each collection into its own store and
// overwrite a meta store, single-store platforms append the raw
// payload to one store.
func (p *Processor) persist(ctx context.Context, account services.Account, result *providers.Result) (*Descriptor, error) {
	desc := &Descriptor{
		AccountID: account.ID,
		ProfileID: account.ProfileID,
		Platform:  account.Platform,
		Versions:  map[string]string{},
	}
	switch {
	case result.Github != nil:
		if err := p.persistGithub(ctx, account, result.Github, desc); err != nil {
			return nil, trace.Wrap(err)
		}
	case result.Reddit != nil:
		if err := p.persistReddit(ctx, account, result.Reddit, desc); err != nil {
			return nil, trace.Wrap(err)
		}
	case result.Twitter != nil:
		if err := p.persistTwitter(ctx, account, result.Twitter, desc); err != nil {
			return nil, trace.Wrap(err)
		}
	case result.Raw != nil:
		id := store.RawID(account.Platform, account.ID)
		version, err := p.cfg.Store.Put(ctx, id, result.Raw, store.PutParams{
			Tags: []string{
				fmt.Sprintf("platform:%v", account.Platform),
				fmt.Sprintf("account:%v", account.ID),
			},
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		desc.Versions[id.String()] = version
	default:
		return nil, trace.BadParameter("fetch result for platform %q carries no payload", result.Platform)
	}
	return desc, nil
}

func (p *Processor) persistGithub(ctx context.Context, account services.Account, result *providers.GithubResult, desc *Descriptor) error {
	for fullName, commits := range result.Commits {
		owner, repo, ok := strings.Cut(fullName, "/")
		if !ok {
			return trace.BadParameter("malformed repository name %q", fullName)
		}
		id := store.GithubCommitsID(account.ID, owner, repo)
		if err := storeWithMerge(ctx, p.cfg.Store, id, desc, commits, func(c providers.Commit) string {
			return c.SHA
		}); err != nil {
			return trace.Wrap(err)
		}
	}
	for fullName, prs := range result.PullRequests {
		owner, repo, ok := strings.Cut(fullName, "/")
		if !ok {
			return trace.BadParameter("malformed repository name %q", fullName)
		}
		id := store.GithubPRsID(account.ID, owner, repo)
		if err := storeWithMerge(ctx, p.cfg.Store, id, desc, prs, func(pr providers.PullRequest) string {
			return strconv.Itoa(pr.Number)
		}); err != nil {
			return trace.Wrap(err)
		}
	}
	return p.putMeta(ctx, store.GithubMetaID(account.ID), result.Meta, desc)
}

func (p *Processor) persistReddit(ctx context.Context, account services.Account, result *providers.RedditResult, desc *Descriptor) error {
	if err := storeWithMerge(ctx, p.cfg.Store, store.RedditPostsID(account.ID), desc, result.Posts, func(post providers.Post) string {
		return post.ID
	}); err != nil {
		return trace.Wrap(err)
	}
	if err := storeWithMerge(ctx, p.cfg.Store, store.RedditCommentsID(account.ID), desc, result.Comments, func(comment providers.Comment) string {
		return comment.ID
	}); err != nil {
		return trace.Wrap(err)
	}
	return p.putMeta(ctx, store.RedditMetaID(account.ID), result.Meta, desc)
}

func (p *Processor) persistTwitter(ctx context.Context, account services.Account, result *providers.TwitterResult, desc *Descriptor) error {
	id := store.TwitterTweetsID(account.ID)
	var existing TweetsPayload
	latest, err := p.cfg.Store.GetLatest(ctx, id)
	if err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	if latest != nil {
		if err := json.Unmarshal(latest.Data, &existing); err != nil {
			return trace.BadParameter("failed to parse stored tweets: %v", err)
		}
	}
	payload, newCount := mergeTweets(existing, result)
	data, err := json.Marshal(payload)
	if err != nil {
		return trace.Wrap(err)
	}
	version, err := p.cfg.Store.Put(ctx, id, data, store.PutParams{})
	if err != nil {
		return trace.Wrap(err)
	}
	desc.Versions[id.String()] = version
	desc.NewItems += newCount
	desc.Total += len(payload.Tweets)
	return p.putMeta(ctx, store.TwitterMetaID(account.ID), result.Meta, desc)
}

func (p *Processor) putMeta(ctx context.Context, id store.ID, meta interface{}, desc *Descriptor) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return trace.Wrap(err)
	}
	version, err := p.cfg.Store.Put(ctx, id, data, store.PutParams{})
	if err != nil {
		return trace.Wrap(err)
	}
	desc.Versions[id.String()] = version
	return nil
}

// storeWithMerge merges incoming into the latest snapshot of the store
// and writes the result, accounting totals on the descriptor.
func storeWithMerge[T any](ctx context.Context, s *store.Store, id store.ID, desc *Descriptor, incoming []T, keyFn func(T) string) error {
	var existing []T
	latest, err := s.GetLatest(ctx, id)
	if err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	if latest != nil {
		if err := json.Unmarshal(latest.Data, &existing); err != nil {
			return trace.BadParameter("failed to parse stored snapshot %v: %v", id.String(), err)
		}
	}
	merged, newCount := MergeByKey(existing, incoming, keyFn)
	data, err := json.Marshal(merged)
	if err != nil {
		return trace.Wrap(err)
	}
	version, err := s.Put(ctx, id, data, store.PutParams{})
	if err != nil {
		return trace.Wrap(err)
	}
	desc.Versions[id.String()] = version
	desc.NewItems += newCount
	desc.Total += len(merged)
	return nil
}
