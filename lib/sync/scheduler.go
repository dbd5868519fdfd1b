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
	gosync "sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/defaults"
	"github.com/gravitational/pulse/lib/services"
)

const (
	// StatusProcessing acknowledges that background sync work was
	// spawned; completion is observable via last_fetched_at
	StatusProcessing = "processing"

	// StatusCompleted means there was nothing to spawn
	StatusCompleted = "completed"
)

// Assembler regenerates a user's timeline from the latest snapshots of
// the given accounts.
type Assembler interface {
	CombineUserTimeline(ctx context.Context, userID string, accounts []services.Account) error
}

// Summary is the cron sweep report.
type Summary struct {
	// Processed counts accounts that went through the pipeline
	Processed int `json:"processed"`
	// UpdatedUsers counts users with at least one successful sync
	UpdatedUsers int `json:"updated_users"`
	// FailedAccounts counts accounts whose sync failed
	FailedAccounts int `json:"failed_accounts"`
	// TimelinesGenerated counts regenerated timelines
	TimelinesGenerated int `json:"timelines_generated"`
}

// SchedulerConfig holds the scheduler dependencies
type SchedulerConfig struct {
	// Identity is the resource service
	Identity services.Identity
	// Processor runs the per-account pipeline
	Processor *Processor
	// Assembler regenerates user timelines
	Assembler Assembler
	// Clock is the time source
	Clock clockwork.Clock
	// Interval is the cron sweep period
	Interval time.Duration
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *SchedulerConfig) CheckAndSetDefaults() error {
	if c.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if c.Processor == nil {
		return trace.BadParameter("missing parameter Processor")
	}
	if c.Assembler == nil {
		return trace.BadParameter("missing parameter Assembler")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Interval == 0 {
		c.Interval = defaults.SyncInterval
	}
	return nil
}

// Scheduler drives the periodic sweep over active accounts and serves
// the on-demand refresh paths.
type Scheduler struct {
	cfg   SchedulerConfig
	log   *logrus.Entry
	tasks gosync.WaitGroup
}

// NewScheduler returns a new scheduler
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Scheduler{
		cfg: cfg,
		log: logrus.WithField(pulse.Component, pulse.ComponentSync),
	}, nil
}

// Run sweeps all accounts every interval until the context is
// canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			summary := s.HandleCron(ctx)
			s.log.Infof("Cron sweep done: %v processed, %v users updated, %v failed, %v timelines.",
				summary.Processed, summary.UpdatedUsers, summary.FailedAccounts, summary.TimelinesGenerated)
		}
	}
}

// HandleCron sweeps every user sequentially, syncing the user's active
// accounts concurrently and regenerating the user's timeline after its
// batch completes. Cron never surfaces an error, only the summary.
func (s *Scheduler) HandleCron(ctx context.Context) Summary {
	var summary Summary
	users, err := s.cfg.Identity.GetUsers(ctx)
	if err != nil {
		s.log.WithError(err).Error("Failed to list users.")
		return summary
	}
	accounts, err := s.cfg.Identity.GetActiveAccounts(ctx)
	if err != nil {
		s.log.WithError(err).Error("Failed to list active accounts.")
		return summary
	}
	byUser, err := s.groupByUser(ctx, accounts)
	if err != nil {
		s.log.WithError(err).Error("Failed to group accounts by user.")
		return summary
	}
	for _, user := range users {
		batch := byUser[user.ID]
		processed, failed := s.processBatch(ctx, batch)
		summary.Processed += len(batch)
		summary.FailedAccounts += failed
		if processed > 0 {
			summary.UpdatedUsers++
		}
		if err := s.cfg.Assembler.CombineUserTimeline(ctx, user.ID, batch); err != nil {
			s.log.WithError(err).WithField("user", user.ID).Error("Failed to regenerate timeline.")
			continue
		}
		summary.TimelinesGenerated++
	}
	return summary
}

// processBatch syncs the accounts of one user concurrently and waits
// for the whole batch. Returns how many accounts produced a snapshot
// and how many failed.
func (s *Scheduler) processBatch(ctx context.Context, batch []services.Account) (processed, failed int) {
	descs := make([]*Descriptor, len(batch))
	errs := make([]error, len(batch))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, account := range batch {
		i, account := i, account
		group.Go(func() error {
			descs[i], errs[i] = s.cfg.Processor.ProcessAccount(groupCtx, account)
			// failures are recorded per account, never abort the batch
			return nil
		})
	}
	group.Wait()
	for i := range batch {
		if errs[i] != nil {
			failed++
		} else if descs[i] != nil {
			processed++
		}
	}
	return processed, failed
}

// RefreshOne spawns a background sync of a single account followed by
// a timeline regeneration for its owner. The returned status is
// acknowledged before any work runs.
func (s *Scheduler) RefreshOne(ctx context.Context, account services.Account) (string, error) {
	profile, err := s.cfg.Identity.GetProfile(ctx, account.ProfileID)
	if err != nil {
		return "", trace.Wrap(err)
	}
	userID := profile.UserID
	s.spawn(func(ctx context.Context) {
		if _, err := s.cfg.Processor.ProcessAccount(ctx, account); err != nil {
			s.log.WithError(err).WithField("account", account.ID).Warn("On-demand sync failed.")
		}
		s.regenerate(ctx, userID)
	})
	return StatusProcessing, nil
}

// RefreshAll spawns a background sync of every active account of the
// user. The status is processing when any task was spawned, completed
// when the user has nothing to sync.
func (s *Scheduler) RefreshAll(ctx context.Context, userID string) (string, error) {
	batch, err := s.userAccounts(ctx, userID)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if len(batch) == 0 {
		return StatusCompleted, nil
	}
	s.spawn(func(ctx context.Context) {
		s.processBatch(ctx, batch)
		s.regenerate(ctx, userID)
	})
	return StatusProcessing, nil
}

// RegenerateTimeline rebuilds the user's timeline from the latest
// stored snapshots without fetching anything.
func (s *Scheduler) RegenerateTimeline(ctx context.Context, userID string) error {
	batch, err := s.userAccounts(ctx, userID)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.cfg.Assembler.CombineUserTimeline(ctx, userID, batch))
}

// Wait blocks until every spawned background task finished. Used on
// shutdown and in tests.
func (s *Scheduler) Wait() {
	s.tasks.Wait()
}

// spawn runs fn detached from the caller's request lifetime.
func (s *Scheduler) spawn(fn func(ctx context.Context)) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn(context.Background())
	}()
}

func (s *Scheduler) regenerate(ctx context.Context, userID string) {
	if err := s.RegenerateTimeline(ctx, userID); err != nil {
		s.log.WithError(err).WithField("user", userID).Error("Failed to regenerate timeline.")
	}
}

// userAccounts returns every active account across all profiles of the
// user.
func (s *Scheduler) userAccounts(ctx context.Context, userID string) ([]services.Account, error) {
	profiles, err := s.cfg.Identity.GetProfiles(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []services.Account
	for _, profile := range profiles {
		accounts, err := s.cfg.Identity.GetAccounts(ctx, profile.ID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for _, account := range accounts {
			if account.Active {
				out = append(out, account)
			}
		}
	}
	return out, nil
}

// groupByUser resolves each account's owner through its profile.
func (s *Scheduler) groupByUser(ctx context.Context, accounts []services.Account) (map[string][]services.Account, error) {
	owners := map[string]string{}
	out := map[string][]services.Account{}
	for _, account := range accounts {
		userID, ok := owners[account.ProfileID]
		if !ok {
			profile, err := s.cfg.Identity.GetProfile(ctx, account.ProfileID)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			userID = profile.UserID
			owners[account.ProfileID] = userID
		}
		out[userID] = append(out[userID], account)
	}
	return out, nil
}
