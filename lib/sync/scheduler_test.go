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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/providers"
	"github.com/gravitational/pulse/lib/services"
)

// fakeAssembler records timeline regenerations per user
type fakeAssembler struct {
	mu    gosync.Mutex
	calls map[string][][]services.Account
}

func newFakeAssembler() *fakeAssembler {
	return &fakeAssembler{calls: map[string][][]services.Account{}}
}

func (a *fakeAssembler) CombineUserTimeline(ctx context.Context, userID string, accounts []services.Account) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[userID] = append(a.calls[userID], accounts)
	return nil
}

func (a *fakeAssembler) callCount(userID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls[userID])
}

func (p *pack) newScheduler(t *testing.T, provider providers.Provider, assembler Assembler) *Scheduler {
	t.Helper()
	scheduler, err := NewScheduler(SchedulerConfig{
		Identity:  p.identity,
		Processor: p.newProcessor(t, provider),
		Assembler: assembler,
		Clock:     p.clock,
	})
	require.NoError(t, err)
	return scheduler
}

func TestHandleCron(t *testing.T) {
	p := newPack(t)
	ctx := context.Background()
	account := p.seedAccount(t, pulse.PlatformGithub)

	// a second user with no accounts still gets a timeline
	idle, err := p.identity.UpsertUser(ctx, services.User{ExternalID: "ext-idle", Name: "idle"})
	require.NoError(t, err)

	provider := &fakeProvider{
		platform: pulse.PlatformGithub,
		outcomes: []fetchOutcome{{result: githubResult([]providers.Commit{{SHA: "aaa", Repo: "owner/r", Branch: "main"}}, nil)}},
	}
	assembler := newFakeAssembler()
	scheduler := p.newScheduler(t, provider, assembler)

	summary := scheduler.HandleCron(ctx)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 1, summary.UpdatedUsers)
	require.Zero(t, summary.FailedAccounts)
	require.Equal(t, 2, summary.TimelinesGenerated)

	profile, err := p.identity.GetProfile(ctx, account.ProfileID)
	require.NoError(t, err)
	require.Equal(t, 1, assembler.callCount(profile.UserID))
	require.Equal(t, 1, assembler.callCount(idle.ID))
	require.Empty(t, assembler.calls[idle.ID][0])
}

func TestHandleCronCountsFailures(t *testing.T) {
	p := newPack(t)
	ctx := context.Background()
	p.seedAccount(t, pulse.PlatformGithub)

	provider := &fakeProvider{
		platform: pulse.PlatformGithub,
		outcomes: []fetchOutcome{{err: providers.NetworkError(context.DeadlineExceeded)}},
	}
	assembler := newFakeAssembler()
	scheduler := p.newScheduler(t, provider, assembler)

	summary := scheduler.HandleCron(ctx)
	require.Equal(t, 1, summary.Processed)
	require.Zero(t, summary.UpdatedUsers)
	require.Equal(t, 1, summary.FailedAccounts)
	// the timeline is still regenerated from whatever is readable
	require.Equal(t, 1, summary.TimelinesGenerated)
}

func TestHandleCronSkipsInactive(t *testing.T) {
	p := newPack(t)
	ctx := context.Background()
	account := p.seedAccount(t, pulse.PlatformGithub)
	account.Active = false
	require.NoError(t, p.identity.UpdateAccount(ctx, account))

	provider := &fakeProvider{platform: pulse.PlatformGithub}
	scheduler := p.newScheduler(t, provider, newFakeAssembler())

	summary := scheduler.HandleCron(ctx)
	require.Zero(t, summary.Processed)
	require.Zero(t, provider.calls)
}

func TestRefreshOne(t *testing.T) {
	p := newPack(t)
	ctx := context.Background()
	account := p.seedAccount(t, pulse.PlatformGithub)

	provider := &fakeProvider{
		platform: pulse.PlatformGithub,
		outcomes: []fetchOutcome{{result: githubResult(nil, nil)}},
	}
	assembler := newFakeAssembler()
	scheduler := p.newScheduler(t, provider, assembler)

	status, err := scheduler.RefreshOne(ctx, account)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, status)

	scheduler.Wait()
	require.Equal(t, 1, provider.calls)
	profile, err := p.identity.GetProfile(ctx, account.ProfileID)
	require.NoError(t, err)
	require.Equal(t, 1, assembler.callCount(profile.UserID))
}

func TestRefreshAll(t *testing.T) {
	p := newPack(t)
	ctx := context.Background()
	account := p.seedAccount(t, pulse.PlatformGithub)

	provider := &fakeProvider{
		platform: pulse.PlatformGithub,
		outcomes: []fetchOutcome{{result: githubResult(nil, nil)}},
	}
	assembler := newFakeAssembler()
	scheduler := p.newScheduler(t, provider, assembler)

	profile, err := p.identity.GetProfile(ctx, account.ProfileID)
	require.NoError(t, err)

	status, err := scheduler.RefreshAll(ctx, profile.UserID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, status)

	scheduler.Wait()
	require.Equal(t, 1, provider.calls)
	require.Equal(t, 1, assembler.callCount(profile.UserID))
}

func TestRefreshAllNoAccounts(t *testing.T) {
	p := newPack(t)
	ctx := context.Background()
	user, err := p.identity.UpsertUser(ctx, services.User{ExternalID: "ext-empty", Name: "empty"})
	require.NoError(t, err)

	scheduler := p.newScheduler(t, &fakeProvider{platform: pulse.PlatformGithub}, newFakeAssembler())
	status, err := scheduler.RefreshAll(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, status)
}
