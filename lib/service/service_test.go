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

package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/config"
	"github.com/gravitational/pulse/lib/secret"
	"github.com/gravitational/pulse/lib/services"
)

func newTestProcess(t *testing.T) *Process {
	t.Helper()
	key, err := secret.NewKey()
	require.NoError(t, err)
	process, err := NewProcess(&config.Config{
		EncryptionKey: key,
		Environment:   "development",
		ListenAddr:    "127.0.0.1:0",
		DevpadURL:     "https://id.invalid",
		OAuthClients: map[string]config.OAuthClient{
			pulse.PlatformGithub: {ID: "gh", Secret: "gh-secret"},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { process.Close() })
	return process
}

func TestProcessHealth(t *testing.T) {
	process := newTestProcess(t)

	server := httptest.NewServer(process.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "ok", out["status"])
	require.Equal(t, pulse.Version, out["version"])
}

func TestProviderFactory(t *testing.T) {
	process := newTestProcess(t)
	ctx := context.Background()

	factory := &providerFactory{
		identity: process.identity,
		key:      process.cfg.EncryptionKey,
		clients:  process.cfg.OAuthClients,
	}

	for _, platform := range pulse.Platforms {
		provider, err := factory.Provider(ctx, services.Account{Platform: platform})
		require.NoError(t, err, "platform %v", platform)
		require.Equal(t, platform, provider.Platform())
	}

	_, err := factory.Provider(ctx, services.Account{Platform: "myspace"})
	require.Error(t, err)
}

func TestProviderFactoryPrefersProfileCredentials(t *testing.T) {
	process := newTestProcess(t)
	ctx := context.Background()

	user, err := process.identity.UpsertUser(ctx, services.User{ExternalID: "ext-1", Name: "tester"})
	require.NoError(t, err)
	profile, err := process.identity.CreateProfile(ctx, services.Profile{UserID: user.ID, Slug: "main", Name: "Main"})
	require.NoError(t, err)

	sealed, err := process.cfg.EncryptionKey.Seal([]byte("byo-secret"))
	require.NoError(t, err)
	require.NoError(t, process.identity.UpsertPlatformCredential(ctx, services.PlatformCredential{
		ProfileID:          profile.ID,
		Platform:           pulse.PlatformReddit,
		ClientID:           "byo-client",
		ClientSecretSealed: sealed,
	}))

	factory := &providerFactory{
		identity: process.identity,
		key:      process.cfg.EncryptionKey,
		clients:  process.cfg.OAuthClients,
	}
	client, err := factory.oauthClient(ctx, services.Account{
		ProfileID: profile.ID,
		Platform:  pulse.PlatformReddit,
	})
	require.NoError(t, err)
	require.Equal(t, "byo-client", client.ID)
	require.Equal(t, "byo-secret", client.Secret)
}
