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

	"github.com/gravitational/trace"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/config"
	"github.com/gravitational/pulse/lib/providers"
	"github.com/gravitational/pulse/lib/providers/bluesky"
	"github.com/gravitational/pulse/lib/providers/github"
	"github.com/gravitational/pulse/lib/providers/linear"
	"github.com/gravitational/pulse/lib/providers/reddit"
	"github.com/gravitational/pulse/lib/providers/twitter"
	"github.com/gravitational/pulse/lib/providers/youtube"
	"github.com/gravitational/pulse/lib/secret"
	"github.com/gravitational/pulse/lib/services"
)

// providerFactory builds per-account fetch drivers. Profiles with
// bring-your-own OAuth credentials get those instead of the
// system-wide client.
type providerFactory struct {
	identity services.Identity
	key      secret.Key
	clients  map[string]config.OAuthClient
}

// Provider returns the fetch driver for the account's platform.
func (f *providerFactory) Provider(ctx context.Context, account services.Account) (providers.Provider, error) {
	client, err := f.oauthClient(ctx, account)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	switch account.Platform {
	case pulse.PlatformGithub:
		return github.New(github.Config{})
	case pulse.PlatformReddit:
		return reddit.New(reddit.Config{Client: client})
	case pulse.PlatformTwitter:
		return twitter.New(twitter.Config{Client: client})
	case pulse.PlatformBluesky:
		return bluesky.New(bluesky.Config{})
	case pulse.PlatformYoutube:
		return youtube.New(youtube.Config{})
	case pulse.PlatformLinear:
		return linear.New(linear.Config{})
	}
	return nil, trace.BadParameter("unsupported platform %q", account.Platform)
}

// oauthClient resolves the OAuth client pair for the account: the
// profile's bring-your-own credentials when present, the system-wide
// pair otherwise.
func (f *providerFactory) oauthClient(ctx context.Context, account services.Account) (providers.OAuthClient, error) {
	cred, err := f.identity.GetPlatformCredential(ctx, account.ProfileID, account.Platform)
	if err != nil {
		if !trace.IsNotFound(err) {
			return providers.OAuthClient{}, trace.Wrap(err)
		}
		system := f.clients[account.Platform]
		return providers.OAuthClient{ID: system.ID, Secret: system.Secret}, nil
	}
	plaintext, err := f.key.Open(cred.ClientSecretSealed)
	if err != nil {
		return providers.OAuthClient{}, trace.Wrap(err)
	}
	return providers.OAuthClient{ID: cred.ClientID, Secret: string(plaintext)}, nil
}
