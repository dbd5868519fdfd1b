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

// Package pulse defines constants shared across the whole project.
package pulse

const (
	// Component indicates a component of pulse, used for logging
	Component = "component"

	// ComponentWeb is the HTTP API server
	ComponentWeb = "web"

	// ComponentSync is the sync engine: scheduler and account processor
	ComponentSync = "sync"

	// ComponentStore is the versioned snapshot store
	ComponentStore = "store"

	// ComponentBackend is the storage backend
	ComponentBackend = "backend"

	// ComponentProvider is a platform fetch driver
	ComponentProvider = "provider"

	// ComponentTimeline is the timeline assembler
	ComponentTimeline = "timeline"

	// ComponentAuth is request authentication against the identity service
	ComponentAuth = "auth"
)

const (
	// PlatformGithub is the code hosting platform
	PlatformGithub = "github"

	// PlatformReddit is the first social platform
	PlatformReddit = "reddit"

	// PlatformTwitter is the microblogging platform
	PlatformTwitter = "twitter"

	// PlatformBluesky is the second social platform
	PlatformBluesky = "bluesky"

	// PlatformYoutube is the video hosting platform
	PlatformYoutube = "youtube"

	// PlatformLinear is the task tracking platform
	PlatformLinear = "linear"
)

// Platforms lists every supported platform tag.
var Platforms = []string{
	PlatformGithub,
	PlatformReddit,
	PlatformTwitter,
	PlatformBluesky,
	PlatformYoutube,
	PlatformLinear,
}

// IsValidPlatform reports whether p is one of the supported platform tags.
func IsValidPlatform(p string) bool {
	for _, platform := range Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

const (
	// Version is the pulse version string reported by the health endpoint
	// and the version subcommand.
	Version = "0.4.1"
)
