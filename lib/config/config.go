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

// Package config assembles the pulse runtime configuration from an
// optional YAML file and the process environment. Environment
// variables win over file values.
package config

import (
	"os"
	"strings"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v2"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/defaults"
	"github.com/gravitational/pulse/lib/secret"
)

// OAuthClient is one platform's system-wide OAuth client, overridden
// per profile when bring-your-own credentials exist.
type OAuthClient struct {
	// ID is the OAuth client id
	ID string `yaml:"id"`
	// Secret is the OAuth client secret
	Secret string `yaml:"secret"`
}

// Config is the assembled runtime configuration.
type Config struct {
	// EncryptionKey seals tokens and client secrets at rest
	EncryptionKey secret.Key
	// Environment is e.g. "production" or "development"
	Environment string
	// ListenAddr is the address the API server binds to
	ListenAddr string
	// APIURL is this service's externally visible base URL
	APIURL string
	// FrontendURL is the frontend base URL, used for post-OAuth
	// redirects
	FrontendURL string
	// DevpadURL is the external identity service base URL
	DevpadURL string
	// StoragePath is the sqlite backend data directory; the in-memory
	// backend is used when empty
	StoragePath string
	// OAuthClients are the system-wide OAuth clients keyed by platform
	OAuthClients map[string]OAuthClient
	// AllowedOrigins are explicit CORS origins
	AllowedOrigins []string
	// Debug enables verbose logging
	Debug bool
}

// FileConfig is the YAML file representation of the configuration.
type FileConfig struct {
	Environment string `yaml:"environment,omitempty"`
	ListenAddr  string `yaml:"listen_addr,omitempty"`
	APIURL      string `yaml:"api_url,omitempty"`
	FrontendURL string `yaml:"frontend_url,omitempty"`
	DevpadURL   string `yaml:"devpad_url,omitempty"`
	Storage     struct {
		Path string `yaml:"path,omitempty"`
	} `yaml:"storage,omitempty"`
	EncryptionKey string                 `yaml:"encryption_key,omitempty"`
	OAuth         map[string]OAuthClient `yaml:"oauth,omitempty"`
	CORSOrigins   []string               `yaml:"cors_origins,omitempty"`
	Debug         bool                   `yaml:"debug,omitempty"`
}

// ReadFromFile parses a YAML configuration file.
func ReadFromFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	var fc FileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return nil, trace.BadParameter("failed to parse config file %v: %v", path, err)
	}
	return &fc, nil
}

// Apply builds the runtime configuration: file values first, then
// environment overrides, then defaults.
func Apply(fc *FileConfig) (*Config, error) {
	cfg := &Config{
		OAuthClients: map[string]OAuthClient{},
	}
	rawKey := ""
	if fc != nil {
		cfg.Environment = fc.Environment
		cfg.ListenAddr = fc.ListenAddr
		cfg.APIURL = fc.APIURL
		cfg.FrontendURL = fc.FrontendURL
		cfg.DevpadURL = fc.DevpadURL
		cfg.StoragePath = fc.Storage.Path
		cfg.AllowedOrigins = fc.CORSOrigins
		cfg.Debug = fc.Debug
		rawKey = fc.EncryptionKey
		for platform, client := range fc.OAuth {
			if !pulse.IsValidPlatform(platform) {
				return nil, trace.BadParameter("unsupported oauth platform %q in config file", platform)
			}
			cfg.OAuthClients[platform] = client
		}
	}

	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		rawKey = v
	}
	if rawKey == "" {
		return nil, trace.BadParameter("ENCRYPTION_KEY is required")
	}
	key, err := secret.ParseKey([]byte(rawKey))
	if err != nil {
		return nil, trace.Wrap(err, "failed to parse ENCRYPTION_KEY")
	}
	cfg.EncryptionKey = key

	setFromEnv(&cfg.Environment, "ENVIRONMENT")
	setFromEnv(&cfg.ListenAddr, "LISTEN_ADDR")
	setFromEnv(&cfg.APIURL, "API_URL")
	setFromEnv(&cfg.FrontendURL, "FRONTEND_URL")
	setFromEnv(&cfg.DevpadURL, "DEVPAD_URL")
	setFromEnv(&cfg.StoragePath, "STORAGE_PATH")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitOrigins(v)
	}
	for _, platform := range []string{pulse.PlatformReddit, pulse.PlatformTwitter, pulse.PlatformGithub} {
		upper := strings.ToUpper(platform)
		client := cfg.OAuthClients[platform]
		setFromEnv(&client.ID, upper+"_CLIENT_ID")
		setFromEnv(&client.Secret, upper+"_CLIENT_SECRET")
		if client.ID != "" {
			cfg.OAuthClients[platform] = client
		}
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.HTTPListenAddr
	}
	if cfg.DevpadURL == "" {
		cfg.DevpadURL = defaults.IdentityServiceURL
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.FrontendURL != "" {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, strings.TrimSuffix(cfg.FrontendURL, "/"))
	}
	return cfg, nil
}

// Production reports whether the production hardening applies.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

func setFromEnv(target *string, name string) {
	if v := os.Getenv(name); v != "" {
		*target = v
	}
}

func splitOrigins(raw string) []string {
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
