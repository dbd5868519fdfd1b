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

package services

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/gravitational/trace"
)

// Profile is a user-owned named view scoping which accounts contribute
// to a timeline and how their items are filtered.
type Profile struct {
	// ID is an opaque internal identifier
	ID string `json:"id"`
	// UserID is the owning user
	UserID string `json:"user_id"`
	// Slug is a URL-safe identifier, unique per owner
	Slug string `json:"slug"`
	// Name is a display name
	Name string `json:"name"`
	// Description is an optional free form description
	Description string `json:"description,omitempty"`
	// Theme is an optional UI theme name
	Theme string `json:"theme,omitempty"`
	// CreatedAt is the creation timestamp
	CreatedAt time.Time `json:"created_at"`
}

// slugRe matches URL-safe slugs: lowercase alphanumerics and dashes.
var slugRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

// Check validates the profile record
func (p *Profile) Check() error {
	if p.UserID == "" {
		return trace.BadParameter("missing parameter UserID")
	}
	if p.Slug == "" {
		return trace.BadParameter("missing parameter Slug")
	}
	if !slugRe.MatchString(p.Slug) {
		return trace.BadParameter("slug %q is not URL-safe", p.Slug)
	}
	if p.Name == "" {
		return trace.BadParameter("missing parameter Name")
	}
	return nil
}

// MarshalProfile marshals a profile to JSON
func MarshalProfile(p Profile) ([]byte, error) {
	if err := p.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// UnmarshalProfile unmarshals a profile from JSON
func UnmarshalProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, trace.BadParameter("failed to unmarshal profile: %v", err)
	}
	if err := p.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &p, nil
}

const (
	// FilterTypeInclude keeps only items matched by at least one
	// include filter of their account
	FilterTypeInclude = "include"
	// FilterTypeExclude drops items matched by any exclude filter
	FilterTypeExclude = "exclude"
)

const (
	// FilterKeyRepo matches code host items by repository
	FilterKeyRepo = "repo"
	// FilterKeySubreddit matches reddit items by subreddit
	FilterKeySubreddit = "subreddit"
	// FilterKeyTwitterAccount matches tweets by author handle
	FilterKeyTwitterAccount = "twitter_account"
	// FilterKeyKeyword matches any item by title or content substring
	FilterKeyKeyword = "keyword"
)

// FilterKeys is the closed set of recognized filter keys.
var FilterKeys = []string{
	FilterKeyRepo,
	FilterKeySubreddit,
	FilterKeyTwitterAccount,
	FilterKeyKeyword,
}

// Filter is a single include or exclude rule scoped to one account of
// a profile.
type Filter struct {
	// ID is an opaque internal identifier
	ID string `json:"id"`
	// ProfileID is the owning profile
	ProfileID string `json:"profile_id"`
	// AccountID is the account the rule applies to
	AccountID string `json:"account_id"`
	// Type is either include or exclude
	Type string `json:"type"`
	// Key is one of the recognized filter keys
	Key string `json:"key"`
	// Value is the match value, compared case-insensitively
	Value string `json:"value"`
}

// Check validates the filter record
func (f *Filter) Check() error {
	if f.ProfileID == "" {
		return trace.BadParameter("missing parameter ProfileID")
	}
	if f.AccountID == "" {
		return trace.BadParameter("missing parameter AccountID")
	}
	if f.Type != FilterTypeInclude && f.Type != FilterTypeExclude {
		return trace.BadParameter("unsupported filter type %q", f.Type)
	}
	validKey := false
	for _, key := range FilterKeys {
		if f.Key == key {
			validKey = true
			break
		}
	}
	if !validKey {
		return trace.BadParameter("unsupported filter key %q", f.Key)
	}
	if f.Value == "" {
		return trace.BadParameter("missing parameter Value")
	}
	return nil
}

// MarshalFilter marshals a filter to JSON
func MarshalFilter(f Filter) ([]byte, error) {
	if err := f.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// UnmarshalFilter unmarshals a filter from JSON
func UnmarshalFilter(data []byte) (*Filter, error) {
	var f Filter
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, trace.BadParameter("failed to unmarshal filter: %v", err)
	}
	if err := f.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &f, nil
}
