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

package timeline

import (
	"context"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/pulse/lib/services"
)

// ViewParams page a profile timeline view.
type ViewParams struct {
	// Before only returns date groups with keys strictly older than
	// this date key
	Before string
	// Limit caps the number of items, counting a commit group as its
	// commits; 0 means no cap
	Limit int
}

// ProfileTimeline builds the profile-scoped timeline view: items from
// the profile's active accounts only, passed through the profile's
// include and exclude filters, assembled and paged.
func (a *Assembler) ProfileTimeline(ctx context.Context, profile services.Profile, params ViewParams) (*Timeline, error) {
	accounts, err := a.cfg.Identity.GetAccounts(ctx, profile.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	active := accounts[:0]
	for _, account := range accounts {
		if account.Active {
			active = append(active, account)
		}
	}
	filters, err := a.cfg.Identity.GetFilters(ctx, profile.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	src := a.load(ctx, active)
	src.commits = applyFilters(src.commits, filters)
	src.prs = applyFilters(src.prs, filters)
	src.others = applyFilters(src.others, filters)

	timeline := assemble(src)
	timeline.UserID = profile.UserID
	timeline.GeneratedAt = a.cfg.Clock.Now().UTC()
	timeline.Groups = page(timeline.Groups, params)
	return &timeline, nil
}

// applyFilters keeps an item when no exclude filter of its account
// matches and, if the account has include filters, at least one does.
func applyFilters(items []Item, filters []services.Filter) []Item {
	if len(filters) == 0 {
		return items
	}
	includes := map[string][]services.Filter{}
	excludes := map[string][]services.Filter{}
	for _, filter := range filters {
		switch filter.Type {
		case services.FilterTypeInclude:
			includes[filter.AccountID] = append(includes[filter.AccountID], filter)
		case services.FilterTypeExclude:
			excludes[filter.AccountID] = append(excludes[filter.AccountID], filter)
		}
	}
	var out []Item
	for _, item := range items {
		if anyMatch(excludes[item.AccountID], item) {
			continue
		}
		if account := includes[item.AccountID]; len(account) != 0 && !anyMatch(account, item) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func anyMatch(filters []services.Filter, item Item) bool {
	for _, filter := range filters {
		if matches(filter, item) {
			return true
		}
	}
	return false
}

// matches implements the filter matcher semantics, case-insensitive.
func matches(filter services.Filter, item Item) bool {
	switch filter.Key {
	case services.FilterKeyRepo:
		switch {
		case item.Payload.Commit != nil:
			return strings.EqualFold(item.Payload.Commit.Repo, filter.Value)
		case item.Payload.PR != nil:
			return strings.EqualFold(item.Payload.PR.Repo, filter.Value)
		}
	case services.FilterKeySubreddit:
		switch {
		case item.Payload.Post != nil:
			return strings.EqualFold(item.Payload.Post.Subreddit, filter.Value)
		case item.Payload.Comment != nil:
			return strings.EqualFold(item.Payload.Comment.Subreddit, filter.Value)
		}
	case services.FilterKeyTwitterAccount:
		if item.Payload.Tweet != nil {
			return strings.EqualFold(item.Payload.Tweet.AuthorHandle, filter.Value)
		}
	case services.FilterKeyKeyword:
		needle := strings.ToLower(filter.Value)
		if strings.Contains(strings.ToLower(item.Title), needle) {
			return true
		}
		switch {
		case item.Payload.Commit != nil:
			return strings.Contains(strings.ToLower(item.Payload.Commit.Message), needle)
		case item.Payload.Post != nil:
			return strings.Contains(strings.ToLower(item.Payload.Post.Content), needle)
		case item.Payload.Comment != nil:
			return strings.Contains(strings.ToLower(item.Payload.Comment.Content), needle)
		case item.Payload.Tweet != nil:
			return strings.Contains(strings.ToLower(item.Payload.Tweet.Content), needle)
		}
	}
	return false
}

// page applies the before cursor and the item limit: whole date groups
// are consumed while they fit, the first group that would overflow is
// truncated at the entry boundary.
func page(groups []DateGroup, params ViewParams) []DateGroup {
	out := make([]DateGroup, 0, len(groups))
	count := 0
	for _, group := range groups {
		if params.Before != "" && group.Date >= params.Before {
			continue
		}
		if params.Limit <= 0 {
			out = append(out, group)
			continue
		}
		groupItems := 0
		for _, entry := range group.Entries {
			groupItems += entry.items()
		}
		if count+groupItems <= params.Limit {
			out = append(out, group)
			count += groupItems
			continue
		}
		// truncated tail group
		tail := DateGroup{Date: group.Date}
		for _, entry := range group.Entries {
			if count+entry.items() > params.Limit {
				break
			}
			tail.Entries = append(tail.Entries, entry)
			count += entry.items()
		}
		if len(tail.Entries) != 0 {
			out = append(out, tail)
		}
		break
	}
	return out
}

// Between returns a copy of the timeline keeping only date groups
// within [from, to], either bound optional as a date key string.
func Between(timeline *Timeline, from, to string) *Timeline {
	out := *timeline
	out.Groups = make([]DateGroup, 0, len(timeline.Groups))
	for _, group := range timeline.Groups {
		if from != "" && group.Date < from {
			continue
		}
		if to != "" && group.Date > to {
			continue
		}
		out.Groups = append(out.Groups, group)
	}
	return &out
}
