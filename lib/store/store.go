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

// Package store implements the versioned, content-addressed snapshot
// store. Every store is an append-only sequence of snapshots with
// monotonically increasing versions; a snapshot whose content hash
// matches the current head is never written twice. Snapshots may
// reference snapshots in other stores as parents, forming a DAG that
// records which raw pulls a timeline was assembled from.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/pulse/lib/backend"
)

const (
	snapPrefix    = "store_snap"
	headPrefix    = "store_head"
	parentsPrefix = "store_parents"

	// versionDigits pads versions so lexicographic order matches
	// numeric order in backend range scans
	versionDigits = 20

	// RoleSource marks a parent snapshot the child was assembled from
	RoleSource = "source"
)

// Parent is one (child, parent) lineage edge.
type Parent struct {
	// StoreID is the parent's store id
	StoreID string `json:"store_id"`
	// Version is the parent's version
	Version string `json:"version"`
	// Role describes the relationship, e.g. "source"
	Role string `json:"role"`
}

// Meta is the snapshot metadata without the payload.
type Meta struct {
	// StoreID is the canonical store id
	StoreID string `json:"store_id"`
	// Version is the opaque, per-store monotonic version
	Version string `json:"version"`
	// ContentHash is the SHA-256 of the serialized payload
	ContentHash string `json:"content_hash"`
	// CreatedAt is the snapshot creation time
	CreatedAt time.Time `json:"created_at"`
	// Tags is an optional list of freeform tags
	Tags []string `json:"tags,omitempty"`
}

// Snapshot is the atomic persisted unit: metadata, lineage and payload.
type Snapshot struct {
	Meta
	// Parents are the lineage edges of this snapshot
	Parents []Parent `json:"parents,omitempty"`
	// Data is the serialized typed payload
	Data json.RawMessage `json:"data"`
}

// PutParams are optional parameters to Put.
type PutParams struct {
	// Tags to attach to the written snapshot
	Tags []string
	// Parents to record as lineage edges
	Parents []Parent
}

// ListParams are optional parameters to List.
type ListParams struct {
	// Before only returns snapshots with versions strictly older
	// than this version
	Before string
	// Limit caps the number of returned entries, 0 means no cap
	Limit int
}

// head is the per-store head pointer.
type head struct {
	Version     string `json:"version"`
	ContentHash string `json:"content_hash"`
}

// Store provides versioned snapshot storage on top of the backend.
type Store struct {
	b backend.Backend
}

// New returns a snapshot store using the given backend.
func New(b backend.Backend) *Store {
	return &Store{b: b}
}

// Put appends a snapshot to the store identified by id. When the
// content hash of data equals the current head's, no new version is
// written and the head's version is returned unchanged.
func (s *Store) Put(ctx context.Context, id ID, data []byte, params PutParams) (string, error) {
	if err := id.Check(); err != nil {
		return "", trace.Wrap(err)
	}
	hash := contentHash(data)
	storeID := id.String()

	current, err := s.getHead(ctx, storeID)
	if err != nil && !trace.IsNotFound(err) {
		return "", trace.Wrap(err)
	}
	if current != nil && current.ContentHash == hash {
		return current.Version, nil
	}
	version := firstVersion
	if current != nil {
		version, err = nextVersion(current.Version)
		if err != nil {
			return "", trace.Wrap(err)
		}
	}

	snapshot := Snapshot{
		Meta: Meta{
			StoreID:     storeID,
			Version:     version,
			ContentHash: hash,
			CreatedAt:   s.b.Clock().Now().UTC(),
			Tags:        params.Tags,
		},
		Parents: params.Parents,
		Data:    data,
	}
	value, err := json.Marshal(snapshot)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if err := s.b.Create(ctx, backend.Item{
		Key:   backend.Key(snapPrefix, storeID, version),
		Value: value,
	}); err != nil {
		return "", trace.Wrap(err)
	}
	for i, parent := range params.Parents {
		edge, err := json.Marshal(parent)
		if err != nil {
			return "", trace.Wrap(err)
		}
		if err := s.b.Put(ctx, backend.Item{
			Key:   backend.Key(parentsPrefix, storeID, version, strconv.Itoa(i)),
			Value: edge,
		}); err != nil {
			return "", trace.Wrap(err)
		}
	}
	headValue, err := json.Marshal(head{Version: version, ContentHash: hash})
	if err != nil {
		return "", trace.Wrap(err)
	}
	if err := s.b.Put(ctx, backend.Item{
		Key:   backend.Key(headPrefix, storeID),
		Value: headValue,
	}); err != nil {
		return "", trace.Wrap(err)
	}
	return version, nil
}

// GetLatest returns the most recently written snapshot of the store.
func (s *Store) GetLatest(ctx context.Context, id ID) (*Snapshot, error) {
	if err := id.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	current, err := s.getHead(ctx, id.String())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s.Get(ctx, id, current.Version)
}

// Get returns a snapshot by version.
func (s *Store) Get(ctx context.Context, id ID, version string) (*Snapshot, error) {
	if err := id.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	item, err := s.b.Get(ctx, backend.Key(snapPrefix, id.String(), version))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("snapshot %v@%v is not found", id.String(), version)
		}
		return nil, trace.Wrap(err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(item.Value, &snapshot); err != nil {
		return nil, trace.BadParameter("failed to parse snapshot %v@%v: %v", id.String(), version, err)
	}
	return &snapshot, nil
}

// List returns snapshot metadata in reverse chronological order.
func (s *Store) List(ctx context.Context, id ID, params ListParams) ([]Meta, error) {
	if err := id.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	startKey := backend.Key(snapPrefix, id.String(), "")
	result, err := s.b.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []Meta
	// versions are zero padded so items arrive oldest first
	for i := len(result.Items) - 1; i >= 0; i-- {
		var snapshot Snapshot
		if err := json.Unmarshal(result.Items[i].Value, &snapshot); err != nil {
			return nil, trace.BadParameter("failed to parse snapshot: %v", err)
		}
		if params.Before != "" && snapshot.Version >= params.Before {
			continue
		}
		out = append(out, snapshot.Meta)
		if params.Limit > 0 && len(out) >= params.Limit {
			break
		}
	}
	return out, nil
}

// GetParents returns the lineage edges of the snapshot.
func (s *Store) GetParents(ctx context.Context, id ID, version string) ([]Parent, error) {
	if err := id.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	startKey := backend.Key(parentsPrefix, id.String(), version, "")
	result, err := s.b.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]Parent, 0, len(result.Items))
	for _, item := range result.Items {
		var parent Parent
		if err := json.Unmarshal(item.Value, &parent); err != nil {
			return nil, trace.BadParameter("failed to parse parent edge: %v", err)
		}
		out = append(out, parent)
	}
	return out, nil
}

// DeleteAccountStores removes every store belonging to the account and
// returns the deleted store ids. Called when an account is disconnected;
// historical snapshots are otherwise never deleted.
func (s *Store) DeleteAccountStores(ctx context.Context, platform, accountID string) ([]string, error) {
	var doomed []string
	seen := map[string]bool{}
	prefixes := [][]byte{
		backend.Key(snapPrefix, mediaPrefix, "raw", platform, accountID, ""),
		backend.Key(snapPrefix, mediaPrefix, platform, accountID, ""),
	}
	for _, prefix := range prefixes {
		result, err := s.b.GetRange(ctx, prefix, backend.RangeEnd(prefix), backend.NoLimit)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for _, item := range result.Items {
			var snapshot Snapshot
			if err := json.Unmarshal(item.Value, &snapshot); err != nil {
				continue
			}
			if !seen[snapshot.StoreID] {
				seen[snapshot.StoreID] = true
				doomed = append(doomed, snapshot.StoreID)
			}
		}
		if err := s.b.DeleteRange(ctx, prefix, backend.RangeEnd(prefix)); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	for _, storeID := range doomed {
		if err := s.b.Delete(ctx, backend.Key(headPrefix, storeID)); err != nil && !trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
		edges := backend.Key(parentsPrefix, storeID, "")
		if err := s.b.DeleteRange(ctx, edges, backend.RangeEnd(edges)); err != nil && !trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
	}
	return doomed, nil
}

func (s *Store) getHead(ctx context.Context, storeID string) (*head, error) {
	item, err := s.b.Get(ctx, backend.Key(headPrefix, storeID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("store %q is empty", storeID)
		}
		return nil, trace.Wrap(err)
	}
	var h head
	if err := json.Unmarshal(item.Value, &h); err != nil {
		return nil, trace.BadParameter("failed to parse store head: %v", err)
	}
	return &h, nil
}

var firstVersion = fmt.Sprintf("%0*d", versionDigits, 1)

func nextVersion(version string) (string, error) {
	n, err := strconv.ParseUint(version, 10, 64)
	if err != nil {
		return "", trace.BadParameter("invalid version %q", version)
	}
	return fmt.Sprintf("%0*d", versionDigits, n+1), nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
