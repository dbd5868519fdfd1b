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

// Package memory implements a btree based in memory backend, used
// by tests and single process deployments that do not need durability.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/pulse/lib/backend"
)

// Config holds memory backend configuration
type Config struct {
	// Clock is an optional clock override used in tests
	Clock clockwork.Clock

	// BTreeDegree is the degree of the backing btree
	BTreeDegree int
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *Config) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.BTreeDegree <= 0 {
		c.BTreeDegree = 8
	}
	return nil
}

// New returns a new memory backend
func New(cfg Config) (*Memory, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Memory{
		cfg:  cfg,
		tree: btree.NewG(cfg.BTreeDegree, less),
	}, nil
}

// Memory is a btree backed in memory backend
type Memory struct {
	cfg Config

	mu     sync.Mutex
	tree   *btree.BTreeG[*treeItem]
	nextID int64
}

type treeItem struct {
	item backend.Item
}

func less(a, b *treeItem) bool {
	return bytes.Compare(a.item.Key, b.item.Key) < 0
}

// Close releases the resources taken up by the backend
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Clear(false)
	return nil
}

// Clock returns the clock used by this backend
func (m *Memory) Clock() clockwork.Clock {
	return m.cfg.Clock
}

// Create creates an item if it does not exist
func (m *Memory) Create(ctx context.Context, i backend.Item) error {
	if len(i.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, found := m.tree.Get(&treeItem{item: i}); found {
		return trace.AlreadyExists("key %q already exists", string(i.Key))
	}
	m.put(i)
	return nil
}

// Put puts a value into the backend, creating it if it does not exist
// and updating it otherwise
func (m *Memory) Put(ctx context.Context, i backend.Item) error {
	if len(i.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(i)
	return nil
}

// Update updates a value in the backend, returns NotFound if the item
// does not exist
func (m *Memory) Update(ctx context.Context, i backend.Item) error {
	if len(i.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, found := m.tree.Get(&treeItem{item: i}); !found {
		return trace.NotFound("key %q is not found", string(i.Key))
	}
	m.put(i)
	return nil
}

// CompareAndSwap compares the expected item with the stored one and,
// if the values match, replaces it with replaceWith
func (m *Memory) CompareAndSwap(ctx context.Context, expected backend.Item, replaceWith backend.Item) error {
	if len(expected.Key) == 0 || len(replaceWith.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	if !bytes.Equal(expected.Key, replaceWith.Key) {
		return trace.BadParameter("expected and replaceWith keys should match")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, found := m.tree.Get(&treeItem{item: expected})
	if !found {
		return trace.CompareFailed("key %q is not found", string(expected.Key))
	}
	if !bytes.Equal(existing.item.Value, expected.Value) {
		return trace.CompareFailed("current value does not match expected for %q", string(expected.Key))
	}
	m.put(replaceWith)
	return nil
}

// Get returns a single item or NotFound error
func (m *Memory) Get(ctx context.Context, key []byte) (*backend.Item, error) {
	if len(key) == 0 {
		return nil, trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	found, ok := m.tree.Get(&treeItem{item: backend.Item{Key: key}})
	if !ok {
		return nil, trace.NotFound("key %q is not found", string(key))
	}
	item := found.item
	return &item, nil
}

// GetRange returns items in the range [startKey, endKey)
func (m *Memory) GetRange(ctx context.Context, startKey, endKey []byte, limit int) (*backend.GetResult, error) {
	if len(startKey) == 0 {
		return nil, trace.BadParameter("missing parameter startKey")
	}
	if len(endKey) == 0 {
		return nil, trace.BadParameter("missing parameter endKey")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var res backend.GetResult
	m.tree.AscendRange(
		&treeItem{item: backend.Item{Key: startKey}},
		&treeItem{item: backend.Item{Key: endKey}},
		func(ti *treeItem) bool {
			res.Items = append(res.Items, ti.item)
			return limit == backend.NoLimit || len(res.Items) < limit
		})
	return &res, nil
}

// Delete deletes an item by key, returns NotFound error if the item
// does not exist
func (m *Memory) Delete(ctx context.Context, key []byte) error {
	if len(key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, found := m.tree.Delete(&treeItem{item: backend.Item{Key: key}}); !found {
		return trace.NotFound("key %q is not found", string(key))
	}
	return nil
}

// DeleteRange deletes all items in the range [startKey, endKey)
func (m *Memory) DeleteRange(ctx context.Context, startKey, endKey []byte) error {
	if len(startKey) == 0 {
		return trace.BadParameter("missing parameter startKey")
	}
	if len(endKey) == 0 {
		return trace.BadParameter("missing parameter endKey")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var doomed []*treeItem
	m.tree.AscendRange(
		&treeItem{item: backend.Item{Key: startKey}},
		&treeItem{item: backend.Item{Key: endKey}},
		func(ti *treeItem) bool {
			doomed = append(doomed, ti)
			return true
		})
	for _, ti := range doomed {
		m.tree.Delete(ti)
	}
	return nil
}

// put assumes the lock is held
func (m *Memory) put(i backend.Item) {
	m.nextID++
	i.ID = m.nextID
	if i.Created.IsZero() {
		i.Created = m.cfg.Clock.Now().UTC()
	}
	m.tree.ReplaceOrInsert(&treeItem{item: i})
}
