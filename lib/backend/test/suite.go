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

// Package test contains an acceptance test suite shared by all
// backend implementations.
package test

import (
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/pulse/lib/backend"
)

// RunBackendComplianceSuite runs the acceptance tests against the
// backend produced by newBackend. Each subtest gets a fresh backend.
func RunBackendComplianceSuite(t *testing.T, newBackend func(t *testing.T) backend.Backend) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, newBackend(t)) })
	t.Run("Range", func(t *testing.T) { testRange(t, newBackend(t)) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, newBackend(t)) })
	t.Run("DeleteRange", func(t *testing.T) { testDeleteRange(t, newBackend(t)) })
}

func testCRUD(t *testing.T, b backend.Backend) {
	defer b.Close()
	ctx := context.Background()

	item := backend.Item{Key: backend.Key("test", "crud"), Value: []byte("a")}
	require.NoError(t, b.Create(ctx, item))

	// second create of the same key fails
	err := b.Create(ctx, item)
	require.True(t, trace.IsAlreadyExists(err))

	out, err := b.Get(ctx, item.Key)
	require.NoError(t, err)
	require.Equal(t, item.Value, out.Value)

	// put overwrites
	item.Value = []byte("b")
	require.NoError(t, b.Put(ctx, item))
	out, err = b.Get(ctx, item.Key)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), out.Value)

	// update of a missing key fails
	err = b.Update(ctx, backend.Item{Key: backend.Key("test", "missing"), Value: []byte("x")})
	require.True(t, trace.IsNotFound(err))

	require.NoError(t, b.Delete(ctx, item.Key))
	_, err = b.Get(ctx, item.Key)
	require.True(t, trace.IsNotFound(err))

	err = b.Delete(ctx, item.Key)
	require.True(t, trace.IsNotFound(err))
}

func testRange(t *testing.T, b backend.Backend) {
	defer b.Close()
	ctx := context.Background()

	prefix := backend.Key("test", "range")
	keys := []string{"a", "b", "c", "d"}
	for _, k := range keys {
		require.NoError(t, b.Put(ctx, backend.Item{
			Key:   backend.Key("test", "range", k),
			Value: []byte(k),
		}))
	}
	// unrelated key outside of the prefix
	require.NoError(t, b.Put(ctx, backend.Item{
		Key:   backend.Key("test", "zz"),
		Value: []byte("zz"),
	}))

	result, err := b.GetRange(ctx, prefix, backend.RangeEnd(prefix), backend.NoLimit)
	require.NoError(t, err)
	require.Len(t, result.Items, len(keys))
	for i, item := range result.Items {
		require.Equal(t, string(backend.Key("test", "range", keys[i])), string(item.Key))
	}

	result, err = b.GetRange(ctx, prefix, backend.RangeEnd(prefix), 2)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
}

func testCompareAndSwap(t *testing.T, b backend.Backend) {
	defer b.Close()
	ctx := context.Background()

	key := backend.Key("test", "cas")
	require.NoError(t, b.Put(ctx, backend.Item{Key: key, Value: []byte("one")}))

	err := b.CompareAndSwap(ctx,
		backend.Item{Key: key, Value: []byte("wrong")},
		backend.Item{Key: key, Value: []byte("two")})
	require.True(t, trace.IsCompareFailed(err))

	require.NoError(t, b.CompareAndSwap(ctx,
		backend.Item{Key: key, Value: []byte("one")},
		backend.Item{Key: key, Value: []byte("two")}))

	out, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), out.Value)

	err = b.CompareAndSwap(ctx,
		backend.Item{Key: backend.Key("test", "cas-missing"), Value: []byte("one")},
		backend.Item{Key: backend.Key("test", "cas-missing"), Value: []byte("two")})
	require.True(t, trace.IsCompareFailed(err))
}

func testDeleteRange(t *testing.T, b backend.Backend) {
	defer b.Close()
	ctx := context.Background()

	prefix := backend.Key("test", "delrange")
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, b.Put(ctx, backend.Item{
			Key:   backend.Key("test", "delrange", k),
			Value: []byte(k),
		}))
	}
	keep := backend.Item{Key: backend.Key("test", "keep"), Value: []byte("keep")}
	require.NoError(t, b.Put(ctx, keep))

	require.NoError(t, b.DeleteRange(ctx, prefix, backend.RangeEnd(prefix)))

	result, err := b.GetRange(ctx, prefix, backend.RangeEnd(prefix), backend.NoLimit)
	require.NoError(t, err)
	require.Empty(t, result.Items)

	_, err = b.Get(ctx, keep.Key)
	require.NoError(t, err)
}
