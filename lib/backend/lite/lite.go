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

// Package lite implements a SQLite backend, the default durable
// storage for single host deployments.
package lite

import (
	"context"
	"database/sql"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gravitational/pulse/lib/backend"
)

const (
	// defaultDBFile is the database file name within the data directory
	defaultDBFile = "pulse.db"

	// busyTimeout is the amount of time in milliseconds SQLite waits on
	// a locked database before returning SQLITE_BUSY
	busyTimeout = 10000

	schema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB,
    id INTEGER,
    created INTEGER NOT NULL
);`
)

// Config holds SQLite backend configuration
type Config struct {
	// Path is the directory the database file is created in
	Path string `yaml:"path,omitempty"`

	// Memory turns the backend into a pure in-memory database,
	// used by tests
	Memory bool `yaml:"memory,omitempty"`

	// Clock is an optional clock override used in tests
	Clock clockwork.Clock `yaml:"-"`
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *Config) CheckAndSetDefaults() error {
	if c.Path == "" && !c.Memory {
		return trace.BadParameter("specify directory path to the database")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// connectionURI returns the SQLite connection string for the config
func (c *Config) connectionURI() string {
	if c.Memory {
		return "file::memory:?mode=memory&cache=shared"
	}
	params := url.Values{}
	params.Set("_busy_timeout", strconv.Itoa(busyTimeout))
	params.Set("_journal_mode", "WAL")
	params.Set("_sync", "NORMAL")
	u := url.URL{
		Scheme:   "file",
		Opaque:   url.QueryEscape(filepath.Join(c.Path, defaultDBFile)),
		RawQuery: params.Encode(),
	}
	return u.String()
}

// New returns a new SQLite backend
func New(cfg Config) (*Backend, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	db, err := sql.Open("sqlite3", cfg.connectionURI())
	if err != nil {
		return nil, trace.Wrap(err, "failed to open database at %q", cfg.Path)
	}
	// serialize access, SQLite is not good at concurrent writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return &Backend{
		db:  db,
		cfg: cfg,
	}, nil
}

// Backend is a SQLite backend
type Backend struct {
	db  *sql.DB
	cfg Config
}

// Close closes the database
func (l *Backend) Close() error {
	return trace.Wrap(l.db.Close())
}

// Clock returns the clock used by this backend
func (l *Backend) Clock() clockwork.Clock {
	return l.cfg.Clock
}

// Create creates an item if it does not exist
func (l *Backend) Create(ctx context.Context, i backend.Item) error {
	if len(i.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	return l.inTransaction(ctx, func(tx *sql.Tx) error {
		if err := l.getLocked(ctx, tx, i.Key, nil); err == nil {
			return trace.AlreadyExists("key %q already exists", string(i.Key))
		} else if !trace.IsNotFound(err) {
			return trace.Wrap(err)
		}
		return l.putLocked(ctx, tx, i)
	})
}

// Put puts a value into the backend, creating it if it does not exist
// and updating it otherwise
func (l *Backend) Put(ctx context.Context, i backend.Item) error {
	if len(i.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	return l.inTransaction(ctx, func(tx *sql.Tx) error {
		return l.putLocked(ctx, tx, i)
	})
}

// Update updates a value in the backend, returns NotFound if the item
// does not exist
func (l *Backend) Update(ctx context.Context, i backend.Item) error {
	if len(i.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	return l.inTransaction(ctx, func(tx *sql.Tx) error {
		if err := l.getLocked(ctx, tx, i.Key, nil); err != nil {
			return trace.Wrap(err)
		}
		return l.putLocked(ctx, tx, i)
	})
}

// CompareAndSwap compares the expected item with the stored one and,
// if the values match, replaces it with replaceWith
func (l *Backend) CompareAndSwap(ctx context.Context, expected backend.Item, replaceWith backend.Item) error {
	if len(expected.Key) == 0 || len(replaceWith.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	if string(expected.Key) != string(replaceWith.Key) {
		return trace.BadParameter("expected and replaceWith keys should match")
	}
	return l.inTransaction(ctx, func(tx *sql.Tx) error {
		var existing backend.Item
		if err := l.getLocked(ctx, tx, expected.Key, &existing); err != nil {
			if trace.IsNotFound(err) {
				return trace.CompareFailed("key %q is not found", string(expected.Key))
			}
			return trace.Wrap(err)
		}
		if string(existing.Value) != string(expected.Value) {
			return trace.CompareFailed("current value does not match expected for %q", string(expected.Key))
		}
		return l.putLocked(ctx, tx, replaceWith)
	})
}

// Get returns a single item or NotFound error
func (l *Backend) Get(ctx context.Context, key []byte) (*backend.Item, error) {
	if len(key) == 0 {
		return nil, trace.BadParameter("missing parameter key")
	}
	var item backend.Item
	err := l.inTransaction(ctx, func(tx *sql.Tx) error {
		return l.getLocked(ctx, tx, key, &item)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &item, nil
}

// GetRange returns items in the range [startKey, endKey)
func (l *Backend) GetRange(ctx context.Context, startKey, endKey []byte, limit int) (*backend.GetResult, error) {
	if len(startKey) == 0 {
		return nil, trace.BadParameter("missing parameter startKey")
	}
	if len(endKey) == 0 {
		return nil, trace.BadParameter("missing parameter endKey")
	}
	if limit <= 0 {
		limit = -1
	}
	var result backend.GetResult
	err := l.inTransaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT key, value, id, created FROM kv WHERE key >= ? AND key < ? ORDER BY key LIMIT ?",
			string(startKey), string(endKey), limit)
		if err != nil {
			return trace.Wrap(err)
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var item backend.Item
			var created int64
			if err := rows.Scan(&key, &item.Value, &item.ID, &created); err != nil {
				return trace.Wrap(err)
			}
			item.Key = []byte(key)
			item.Created = fromUnixNano(created)
			result.Items = append(result.Items, item)
		}
		return trace.Wrap(rows.Err())
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &result, nil
}

// Delete deletes an item by key, returns NotFound error if the item
// does not exist
func (l *Backend) Delete(ctx context.Context, key []byte) error {
	if len(key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	return l.inTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", string(key))
		if err != nil {
			return trace.Wrap(err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return trace.Wrap(err)
		}
		if count == 0 {
			return trace.NotFound("key %q is not found", string(key))
		}
		return nil
	})
}

// DeleteRange deletes all items in the range [startKey, endKey)
func (l *Backend) DeleteRange(ctx context.Context, startKey, endKey []byte) error {
	if len(startKey) == 0 {
		return trace.BadParameter("missing parameter startKey")
	}
	if len(endKey) == 0 {
		return trace.BadParameter("missing parameter endKey")
	}
	return l.inTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM kv WHERE key >= ? AND key < ?",
			string(startKey), string(endKey))
		return trace.Wrap(err)
	})
}

// getLocked reads the item for key within the transaction. When out is
// nil only existence is checked.
func (l *Backend) getLocked(ctx context.Context, tx *sql.Tx, key []byte, out *backend.Item) error {
	row := tx.QueryRowContext(ctx,
		"SELECT value, id, created FROM kv WHERE key = ?", string(key))
	var value []byte
	var id, created int64
	if err := row.Scan(&value, &id, &created); err != nil {
		if err == sql.ErrNoRows {
			return trace.NotFound("key %q is not found", string(key))
		}
		return trace.Wrap(err)
	}
	if out != nil {
		out.Key = append([]byte{}, key...)
		out.Value = value
		out.ID = id
		out.Created = fromUnixNano(created)
	}
	return nil
}

// putLocked upserts the item within the transaction, assigning it the
// next record id
func (l *Backend) putLocked(ctx context.Context, tx *sql.Tx, i backend.Item) error {
	var lastID sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(id) FROM kv").Scan(&lastID); err != nil {
		return trace.Wrap(err)
	}
	created := i.Created
	if created.IsZero() {
		created = l.cfg.Clock.Now().UTC()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, id, created) VALUES (?, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, id = excluded.id, created = excluded.created`,
		string(i.Key), i.Value, lastID.Int64+1, created.UnixNano())
	return trace.Wrap(err)
}

func fromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func (l *Backend) inTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return trace.Wrap(err)
	}
	return trace.Wrap(tx.Commit())
}
