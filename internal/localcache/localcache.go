// Package localcache exposes typed collections on top of the cache namespaces.
//
// Every collection lives in its own namespace as a cache.Entry whose payload
// is a JSON array. Shared collections sit under SnapshotKey; per-user reads
// use a key built by cache.KeyFor. Reads never fail; a miss or an undecodable
// snapshot yields an empty collection.
package localcache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/bperks/cache"
	"github.com/briangreenhill/bperks/internal/collection"
)

// SnapshotKey holds the shared copy of a collection within its namespace.
const SnapshotKey = "snapshot"

// Cache reads and writes domain collections.
type Cache struct {
	db       cache.DB
	now      func() time.Time
	log      zerolog.Logger
	preserve map[string]bool

	// mu serializes read-modify-write sequences across collections.
	mu sync.Mutex
}

type Option func(*Cache)

// WithClock overrides time.Now for stored-at stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// WithPreserve names namespaces that Clear must leave alone, such as the
// action queue sharing the same DB.
func WithPreserve(namespaces ...string) Option {
	return func(c *Cache) {
		for _, ns := range namespaces {
			c.preserve[ns] = true
		}
	}
}

func New(db cache.DB, opts ...Option) *Cache {
	c := &Cache{db: db, now: time.Now, log: zerolog.Nop(), preserve: map[string]bool{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetEntry returns the raw entry stored at key in namespace.
func (c *Cache) GetEntry(namespace, key string) (cache.Entry, bool) {
	raw, ok := c.db.Namespace(namespace).Get(key)
	if !ok {
		return cache.Entry{}, false
	}
	var e cache.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.Warn().Err(err).Str("namespace", namespace).Str("key", key).Msg("undecodable cache entry")
		return cache.Entry{}, false
	}
	return e, true
}

// SetEntry stores payload at key in namespace, stamping it with the current time.
func (c *Cache) SetEntry(namespace, key string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn().Err(err).Str("namespace", namespace).Str("key", key).Msg("cache payload not encodable")
		return
	}
	raw, err := json.Marshal(cache.Entry{Key: key, Payload: body, StoredAt: c.now()})
	if err != nil {
		c.log.Warn().Err(err).Str("namespace", namespace).Str("key", key).Msg("cache entry not encodable")
		return
	}
	c.db.Namespace(namespace).Set(key, raw)
}

// Clear drops every namespace in the underlying DB except preserved ones.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ns := range c.db.Namespaces() {
		if c.preserve[ns] {
			continue
		}
		c.db.Namespace(ns).Clear()
	}
}

// StoredAt reports when the collection at key was last written.
func (c *Cache) StoredAt(name, key string) (time.Time, bool) {
	e, ok := c.GetEntry(name, key)
	if !ok {
		return time.Time{}, false
	}
	return e.StoredAt, true
}

// GetCollection returns the cached items of the named collection, or an empty
// slice when nothing is cached.
func GetCollection[T any](c *Cache, name string) []T {
	return GetCollectionAt[T](c, name, SnapshotKey)
}

// GetCollectionAt is GetCollection for a collection stored under key.
func GetCollectionAt[T any](c *Cache, name, key string) []T {
	items := []T{}
	e, ok := c.GetEntry(name, key)
	if !ok {
		return items
	}
	if err := json.Unmarshal(e.Payload, &items); err != nil {
		c.log.Warn().Err(err).Str("collection", name).Str("key", key).Msg("undecodable collection snapshot")
		return []T{}
	}
	if items == nil {
		items = []T{}
	}
	return items
}

// SetCollection replaces the named collection wholesale.
func SetCollection[T any](c *Cache, name string, items []T) {
	SetCollectionAt(c, name, SnapshotKey, items)
}

func SetCollectionAt[T any](c *Cache, name, key string, items []T) {
	if items == nil {
		items = []T{}
	}
	c.SetEntry(name, key, items)
}

// Load returns the named collection indexed by id. Repeated ids in a snapshot
// collapse to the last occurrence.
func Load[T collection.Record](c *Cache, name string) *collection.Collection[T] {
	return collection.New(GetCollection[T](c, name)...)
}

// GetByID looks up one record in the named collection.
func GetByID[T collection.Record](c *Cache, name, id string) (T, bool) {
	return Load[T](c, name).Get(id)
}

// Upsert inserts or replaces item in the named collection.
func Upsert[T collection.Record](c *Cache, name string, item T) {
	Update(c, name, func(coll *collection.Collection[T]) {
		if err := coll.Put(item); err != nil {
			c.log.Warn().Err(err).Str("collection", name).Msg("upsert skipped")
		}
	})
}

// Remove deletes the record with id from the named collection.
func Remove[T collection.Record](c *Cache, name, id string) {
	Update(c, name, func(coll *collection.Collection[T]) {
		coll.Delete(id)
	})
}

// Update runs fn over the named collection and writes the result back. The
// whole read-modify-write runs under the cache lock.
func Update[T collection.Record](c *Cache, name string, fn func(*collection.Collection[T])) {
	UpdateAt(c, name, SnapshotKey, fn)
}

// UpdateAt is Update for a collection stored under key.
func UpdateAt[T collection.Record](c *Cache, name, key string, fn func(*collection.Collection[T])) {
	c.mu.Lock()
	defer c.mu.Unlock()
	coll := collection.New(GetCollectionAt[T](c, name, key)...)
	fn(coll)
	SetCollectionAt(c, name, key, coll.Items())
}
