package offline

import (
	"context"
	"fmt"
	"time"

	"github.com/briangreenhill/bperks/cache"
	"github.com/briangreenhill/bperks/internal/collection"
	"github.com/briangreenhill/bperks/internal/entities"
	"github.com/briangreenhill/bperks/internal/localcache"
	"github.com/briangreenhill/bperks/internal/remote"
)

// Result is a list read. Offline is set when Data came from the local cache
// because the backend could not be reached; StoredAt then says when that copy
// was written. With nothing cached it encodes as {"offline":true,"data":[]}.
type Result[T any] struct {
	Offline  bool      `json:"offline"`
	Data     []T       `json:"data"`
	StoredAt time.Time `json:"storedAt,omitzero"`
}

type syncable interface {
	collection.Record
	Sync() entities.SyncState
}

// readThrough fetches endpoint when online and refreshes the collection
// cached under key, keeping local records the backend has not accepted yet.
// When offline, or on a transient failure, the cached collection is returned.
func readThrough[T collection.Record](ctx context.Context, c *Client, name, key, endpoint string) (Result[T], error) {
	if c.monitor.IsOnline() {
		var fresh []T
		err := c.remote.GetJSON(ctx, endpoint, &fresh)
		if err == nil {
			var merged []T
			localcache.UpdateAt(c.cache, name, key, func(coll *collection.Collection[T]) {
				*coll = *keepUnsynced(coll, fresh)
				merged = coll.Items()
			})
			return Result[T]{Data: merged}, nil
		}
		if !remote.IsTransient(err) {
			return Result[T]{}, fmt.Errorf("fetch %s: %w", name, err)
		}
		c.log.Warn().Err(err).Str("collection", name).Str("key", key).Msg("fetch failed, serving cache")
	}
	res := Result[T]{Offline: true, Data: localcache.GetCollectionAt[T](c.cache, name, key)}
	if at, ok := c.cache.StoredAt(name, key); ok {
		res.StoredAt = at
	}
	return res, nil
}

// keepUnsynced returns fresh with the cached records that are still pending
// or failed and missing from it appended.
func keepUnsynced[T collection.Record](cached *collection.Collection[T], fresh []T) *collection.Collection[T] {
	out := collection.New(fresh...)
	unsynced := cached.Filter(func(item T) bool {
		s, ok := any(item).(syncable)
		return ok && s.Sync() != entities.SyncConfirmed && s.Sync() != ""
	})
	for _, item := range unsynced {
		if _, exists := out.Get(item.RecordID()); !exists {
			_ = out.Insert(item)
		}
	}
	return out
}

// userKey keys per-user reads so that switching accounts never shows another
// resident's cached history.
func userKey(template, userID string) string {
	return cache.KeyFor(template, map[string]string{"id": userID})
}

func (c *Client) Events(ctx context.Context) (Result[entities.Event], error) {
	return readThrough[entities.Event](ctx, c, entities.Events, localcache.SnapshotKey, "/api/events")
}

func (c *Client) Rewards(ctx context.Context) (Result[entities.Reward], error) {
	return readThrough[entities.Reward](ctx, c, entities.Rewards, localcache.SnapshotKey, "/api/rewards")
}

func (c *Client) Reports(ctx context.Context) (Result[entities.Report], error) {
	return readThrough[entities.Report](ctx, c, entities.Reports, localcache.SnapshotKey, "/api/reports")
}

func (c *Client) News(ctx context.Context) (Result[entities.NewsItem], error) {
	return readThrough[entities.NewsItem](ctx, c, entities.News, localcache.SnapshotKey, "/api/news")
}

func (c *Client) Transactions(ctx context.Context) (Result[entities.Transaction], error) {
	if c.userID == "" {
		return Result[entities.Transaction]{}, ErrNoUser
	}
	return readThrough[entities.Transaction](ctx, c, entities.Transactions,
		userKey("/api/users/{id}/transactions", c.userID), "/api/users/"+c.userID+"/transactions")
}

func (c *Client) Notifications(ctx context.Context) (Result[entities.Notification], error) {
	if c.userID == "" {
		return Result[entities.Notification]{}, ErrNoUser
	}
	return readThrough[entities.Notification](ctx, c, entities.Notifications,
		userKey("/api/users/{id}/notifications", c.userID), "/api/users/"+c.userID+"/notifications")
}

// Me returns the signed-in user, refreshed from the backend when possible.
func (c *Client) Me(ctx context.Context) (entities.User, error) {
	if c.userID == "" {
		return entities.User{}, ErrNoUser
	}
	if c.monitor.IsOnline() {
		var u entities.User
		err := c.remote.GetJSON(ctx, "/api/users/"+c.userID, &u)
		if err == nil {
			localcache.Upsert(c.cache, entities.Users, u)
			return u, nil
		}
		if !remote.IsTransient(err) {
			return entities.User{}, err
		}
	}
	u, ok := localcache.GetByID[entities.User](c.cache, entities.Users, c.userID)
	if !ok {
		return entities.User{}, fmt.Errorf("user %s not cached: %w", c.userID, ErrOffline)
	}
	return u, nil
}
