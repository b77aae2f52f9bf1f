package offline

import (
	"github.com/rs/zerolog"

	"github.com/briangreenhill/bperks/internal/collection"
	"github.com/briangreenhill/bperks/internal/entities"
	"github.com/briangreenhill/bperks/internal/localcache"
	"github.com/briangreenhill/bperks/internal/queue"
	"github.com/briangreenhill/bperks/internal/remote"
)

// stateObserver moves optimistically applied records to confirmed or failed
// as their queued actions replay.
type stateObserver struct {
	cache *localcache.Cache
	log   zerolog.Logger
}

func (o stateObserver) Replayed(a queue.Action, _ *remote.Response) {
	if a.Ref != nil && a.Kind != queue.KindDelete {
		markState(o.cache, *a.Ref, entities.SyncConfirmed)
	}
}

func (o stateObserver) ReplayFailed(a queue.Action, err error) {
	if a.Ref != nil && a.Kind != queue.KindDelete {
		markState(o.cache, *a.Ref, entities.SyncFailed)
	}
}

func markState(c *localcache.Cache, ref queue.RecordRef, st entities.SyncState) {
	switch ref.Collection {
	case entities.Events:
		setState(c, ref, func(e *entities.Event) { e.SyncState = st })
	case entities.Rewards:
		setState(c, ref, func(r *entities.Reward) { r.SyncState = st })
	case entities.Reports:
		setState(c, ref, func(r *entities.Report) { r.SyncState = st })
	case entities.Claims:
		setState(c, ref, func(cl *entities.Claim) { cl.SyncState = st })
	case entities.Users:
		setState(c, ref, func(u *entities.User) { u.SyncState = st })
	}
}

func setState[T collection.Record](c *localcache.Cache, ref queue.RecordRef, fn func(*T)) {
	localcache.Update(c, ref.Collection, func(coll *collection.Collection[T]) {
		item, ok := coll.Get(ref.ID)
		if !ok {
			return
		}
		fn(&item)
		_ = coll.Put(item)
	})
}
