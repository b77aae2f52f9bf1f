package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/briangreenhill/bperks/internal/collection"
	"github.com/briangreenhill/bperks/internal/entities"
	"github.com/briangreenhill/bperks/internal/gateway"
	"github.com/briangreenhill/bperks/internal/localcache"
	"github.com/briangreenhill/bperks/internal/queue"
	"github.com/briangreenhill/bperks/internal/remote"
)

func stateFor(out gateway.Outcome) entities.SyncState {
	if out.Queued {
		return entities.SyncPending
	}
	return entities.SyncConfirmed
}

// JoinEvent signs the current user up for an event. When the event is cached
// the capacity and duplicate checks run locally first.
func (c *Client) JoinEvent(ctx context.Context, eventID string) (gateway.Outcome, error) {
	if c.userID == "" {
		return gateway.Outcome{}, ErrNoUser
	}
	if ev, ok := localcache.GetByID[entities.Event](c.cache, entities.Events, eventID); ok {
		if ev.HasParticipant(c.userID) {
			return gateway.Outcome{}, ErrAlreadyJoined
		}
		if ev.Full() {
			return gateway.Outcome{}, ErrEventFull
		}
	}

	out, err := c.gateway.Execute(ctx, gateway.Mutation{
		Kind:     queue.KindCreate,
		Method:   http.MethodPost,
		Endpoint: "/api/events/" + eventID + "/join",
		Payload:  map[string]string{"userId": c.userID},
		Ref:      &queue.RecordRef{Collection: entities.Events, ID: eventID},
	})
	if err != nil {
		return out, classify(err)
	}

	st := stateFor(out)
	localcache.Update(c.cache, entities.Events, func(coll *collection.Collection[entities.Event]) {
		ev, ok := coll.Get(eventID)
		if !ok {
			return
		}
		if !ev.HasParticipant(c.userID) {
			ev.Participants = append(ev.Participants, c.userID)
		}
		ev.SyncState = st
		_ = coll.Put(ev)
	})
	return out, nil
}

// CreateReport files an issue report. The id is generated here so the
// queued request and the local record agree on it.
func (c *Client) CreateReport(ctx context.Context, r entities.Report) (entities.Report, error) {
	if c.userID == "" {
		return entities.Report{}, ErrNoUser
	}
	r.ID = collection.NewID()
	r.UserID = c.userID
	r.Status = entities.ReportOpen
	r.CreatedAt = c.now().UTC()
	r.SyncState = ""

	out, err := c.gateway.Execute(ctx, gateway.Mutation{
		Kind:     queue.KindCreate,
		Method:   http.MethodPost,
		Endpoint: "/api/reports",
		Payload:  r,
		Ref:      &queue.RecordRef{Collection: entities.Reports, ID: r.ID},
	})
	if err != nil {
		return entities.Report{}, classify(err)
	}
	if !out.Queued && out.Response != nil {
		var srv entities.Report
		if out.Response.Decode(&srv) == nil && srv.ID == r.ID {
			r = srv
		}
	}
	r.SyncState = stateFor(out)
	localcache.Upsert(c.cache, entities.Reports, r)
	return r, nil
}

// ClaimReward exchanges points for a reward. The points and stock checks run
// against the cache and a rejection is final: claims are never queued, since
// the claim code is issued by the backend.
func (c *Client) ClaimReward(ctx context.Context, rewardID string) (entities.Claim, error) {
	if c.userID == "" {
		return entities.Claim{}, ErrNoUser
	}
	user, haveUser := localcache.GetByID[entities.User](c.cache, entities.Users, c.userID)
	reward, haveReward := localcache.GetByID[entities.Reward](c.cache, entities.Rewards, rewardID)
	if haveUser && haveReward {
		if user.Points < reward.PointsCost {
			return entities.Claim{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientPoints, user.Points, reward.PointsCost)
		}
	}
	if haveReward && reward.Stock <= 0 {
		return entities.Claim{}, ErrOutOfStock
	}
	if c.monitor.IsOffline() {
		return entities.Claim{}, ErrOffline
	}

	resp, err := c.remote.Do(ctx, http.MethodPost, "/api/rewards/"+rewardID+"/claim", map[string]string{"userId": c.userID}, nil)
	if err != nil {
		if remote.IsTransient(err) {
			return entities.Claim{}, fmt.Errorf("%w: %v", ErrOffline, err)
		}
		return entities.Claim{}, classify(err)
	}
	var cl entities.Claim
	if err := resp.Decode(&cl); err != nil {
		return entities.Claim{}, fmt.Errorf("decode claim: %w", err)
	}
	cl.SyncState = entities.SyncConfirmed
	localcache.Upsert(c.cache, entities.Claims, cl)

	localcache.Update(c.cache, entities.Users, func(coll *collection.Collection[entities.User]) {
		if u, ok := coll.Get(c.userID); ok {
			u.Points -= cl.PointsSpent
			_ = coll.Put(u)
		}
	})
	localcache.Update(c.cache, entities.Rewards, func(coll *collection.Collection[entities.Reward]) {
		if r, ok := coll.Get(rewardID); ok {
			r.Stock--
			_ = coll.Put(r)
		}
	})
	return cl, nil
}

// CreateEvent is an admin operation; the event id is generated locally.
func (c *Client) CreateEvent(ctx context.Context, ev entities.Event) (entities.Event, error) {
	ev.ID = collection.NewID()
	if ev.Participants == nil {
		ev.Participants = []string{}
	}
	if ev.Attended == nil {
		ev.Attended = []string{}
	}
	ev.SyncState = ""
	out, err := c.gateway.Execute(ctx, gateway.Mutation{
		Kind:     queue.KindCreate,
		Method:   http.MethodPost,
		Endpoint: "/api/events",
		Payload:  ev,
		Ref:      &queue.RecordRef{Collection: entities.Events, ID: ev.ID},
	})
	if err != nil {
		return entities.Event{}, classify(err)
	}
	ev.SyncState = stateFor(out)
	localcache.Upsert(c.cache, entities.Events, ev)
	return ev, nil
}

func (c *Client) UpdateEvent(ctx context.Context, ev entities.Event) (entities.Event, error) {
	if ev.ID == "" {
		return entities.Event{}, collection.ErrMissingID
	}
	ev.SyncState = ""
	out, err := c.gateway.Execute(ctx, gateway.Mutation{
		Kind:     queue.KindUpdate,
		Method:   http.MethodPut,
		Endpoint: "/api/events/" + ev.ID,
		Payload:  ev,
		Ref:      &queue.RecordRef{Collection: entities.Events, ID: ev.ID},
	})
	if err != nil {
		return entities.Event{}, classify(err)
	}
	ev.SyncState = stateFor(out)
	localcache.Upsert(c.cache, entities.Events, ev)
	return ev, nil
}

// DeleteEvent removes the event locally at once, whether or not the delete
// has reached the backend.
func (c *Client) DeleteEvent(ctx context.Context, id string) (gateway.Outcome, error) {
	out, err := c.gateway.Execute(ctx, gateway.Mutation{
		Kind:     queue.KindDelete,
		Method:   http.MethodDelete,
		Endpoint: "/api/events/" + id,
		Ref:      &queue.RecordRef{Collection: entities.Events, ID: id},
	})
	if err != nil {
		return out, classify(err)
	}
	localcache.Remove[entities.Event](c.cache, entities.Events, id)
	return out, nil
}

// classify maps backend rejections onto the package's sentinel errors.
func classify(err error) error {
	var se *remote.StatusError
	if !errors.As(err, &se) {
		return err
	}
	body := strings.ToLower(se.Body)
	switch {
	case strings.Contains(body, ErrInsufficientPoints.Error()):
		return fmt.Errorf("%w: %v", ErrInsufficientPoints, err)
	case strings.Contains(body, ErrOutOfStock.Error()):
		return fmt.Errorf("%w: %v", ErrOutOfStock, err)
	case strings.Contains(body, ErrAlreadyJoined.Error()):
		return fmt.Errorf("%w: %v", ErrAlreadyJoined, err)
	case strings.Contains(body, ErrEventFull.Error()):
		return fmt.Errorf("%w: %v", ErrEventFull, err)
	}
	return err
}
