package rewards

import (
	"context"
	"errors"
	"strings"

	"github.com/briangreenhill/bperks/internal/entities"
	"github.com/briangreenhill/bperks/internal/storage"
)

// CreateEvent stores a new event. A client-chosen id is kept; creating an
// event whose id already exists returns the stored event unchanged, so a
// replayed create is harmless.
func (s *Service) CreateEvent(ctx context.Context, ev entities.Event) (entities.Event, error) {
	ev.Title = strings.TrimSpace(ev.Title)
	if ev.Title == "" {
		return entities.Event{}, invalid("title is required")
	}
	if ev.PointsReward < 0 || ev.Capacity < 0 {
		return entities.Event{}, invalid("points and capacity must not be negative")
	}
	if ev.ID == "" {
		ev.ID = s.newID()
	}
	ev.Participants = []string{}
	ev.Attended = []string{}
	ev.SyncState = ""

	err := s.write(ctx, func(tx *storage.Tx) error {
		existing, err := load[entities.Event](ctx, tx, entities.Events, ev.ID)
		if err == nil {
			ev = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		return storage.PutJSON(ctx, tx, entities.Events, ev.ID, ev)
	})
	return ev, err
}

// UpdateEvent replaces the editable fields of an event. Participants and
// attendance are owned by the server and never overwritten.
func (s *Service) UpdateEvent(ctx context.Context, ev entities.Event) (entities.Event, error) {
	if strings.TrimSpace(ev.Title) == "" {
		return entities.Event{}, invalid("title is required")
	}
	var out entities.Event
	err := s.write(ctx, func(tx *storage.Tx) error {
		cur, err := load[entities.Event](ctx, tx, entities.Events, ev.ID)
		if err != nil {
			return err
		}
		if ev.Capacity > 0 && ev.Capacity < len(cur.Participants) {
			return invalid("capacity %d is below %d participants", ev.Capacity, len(cur.Participants))
		}
		cur.Title = strings.TrimSpace(ev.Title)
		cur.Description = ev.Description
		cur.Location = ev.Location
		cur.StartsAt = ev.StartsAt
		cur.PointsReward = ev.PointsReward
		cur.Capacity = ev.Capacity
		out = cur
		return storage.PutJSON(ctx, tx, entities.Events, cur.ID, cur)
	})
	return out, err
}

func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return notFound(s.store.Delete(ctx, entities.Events, id))
}

func (s *Service) GetEvent(ctx context.Context, id string) (entities.Event, error) {
	return load[entities.Event](ctx, s.store, entities.Events, id)
}

func (s *Service) ListEvents(ctx context.Context) ([]entities.Event, error) {
	return storage.ListJSON[entities.Event](ctx, s.store, entities.Events)
}

// JoinEvent adds userID to the event's participants.
func (s *Service) JoinEvent(ctx context.Context, eventID, userID string) (entities.Event, error) {
	var ev entities.Event
	err := s.write(ctx, func(tx *storage.Tx) error {
		if _, err := load[entities.User](ctx, tx, entities.Users, userID); err != nil {
			return err
		}
		var err error
		ev, err = load[entities.Event](ctx, tx, entities.Events, eventID)
		if err != nil {
			return err
		}
		if ev.HasParticipant(userID) {
			return ErrAlreadyJoined
		}
		if ev.Full() {
			return ErrEventFull
		}
		ev.Participants = append(ev.Participants, userID)
		return storage.PutJSON(ctx, tx, entities.Events, ev.ID, ev)
	})
	return ev, err
}

// ConfirmAttendance marks a participant as present and awards the event's
// points. Points are awarded at most once per user and event.
func (s *Service) ConfirmAttendance(ctx context.Context, eventID, userID string) (entities.User, error) {
	var u entities.User
	err := s.write(ctx, func(tx *storage.Tx) error {
		ev, err := load[entities.Event](ctx, tx, entities.Events, eventID)
		if err != nil {
			return err
		}
		if !ev.HasParticipant(userID) {
			return ErrNotParticipant
		}
		if ev.HasAttended(userID) {
			return ErrAlreadyAttended
		}
		ev.Attended = append(ev.Attended, userID)
		if err := storage.PutJSON(ctx, tx, entities.Events, ev.ID, ev); err != nil {
			return err
		}
		if ev.PointsReward == 0 {
			u, err = load[entities.User](ctx, tx, entities.Users, userID)
			return err
		}
		u, err = s.applyPoints(ctx, tx, userID, ev.PointsReward, "event attendance: "+ev.Title, ev.ID)
		return err
	})
	return u, err
}
