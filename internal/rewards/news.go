package rewards

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/briangreenhill/bperks/internal/entities"
	"github.com/briangreenhill/bperks/internal/storage"
)

func (s *Service) PublishNews(ctx context.Context, n entities.NewsItem) (entities.NewsItem, error) {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return entities.NewsItem{}, invalid("title is required")
	}
	if n.Kind == "" {
		n.Kind = entities.KindNews
	}
	if n.Kind != entities.KindNews && n.Kind != entities.KindAlert {
		return entities.NewsItem{}, invalid("unknown kind %q", n.Kind)
	}
	if n.ID == "" {
		n.ID = s.newID()
	}
	n.PublishedAt = s.timestamp()
	err := s.write(ctx, func(tx *storage.Tx) error {
		return storage.PutJSON(ctx, tx, entities.News, n.ID, n)
	})
	return n, err
}

func (s *Service) GetNews(ctx context.Context, id string) (entities.NewsItem, error) {
	return load[entities.NewsItem](ctx, s.store, entities.News, id)
}

// ListNews returns news newest first.
func (s *Service) ListNews(ctx context.Context) ([]entities.NewsItem, error) {
	items, err := storage.ListJSON[entities.NewsItem](ctx, s.store, entities.News)
	if err != nil {
		return nil, err
	}
	slices.Reverse(items)
	return items, nil
}

// DeliverNews puts a notification for the news item in every resident's
// inbox and returns the residents that received a new one. Notification ids
// are derived from the news and user ids, so running it again delivers
// nothing twice.
func (s *Service) DeliverNews(ctx context.Context, newsID string) ([]entities.User, error) {
	var delivered []entities.User
	err := s.write(ctx, func(tx *storage.Tx) error {
		n, err := load[entities.NewsItem](ctx, tx, entities.News, newsID)
		if err != nil {
			return err
		}
		users, err := storage.ListJSON[entities.User](ctx, tx, entities.Users)
		if err != nil {
			return err
		}
		for _, u := range users {
			if u.Role != entities.RoleResident {
				continue
			}
			id := n.ID + ":" + u.ID
			_, err := tx.Get(ctx, entities.Notifications, id)
			if err == nil {
				continue
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			note := entities.Notification{
				ID:        id,
				UserID:    u.ID,
				NewsID:    n.ID,
				Title:     n.Title,
				Kind:      n.Kind,
				CreatedAt: s.timestamp(),
			}
			if err := storage.PutJSON(ctx, tx, entities.Notifications, id, note); err != nil {
				return err
			}
			delivered = append(delivered, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("news", newsID).Int("recipients", len(delivered)).Msg("news delivered")
	return delivered, nil
}

// Notifications returns userID's inbox, newest first.
func (s *Service) Notifications(ctx context.Context, userID string) ([]entities.Notification, error) {
	all, err := storage.ListJSON[entities.Notification](ctx, s.store, entities.Notifications)
	if err != nil {
		return nil, err
	}
	out := filter(all, func(n entities.Notification) bool { return n.UserID == userID })
	slices.Reverse(out)
	return out, nil
}
