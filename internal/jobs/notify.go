package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/bperks/internal/email"
	"github.com/briangreenhill/bperks/internal/entities"
	"github.com/briangreenhill/bperks/internal/rewards"
)

// NewsDeliverer is the part of rewards.Service the notify task needs.
type NewsDeliverer interface {
	GetNews(ctx context.Context, id string) (entities.NewsItem, error)
	DeliverNews(ctx context.Context, newsID string) ([]entities.User, error)
}

// HandleNotifyNews returns the asynq handler for TaskNotifyNews. Delivery is
// idempotent, so a retried task only mails users who were not notified yet.
func HandleNotifyNews(svc NewsDeliverer, sender email.Sender, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p NotifyNewsPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			log.Error().Err(err).Msg("bad notify payload")
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		if p.NewsID == "" {
			return fmt.Errorf("news id missing: %w", asynq.SkipRetry)
		}

		start := time.Now()
		item, err := svc.GetNews(ctx, p.NewsID)
		if errors.Is(err, rewards.ErrNotFound) {
			log.Warn().Str("news", p.NewsID).Msg("news item gone, dropping task")
			return fmt.Errorf("news %s: %w", p.NewsID, asynq.SkipRetry)
		}
		if err != nil {
			return fmt.Errorf("load news %s: %w", p.NewsID, err)
		}

		users, err := svc.DeliverNews(ctx, p.NewsID)
		if err != nil {
			return fmt.Errorf("deliver news %s: %w", p.NewsID, err)
		}

		mailed := 0
		for _, u := range users {
			if u.Email == "" || sender == nil {
				continue
			}
			if err := sender.Send(u.Email, subjectFor(item), bodyFor(item)); err != nil {
				log.Warn().Err(err).Str("user", u.ID).Msg("notification email failed")
				continue
			}
			mailed++
		}
		log.Info().Str("news", p.NewsID).Int("notified", len(users)).Int("mailed", mailed).
			Dur("duration", time.Since(start)).Msg("news delivered")
		return nil
	}
}

func subjectFor(n entities.NewsItem) string {
	if n.Kind == entities.KindAlert {
		return "[Alert] " + n.Title
	}
	return n.Title
}

func bodyFor(n entities.NewsItem) string {
	return "<h2>" + html.EscapeString(n.Title) + "</h2><p>" + html.EscapeString(n.Body) + "</p>"
}
