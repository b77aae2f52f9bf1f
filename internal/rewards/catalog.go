package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/briangreenhill/bperks/internal/auth"
	"github.com/briangreenhill/bperks/internal/entities"
	"github.com/briangreenhill/bperks/internal/storage"
)

func validReward(r entities.Reward) error {
	if strings.TrimSpace(r.Name) == "" {
		return invalid("name is required")
	}
	if r.PointsCost < 0 || r.Stock < 0 {
		return invalid("cost and stock must not be negative")
	}
	return nil
}

// CreateReward adds a reward to the catalog. As with events, an existing id
// makes the call a no-op that returns the stored reward.
func (s *Service) CreateReward(ctx context.Context, r entities.Reward) (entities.Reward, error) {
	if err := validReward(r); err != nil {
		return entities.Reward{}, err
	}
	if r.ID == "" {
		r.ID = s.newID()
	}
	r.Name = strings.TrimSpace(r.Name)
	r.SyncState = ""
	err := s.write(ctx, func(tx *storage.Tx) error {
		existing, err := load[entities.Reward](ctx, tx, entities.Rewards, r.ID)
		if err == nil {
			r = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		return storage.PutJSON(ctx, tx, entities.Rewards, r.ID, r)
	})
	return r, err
}

func (s *Service) UpdateReward(ctx context.Context, r entities.Reward) (entities.Reward, error) {
	if err := validReward(r); err != nil {
		return entities.Reward{}, err
	}
	r.Name = strings.TrimSpace(r.Name)
	r.SyncState = ""
	err := s.write(ctx, func(tx *storage.Tx) error {
		if _, err := load[entities.Reward](ctx, tx, entities.Rewards, r.ID); err != nil {
			return err
		}
		return storage.PutJSON(ctx, tx, entities.Rewards, r.ID, r)
	})
	return r, err
}

func (s *Service) DeleteReward(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return notFound(s.store.Delete(ctx, entities.Rewards, id))
}

func (s *Service) GetReward(ctx context.Context, id string) (entities.Reward, error) {
	return load[entities.Reward](ctx, s.store, entities.Rewards, id)
}

func (s *Service) ListRewards(ctx context.Context) ([]entities.Reward, error) {
	return storage.ListJSON[entities.Reward](ctx, s.store, entities.Rewards)
}

// ClaimReward spends the user's points on one unit of the reward and issues
// a signed claim code. Insufficient points or stock reject the claim and
// change nothing.
func (s *Service) ClaimReward(ctx context.Context, rewardID, userID string) (entities.Claim, error) {
	var cl entities.Claim
	err := s.write(ctx, func(tx *storage.Tx) error {
		r, err := load[entities.Reward](ctx, tx, entities.Rewards, rewardID)
		if err != nil {
			return err
		}
		u, err := load[entities.User](ctx, tx, entities.Users, userID)
		if err != nil {
			return err
		}
		if r.Stock <= 0 {
			return ErrOutOfStock
		}
		if u.Points < r.PointsCost {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientPoints, u.Points, r.PointsCost)
		}

		cl = entities.Claim{
			ID:          s.newID(),
			UserID:      u.ID,
			RewardID:    r.ID,
			PointsSpent: r.PointsCost,
			Status:      entities.ClaimIssued,
			ClaimedAt:   s.timestamp(),
		}
		cl.Code = s.codes.Code(cl.ID, cl.UserID, cl.RewardID)

		r.Stock--
		if err := storage.PutJSON(ctx, tx, entities.Rewards, r.ID, r); err != nil {
			return err
		}
		if r.PointsCost > 0 {
			if _, err := s.applyPoints(ctx, tx, u.ID, -r.PointsCost, "reward claim: "+r.Name, cl.ID); err != nil {
				return err
			}
		}
		return storage.PutJSON(ctx, tx, entities.Claims, cl.ID, cl)
	})
	if err != nil {
		return entities.Claim{}, err
	}
	s.log.Info().Str("claim", cl.ID).Str("user", cl.UserID).Str("reward", cl.RewardID).Msg("reward claimed")
	return cl, nil
}

// RedeemClaim marks the claim carrying code as handed over.
func (s *Service) RedeemClaim(ctx context.Context, code string) (entities.Claim, error) {
	code = auth.Normalize(code)
	var cl entities.Claim
	err := s.write(ctx, func(tx *storage.Tx) error {
		claims, err := storage.ListJSON[entities.Claim](ctx, tx, entities.Claims)
		if err != nil {
			return err
		}
		found := false
		for _, c := range claims {
			if c.Code == code {
				cl, found = c, true
				break
			}
		}
		if !found || !s.codes.Verify(cl.ID, cl.UserID, cl.RewardID, code) {
			return ErrInvalidCode
		}
		if cl.Status == entities.ClaimRedeemed {
			return ErrAlreadyRedeemed
		}
		at := s.timestamp()
		cl.Status = entities.ClaimRedeemed
		cl.RedeemedAt = &at
		return storage.PutJSON(ctx, tx, entities.Claims, cl.ID, cl)
	})
	return cl, err
}

// Claims returns the claims made by userID.
func (s *Service) Claims(ctx context.Context, userID string) ([]entities.Claim, error) {
	all, err := storage.ListJSON[entities.Claim](ctx, s.store, entities.Claims)
	if err != nil {
		return nil, err
	}
	return filter(all, func(c entities.Claim) bool { return c.UserID == userID }), nil
}
