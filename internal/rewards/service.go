// Package rewards implements the B-Perks backend rules: residents, the points
// ledger, events, rewards and claims, issue reports, and news.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/bperks/internal/auth"
	"github.com/briangreenhill/bperks/internal/collection"
	"github.com/briangreenhill/bperks/internal/entities"
	"github.com/briangreenhill/bperks/internal/storage"
)

// Rejections callers can match with errors.Is. The messages are part of the
// API: clients look for them in error bodies.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalid            = errors.New("invalid input")
	ErrDuplicateUsername  = errors.New("username already taken")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrOutOfStock         = errors.New("reward out of stock")
	ErrAlreadyJoined      = errors.New("already joined")
	ErrEventFull          = errors.New("event is full")
	ErrNotParticipant     = errors.New("not a participant")
	ErrAlreadyAttended    = errors.New("attendance already confirmed")
	ErrInvalidCode        = errors.New("invalid claim code")
	ErrAlreadyRedeemed    = errors.New("claim already redeemed")
)

type Service struct {
	store *storage.Store
	codes auth.ClaimCodes
	now   func() time.Time
	newID func() string
	log   zerolog.Logger

	// mu serializes writes so the read-check-write rules hold on every
	// database driver.
	mu sync.Mutex
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func New(store *storage.Store, codes auth.ClaimCodes, opts ...Option) *Service {
	s := &Service{
		store: store,
		codes: codes,
		now:   time.Now,
		newID: collection.NewID,
		log:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) write(ctx context.Context, fn func(*storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.InTx(ctx, fn)
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func load[T any](ctx context.Context, d storage.Documents, coll, id string) (T, error) {
	v, err := storage.GetJSON[T](ctx, d, coll, id)
	return v, notFound(err)
}

// NewUser is the input to RegisterUser.
type NewUser struct {
	Username    string        `json:"username"`
	DisplayName string        `json:"displayName"`
	Email       string        `json:"email"`
	Role        entities.Role `json:"role"`
}

// RegisterUser creates a resident (or admin) with zero points. Usernames are
// unique, ignoring case.
func (s *Service) RegisterUser(ctx context.Context, in NewUser) (entities.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return entities.User{}, invalid("username is required")
	}
	if in.Role == "" {
		in.Role = entities.RoleResident
	}
	if in.Role != entities.RoleResident && in.Role != entities.RoleAdmin {
		return entities.User{}, invalid("unknown role %q", in.Role)
	}

	u := entities.User{
		ID:          s.newID(),
		Username:    in.Username,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Email:       strings.TrimSpace(in.Email),
		Role:        in.Role,
		CreatedAt:   s.timestamp(),
	}
	err := s.write(ctx, func(tx *storage.Tx) error {
		users, err := storage.ListJSON[entities.User](ctx, tx, entities.Users)
		if err != nil {
			return err
		}
		for _, existing := range users {
			if strings.EqualFold(existing.Username, u.Username) {
				return fmt.Errorf("%w: %s", ErrDuplicateUsername, u.Username)
			}
		}
		return storage.PutJSON(ctx, tx, entities.Users, u.ID, u)
	})
	if err != nil {
		return entities.User{}, err
	}
	s.log.Info().Str("user", u.ID).Str("username", u.Username).Msg("user registered")
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (entities.User, error) {
	return load[entities.User](ctx, s.store, entities.Users, id)
}

// UserByUsername looks a user up by name, ignoring case.
func (s *Service) UserByUsername(ctx context.Context, username string) (entities.User, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return entities.User{}, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, strings.TrimSpace(username)) {
			return u, nil
		}
	}
	return entities.User{}, fmt.Errorf("%w: user %q", ErrNotFound, username)
}

func (s *Service) ListUsers(ctx context.Context) ([]entities.User, error) {
	return storage.ListJSON[entities.User](ctx, s.store, entities.Users)
}

// AdjustPoints applies delta to a user's balance and records it in the
// ledger. A balance can never go below zero.
func (s *Service) AdjustPoints(ctx context.Context, userID string, delta int, reason string) (entities.User, error) {
	if delta == 0 {
		return entities.User{}, invalid("delta must be non-zero")
	}
	if strings.TrimSpace(reason) == "" {
		reason = "manual adjustment"
	}
	var u entities.User
	err := s.write(ctx, func(tx *storage.Tx) error {
		var err error
		u, err = s.applyPoints(ctx, tx, userID, delta, reason, "")
		return err
	})
	return u, err
}

func (s *Service) applyPoints(ctx context.Context, tx *storage.Tx, userID string, delta int, reason, refID string) (entities.User, error) {
	u, err := load[entities.User](ctx, tx, entities.Users, userID)
	if err != nil {
		return entities.User{}, err
	}
	if u.Points+delta < 0 {
		return entities.User{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientPoints, u.Points, -delta)
	}
	u.Points += delta
	if err := storage.PutJSON(ctx, tx, entities.Users, u.ID, u); err != nil {
		return entities.User{}, err
	}
	t := entities.Transaction{
		ID:        s.newID(),
		UserID:    u.ID,
		Delta:     delta,
		Reason:    reason,
		RefID:     refID,
		CreatedAt: s.timestamp(),
	}
	if err := storage.PutJSON(ctx, tx, entities.Transactions, t.ID, t); err != nil {
		return entities.User{}, err
	}
	return u, nil
}

// Transactions returns a user's ledger, oldest first.
func (s *Service) Transactions(ctx context.Context, userID string) ([]entities.Transaction, error) {
	all, err := storage.ListJSON[entities.Transaction](ctx, s.store, entities.Transactions)
	if err != nil {
		return nil, err
	}
	return filter(all, func(t entities.Transaction) bool { return t.UserID == userID }), nil
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}
