// Package queue records mutations that could not be sent to the backend so
// they can be replayed later, in the order they were made.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/bperks/cache"
)

// Namespace is the cache namespace holding the persisted queue.
const Namespace = "queue"

const actionsKey = "actions"

type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

var (
	ErrInvalidKind     = errors.New("queue: invalid action kind")
	ErrInvalidMethod   = errors.New("queue: invalid http method")
	ErrInvalidEndpoint = errors.New("queue: endpoint must be an absolute path")
)

// RecordRef names the locally created record an action will confirm.
type RecordRef struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Action is one pending mutation.
type Action struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Endpoint   string            `json:"endpoint"`
	Method     string            `json:"method"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	Ref        *RecordRef        `json:"ref,omitempty"`
}

// Queue is a FIFO list of actions persisted as a single JSON array. Every
// change rewrites the whole list under one lock, so readers never see a torn
// queue.
type Queue struct {
	store cache.Store
	now   func() time.Time
	newID func() string
	log   zerolog.Logger

	mu sync.Mutex
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// WithIDGenerator overrides the action id source.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) { q.newID = fn }
}

// New opens the queue persisted in the queue namespace of db.
func New(db cache.DB, opts ...Option) *Queue {
	q := &Queue{
		store: db.Namespace(Namespace),
		now:   time.Now,
		newID: newActionID,
		log:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// newActionID returns a UUIDv7: a millisecond timestamp followed by random
// bits, so ids sort by enqueue time and never collide at high rates.
func newActionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Enqueue appends a new action and persists the queue.
func (q *Queue) Enqueue(kind Kind, endpoint, method string, payload any, headers map[string]string) (Action, error) {
	a := Action{Kind: kind, Endpoint: endpoint, Method: method, Headers: headers}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return Action{}, fmt.Errorf("encode payload: %w", err)
		}
		a.Payload = body
	}
	return q.EnqueueAction(a)
}

// EnqueueAction appends a prepared action. ID and EnqueuedAt are assigned here.
func (q *Queue) EnqueueAction(a Action) (Action, error) {
	if err := validate(&a); err != nil {
		return Action{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	actions := q.load()
	seen := make(map[string]bool, len(actions))
	for _, existing := range actions {
		seen[existing.ID] = true
	}
	a.ID = q.newID()
	for seen[a.ID] {
		a.ID = newActionID()
	}
	a.EnqueuedAt = q.now()

	actions = append(actions, a)
	q.save(actions)
	q.log.Debug().Str("id", a.ID).Str("method", a.Method).Str("endpoint", a.Endpoint).Int("pending", len(actions)).Msg("action queued")
	return a, nil
}

func validate(a *Action) error {
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, a.Kind)
	}
	a.Method = strings.ToUpper(a.Method)
	switch a.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMethod, a.Method)
	}
	if !strings.HasPrefix(a.Endpoint, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, a.Endpoint)
	}
	return nil
}

// PeekAll returns every pending action in enqueue order.
func (q *Queue) PeekAll() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	return len(q.PeekAll())
}

// RemoveByID drops one action, typically after it replayed successfully.
func (q *Queue) RemoveByID(id string) {
	q.RemoveIDs([]string{id})
}

// RemoveIDs drops every action whose id is listed, keeping the rest in order.
func (q *Queue) RemoveIDs(ids []string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	actions := q.load()
	kept := actions[:0]
	for _, a := range actions {
		if !drop[a.ID] {
			kept = append(kept, a)
		}
	}
	q.save(kept)
}

// Clear drops every pending action.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.store.Remove(actionsKey)
}

func (q *Queue) load() []Action {
	actions := []Action{}
	raw, ok := q.store.Get(actionsKey)
	if !ok {
		return actions
	}
	if err := json.Unmarshal(raw, &actions); err != nil {
		q.log.Warn().Err(err).Msg("undecodable action queue, treating as empty")
		return []Action{}
	}
	return actions
}

func (q *Queue) save(actions []Action) {
	raw, err := json.Marshal(actions)
	if err != nil {
		q.log.Warn().Err(err).Msg("action queue not encodable")
		return
	}
	q.store.Set(actionsKey, raw)
}
