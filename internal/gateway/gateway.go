// Package gateway is the one place a mutation decides between being sent
// now and being queued for later.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/bperks/internal/queue"
	"github.com/briangreenhill/bperks/internal/remote"
)

// Mutation is a write the client wants the backend to apply.
type Mutation struct {
	Kind     queue.Kind
	Method   string
	Endpoint string
	Payload  any
	Headers  map[string]string
	Ref      *queue.RecordRef
}

// Outcome says what happened to a mutation. Exactly one of Response and
// Action is meaningful, depending on Queued.
type Outcome struct {
	Queued   bool
	Action   queue.Action
	Response *remote.Response
}

type Executor interface {
	Execute(ctx context.Context, m Mutation) (Outcome, error)
}

// Sender is the remote call an ImmediateExecutor makes.
type Sender interface {
	Do(ctx context.Context, method, endpoint string, payload any, headers map[string]string) (*remote.Response, error)
}

// ImmediateExecutor sends mutations straight to the backend.
type ImmediateExecutor struct {
	Sender Sender
}

func (e ImmediateExecutor) Execute(ctx context.Context, m Mutation) (Outcome, error) {
	resp, err := e.Sender.Do(ctx, m.Method, m.Endpoint, m.Payload, m.Headers)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Response: resp}, nil
}

// QueueingExecutor appends mutations to the action queue.
type QueueingExecutor struct {
	Queue *queue.Queue
}

func (e QueueingExecutor) Execute(_ context.Context, m Mutation) (Outcome, error) {
	a := queue.Action{
		Kind:     m.Kind,
		Endpoint: m.Endpoint,
		Method:   m.Method,
		Headers:  m.Headers,
		Ref:      m.Ref,
	}
	if m.Payload != nil {
		raw, err := encode(m.Payload)
		if err != nil {
			return Outcome{}, err
		}
		a.Payload = raw
	}
	a, err := e.Queue.EnqueueAction(a)
	if err != nil {
		return Outcome{}, fmt.Errorf("queue %s %s: %w", m.Method, m.Endpoint, err)
	}
	return Outcome{Queued: true, Action: a}, nil
}

// Connectivity reports whether the backend is believed reachable.
type Connectivity interface {
	IsOnline() bool
}

// Backlog reports how many mutations are still waiting to be replayed.
type Backlog interface {
	Len() int
}

// Gateway routes mutations by connectivity. Transient failures of an
// immediate send fall back to the queue; permanent ones are returned to the
// caller and never queued. While a backlog is pending, new mutations join the
// end of it so the backend applies them in the order they were made.
type Gateway struct {
	immediate   Executor
	queueing    Executor
	conn        Connectivity
	backlog     Backlog
	alwaysQueue bool
	log         zerolog.Logger
}

type Option func(*Gateway)

// AlwaysQueue sends every mutation through the queue, even when online.
func AlwaysQueue() Option {
	return func(g *Gateway) { g.alwaysQueue = true }
}

// WithBacklog makes the gateway queue behind any pending actions in b.
func WithBacklog(b Backlog) Option {
	return func(g *Gateway) { g.backlog = b }
}

func WithLogger(log zerolog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

func New(immediate, queueing Executor, conn Connectivity, opts ...Option) *Gateway {
	g := &Gateway{immediate: immediate, queueing: queueing, conn: conn, log: zerolog.Nop()}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) Execute(ctx context.Context, m Mutation) (Outcome, error) {
	if g.alwaysQueue || !g.conn.IsOnline() {
		return g.queueing.Execute(ctx, m)
	}
	if g.backlog != nil && g.backlog.Len() > 0 {
		g.log.Debug().Str("method", m.Method).Str("endpoint", m.Endpoint).Msg("backlog pending, queueing")
		return g.queueing.Execute(ctx, m)
	}
	out, err := g.immediate.Execute(ctx, m)
	if err == nil {
		return out, nil
	}
	if !remote.IsTransient(err) {
		return Outcome{}, err
	}
	g.log.Warn().Err(err).Str("method", m.Method).Str("endpoint", m.Endpoint).Msg("send failed, queueing")
	return g.queueing.Execute(ctx, m)
}

func encode(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
