// Package reconcile replays queued mutations against the backend once the
// client is back online.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/bperks/internal/queue"
	"github.com/briangreenhill/bperks/internal/remote"
)

// Replayer sends one queued action to the backend.
type Replayer interface {
	Replay(ctx context.Context, a queue.Action) (*remote.Response, error)
}

// Connectivity is the part of the network monitor the reconciler needs.
type Connectivity interface {
	IsOnline() bool
}

// Observer hears about the outcome of every replayed action.
type Observer interface {
	Replayed(a queue.Action, resp *remote.Response)
	ReplayFailed(a queue.Action, err error)
}

// Result summarises one pass over the queue.
type Result struct {
	Attempted int
	Replayed  int
	Failed    int
	Skipped   bool
	Duration  time.Duration
}

type Reconciler struct {
	queue    *queue.Queue
	replayer Replayer
	conn     Connectivity
	log      zerolog.Logger

	mu        sync.Mutex
	observers []Observer
	draining  bool
}

func New(q *queue.Queue, r Replayer, conn Connectivity, log zerolog.Logger) *Reconciler {
	return &Reconciler{queue: q, replayer: r, conn: conn, log: log}
}

// Observe registers o for replay outcomes.
func (r *Reconciler) Observe(o Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// Drain replays every queued action in FIFO order. Each action is attempted
// once; successes are removed in a single write after the pass and failures
// stay queued in their original position for the next pass. A call made while
// offline, or while another pass is running, does nothing and reports Skipped.
//
// A cancelled ctx ends the pass early; successes so far are still removed.
func (r *Reconciler) Drain(ctx context.Context) (Result, error) {
	r.mu.Lock()
	if r.draining || !r.conn.IsOnline() {
		r.mu.Unlock()
		return Result{Skipped: true}, nil
	}
	r.draining = true
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.draining = false
		r.mu.Unlock()
	}()

	start := time.Now()
	var res Result
	var done []string

	for _, a := range r.queue.PeekAll() {
		if err := ctx.Err(); err != nil {
			r.queue.RemoveIDs(done)
			res.Duration = time.Since(start)
			return res, err
		}
		res.Attempted++

		resp, err := r.replayer.Replay(ctx, a)
		if err != nil {
			res.Failed++
			r.log.Warn().Err(err).Str("id", a.ID).Str("method", a.Method).Str("endpoint", a.Endpoint).Msg("replay failed, keeping action")
			for _, o := range observers {
				o.ReplayFailed(a, err)
			}
			continue
		}
		res.Replayed++
		done = append(done, a.ID)
		for _, o := range observers {
			o.Replayed(a, resp)
		}
	}

	r.queue.RemoveIDs(done)
	res.Duration = time.Since(start)
	if res.Attempted > 0 {
		r.log.Info().Int("replayed", res.Replayed).Int("failed", res.Failed).Dur("took", res.Duration).Msg("queue drained")
	}
	return res, nil
}

// Run drains on every reconnect reported by onReconnect until the returned
// function is called. It is typically passed Monitor.OnReconnect.
func (r *Reconciler) Run(ctx context.Context, onReconnect func(context.Context, func(context.Context) error) func()) (stop func()) {
	return onReconnect(ctx, func(ctx context.Context) error {
		_, err := r.Drain(ctx)
		return err
	})
}
