// Package offline assembles the client-side sync layer: local cache, action
// queue, connectivity monitor, gateway and reconciler. A Client is the only
// object callers need; nothing in the layer is a package-level singleton.
package offline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/bperks/cache"
	"github.com/briangreenhill/bperks/internal/gateway"
	"github.com/briangreenhill/bperks/internal/localcache"
	"github.com/briangreenhill/bperks/internal/netstate"
	"github.com/briangreenhill/bperks/internal/queue"
	"github.com/briangreenhill/bperks/internal/reconcile"
	"github.com/briangreenhill/bperks/internal/remote"
)

var (
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrOutOfStock         = errors.New("reward out of stock")
	ErrAlreadyJoined      = errors.New("already joined")
	ErrEventFull          = errors.New("event is full")
	ErrOffline            = errors.New("operation needs a connection")
	ErrNoUser             = errors.New("no signed-in user")
)

// Options configures a Client. DB and Remote are required.
type Options struct {
	DB     cache.DB
	Remote *remote.Client

	// UserID is the resident the client acts for.
	UserID string

	// Monitor defaults to one that starts offline until the first probe.
	Monitor       *netstate.Monitor
	ProbeInterval time.Duration

	// AlwaysQueue routes every mutation through the queue.
	AlwaysQueue bool

	Logger zerolog.Logger
	Now    func() time.Time
}

type Client struct {
	cache      *localcache.Cache
	queue      *queue.Queue
	monitor    *netstate.Monitor
	remote     *remote.Client
	gateway    *gateway.Gateway
	reconciler *reconcile.Reconciler
	prober     *netstate.Prober

	userID string
	now    func() time.Time
	log    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	unsub  func()
	done   chan struct{}
}

func New(opts Options) (*Client, error) {
	if opts.DB == nil {
		return nil, errors.New("offline: DB is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("offline: remote client is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	mon := opts.Monitor
	if mon == nil {
		mon = netstate.NewMonitor(false, log)
	}

	q := queue.New(opts.DB, queue.WithClock(opts.Now), queue.WithLogger(log))
	lc := localcache.New(opts.DB,
		localcache.WithClock(opts.Now),
		localcache.WithLogger(log),
		localcache.WithPreserve(queue.Namespace, TilesNamespace, TileResponsesNamespace),
	)

	var gwOpts []gateway.Option
	gwOpts = append(gwOpts, gateway.WithLogger(log), gateway.WithBacklog(q))
	if opts.AlwaysQueue {
		gwOpts = append(gwOpts, gateway.AlwaysQueue())
	}

	c := &Client{
		cache:   lc,
		queue:   q,
		monitor: mon,
		remote:  opts.Remote,
		gateway: gateway.New(
			gateway.ImmediateExecutor{Sender: opts.Remote},
			gateway.QueueingExecutor{Queue: q},
			mon,
			gwOpts...,
		),
		reconciler: reconcile.New(q, opts.Remote, mon, log),
		userID:     opts.UserID,
		now:        opts.Now,
		log:        log,
	}
	// Actions queued after a failed send while the backend stays reachable
	// never see a reconnect, so healthy probes drain them too.
	c.prober = netstate.NewProber(opts.Remote, mon, opts.ProbeInterval, log, netstate.WhileOnline(c.drainBacklog))
	c.reconciler.Observe(stateObserver{cache: lc, log: log})
	return c, nil
}

// Namespaces reserved for the tile cache when it shares the client DB.
const (
	TilesNamespace         = "tiles"
	TileResponsesNamespace = "tile-responses"
)

func (c *Client) Monitor() *netstate.Monitor { return c.monitor }
func (c *Client) Queue() *queue.Queue        { return c.queue }
func (c *Client) Cache() *localcache.Cache   { return c.cache }

// PendingCount is the number of mutations waiting to be replayed.
func (c *Client) PendingCount() int { return c.queue.Len() }

// Drain replays the queue now. It is a no-op while offline.
func (c *Client) Drain(ctx context.Context) (reconcile.Result, error) {
	return c.reconciler.Drain(ctx)
}

func (c *Client) drainBacklog(ctx context.Context) {
	if c.queue.Len() == 0 {
		return
	}
	if _, err := c.reconciler.Drain(ctx); err != nil {
		c.log.Warn().Err(err).Msg("backlog drain interrupted")
	}
}

// Probe checks backend health once and updates the monitor.
func (c *Client) Probe(ctx context.Context) bool {
	return c.prober.Check(ctx)
}

// Start begins health probing and drains the queue on every reconnect, and on
// any healthy probe that finds actions still pending.
// Calling Start twice without Stop is a no-op.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.unsub = c.reconciler.Run(ctx, c.monitor.OnReconnect)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.prober.Run(ctx)
	}()
	c.log.Info().Str("backend", c.remote.BaseURL()).Msg("sync started")
}

// Stop ends probing and waits for any drain in flight.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, unsub, done := c.cancel, c.unsub, c.done
	c.cancel, c.unsub, c.done = nil, nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	unsub()
	cancel()
	<-done
	c.monitor.Wait()
}
