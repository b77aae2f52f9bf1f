package netstate

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Pinger reports whether the backend answered a health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober stands in for platform online/offline events: it polls a Pinger and
// feeds the result into a Monitor.
type Prober struct {
	pinger   Pinger
	monitor  *Monitor
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
	steady   func(context.Context)
}

type ProberOption func(*Prober)

// WhileOnline registers fn to run after every successful check made by Run
// that found the monitor already online. Transitions go through
// Monitor.OnReconnect instead.
func WhileOnline(fn func(context.Context)) ProberOption {
	return func(p *Prober) { p.steady = fn }
}

func NewProber(p Pinger, m *Monitor, interval time.Duration, log zerolog.Logger, opts ...ProberOption) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := interval / 2
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	pr := &Prober{pinger: p, monitor: m, interval: interval, timeout: timeout, log: log}
	for _, o := range opts {
		o(pr)
	}
	return pr
}

// Check performs one health check and updates the monitor.
func (p *Prober) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	if err != nil {
		p.log.Debug().Err(err).Msg("health check failed")
	}
	p.monitor.Set(err == nil)
	return err == nil
}

// Run checks immediately and then once per interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.tick(ctx)

	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.tick(ctx)
		}
	}
}

func (p *Prober) tick(ctx context.Context) {
	wasOnline := p.monitor.IsOnline()
	if p.Check(ctx) && wasOnline && p.steady != nil {
		p.steady(ctx)
	}
}
