// Package netstate tracks whether the backend is reachable and tells
// interested parties when that changes.
package netstate

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// Monitor owns the process-wide connectivity flag. The zero value is not
// usable; call NewMonitor.
type Monitor struct {
	log zerolog.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int

	wg sync.WaitGroup
}

func NewMonitor(initialOnline bool, log zerolog.Logger) *Monitor {
	return &Monitor{
		log:    log,
		online: initialOnline,
		subs:   map[int]func(bool){},
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) IsOffline() bool { return !m.IsOnline() }

// Set records a connectivity signal. Subscribers run only when the state
// actually flips, in subscription order, outside the monitor lock.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	subs := make([]func(bool), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		subs = append(subs, m.subs[id])
	}
	m.mu.Unlock()

	if online {
		m.log.Info().Msg("connection restored")
	} else {
		m.log.Warn().Msg("connection lost")
	}
	for _, fn := range subs {
		m.call(fn, online)
	}
}

func (m *Monitor) call(fn func(bool), online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("connectivity subscriber panicked")
		}
	}()
	fn(online)
}

// Subscribe registers fn for transitions and returns a function that removes it.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// OnReconnect runs fn in its own goroutine each time the monitor goes from
// offline to online. Errors and panics from fn are logged, never propagated.
func (m *Monitor) OnReconnect(ctx context.Context, fn func(context.Context) error) (unsubscribe func()) {
	return m.Subscribe(func(online bool) {
		if !online {
			return
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error().Err(fmt.Errorf("panic: %v", r)).Msg("reconnect handler failed")
				}
			}()
			if err := fn(ctx); err != nil {
				m.log.Error().Err(err).Msg("reconnect handler failed")
			}
		}()
	})
}

// Wait blocks until every reconnect handler started so far has returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
