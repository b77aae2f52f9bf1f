package netstate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_InitialState(t *testing.T) {
	m := NewMonitor(false, zerolog.Nop())
	assert.False(t, m.IsOnline())
	assert.True(t, m.IsOffline())
}

func TestMonitor_NotifiesOnTransitionOnly(t *testing.T) {
	m := NewMonitor(true, zerolog.Nop())

	var got []bool
	m.Subscribe(func(online bool) { got = append(got, online) })

	m.Set(true)
	m.Set(false)
	m.Set(false)
	m.Set(true)

	assert.Equal(t, []bool{false, true}, got)
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(false, zerolog.Nop())

	calls := 0
	unsub := m.Subscribe(func(bool) { calls++ })
	m.Set(true)
	unsub()
	unsub()
	m.Set(false)

	assert.Equal(t, 1, calls)
}

func TestMonitor_SubscriberPanicDoesNotStopOthers(t *testing.T) {
	m := NewMonitor(false, zerolog.Nop())

	m.Subscribe(func(bool) { panic("boom") })
	reached := false
	m.Subscribe(func(bool) { reached = true })

	assert.NotPanics(t, func() { m.Set(true) })
	assert.True(t, reached)
}

func TestMonitor_OnReconnect(t *testing.T) {
	m := NewMonitor(false, zerolog.Nop())

	var runs atomic.Int32
	m.OnReconnect(context.Background(), func(context.Context) error {
		runs.Add(1)
		return errors.New("ignored")
	})
	m.OnReconnect(context.Background(), func(context.Context) error {
		panic("also ignored")
	})

	m.Set(true)
	m.Set(false)
	m.Wait()
	assert.Equal(t, int32(1), runs.Load())

	m.Set(true)
	m.Wait()
	assert.Equal(t, int32(2), runs.Load())
}

type fakePinger struct {
	mu  sync.Mutex
	err error
	n   int
}

func (f *fakePinger) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return f.err
}

func (f *fakePinger) set(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func TestProber_Check(t *testing.T) {
	p := &fakePinger{err: errors.New("unreachable")}
	m := NewMonitor(true, zerolog.Nop())
	pr := NewProber(p, m, time.Second, zerolog.Nop())

	assert.False(t, pr.Check(context.Background()))
	assert.True(t, m.IsOffline())

	p.set(nil)
	assert.True(t, pr.Check(context.Background()))
	assert.True(t, m.IsOnline())
}

func TestProber_RunStopsWithContext(t *testing.T) {
	p := &fakePinger{}
	m := NewMonitor(false, zerolog.Nop())
	pr := NewProber(p, m, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pr.Run(ctx)
		close(done)
	}()

	require.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prober did not stop")
	}
}

func TestProber_WhileOnline(t *testing.T) {
	p := &fakePinger{}
	m := NewMonitor(false, zerolog.Nop())

	var steady atomic.Int32
	pr := NewProber(p, m, 10*time.Millisecond, zerolog.Nop(), WhileOnline(func(context.Context) {
		steady.Add(1)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pr.Run(ctx)

	require.Eventually(t, func() bool { return steady.Load() >= 2 }, time.Second, 5*time.Millisecond)

	p.set(errors.New("unreachable"))
	require.Eventually(t, m.IsOffline, time.Second, 5*time.Millisecond)
	n := steady.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, steady.Load())
}

func TestProber_CheckDoesNotRunWhileOnline(t *testing.T) {
	m := NewMonitor(true, zerolog.Nop())
	called := false
	pr := NewProber(&fakePinger{}, m, time.Second, zerolog.Nop(), WhileOnline(func(context.Context) { called = true }))

	assert.True(t, pr.Check(context.Background()))
	assert.False(t, called)
}
