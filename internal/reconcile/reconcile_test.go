package reconcile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/bperks/cache"
	"github.com/briangreenhill/bperks/internal/netstate"
	"github.com/briangreenhill/bperks/internal/queue"
	"github.com/briangreenhill/bperks/internal/remote"
)

type online bool

func (o online) IsOnline() bool { return bool(o) }

type fakeReplayer struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
	block chan struct{}
}

func (f *fakeReplayer) Replay(ctx context.Context, a queue.Action) (*remote.Response, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, a.Endpoint)
	if err := f.fail[a.Endpoint]; err != nil {
		return nil, err
	}
	return &remote.Response{StatusCode: http.StatusOK}, nil
}

type recorder struct {
	ok, failed []string
}

func (r *recorder) Replayed(a queue.Action, _ *remote.Response) { r.ok = append(r.ok, a.Endpoint) }
func (r *recorder) ReplayFailed(a queue.Action, _ error)        { r.failed = append(r.failed, a.Endpoint) }

func endpoints(actions []queue.Action) []string {
	out := []string{}
	for _, a := range actions {
		out = append(out, a.Endpoint)
	}
	return out
}

func enqueue(t *testing.T, q *queue.Queue, endpoints ...string) {
	t.Helper()
	for _, e := range endpoints {
		_, err := q.Enqueue(queue.KindCreate, e, http.MethodPost, map[string]string{"e": e}, nil)
		require.NoError(t, err)
	}
}

func TestDrain_KeepsOnlyFailures(t *testing.T) {
	q := queue.New(cache.NewMemoryDB())
	enqueue(t, q, "/a", "/b", "/c")

	rp := &fakeReplayer{fail: map[string]error{"/b": &remote.StatusError{Code: http.StatusInternalServerError}}}
	rec := &recorder{}
	r := New(q, rp, online(true), zerolog.Nop())
	r.Observe(rec)

	res, err := r.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"/a", "/b", "/c"}, rp.calls)
	assert.Equal(t, []string{"/b"}, endpoints(q.PeekAll()))
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 2, res.Replayed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"/a", "/c"}, rec.ok)
	assert.Equal(t, []string{"/b"}, rec.failed)
}

func TestDrain_OfflineIsNoop(t *testing.T) {
	q := queue.New(cache.NewMemoryDB())
	enqueue(t, q, "/a")
	rp := &fakeReplayer{}

	res, err := New(q, rp, online(false), zerolog.Nop()).Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, rp.calls)
	assert.Equal(t, 1, q.Len())
}

func TestDrain_EmptyQueue(t *testing.T) {
	q := queue.New(cache.NewMemoryDB())
	res, err := New(q, &fakeReplayer{}, online(true), zerolog.Nop()).Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.False(t, res.Skipped)
}

func TestDrain_FailuresRetriedNextPass(t *testing.T) {
	q := queue.New(cache.NewMemoryDB())
	enqueue(t, q, "/a", "/b")
	rp := &fakeReplayer{fail: map[string]error{"/a": errors.New("connection refused")}}
	r := New(q, rp, online(true), zerolog.Nop())

	_, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/a"}, endpoints(q.PeekAll()))

	rp.fail = nil
	res, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replayed)
	assert.Zero(t, q.Len())
}

func TestDrain_ConcurrentCallSkipped(t *testing.T) {
	q := queue.New(cache.NewMemoryDB())
	enqueue(t, q, "/a")
	rp := &fakeReplayer{block: make(chan struct{})}
	r := New(q, rp, online(true), zerolog.Nop())

	first := make(chan Result)
	go func() {
		res, _ := r.Drain(context.Background())
		first <- res
	}()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.draining
	}, time.Second, time.Millisecond)

	res, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(rp.block)
	assert.Equal(t, 1, (<-first).Replayed)
	assert.Zero(t, q.Len())
}

func TestDrain_CancelledContext(t *testing.T) {
	q := queue.New(cache.NewMemoryDB())
	enqueue(t, q, "/a", "/b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(q, &fakeReplayer{}, online(true), zerolog.Nop()).Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, q.Len())
}

func TestDrain_AgainstServer(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/api/events/2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := remote.New(srv.URL)
	require.NoError(t, err)

	q := queue.New(cache.NewMemoryDB())
	_, _ = q.Enqueue(queue.KindCreate, "/api/events/1/join", http.MethodPost, nil, nil)
	_, _ = q.Enqueue(queue.KindUpdate, "/api/events/2", http.MethodPut, map[string]string{"title": "x"}, nil)
	_, _ = q.Enqueue(queue.KindDelete, "/api/rewards/3", http.MethodDelete, nil, nil)

	mon := netstate.NewMonitor(false, zerolog.Nop())
	r := New(q, client, mon, zerolog.Nop())
	r.Run(context.Background(), mon.OnReconnect)

	mon.Set(true)
	mon.Wait()

	assert.Equal(t, []string{"POST /api/events/1/join", "PUT /api/events/2", "DELETE /api/rewards/3"}, seen)
	require.Equal(t, 1, q.Len())
	assert.Equal(t, "/api/events/2", q.PeekAll()[0].Endpoint)
}
