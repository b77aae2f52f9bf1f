package offline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/bperks/cache"
	"github.com/briangreenhill/bperks/internal/entities"
	"github.com/briangreenhill/bperks/internal/localcache"
	"github.com/briangreenhill/bperks/internal/netstate"
	"github.com/briangreenhill/bperks/internal/remote"
)

// backend is a scripted stand-in for the API.
type backend struct {
	mu     sync.Mutex
	calls  []string
	events []entities.Event
	status map[string]int
	body   map[string]string
	last   map[string]string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := r.Method + " " + r.URL.Path
	b.calls = append(b.calls, key)
	raw, _ := io.ReadAll(r.Body)
	if b.last == nil {
		b.last = map[string]string{}
	}
	b.last[key] = string(raw)

	if code, ok := b.status[key]; ok {
		w.WriteHeader(code)
		_, _ = io.WriteString(w, b.body[key])
		return
	}
	switch key {
	case "GET /healthz":
		w.WriteHeader(http.StatusOK)
	case "GET /api/events":
		_ = json.NewEncoder(w).Encode(b.events)
	case "POST /api/reports":
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(raw)
	default:
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "{}")
	}
}

// heal clears a scripted failure for key.
func (b *backend) heal(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.status, key)
}

func (b *backend) lastBody(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last[key]
}

func (b *backend) called() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func newClient(t *testing.T, b *backend, online bool) (*Client, *netstate.Monitor) {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	rc, err := remote.New(srv.URL)
	require.NoError(t, err)
	mon := netstate.NewMonitor(online, zerolog.Nop())
	c, err := New(Options{
		DB:            cache.NewMemoryDB(),
		Remote:        rc,
		UserID:        "u1",
		Monitor:       mon,
		ProbeInterval: 10 * time.Millisecond,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	return c, mon
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestClaimReward_InsufficientPointsNotQueued(t *testing.T) {
	b := &backend{}
	c, _ := newClient(t, b, true)
	localcache.SetCollection(c.Cache(), entities.Users, []entities.User{{ID: "u1", Username: "ana", Points: 50}})
	localcache.SetCollection(c.Cache(), entities.Rewards, []entities.Reward{{ID: "r1", Name: "Bus pass", PointsCost: 100, Stock: 3}})

	_, err := c.ClaimReward(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrInsufficientPoints)
	assert.Zero(t, c.PendingCount())
	assert.Empty(t, b.called())
}

func TestClaimReward_OutOfStockAndOffline(t *testing.T) {
	b := &backend{}
	c, mon := newClient(t, b, false)
	localcache.SetCollection(c.Cache(), entities.Users, []entities.User{{ID: "u1", Points: 500}})
	localcache.SetCollection(c.Cache(), entities.Rewards, []entities.Reward{
		{ID: "r1", PointsCost: 100, Stock: 0},
		{ID: "r2", PointsCost: 100, Stock: 1},
	})

	_, err := c.ClaimReward(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrOutOfStock)

	_, err = c.ClaimReward(context.Background(), "r2")
	assert.ErrorIs(t, err, ErrOffline)
	assert.Zero(t, c.PendingCount())
	assert.False(t, mon.IsOnline())
}

func TestClaimReward_ServerRejection(t *testing.T) {
	b := &backend{
		status: map[string]int{"POST /api/rewards/r1/claim": http.StatusUnprocessableEntity},
		body:   map[string]string{"POST /api/rewards/r1/claim": `{"error":"insufficient points"}`},
	}
	c, _ := newClient(t, b, true)

	_, err := c.ClaimReward(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrInsufficientPoints)
	assert.Zero(t, c.PendingCount())
}

func TestClaimReward_UpdatesCache(t *testing.T) {
	b := &backend{
		status: map[string]int{"POST /api/rewards/r1/claim": http.StatusCreated},
		body:   map[string]string{"POST /api/rewards/r1/claim": `{"id":"c1","userId":"u1","rewardId":"r1","code":"ABC","pointsSpent":100,"status":"issued"}`},
	}
	c, _ := newClient(t, b, true)
	localcache.SetCollection(c.Cache(), entities.Users, []entities.User{{ID: "u1", Points: 150}})
	localcache.SetCollection(c.Cache(), entities.Rewards, []entities.Reward{{ID: "r1", PointsCost: 100, Stock: 2}})

	cl, err := c.ClaimReward(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "ABC", cl.Code)

	u, _ := localcache.GetByID[entities.User](c.Cache(), entities.Users, "u1")
	assert.Equal(t, 50, u.Points)
	r, _ := localcache.GetByID[entities.Reward](c.Cache(), entities.Rewards, "r1")
	assert.Equal(t, 1, r.Stock)
	_, ok := localcache.GetByID[entities.Claim](c.Cache(), entities.Claims, "c1")
	assert.True(t, ok)
}

func TestEvents_OfflineUncachedEnvelope(t *testing.T) {
	c, _ := newClient(t, &backend{}, false)

	res, err := c.Events(context.Background())
	require.NoError(t, err)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"offline":true,"data":[]}`, string(raw))
}

func TestEvents_ReadThroughThenCacheFallback(t *testing.T) {
	b := &backend{events: []entities.Event{{ID: "e1", Title: "Park cleanup"}}}
	c, mon := newClient(t, b, true)

	res, err := c.Events(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Offline)
	require.Len(t, res.Data, 1)

	mon.Set(false)
	res, err = c.Events(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Offline)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "Park cleanup", res.Data[0].Title)
}

func TestEvents_TransientFailureServesCache(t *testing.T) {
	b := &backend{status: map[string]int{"GET /api/events": http.StatusBadGateway}}
	c, _ := newClient(t, b, true)
	localcache.SetCollection(c.Cache(), entities.Events, []entities.Event{{ID: "e1"}})

	res, err := c.Events(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Offline)
	assert.Len(t, res.Data, 1)
}

func TestEvents_RefreshKeepsPendingRecords(t *testing.T) {
	b := &backend{events: []entities.Event{{ID: "e1"}}}
	c, mon := newClient(t, b, false)

	created, err := c.CreateEvent(context.Background(), entities.Event{Title: "Night market"})
	require.NoError(t, err)
	assert.Equal(t, entities.SyncPending, created.SyncState)

	mon.Set(true)
	c.Monitor().Wait()
	res, err := c.Events(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, e := range res.Data {
		ids = append(ids, e.ID)
	}
	assert.Contains(t, ids, "e1")
	assert.Contains(t, ids, created.ID)
}

func TestCreateReport_OfflineThenDrain(t *testing.T) {
	b := &backend{}
	c, mon := newClient(t, b, false)

	r, err := c.CreateReport(context.Background(), entities.Report{Title: "Broken lamp", Lat: 45.1, Lng: 15.2})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, entities.SyncPending, r.SyncState)
	assert.Equal(t, 1, c.PendingCount())

	mon.Set(true)
	res, err := c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replayed)
	assert.Zero(t, c.PendingCount())

	got, ok := localcache.GetByID[entities.Report](c.Cache(), entities.Reports, r.ID)
	require.True(t, ok)
	assert.Equal(t, entities.SyncConfirmed, got.SyncState)
}

func TestCreateReport_FailedReplayMarksFailed(t *testing.T) {
	b := &backend{status: map[string]int{"POST /api/reports": http.StatusInternalServerError}}
	c, mon := newClient(t, b, false)

	r, err := c.CreateReport(context.Background(), entities.Report{Title: "Flooding"})
	require.NoError(t, err)

	mon.Set(true)
	c.Monitor().Wait()
	_, err = c.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, c.PendingCount())
	got, _ := localcache.GetByID[entities.Report](c.Cache(), entities.Reports, r.ID)
	assert.Equal(t, entities.SyncFailed, got.SyncState)
}

func TestCreateReport_Online(t *testing.T) {
	c, _ := newClient(t, &backend{}, true)

	r, err := c.CreateReport(context.Background(), entities.Report{Title: "Graffiti"})
	require.NoError(t, err)
	assert.Equal(t, entities.SyncConfirmed, r.SyncState)
	assert.Equal(t, entities.ReportOpen, r.Status)
	assert.Zero(t, c.PendingCount())
}

func TestJoinEvent(t *testing.T) {
	b := &backend{}
	c, _ := newClient(t, b, false)
	localcache.SetCollection(c.Cache(), entities.Events, []entities.Event{
		{ID: "open", Capacity: 10, Participants: []string{}},
		{ID: "full", Capacity: 1, Participants: []string{"u9"}},
	})

	_, err := c.JoinEvent(context.Background(), "full")
	assert.ErrorIs(t, err, ErrEventFull)

	out, err := c.JoinEvent(context.Background(), "open")
	require.NoError(t, err)
	assert.True(t, out.Queued)

	ev, _ := localcache.GetByID[entities.Event](c.Cache(), entities.Events, "open")
	assert.True(t, ev.HasParticipant("u1"))
	assert.Equal(t, entities.SyncPending, ev.SyncState)

	_, err = c.JoinEvent(context.Background(), "open")
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	assert.Equal(t, 1, c.PendingCount())
}

func TestJoinEvent_PermanentRejectionNotQueued(t *testing.T) {
	b := &backend{
		status: map[string]int{"POST /api/events/e1/join": http.StatusConflict},
		body:   map[string]string{"POST /api/events/e1/join": `{"error":"event is full"}`},
	}
	c, _ := newClient(t, b, true)

	_, err := c.JoinEvent(context.Background(), "e1")
	assert.ErrorIs(t, err, ErrEventFull)
	assert.Zero(t, c.PendingCount())
}

func TestUpdateAndDeleteEvent_Offline(t *testing.T) {
	c, _ := newClient(t, &backend{}, false)
	localcache.SetCollection(c.Cache(), entities.Events, []entities.Event{{ID: "e1", Title: "Old"}})

	ev, err := c.UpdateEvent(context.Background(), entities.Event{ID: "e1", Title: "New"})
	require.NoError(t, err)
	assert.Equal(t, entities.SyncPending, ev.SyncState)

	_, err = c.DeleteEvent(context.Background(), "e1")
	require.NoError(t, err)

	_, ok := localcache.GetByID[entities.Event](c.Cache(), entities.Events, "e1")
	assert.False(t, ok)

	pending := c.Queue().PeekAll()
	require.Len(t, pending, 2)
	assert.Equal(t, http.MethodPut, pending[0].Method)
	assert.Equal(t, http.MethodDelete, pending[1].Method)
}

func TestStart_DrainsOnReconnect(t *testing.T) {
	b := &backend{}
	c, _ := newClient(t, b, false)
	_, err := c.CreateReport(context.Background(), entities.Report{Title: "Pothole"})
	require.NoError(t, err)

	c.Start(context.Background())
	c.Start(context.Background())
	require.Eventually(t, func() bool { return c.PendingCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	c.Stop()
	c.Stop()

	assert.Contains(t, b.called(), "POST /api/reports")
}

func TestMe_FallsBackToCache(t *testing.T) {
	c, _ := newClient(t, &backend{}, false)
	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, ErrOffline)

	localcache.SetCollection(c.Cache(), entities.Users, []entities.User{{ID: "u1", Points: 20}})
	u, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, u.Points)
}

func TestUpdateEvent_LaterUpdateWaitsForQueuedOne(t *testing.T) {
	b := &backend{status: map[string]int{"PUT /api/events/e1": http.StatusServiceUnavailable}}
	c, _ := newClient(t, b, true)

	v1, err := c.UpdateEvent(context.Background(), entities.Event{ID: "e1", Title: "v1"})
	require.NoError(t, err)
	assert.Equal(t, entities.SyncPending, v1.SyncState)

	b.heal("PUT /api/events/e1")
	v2, err := c.UpdateEvent(context.Background(), entities.Event{ID: "e1", Title: "v2"})
	require.NoError(t, err)
	assert.Equal(t, entities.SyncPending, v2.SyncState)
	assert.Equal(t, 2, c.PendingCount())

	res, err := c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Replayed)
	assert.Zero(t, c.PendingCount())

	var final entities.Event
	require.NoError(t, json.Unmarshal([]byte(b.lastBody("PUT /api/events/e1")), &final))
	assert.Equal(t, "v2", final.Title)
}

func TestStart_DrainsBacklogWhileStayingOnline(t *testing.T) {
	b := &backend{status: map[string]int{"POST /api/reports": http.StatusServiceUnavailable}}
	c, mon := newClient(t, b, true)
	c.Start(context.Background())
	defer c.Stop()

	r, err := c.CreateReport(context.Background(), entities.Report{Title: "Loose paving"})
	require.NoError(t, err)
	assert.Equal(t, entities.SyncPending, r.SyncState)

	b.heal("POST /api/reports")
	require.Eventually(t, func() bool { return c.PendingCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, mon.IsOnline())

	require.Eventually(t, func() bool {
		got, _ := localcache.GetByID[entities.Report](c.Cache(), entities.Reports, r.ID)
		return got.SyncState == entities.SyncConfirmed
	}, time.Second, 10*time.Millisecond)
}

func TestTransactions_CachedPerUserWithStoredAt(t *testing.T) {
	b := &backend{
		status: map[string]int{"GET /api/users/u1/transactions": http.StatusOK},
		body:   map[string]string{"GET /api/users/u1/transactions": `[{"id":"t1","userId":"u1","delta":25,"reason":"event attended"}]`},
	}
	c, mon := newClient(t, b, true)

	res, err := c.Transactions(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Offline)
	assert.True(t, res.StoredAt.IsZero())
	require.Len(t, res.Data, 1)

	assert.Empty(t, localcache.GetCollection[entities.Transaction](c.Cache(), entities.Transactions))

	mon.Set(false)
	res, err = c.Transactions(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Offline)
	require.Len(t, res.Data, 1)
	assert.Equal(t, 25, res.Data[0].Delta)
	assert.False(t, res.StoredAt.IsZero())
}

func TestEvents_RefreshDoesNotLoseConcurrentLocalWrites(t *testing.T) {
	b := &backend{events: []entities.Event{{ID: "e1"}}}
	c, _ := newClient(t, b, true)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			localcache.Upsert(c.Cache(), entities.Events, entities.Event{
				ID:        "local-" + strconv.Itoa(i),
				SyncState: entities.SyncPending,
			})
		}(i)
		go func() {
			defer wg.Done()
			_, err := c.Events(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cached := localcache.Load[entities.Event](c.Cache(), entities.Events)
	for i := 0; i < n; i++ {
		_, ok := cached.Get("local-" + strconv.Itoa(i))
		assert.True(t, ok, "local-%d lost", i)
	}
}
