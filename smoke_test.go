package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/bperks/cache"
	"github.com/briangreenhill/bperks/internal/auth"
	"github.com/briangreenhill/bperks/internal/entities"
	"github.com/briangreenhill/bperks/internal/http/routes"
	"github.com/briangreenhill/bperks/internal/netstate"
	"github.com/briangreenhill/bperks/internal/offline"
	"github.com/briangreenhill/bperks/internal/remote"
	"github.com/briangreenhill/bperks/internal/rewards"
	"github.com/briangreenhill/bperks/internal/storage"
)

// TestSmokeTest runs the API on Postgres and drives it with the offline
// client: a report filed offline reaches the database after reconnect.
func TestSmokeTest(t *testing.T) {
	// Skip if no database URL provided
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping smoke test")
	}
	ctx := context.Background()

	store, err := storage.Open(storage.DriverPostgres, dbURL)
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck
	require.NoError(t, store.Ping(ctx))

	svc := rewards.New(store, auth.ClaimCodes{Secret: []byte("smoke-claim-secret")})
	s := routes.New(routes.ServerOptions{
		Sess:   scs.New(),
		Svc:    svc,
		Tokens: auth.Tokens{Secret: []byte("smoke-token-secret")},
		Logger: zerolog.Nop(),
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	username := "smoke-" + time.Now().Format("20060102150405.000000")
	body, _ := json.Marshal(rewards.NewUser{Username: username})
	resp, err := http.Post(srv.URL+"/api/users", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body, _ = json.Marshal(map[string]string{"username": username})
	resp, err = http.Post(srv.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var login struct {
		Token string        `json:"token"`
		User  entities.User `json:"user"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	_ = resp.Body.Close()

	rc, err := remote.New(srv.URL, remote.WithToken(login.Token))
	require.NoError(t, err)
	mon := netstate.NewMonitor(false, zerolog.Nop())
	c, err := offline.New(offline.Options{DB: cache.NewMemoryDB(), Remote: rc, UserID: login.User.ID, Monitor: mon})
	require.NoError(t, err)

	rep, err := c.CreateReport(ctx, entities.Report{Title: "Smoke test pothole"})
	require.NoError(t, err)
	require.Equal(t, 1, c.PendingCount())

	require.True(t, c.Probe(ctx))
	res, err := c.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Replayed)

	got, err := storage.GetJSON[entities.Report](ctx, store, entities.Reports, rep.ID)
	require.NoError(t, err)
	require.Equal(t, login.User.ID, got.UserID)
}
