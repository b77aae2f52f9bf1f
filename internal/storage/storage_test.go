package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "bperks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(DriverSQLite, " ")
	assert.Error(t, err)
	_, err = Open("mysql", "x")
	assert.Error(t, err)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, PutJSON(ctx, s, "rewards", "r1", doc{ID: "r1", Name: "Bus pass"}))
	got, err := GetJSON[doc](ctx, s, "rewards", "r1")
	require.NoError(t, err)
	assert.Equal(t, "Bus pass", got.Name)

	require.NoError(t, PutJSON(ctx, s, "rewards", "r1", doc{ID: "r1", Name: "Museum ticket"}))
	got, err = GetJSON[doc](ctx, s, "rewards", "r1")
	require.NoError(t, err)
	assert.Equal(t, "Museum ticket", got.Name)

	_, err = s.Get(ctx, "events", "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "rewards", "r1"))
	assert.ErrorIs(t, s.Delete(ctx, "rewards", "r1"), ErrNotFound)
}

func TestList_CreationOrder(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, PutJSON(ctx, s, "events", id, doc{ID: id}))
	}
	// Updating keeps the original position.
	require.NoError(t, PutJSON(ctx, s, "events", "c", doc{ID: "c", Name: "updated"}))

	items, err := ListJSON[doc](ctx, s, "events")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{items[0].ID, items[1].ID, items[2].ID})
	assert.Equal(t, "updated", items[0].Name)

	empty, err := ListJSON[doc](ctx, s, "news")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestInTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx *Tx) error {
		require.NoError(t, PutJSON(ctx, tx, "claims", "c1", doc{ID: "c1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = s.Get(ctx, "claims", "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		return PutJSON(ctx, tx, "claims", "c1", doc{ID: "c1"})
	}))
	_, err = s.Get(ctx, "claims", "c1")
	assert.NoError(t, err)
}

func TestRebind(t *testing.T) {
	q := `SELECT body FROM documents WHERE collection = ? AND id = ?`
	assert.Equal(t, q, rebind(DriverSQLite, q))
	assert.Equal(t, `SELECT body FROM documents WHERE collection = $1 AND id = $2`, rebind(DriverPostgres, q))
}
