package cache

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]DB {
	t.Helper()

	bdb, err := OpenBolt(filepath.Join(t.TempDir(), "cache.bbolt"), BoltOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bdb.Close() })

	fdb, err := OpenFileDB(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	return map[string]DB{
		"bolt":   bdb,
		"file":   fdb,
		"memory": NewMemoryDB(),
	}
}

func TestStore_MissingKey(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			v, ok := db.Namespace("events").Get("never-written")
			assert.False(t, ok)
			assert.Nil(t, v)
			assert.Empty(t, db.Namespace("events").Keys())
		})
	}
}

func TestStore_SetGetOverwrite(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := db.Namespace("rewards")
			s.Set("snapshot", []byte(`[1,2]`))
			s.Set("snapshot", []byte(`[3]`))

			v, ok := s.Get("snapshot")
			require.True(t, ok)
			assert.Equal(t, `[3]`, string(v))
		})
	}
}

func TestStore_NamespacesAreIndependent(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			db.Namespace("events").Set("snapshot", []byte("events"))
			db.Namespace("news").Set("snapshot", []byte("news"))

			v, _ := db.Namespace("events").Get("snapshot")
			assert.Equal(t, "events", string(v))
			v, _ = db.Namespace("news").Get("snapshot")
			assert.Equal(t, "news", string(v))

			db.Namespace("events").Clear()
			_, ok := db.Namespace("events").Get("snapshot")
			assert.False(t, ok)
			_, ok = db.Namespace("news").Get("snapshot")
			assert.True(t, ok)
		})
	}
}

func TestStore_KeysAndRemove(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := db.Namespace("tiles")
			s.Set("https://a.tile.example/1/0/0.png", []byte{1})
			s.Set("https://b.tile.example/1/1/0.png", []byte{2})

			assert.ElementsMatch(t, []string{
				"https://a.tile.example/1/0/0.png",
				"https://b.tile.example/1/1/0.png",
			}, s.Keys())

			s.Remove("https://a.tile.example/1/0/0.png")
			s.Remove("not-there")
			assert.Equal(t, []string{"https://b.tile.example/1/1/0.png"}, s.Keys())
		})
	}
}

func TestStore_ClearTwice(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := db.Namespace("queue")
			s.Set("actions", []byte("[]"))
			s.Clear()
			assert.Empty(t, s.Keys())
			s.Clear()
			assert.Empty(t, s.Keys())
		})
	}
}

func TestBolt_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bbolt")

	db, err := OpenBolt(path, BoltOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	db.Namespace("users").Set("u1", []byte(`{"id":"u1"}`))
	require.NoError(t, db.Close())

	db, err = OpenBolt(path, BoltOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	v, ok := db.Namespace("users").Get("u1")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"u1"}`, string(v))
	assert.Equal(t, []string{"users"}, db.Namespaces())
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "plain", sanitizeKey("plain"))
	assert.NotEqual(t, sanitizeKey("a:b"), sanitizeKey("a_b"))
	assert.NotContains(t, sanitizeKey("https://x/y?z=1"), "/")
	assert.Len(t, sanitizeKey(string(make([]byte, 300))), len("hash_")+32)
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "/api/events", KeyFor("/api/events", nil))
	assert.Equal(t, "/api/news?kind=alert&limit=5",
		KeyFor("/api/news", map[string]string{"limit": "5", "kind": "alert"}))
}
