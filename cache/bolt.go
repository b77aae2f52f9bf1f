package cache

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// BoltOptions configures OpenBolt.
type BoltOptions struct {
	// Timeout bounds how long Open waits for the file lock.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// BoltDB implements DB on a single bbolt file, one bucket per namespace.
// It is safe for concurrent use by multiple goroutines.
type BoltDB struct {
	db  *bolt.DB
	log zerolog.Logger
}

// OpenBolt initializes or opens a BoltDB at the given path.
func OpenBolt(path string, opts BoltOptions) (*BoltDB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, err
	}
	return &BoltDB{db: db, log: opts.Logger}, nil
}

// Namespace returns the store backed by the bucket called name. The bucket is
// created on first write.
func (b *BoltDB) Namespace(name string) Store {
	return &boltStore{
		db:     b.db,
		bucket: []byte(name),
		log:    b.log.With().Str("namespace", name).Logger(),
	}
}

// Namespaces implements DB.
func (b *BoltDB) Namespaces() []string {
	var names []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		b.log.Warn().Err(err).Msg("list namespaces failed")
		return nil
	}
	sort.Strings(names)
	return names
}

// Close closes the underlying database.
func (b *BoltDB) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

type boltStore struct {
	db     *bolt.DB
	bucket []byte
	log    zerolog.Logger
}

func (s *boltStore) Get(key string) ([]byte, bool) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		return nil, false
	}
	return out, out != nil
}

func (s *boltStore) Set(key string, value []byte) {
	if value == nil {
		value = []byte{}
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

func (s *boltStore) Remove(key string) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache remove failed")
	}
}

func (s *boltStore) Keys() []string {
	keys := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("cache keys failed")
		return []string{}
	}
	return keys
}

func (s *boltStore) Clear() {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return nil
		}
		return tx.DeleteBucket(s.bucket)
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("cache clear failed")
	}
}
