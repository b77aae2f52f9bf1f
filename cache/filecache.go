package cache

import (
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FileDB implements DB on the filesystem: one directory per namespace and one
// JSON file per key.
type FileDB struct {
	dir string
	log zerolog.Logger
}

type fileRecord struct {
	Key       string    `json:"key"`
	WrittenAt time.Time `json:"written_at"`
	Value     []byte    `json:"value"`
}

// OpenFileDB creates the base directory if needed. If dir is empty, uses
// ~/.bperks_cache.
func OpenFileDB(dir string, log zerolog.Logger) (*FileDB, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".bperks_cache")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileDB{dir: dir, log: log}, nil
}

func (fdb *FileDB) Namespace(name string) Store {
	return &fileStore{
		dir: filepath.Join(fdb.dir, sanitizeKey(name)),
		log: fdb.log.With().Str("namespace", name).Logger(),
	}
}

func (fdb *FileDB) Namespaces() []string {
	entries, err := os.ReadDir(fdb.dir)
	if err != nil {
		fdb.log.Warn().Err(err).Msg("list namespaces failed")
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func (fdb *FileDB) Close() error { return nil }

type fileStore struct {
	dir string
	log zerolog.Logger
}

// path generates the full filesystem path for a cache key
func (fs *fileStore) path(key string) string {
	return filepath.Join(fs.dir, sanitizeKey(key)+".json")
}

func (fs *fileStore) read(path string) (*fileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (fs *fileStore) Get(key string) ([]byte, bool) {
	rec, err := fs.read(fs.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fs.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		return nil, false
	}
	return rec.Value, true
}

func (fs *fileStore) Set(key string, value []byte) {
	if err := fs.write(key, value); err != nil {
		fs.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

func (fs *fileStore) write(key string, value []byte) error {
	if err := os.MkdirAll(fs.dir, 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(&fileRecord{Key: key, WrittenAt: time.Now(), Value: value})
	if err != nil {
		return err
	}

	// Write to temporary file first, then rename (atomic operation)
	path := fs.path(key)
	tmpPath := path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (fs *fileStore) Remove(key string) {
	if err := os.Remove(fs.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		fs.log.Warn().Err(err).Str("key", key).Msg("cache remove failed")
	}
}

func (fs *fileStore) Keys() []string {
	keys := []string{}
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fs.log.Warn().Err(err).Msg("cache keys failed")
		}
		return keys
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := fs.read(filepath.Join(fs.dir, e.Name()))
		if err != nil {
			fs.log.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable cache file")
			continue
		}
		keys = append(keys, rec.Key)
	}
	sort.Strings(keys)
	return keys
}

func (fs *fileStore) Clear() {
	if err := os.RemoveAll(fs.dir); err != nil {
		fs.log.Warn().Err(err).Msg("cache clear failed")
	}
}

// sanitizeKey ensures the key is safe for use as a filename. Keys that had to
// be rewritten get a hash suffix so that distinct keys never share a file.
func sanitizeKey(key string) string {
	// For very long keys, use hash to avoid filesystem limits
	if len(key) > 200 {
		return fmt.Sprintf("hash_%x", md5.Sum([]byte(key)))
	}

	unsafe := []string{"/", "\\", ":", "?", "&", "=", "#", "<", ">", "|", "*", "\"", " "}
	result := key
	for _, char := range unsafe {
		result = strings.ReplaceAll(result, char, "_")
	}
	if result != key {
		result = fmt.Sprintf("%s_%x", result, md5.Sum([]byte(key)))[:len(result)+9]
	}
	return result
}
