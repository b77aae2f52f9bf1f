// Package cache provides namespaced, persistent key-value storage for the
// offline client. Reads never fail: a storage error is logged and reported as
// a miss, and writes that fail are logged and dropped.
package cache

import (
	"encoding/json"
	"time"
)

// Entry is a cached payload with the time it was stored.
type Entry struct {
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"stored_at"`
}

// Reader defines the read side of a namespace
type Reader interface {
	// Get returns the stored value and true, or nil and false on a miss or
	// storage error.
	Get(key string) ([]byte, bool)
	// Keys lists every key in the namespace.
	Keys() []string
}

// Writer defines the write side of a namespace
type Writer interface {
	// Set overwrites the value stored at key.
	Set(key string, value []byte)
	Remove(key string)
	// Clear drops every key in the namespace.
	Clear()
}

// Store is one namespace of a DB
type Store interface {
	Reader
	Writer
}

// DB hands out independent namespaces so that collections never collide on
// key names.
type DB interface {
	Namespace(name string) Store
	// Namespaces lists the namespaces that currently hold data.
	Namespaces() []string
	Close() error
}
