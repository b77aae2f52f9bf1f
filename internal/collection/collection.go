// Package collection provides an ordered, id-keyed set of records.
package collection

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrDuplicateID = errors.New("collection: duplicate id")
	ErrMissingID   = errors.New("collection: record has no id")
)

// Record is anything with a stable string id.
type Record interface {
	RecordID() string
}

// Collection keeps records in insertion order with O(1) lookup by id.
// It is not safe for concurrent use; callers hold their own lock.
type Collection[T Record] struct {
	order []string
	items map[string]T
}

// New builds a collection from items, keeping the last occurrence of a
// repeated id in the position of its first occurrence.
func New[T Record](items ...T) *Collection[T] {
	c := &Collection[T]{items: make(map[string]T, len(items))}
	for _, it := range items {
		_ = c.Put(it)
	}
	return c
}

// NewID returns a fresh random record id.
func NewID() string {
	return uuid.NewString()
}

// Insert adds a record whose id must not already be present.
func (c *Collection[T]) Insert(item T) error {
	id := item.RecordID()
	if id == "" {
		return ErrMissingID
	}
	if _, ok := c.items[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	c.order = append(c.order, id)
	c.items[id] = item
	return nil
}

// Put inserts or replaces a record. A replaced record keeps its position.
func (c *Collection[T]) Put(item T) error {
	id := item.RecordID()
	if id == "" {
		return ErrMissingID
	}
	if _, ok := c.items[id]; !ok {
		c.order = append(c.order, id)
	}
	c.items[id] = item
	return nil
}

func (c *Collection[T]) Get(id string) (T, bool) {
	it, ok := c.items[id]
	return it, ok
}

// Delete removes the record with id and reports whether it existed.
func (c *Collection[T]) Delete(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

func (c *Collection[T]) Len() int { return len(c.order) }

// Items returns the records in insertion order. The slice is never nil.
func (c *Collection[T]) Items() []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Filter returns the records for which keep returns true, in order.
func (c *Collection[T]) Filter(keep func(T) bool) []T {
	out := []T{}
	for _, id := range c.order {
		if it := c.items[id]; keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// MarshalJSON encodes the collection as a JSON array.
func (c *Collection[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Items())
}

// UnmarshalJSON decodes a JSON array, rejecting repeated ids.
func (c *Collection[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	fresh := &Collection[T]{items: make(map[string]T, len(items))}
	for _, it := range items {
		if err := fresh.Insert(it); err != nil {
			return err
		}
	}
	*c = *fresh
	return nil
}
