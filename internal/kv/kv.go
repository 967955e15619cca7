// Package kv provides the non-volatile key/value slots used by the daemon.
// Keys are namespaced paths (e.g. Key{"halo", "sampling_ms"}) encoded with
// a '/' separator. Values are msgpack-encoded scalars.
//
// Badger backs the store on the device; Memory backs it in tests and when
// the data volume cannot be opened.
package kv

import (
	"context"
	"errors"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// Key is a namespaced path of segments.
type Key []string

// String returns the encoded form of the key.
func (k Key) String() string {
	return strings.Join(k, "/")
}

func (k Key) bytes() []byte {
	return []byte(k.String())
}

// Entry is a key-value pair used by BatchSet.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key/value store with namespaced keys.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores a value, overwriting any existing one.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key Key) error

	// BatchSet atomically stores multiple entries.
	BatchSet(ctx context.Context, entries []Entry) error

	// Close releases any resources held by the store.
	Close() error
}

// Put encodes v with msgpack and stores it under key.
func Put(ctx context.Context, s Store, key Key, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, data)
}

// Load decodes the value stored under key into v.
// Returns ErrNotFound if the key is missing.
func Load(ctx context.Context, s Store, key Key, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(data, v)
}

// Encode builds an Entry with a msgpack-encoded value for BatchSet.
func Encode(key Key, v any) (Entry, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: key, Value: data}, nil
}
