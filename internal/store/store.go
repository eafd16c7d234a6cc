// Package store provides the schema-less record store the services run on.
// Records are opaque byte values addressed by string keys. Every driver
// offers point lookups, create-only puts, atomic read-modify-write updates,
// ordered prefix enumeration and batched writes with partial-failure
// reporting.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key has no record.
	ErrNotFound = errors.New("store: record not found")
	// ErrConditionFailed is returned when a conditional write was rejected.
	// An UpdateFunc returns it to abort an update without side effects.
	ErrConditionFailed = errors.New("store: condition not met")
	// ErrContention is returned when an update lost every optimistic retry.
	ErrContention = errors.New("store: too much contention")
)

// Record is a key and its raw value.
type Record struct {
	Key   string
	Value []byte
}

// UpdateFunc receives the current value of a record inside the atomic
// section and returns the value to write. Returning (nil, nil) leaves the
// record untouched; returning ErrConditionFailed aborts the update.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is implemented by every record store driver.
type Store interface {
	// Get returns the value stored at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put unconditionally writes value at key.
	Put(ctx context.Context, key string, value []byte) error
	// PutIfAbsent writes value only when key has no record, otherwise it
	// returns ErrConditionFailed.
	PutIfAbsent(ctx context.Context, key string, value []byte) error
	// Update atomically applies fn to the record at key and returns the value
	// left in the store. A missing record yields ErrNotFound; Update never
	// creates records.
	Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Scan returns every record whose key starts with prefix, ordered by key.
	Scan(ctx context.Context, prefix string) ([]Record, error)
	// BatchPut writes records and returns the keys that were not written.
	// A non-nil error means the batch failed as a whole.
	BatchPut(ctx context.Context, records []Record) ([]string, error)
	// BatchDelete removes keys and returns the keys that were not removed.
	BatchDelete(ctx context.Context, keys []string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConditionFailed reports whether err is or wraps ErrConditionFailed.
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

func recordKeys(records []Record) []string {
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.Key
	}
	return keys
}
