package repository

import "context"

// UpdateFunc receives the current value of a key and returns the value to
// store. Returning a nil slice leaves the stored value untouched.
type UpdateFunc func(current []byte) ([]byte, error)

// RecordStore defines the interface for the durable key-value store holding
// audit records.
type RecordStore interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Update performs an atomic read-modify-write of an existing key.
	// It returns ErrNotFound without calling fn when the key does not exist.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	// Keys returns all keys starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
