package repository

import "errors"

var (
	// ErrNotFound is returned when a key does not exist in a store.
	ErrNotFound = errors.New("not found")
	// ErrQueueEmpty is returned by Dequeue when no task is ready.
	ErrQueueEmpty = errors.New("queue empty")
)
