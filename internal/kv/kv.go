// Package kv provides the string-keyed storage backends used to persist
// pending mint confirmations.
package kv

import "errors"

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kv: key not found")

// Backend is a durable string key-value store. Implementations must be safe
// for concurrent use.
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
	// Update reads key and stores the value returned by fn as one atomic
	// step. found is false when the key has no value. If fn returns an
	// error nothing is written and Update returns that error.
	Update(key string, fn UpdateFunc) error
}

// UpdateFunc computes the next value of a key from its current one.
type UpdateFunc func(old string, found bool) (string, error)
