// Package store persists loqui's durable user and message records in an
// embedded Badger key-value database. Message keys embed a zero-padded
// creation timestamp so prefix scans return records in chronological order.
package store

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrUserExists = errors.New("user already exists")
)

// Open opens the Badger database at dir. An empty dir opens an in-memory
// database, used by tests and throwaway deployments.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	return badger.Open(opts)
}
