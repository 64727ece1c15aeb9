// Package db defines the generic key-value storage interface shared by
// DocStore, RagIndex and the protocol engine's local state. Concrete
// backends (pebbledb, inmemory) implement Database and WriteTx.
package db

import "errors"

// Database types recognized by the generic constructors in this module.
const (
	TypePebble = "pebble"
	TypeMemory = "memory"
)

var (
	// ErrKeyNotFound is returned by Get when the key does not exist.
	ErrKeyNotFound = errors.New("key not found")
	// ErrConflict is returned by WriteTx.Commit when an optimistic
	// concurrency check fails (in-memory backend only; pebble relies on
	// its own indexed batches and never returns this).
	ErrConflict = errors.New("write conflict")
)

// Options configures the construction of a Database backend.
type Options struct {
	// Path is the on-disk directory for file-backed databases. Ignored by
	// the in-memory backend.
	Path string
}

// Database is a minimal, ordered key-value store. Implementations must
// support concurrent readers with a single logical writer (enforced by the
// caller serializing WriteTx usage, not by the interface itself).
type Database interface {
	// Get reads a key outside of any transaction.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback for every key with the given prefix, in
	// ascending key order, stripping the prefix from the keys passed to
	// callback. Iteration stops early if callback returns false.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
	// WriteTx starts a new read-write transaction.
	WriteTx() WriteTx
	// Compact triggers backend-specific compaction. A no-op is
	// acceptable for backends without a compaction concept.
	Compact() error
	// Close releases the database's resources.
	Close() error
}

// WriteTx is a read-write transaction over a Database. Keys read or written
// through a WriteTx are only visible to other transactions once Commit
// succeeds.
type WriteTx interface {
	Get(key []byte) ([]byte, error)
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
	Set(key, value []byte) error
	Delete(key []byte) error
	// Apply merges the writes recorded in other into this transaction.
	Apply(other WriteTx) error
	Commit() error
	Discard()
}

// Unwrapper is implemented by WriteTx wrappers (such as prefixeddb's scoped
// transaction) that need to expose the underlying transaction so backends
// can perform type-specific operations, e.g. PebbleDB batch-to-batch Apply.
type Unwrapper interface {
	Unwrap() WriteTx
}

// UnwrapWriteTx follows tx.Unwrap() until it reaches a WriteTx that is not
// an Unwrapper, returning the innermost (backend-native) transaction.
func UnwrapWriteTx(tx WriteTx) WriteTx {
	for {
		u, ok := tx.(Unwrapper)
		if !ok {
			return tx
		}
		tx = u.Unwrap()
	}
}
