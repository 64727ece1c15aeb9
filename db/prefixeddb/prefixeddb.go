// Package prefixeddb namespaces a db.Database (or db.WriteTx) under a byte
// prefix, so unrelated components can safely share a single underlying
// pebble/inmemory instance without key collisions. DocStore and RagIndex
// do not use it; they namespace their rows with their own key prefixes.
package prefixeddb

import (
	"bytes"

	"github.com/askexperts/askexperts/db"
)

// prefixedReader adapts a db.Database to expose only the keyspace under
// prefix, with the prefix stripped from keys on the way out.
type prefixedReader struct {
	parent db.Database
	prefix []byte
}

// NewPrefixedReader returns a read-only view of parent scoped to prefix.
// Iterate results have prefix already stripped.
func NewPrefixedReader(parent db.Database, prefix []byte) db.Database {
	return &prefixedReader{parent: parent, prefix: bytes.Clone(prefix)}
}

func (r *prefixedReader) Get(key []byte) ([]byte, error) {
	return r.parent.Get(joinKey(r.prefix, key))
}

func (r *prefixedReader) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return r.parent.Iterate(joinKey(r.prefix, prefix), callback)
}

func (r *prefixedReader) WriteTx() db.WriteTx {
	return NewPrefixedWriteTx(r.parent.WriteTx(), r.prefix)
}

func (r *prefixedReader) Compact() error { return r.parent.Compact() }
func (r *prefixedReader) Close() error   { return r.parent.Close() }

// NewPrefixedDatabase is an alias of NewPrefixedReader: a prefixed
// db.Database supports the exact same read/write/admin surface, the name
// just reads better at call sites that treat the prefix as "its own"
// logical database rather than a scoped view of a parent.
func NewPrefixedDatabase(parent db.Database, prefix []byte) db.Database {
	return NewPrefixedReader(parent, prefix)
}

// prefixedWriteTx adapts a db.WriteTx the same way prefixedReader adapts a
// db.Database, additionally implementing db.Unwrapper so backend-specific
// operations (PebbleDB batch Apply) can reach the underlying transaction.
type prefixedWriteTx struct {
	parent db.WriteTx
	prefix []byte
}

// NewPrefixedWriteTx scopes an existing transaction to prefix. Commit and
// Discard are forwarded to parent, so the caller still owns the parent
// transaction's lifecycle.
func NewPrefixedWriteTx(parent db.WriteTx, prefix []byte) db.WriteTx {
	return &prefixedWriteTx{parent: parent, prefix: bytes.Clone(prefix)}
}

func (tx *prefixedWriteTx) Get(key []byte) ([]byte, error) {
	return tx.parent.Get(joinKey(tx.prefix, key))
}

func (tx *prefixedWriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return tx.parent.Iterate(joinKey(tx.prefix, prefix), callback)
}

func (tx *prefixedWriteTx) Set(key, value []byte) error {
	return tx.parent.Set(joinKey(tx.prefix, key), value)
}

func (tx *prefixedWriteTx) Delete(key []byte) error {
	return tx.parent.Delete(joinKey(tx.prefix, key))
}

func (tx *prefixedWriteTx) Apply(other db.WriteTx) error {
	return other.Iterate(nil, func(k, v []byte) bool {
		return tx.Set(k, v) == nil
	})
}

func (tx *prefixedWriteTx) Commit() error { return tx.parent.Commit() }
func (tx *prefixedWriteTx) Discard()      { tx.parent.Discard() }

// Unwrap exposes the wrapped transaction so db.UnwrapWriteTx can reach the
// backend-native transaction underneath one or more prefix layers.
func (tx *prefixedWriteTx) Unwrap() db.WriteTx { return tx.parent }

func joinKey(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	out = append(out, key...)
	return out
}
