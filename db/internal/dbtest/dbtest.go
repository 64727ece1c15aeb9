// Package dbtest holds a backend-agnostic conformance suite shared by
// every db.Database implementation's own tests, so pebbledb and inmemory
// are exercised against the exact same behavioral contract.
package dbtest

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/db"
)

// TestWriteTx exercises Set/Get/Delete and Commit/Discard semantics.
func TestWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("a"), []byte("1")), qt.IsNil)
	c.Assert(tx.Set([]byte("b"), []byte("2")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	v, err := database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("1"))

	tx2 := database.WriteTx()
	defer tx2.Discard()
	c.Assert(tx2.Delete([]byte("a")), qt.IsNil)
	v2, err := tx2.Get([]byte("a"))
	c.Assert(err, qt.Equals, db.ErrKeyNotFound)
	c.Assert(v2, qt.IsNil)
	tx2.Discard()

	// discarded tx changes must not be visible
	v3, err := database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v3, qt.DeepEquals, []byte("1"))

	_, err = database.Get([]byte("does-not-exist"))
	c.Assert(err, qt.Equals, db.ErrKeyNotFound)
}

// TestIterate checks ascending, prefix-scoped iteration with prefix
// stripped from the keys handed to the callback, and early termination.
func TestIterate(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	for _, kv := range [][2]string{
		{"p/1", "a"}, {"p/2", "b"}, {"p/3", "c"}, {"q/1", "z"},
	} {
		c.Assert(tx.Set([]byte(kv[0]), []byte(kv[1])), qt.IsNil)
	}
	c.Assert(tx.Commit(), qt.IsNil)

	var keys []string
	c.Assert(database.Iterate([]byte("p/"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"1", "2", "3"})

	var count int
	c.Assert(database.Iterate([]byte("p/"), func(k, v []byte) bool {
		count++
		return false
	}), qt.IsNil)
	c.Assert(count, qt.Equals, 1)
}

// TestWriteTxApply checks that Apply merges a second, uncommitted
// transaction's writes into the receiver.
func TestWriteTxApply(t *testing.T, database db.Database) {
	c := qt.New(t)

	src := database.WriteTx()
	c.Assert(src.Set([]byte("k1"), []byte("v1")), qt.IsNil)
	c.Assert(src.Set([]byte("k2"), []byte("v2")), qt.IsNil)

	dst := database.WriteTx()
	c.Assert(dst.Apply(src), qt.IsNil)
	c.Assert(dst.Commit(), qt.IsNil)
	src.Discard()

	v, err := database.Get([]byte("k1"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("v1"))
}

// TestWriteTxApplyPrefixed checks that a prefixed database's WriteTx can
// still be Applied into a transaction over its unprefixed parent.
func TestWriteTxApplyPrefixed(t *testing.T, database db.Database, prefixed db.Database) {
	c := qt.New(t)

	src := prefixed.WriteTx()
	c.Assert(src.Set([]byte("k"), []byte("v")), qt.IsNil)

	dst := database.WriteTx()
	c.Assert(dst.Apply(src), qt.IsNil)
	c.Assert(dst.Commit(), qt.IsNil)
	src.Discard()

	v, err := prefixed.Get([]byte("k"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("v"))
}

// TestConcurrentWriteTx checks optimistic-concurrency conflict detection:
// two transactions reading then writing the same key must not both
// succeed at Commit.
func TestConcurrentWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx0 := database.WriteTx()
	c.Assert(tx0.Set([]byte("k"), []byte("0")), qt.IsNil)
	c.Assert(tx0.Commit(), qt.IsNil)

	txA := database.WriteTx()
	txB := database.WriteTx()

	_, err := txA.Get([]byte("k"))
	c.Assert(err, qt.IsNil)
	_, err = txB.Get([]byte("k"))
	c.Assert(err, qt.IsNil)

	c.Assert(txA.Set([]byte("k"), []byte("a")), qt.IsNil)
	c.Assert(txB.Set([]byte("k"), []byte("b")), qt.IsNil)

	c.Assert(txA.Commit(), qt.IsNil)
	c.Assert(txB.Commit(), qt.Equals, db.ErrConflict)
}
