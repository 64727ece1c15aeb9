package pebbledb

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/db/internal/dbtest"
	"github.com/askexperts/askexperts/db/prefixeddb"
)

func TestWriteTx(t *testing.T) {
	database, err := New(db.Options{Path: t.TempDir()})
	qt.Assert(t, err, qt.IsNil)
	dbtest.TestWriteTx(t, database)
}

func TestIterate(t *testing.T) {
	database, err := New(db.Options{Path: t.TempDir()})
	qt.Assert(t, err, qt.IsNil)
	dbtest.TestIterate(t, database)
}

func TestWriteTxApply(t *testing.T) {
	database, err := New(db.Options{Path: t.TempDir()})
	qt.Assert(t, err, qt.IsNil)
	dbtest.TestWriteTxApply(t, database)
}

func TestWriteTxApplyPrefixed(t *testing.T) {
	database, err := New(db.Options{Path: t.TempDir()})
	qt.Assert(t, err, qt.IsNil)
	prefixed := prefixeddb.NewPrefixedDatabase(database, []byte("one"))
	dbtest.TestWriteTxApplyPrefixed(t, database, prefixed)
}

// Pebble's indexed batch does not implement true snapshot-isolation
// conflict detection, so unlike inmemory it cannot satisfy
// dbtest.TestConcurrentWriteTx; callers needing that guarantee should use
// the inmemory backend or external locking.

func TestClosedDB(t *testing.T) {
	c := qt.New(t)

	database, err := New(db.Options{Path: t.TempDir()})
	c.Assert(err, qt.IsNil)

	key, value := []byte("key"), []byte("value")
	wTx := database.WriteTx()
	otherTx := database.WriteTx()
	c.Assert(wTx.Set(key, value), qt.IsNil)

	c.Assert(database.Close(), qt.IsNil)

	// Every operation on a handle outlived by a closed DB must recover from
	// the resulting panic rather than crash the process.
	_, _ = wTx.Get(key)
	_ = wTx.Set(key, []byte("new_value"))
	_ = wTx.Delete(key)
	_ = wTx.Iterate([]byte("prefix"), func(k, v []byte) bool {
		c.Fatalf("Iterate should not invoke the callback after closing the database")
		return true
	})
	_ = wTx.Apply(otherTx)
	_ = wTx.Commit()
	wTx.Discard()

	// Closing twice must not panic.
	c.Assert(database.Close(), qt.IsNil)
}
