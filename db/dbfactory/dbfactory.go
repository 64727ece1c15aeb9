// Package dbfactory selects and constructs a db.Database backend by name.
// It exists as its own package (rather than living in db itself) so that
// db stays free of a dependency on every backend implementation.
package dbfactory

import (
	"cmp"
	"fmt"
	"os"
	"testing"

	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/db/inmemory"
	"github.com/askexperts/askexperts/db/pebbledb"
)

// New constructs a db.Database of the given type rooted at dir. dir is
// ignored by the memory backend.
func New(typ, dir string) (db.Database, error) {
	switch typ {
	case db.TypePebble:
		return pebbledb.New(db.Options{Path: dir})
	case db.TypeMemory:
		return inmemory.New(db.Options{Path: dir})
	default:
		return nil, fmt.Errorf("invalid db type %q: available types are %q, %q",
			typ, db.TypePebble, db.TypeMemory)
	}
}

// ForTest returns the db type to use in tests, honoring ASKX_DB_TYPE so CI
// can run the suite against both backends, and defaulting to pebble.
func ForTest() string {
	return cmp.Or(os.Getenv("ASKX_DB_TYPE"), db.TypePebble)
}

// NewTest builds a fresh database in a temp directory for tb, registering
// a cleanup hook that closes it.
func NewTest(tb testing.TB) db.Database {
	database, err := New(ForTest(), tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		if err := database.Close(); err != nil {
			tb.Error(err)
		}
	})
	return database
}
