// Package pebbledb implements db.Database and db.WriteTx on top of
// cockroachdb/pebble, an embedded ordered key-value store. It backs the
// on-disk DocStore, RagIndex and scheduler state tables.
package pebbledb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/askexperts/askexperts/db"
)

func get(reader pebble.Reader, k []byte) ([]byte, error) {
	defer handleClosedDBPanic()
	v, closer, err := reader.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}

	// v is only valid until closer.Close, so copy it before returning.
	v2 := bytes.Clone(v)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return v2, nil
}

func iterate(reader pebble.Reader, prefix []byte, callback func(k, v []byte) bool) (err error) {
	defer handleClosedDBPanic()
	iter, err := reader.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer func() {
		if errC := iter.Close(); err == nil {
			err = errC
		}
	}()

	for iter.First(); iter.Valid(); iter.Next() {
		localKey := iter.Key()[len(prefix):]
		if cont := callback(localKey, iter.Value()); !cont {
			break
		}
	}
	return iter.Error()
}

// keyUpperBound computes the exclusive upper bound for an iteration over
// all keys sharing the given prefix.
func keyUpperBound(b []byte) []byte {
	end := bytes.Clone(b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff, no upper bound
}

// handleClosedDBPanic swallows panics caused by operating on an already
// closed pebble handle, which can race in with an in-flight request during
// shutdown, and re-panics (with a stack trace attached) for anything else.
func handleClosedDBPanic() {
	r := recover()
	if r == nil {
		return
	}
	if strings.Contains(fmt.Sprintf("%v", r), "closed") {
		return
	}
	var stack []string
	for i := range 32 {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		name := ""
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
		}
		stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", name, file, line))
	}
	panic(fmt.Sprintf("panic during pebble operation: %v: %s", r, strings.Join(stack, "\n")))
}

// WriteTx is a pebble indexed batch wrapped as a db.WriteTx.
type WriteTx struct {
	batch *pebble.Batch
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(k []byte) ([]byte, error) { return get(tx.batch, k) }

func (tx *WriteTx) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	return iterate(tx.batch, prefix, callback)
}

func (tx *WriteTx) Set(k, v []byte) error {
	defer handleClosedDBPanic()
	return tx.batch.Set(k, v, nil)
}

func (tx *WriteTx) Delete(k []byte) error {
	defer handleClosedDBPanic()
	return tx.batch.Delete(k, nil)
}

// Apply merges other's writes into tx. other must ultimately unwrap to a
// pebble *WriteTx (e.g. a prefixeddb wrapper around one); merging across
// backends is not supported.
func (tx *WriteTx) Apply(other db.WriteTx) error {
	defer handleClosedDBPanic()
	otherTx, ok := db.UnwrapWriteTx(other).(*WriteTx)
	if !ok {
		return fmt.Errorf("pebbledb: Apply: other transaction is not pebble-backed")
	}
	return tx.batch.Apply(otherTx.batch, nil)
}

func (tx *WriteTx) Commit() error {
	defer handleClosedDBPanic()
	if tx.batch == nil {
		return fmt.Errorf("pebbledb: commit: transaction already committed or discarded")
	}
	err := tx.batch.Commit(nil)
	tx.batch = nil
	return err
}

func (tx *WriteTx) Discard() {
	if tx.batch == nil {
		// Allow discarding twice, or after a commit, to simplify defers.
		return
	}
	_ = tx.batch.Close()
	tx.batch = nil
}

// PebbleDB is a db.Database backed by an on-disk pebble instance.
type PebbleDB struct {
	db *pebble.DB
}

var _ db.Database = (*PebbleDB)(nil)

// New opens (or creates) a PebbleDB at opts.Path.
func New(opts db.Options) (*PebbleDB, error) {
	if err := os.MkdirAll(opts.Path, os.ModePerm); err != nil {
		return nil, err
	}
	pdb, err := pebble.Open(opts.Path, &pebble.Options{
		Levels: []pebble.LevelOptions{{Compression: pebble.SnappyCompression}},
	})
	if err != nil {
		return nil, err
	}
	return &PebbleDB{db: pdb}, nil
}

func (p *PebbleDB) Get(k []byte) ([]byte, error) { return get(p.db, k) }

func (p *PebbleDB) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	return iterate(p.db, prefix, callback)
}

func (p *PebbleDB) WriteTx() db.WriteTx {
	return &WriteTx{batch: p.db.NewIndexedBatch()}
}

func (p *PebbleDB) Close() error {
	defer handleClosedDBPanic()
	return p.db.Close()
}

// Compact runs a full compaction over the entire key range.
func (p *PebbleDB) Compact() error {
	defer handleClosedDBPanic()
	iter, err := p.db.NewIter(nil)
	if err != nil {
		return err
	}
	var first, last []byte
	if iter.First() {
		first = append(first, iter.Key()...)
	}
	if iter.Last() {
		last = append(last, iter.Key()...)
	}
	if err := iter.Close(); err != nil {
		return err
	}
	return p.db.Compact(first, last, true)
}
