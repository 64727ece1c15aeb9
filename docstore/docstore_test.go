package docstore

import (
	"context"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/db/inmemory"
	"github.com/askexperts/askexperts/types"
)

func newTestStore(c *qt.C) *DocStore {
	memdb, err := inmemory.New(db.Options{})
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { _ = memdb.Close() })
	return New(memdb)
}

func TestCreateDocstoreIdempotent(t *testing.T) {
	c := qt.New(t)
	ds := newTestStore(c)

	id1, err := ds.CreateDocstore("notes", "text-embedding-3", 3, nil)
	c.Assert(err, qt.IsNil)
	id2, err := ds.CreateDocstore("notes", "text-embedding-3", 3, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(id2, qt.Equals, id1)

	rec, err := ds.GetDocstore(id1)
	c.Assert(err, qt.IsNil)
	c.Assert(rec.Name, qt.Equals, "notes")
	c.Assert(rec.VectorSize, qt.Equals, 3)
}

func TestUpsertAndGet(t *testing.T) {
	c := qt.New(t)
	ds := newTestStore(c)
	id, err := ds.CreateDocstore("kb", "m", 3, nil)
	c.Assert(err, qt.IsNil)

	doc := &types.Document{
		ID:         "doc-1",
		DocstoreID: id,
		CreatedAt:  time.Now(),
		Type:       "markdown",
		Data:       []byte("hello"),
		Embeddings: []types.Float32Vector{{0.1, 0.2, 0.3}},
	}
	c.Assert(ds.Upsert(doc), qt.IsNil)
	c.Assert(doc.AID, qt.Equals, int64(1))

	got, err := ds.Get(id, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Assert(got.Data, qt.DeepEquals, []byte("hello"))
	c.Assert(got.Embeddings, qt.DeepEquals, doc.Embeddings)

	// Replacing keeps the original aid.
	doc.Data = []byte("updated")
	c.Assert(ds.Upsert(doc), qt.IsNil)
	c.Assert(doc.AID, qt.Equals, int64(1))

	n, err := ds.Count(id)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)
}

func TestUpsertRejectsVectorSizeMismatch(t *testing.T) {
	c := qt.New(t)
	ds := newTestStore(c)
	id, err := ds.CreateDocstore("kb", "m", 3, nil)
	c.Assert(err, qt.IsNil)

	doc := &types.Document{
		ID:         "doc-1",
		DocstoreID: id,
		Embeddings: []types.Float32Vector{{0.1, 0.2}},
	}
	c.Assert(ds.Upsert(doc), qt.Not(qt.IsNil))
}

func TestDeleteDocstoreRemovesDocs(t *testing.T) {
	c := qt.New(t)
	ds := newTestStore(c)
	id, err := ds.CreateDocstore("kb", "m", 1, nil)
	c.Assert(err, qt.IsNil)

	for i := 0; i < 3; i++ {
		c.Assert(ds.Upsert(&types.Document{
			ID: string(rune('a' + i)), DocstoreID: id,
			Embeddings: []types.Float32Vector{{float32(i)}},
		}), qt.IsNil)
	}
	c.Assert(ds.DeleteDocstore(id), qt.IsNil)
	_, err = ds.GetDocstore(id)
	c.Assert(err, qt.Not(qt.IsNil))
	n, err := ds.Count(id)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 0)
}

func TestSubscribeBackpressureAndEOF(t *testing.T) {
	c := qt.New(t)
	ds := newTestStore(c)
	id, err := ds.CreateDocstore("kb", "m", 1, nil)
	c.Assert(err, qt.IsNil)

	for i := 1; i <= 5; i++ {
		c.Assert(ds.Upsert(&types.Document{
			ID: string(rune('0' + i)), DocstoreID: id,
			Embeddings: []types.Float32Vector{{float32(i)}},
		}), qt.IsNil)
	}

	var mu sync.Mutex
	var aids []int64
	eofAt := -1
	count := 0

	sub, err := ds.Subscribe(context.Background(), SubscribeFilter{DocstoreID: id}, func(doc *types.Document) error {
		mu.Lock()
		defer mu.Unlock()
		if doc == nil {
			eofAt = count
			return nil
		}
		count++
		aids = append(aids, doc.AID)
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	c.Assert(err, qt.IsNil)
	defer sub.Close()

	c.Assert(waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return eofAt == 5
	}, 2*time.Second), qt.IsTrue)

	mu.Lock()
	c.Assert(aids, qt.DeepEquals, []int64{1, 2, 3, 4, 5})
	mu.Unlock()
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
