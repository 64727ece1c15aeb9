package ragindex

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/db/inmemory"
	"github.com/askexperts/askexperts/docstore"
	"github.com/askexperts/askexperts/types"
)

func newTestIndex(c *qt.C) *RagIndex {
	memdb, err := inmemory.New(db.Options{})
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { _ = memdb.Close() })
	return New(memdb)
}

func TestSearchOrdersByAscendingDistance(t *testing.T) {
	c := qt.New(t)
	r := newTestIndex(c)

	c.Assert(r.StoreBatch("kb", []*types.RagEntry{
		{ID: "a", Vector: types.Float32Vector{0, 0}, Metadata: map[string]string{"doc_id": "d1"}},
		{ID: "b", Vector: types.Float32Vector{5, 5}, Metadata: map[string]string{"doc_id": "d2"}},
		{ID: "c", Vector: types.Float32Vector{1, 0}, Metadata: map[string]string{"doc_id": "d3"}},
	}), qt.IsNil)

	results, err := r.Search("kb", types.Float32Vector{0, 0}, 2, SearchOptions{})
	c.Assert(err, qt.IsNil)
	c.Assert(len(results), qt.Equals, 2)
	c.Assert(results[0].ID, qt.Equals, "a")
	c.Assert(results[1].ID, qt.Equals, "c")
}

func TestSearchFiltersByDocIDsAndInclude(t *testing.T) {
	c := qt.New(t)
	r := newTestIndex(c)

	c.Assert(r.StoreBatch("kb", []*types.RagEntry{
		{ID: "a", Vector: types.Float32Vector{0}, Metadata: map[string]string{"doc_id": "d1", "include": "always"}},
		{ID: "b", Vector: types.Float32Vector{0}, Metadata: map[string]string{"doc_id": "d2"}},
	}), qt.IsNil)

	results, err := r.Search("kb", types.Float32Vector{0}, 10, SearchOptions{Include: "always"})
	c.Assert(err, qt.IsNil)
	c.Assert(len(results), qt.Equals, 1)
	c.Assert(results[0].ID, qt.Equals, "a")

	results, err = r.Get("kb", SearchOptions{DocIDs: map[string]bool{"d2": true}})
	c.Assert(err, qt.IsNil)
	c.Assert(len(results), qt.Equals, 1)
	c.Assert(results[0].ID, qt.Equals, "b")
}

func TestDeleteCollection(t *testing.T) {
	c := qt.New(t)
	r := newTestIndex(c)
	c.Assert(r.StoreBatch("kb", []*types.RagEntry{{ID: "a", Vector: types.Float32Vector{0}}}), qt.IsNil)
	c.Assert(r.DeleteCollection("kb"), qt.IsNil)
	results, err := r.Get("kb", SearchOptions{})
	c.Assert(err, qt.IsNil)
	c.Assert(len(results), qt.Equals, 0)
}

func TestSyncBridgeChunksDocuments(t *testing.T) {
	c := qt.New(t)
	memdb, err := inmemory.New(db.Options{})
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { _ = memdb.Close() })

	ds := docstore.New(memdb)
	rag := New(memdb)

	dsID, err := ds.CreateDocstore("kb", "m", 2, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(ds.Upsert(&types.Document{
		ID: "doc-1", DocstoreID: dsID,
		Embeddings: []types.Float32Vector{{1, 2}, {3, 4}},
	}), qt.IsNil)

	eof := make(chan struct{})
	ctrl, err := Sync(context.Background(), ds, rag, SyncConfig{
		DocstoreID:     dsID,
		CollectionName: "kb-chunks",
		OnEOF:          func() { close(eof) },
	})
	c.Assert(err, qt.IsNil)
	defer ctrl.Stop()

	select {
	case <-eof:
	case <-time.After(2 * time.Second):
		c.Fatal("timed out waiting for sync EOF")
	}

	results, err := rag.Get("kb-chunks", SearchOptions{})
	c.Assert(err, qt.IsNil)
	c.Assert(len(results), qt.Equals, 2)
}
