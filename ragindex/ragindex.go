// Package ragindex is the vector collection store experts query for RAG
// context: batched upsert, top-k similarity search (and its batched form),
// metadata-only retrieval, and a DocStore→collection sync bridge.
package ragindex

import (
	"fmt"
	"math"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/types"
)

var prefixEntry = []byte("re/")

func collectionPrefix(collection string) []byte {
	k := append([]byte{}, prefixEntry...)
	k = append(k, collection...)
	return append(k, 0)
}

func entryKey(collection, id string) []byte {
	return append(collectionPrefix(collection), id...)
}

// RagIndex is a vector collection store backed by a generic KV database.
// Similarity search is brute-force: every collection is expected to hold
// at most a few tens of thousands of chunks; no ANN-index library is wired
// in to serve collections at any larger scale.
type RagIndex struct {
	db db.Database
}

// New wraps database as a RagIndex. The caller owns database's lifecycle.
func New(database db.Database) *RagIndex {
	return &RagIndex{db: database}
}

// storedEntry is the on-disk shape of one collection entry.
type storedEntry struct {
	ID       string
	Vector   types.Float32Vector
	Metadata map[string]string
	Data     []byte
}

// StoreBatch upserts entries into collection by id, in a single
// transaction.
func (r *RagIndex) StoreBatch(collection string, entries []*types.RagEntry) error {
	wtx := r.db.WriteTx()
	defer wtx.Discard()
	for _, e := range entries {
		data, err := encodeEntry(&storedEntry{ID: e.ID, Vector: e.Vector, Metadata: e.Metadata, Data: e.Data})
		if err != nil {
			return err
		}
		if err := wtx.Set(entryKey(collection, e.ID), data); err != nil {
			return err
		}
	}
	return wtx.Commit()
}

// SearchOptions narrows a similarity search or metadata-only Get.
type SearchOptions struct {
	// DocIDs, if non-empty, restricts results to entries whose
	// metadata["doc_id"] is in this set.
	DocIDs map[string]bool
	// Include, if set, restricts results to entries whose
	// metadata["include"] equals this value.
	Include string
}

func (o SearchOptions) matches(meta map[string]string) bool {
	if len(o.DocIDs) > 0 && !o.DocIDs[meta["doc_id"]] {
		return false
	}
	if o.Include != "" && meta["include"] != o.Include {
		return false
	}
	return true
}

// SearchResult is one similarity or metadata match, with Distance
// meaningful only for Search/SearchBatch results (ascending — lower is
// closer); Get leaves it zero.
type SearchResult struct {
	ID       string
	Distance float64
	Metadata map[string]string
	Data     []byte
}

// Search returns the limit closest entries in collection to query, by
// ascending Euclidean distance.
func (r *RagIndex) Search(collection string, query types.Float32Vector, limit int, opts SearchOptions) ([]SearchResult, error) {
	results, err := r.SearchBatch(collection, []types.Float32Vector{query}, limit, opts)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// SearchBatch runs Search for every query vector against the same
// collection scan, amortizing the KV iteration across all queries.
func (r *RagIndex) SearchBatch(collection string, queries []types.Float32Vector, limit int, opts SearchOptions) ([][]SearchResult, error) {
	type scored struct {
		entry storedEntry
		dist  []float64
	}
	var all []storedEntry
	err := r.db.Iterate(collectionPrefix(collection), func(_, v []byte) bool {
		var e storedEntry
		if decErr := decodeEntry(v, &e); decErr == nil && opts.matches(e.Metadata) {
			all = append(all, e)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	out := make([][]SearchResult, len(queries))
	for qi, q := range queries {
		candidates := make([]SearchResult, 0, len(all))
		for _, e := range all {
			d, derr := euclideanDistance(q, e.Vector)
			if derr != nil {
				continue
			}
			candidates = append(candidates, SearchResult{ID: e.ID, Distance: d, Metadata: e.Metadata, Data: e.Data})
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })
		if limit > 0 && len(candidates) > limit {
			candidates = candidates[:limit]
		}
		out[qi] = candidates
	}
	return out, nil
}

// Get retrieves entries matching opts without any similarity ranking.
func (r *RagIndex) Get(collection string, opts SearchOptions) ([]SearchResult, error) {
	var out []SearchResult
	err := r.db.Iterate(collectionPrefix(collection), func(_, v []byte) bool {
		var e storedEntry
		if decErr := decodeEntry(v, &e); decErr == nil && opts.matches(e.Metadata) {
			out = append(out, SearchResult{ID: e.ID, Metadata: e.Metadata, Data: e.Data})
		}
		return true
	})
	return out, err
}

// DeleteCollection removes every entry belonging to collection.
func (r *RagIndex) DeleteCollection(collection string) error {
	wtx := r.db.WriteTx()
	defer wtx.Discard()

	prefix := collectionPrefix(collection)
	var keys [][]byte
	if err := wtx.Iterate(prefix, func(k, _ []byte) bool {
		keys = append(keys, append(append([]byte{}, prefix...), k...))
		return true
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := wtx.Delete(k); err != nil {
			return err
		}
	}
	return wtx.Commit()
}

func euclideanDistance(a, b types.Float32Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

func encodeEntry(e *storedEntry) ([]byte, error) {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode rag entry: %w", err)
	}
	return em.Marshal(e)
}

func decodeEntry(data []byte, out *storedEntry) error {
	return cbor.Unmarshal(data, out)
}
