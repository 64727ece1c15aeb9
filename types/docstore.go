package types

import "time"

// Document is a single record in a Docstore, with its text/blob payload
// and the embedding vectors computed over it.
type Document struct {
	// AID is the internal auto-increment cursor position. It is assigned
	// by the store on upsert and is never exposed outside this process.
	AID int64

	ID         string
	DocstoreID string
	Timestamp  time.Time
	CreatedAt  time.Time
	Type       string
	Data       []byte
	Embeddings []Float32Vector
	// Include (e.g. "always") is copied into each RAG chunk's "include"
	// metadata, which ragindex.SearchOptions.Include can filter on; Search
	// does not otherwise return such chunks ahead of their similarity rank.
	Include string
}

// Float32Vector is a single embedding vector.
type Float32Vector []float32

// Docstore is a named collection of Documents sharing one embedding model
// and vector dimensionality.
type Docstore struct {
	ID         string // UUID
	Name       string
	Timestamp  time.Time
	Model      string
	VectorSize int
	Options    map[string]string
}

// RagEntry is one vector-indexed chunk inside a RagIndex collection, one
// per embedding vector of a Document.
type RagEntry struct {
	ID       string // e.g. "<doc_id>-<i>"
	Vector   Float32Vector
	Metadata map[string]string // always includes "doc_id"; may include "include"
	Data     []byte
}
