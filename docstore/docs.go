package docstore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/types"
)

// storedDocument is the on-disk shape of the docs table: embeddings are
// packed into their blob layout (see encode.go) rather than carried as a
// nested CBOR array, matching the `embeddings BLOB` column in the
// relational schema this package emulates.
type storedDocument struct {
	AID            int64
	ID             string
	DocstoreID     string
	Timestamp      time.Time
	CreatedAt      time.Time
	Type           string
	Data           []byte
	EmbeddingsBlob []byte
	Include        string
}

// Upsert inserts or replaces doc, keyed by (docstore_id, id). Replacing an
// existing document keeps its original aid; inserting a new one assigns
// the docstore's next aid. Rejects documents whose embeddings do not all
// match the docstore's configured vector_size, or that carry too many
// embedding vectors.
func (ds *DocStore) Upsert(doc *types.Document) error {
	rec, err := ds.GetDocstore(doc.DocstoreID)
	if err != nil {
		return err
	}
	if len(doc.Embeddings) >= MaxEmbeddingCount {
		return apperrors.New(apperrors.KindStorage, apperrors.CodeStorageTooManyEmbeddings,
			fmt.Sprintf("document has %d embeddings, max is %d", len(doc.Embeddings), MaxEmbeddingCount))
	}
	for _, v := range doc.Embeddings {
		if len(v) != rec.VectorSize {
			return apperrors.New(apperrors.KindStorage, apperrors.CodeStorageVectorSizeMismatch,
				fmt.Sprintf("embedding has length %d, docstore vector_size is %d", len(v), rec.VectorSize))
		}
	}
	blob, err := encodeEmbeddings(doc.Embeddings, rec.VectorSize)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorage, apperrors.CodeStorageVectorSizeMismatch, err, "")
	}

	wtx := ds.db.WriteTx()
	defer wtx.Discard()

	dk := keyDoc(doc.DocstoreID, doc.ID)
	aid := int64(0)
	if existing, err := wtx.Get(dk); err == nil {
		var old storedDocument
		if decErr := decodeCBOR(existing, &old); decErr == nil {
			aid = old.AID
		}
	}
	if aid == 0 {
		aid, err = ds.nextAID(wtx, doc.DocstoreID)
		if err != nil {
			return err
		}
		if err := wtx.Set(keyAIDIndex(doc.DocstoreID, aid), []byte(doc.ID)); err != nil {
			return err
		}
	}
	doc.AID = aid

	stored := storedDocument{
		AID:            aid,
		ID:             doc.ID,
		DocstoreID:     doc.DocstoreID,
		Timestamp:      doc.Timestamp,
		CreatedAt:      doc.CreatedAt,
		Type:           doc.Type,
		Data:           doc.Data,
		EmbeddingsBlob: blob,
		Include:        doc.Include,
	}
	data, err := encodeCBOR(&stored)
	if err != nil {
		return err
	}
	if err := wtx.Set(dk, data); err != nil {
		return err
	}
	return wtx.Commit()
}

func (ds *DocStore) nextAID(wtx interface {
	Get([]byte) ([]byte, error)
	Set([]byte, []byte) error
}, docstoreID string) (int64, error) {
	var next int64 = 1
	if v, err := wtx.Get(keyAIDSeq(docstoreID)); err == nil && len(v) == 8 {
		next = int64(binary.BigEndian.Uint64(v)) + 1
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(next))
	if err := wtx.Set(keyAIDSeq(docstoreID), buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// Get fetches a single document by (docstore_id, id).
func (ds *DocStore) Get(docstoreID, docID string) (*types.Document, error) {
	rec, err := ds.GetDocstore(docstoreID)
	if err != nil {
		return nil, err
	}
	data, err := ds.db.Get(keyDoc(docstoreID, docID))
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, apperrors.CodeStorageNotFound,
			fmt.Sprintf("document %q not found in docstore %q", docID, docstoreID))
	}
	return decodeDocument(data, rec.VectorSize)
}

// Delete removes a single document and its aid index entry.
func (ds *DocStore) Delete(docstoreID, docID string) error {
	wtx := ds.db.WriteTx()
	defer wtx.Discard()

	dk := keyDoc(docstoreID, docID)
	existing, err := wtx.Get(dk)
	if err != nil {
		return apperrors.New(apperrors.KindStorage, apperrors.CodeStorageNotFound,
			fmt.Sprintf("document %q not found in docstore %q", docID, docstoreID))
	}
	var old storedDocument
	if err := decodeCBOR(existing, &old); err != nil {
		return err
	}
	if err := wtx.Delete(dk); err != nil {
		return err
	}
	if err := wtx.Delete(keyAIDIndex(docstoreID, old.AID)); err != nil {
		return err
	}
	return wtx.Commit()
}

// Count returns the number of documents stored in docstoreID.
func (ds *DocStore) Count(docstoreID string) (int, error) {
	n := 0
	err := ds.db.Iterate(prefixAIDForDocstore(docstoreID), func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

func decodeDocument(data []byte, vectorSize int) (*types.Document, error) {
	var stored storedDocument
	if err := decodeCBOR(data, &stored); err != nil {
		return nil, err
	}
	embeddings, err := decodeEmbeddings(stored.EmbeddingsBlob, vectorSize)
	if err != nil {
		return nil, err
	}
	return &types.Document{
		AID:        stored.AID,
		ID:         stored.ID,
		DocstoreID: stored.DocstoreID,
		Timestamp:  stored.Timestamp,
		CreatedAt:  stored.CreatedAt,
		Type:       stored.Type,
		Data:       stored.Data,
		Embeddings: embeddings,
		Include:    stored.Include,
	}, nil
}
