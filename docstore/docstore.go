// Package docstore is the local document + embedding store experts consult
// to build RAG context before answering a Prompt: a docstores table (named,
// one embedding model/dimensionality each) and a docs table keyed by
// (docstore_id, id), with an internal auto-increment cursor ("aid") used
// only for ordered, resumable subscription.
package docstore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/types"
)

// Key namespaces. Flat concatenation with a NUL separator, following the
// teacher storage package's pragmatic prefix+concat key scheme rather than
// a structured codec — docstore ids are UUIDs and doc ids are caller-chosen
// strings, neither of which is expected to contain a NUL byte.
var (
	prefixDocstoreByID   = []byte("ds/")
	prefixDocstoreByName = []byte("dn/")
	prefixDoc            = []byte("doc/")
	prefixAID            = []byte("aid/")
	prefixAIDSeq         = []byte("aidseq/")

	// MaxEmbeddingCount mirrors the "embedding count >= 65536" rejection.
	MaxEmbeddingCount = 65536
	// MaxSubscribeBatch is the tailing cursor's per-poll fetch size.
	MaxSubscribeBatch = 1000
	// DefaultRetryInterval is how long a tailing subscription sleeps
	// between polls once it has caught up with the current tail.
	DefaultRetryInterval = 10 * time.Second
)

func keyDocstore(id string) []byte { return append(append([]byte{}, prefixDocstoreByID...), id...) }

func keyDocstoreName(name string) []byte {
	return append(append([]byte{}, prefixDocstoreByName...), name...)
}

func keyDoc(docstoreID, docID string) []byte {
	k := append([]byte{}, prefixDoc...)
	k = append(k, docstoreID...)
	k = append(k, 0)
	return append(k, docID...)
}

func keyAIDSeq(docstoreID string) []byte {
	return append(append([]byte{}, prefixAIDSeq...), docstoreID...)
}

func prefixAIDForDocstore(docstoreID string) []byte {
	k := append([]byte{}, prefixAID...)
	k = append(k, docstoreID...)
	return append(k, 0)
}

func keyAIDIndex(docstoreID string, aid int64) []byte {
	k := prefixAIDForDocstore(docstoreID)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(aid))
	return append(k, buf[:]...)
}

// DocStore is a document + embedding store backed by a generic KV database.
type DocStore struct {
	db db.Database
}

// New wraps database as a DocStore. The caller owns database's lifecycle.
func New(database db.Database) *DocStore {
	return &DocStore{db: database}
}

// CreateDocstore creates a named docstore, or returns the id of the
// existing one if name is already taken — model and vector_size are
// immutable once a docstore exists (see DESIGN.md Open Questions).
func (ds *DocStore) CreateDocstore(name, model string, vectorSize int, options map[string]string) (string, error) {
	if existing, err := ds.db.Get(keyDocstoreName(name)); err == nil {
		return string(existing), nil
	}

	id := uuid.NewString()
	rec := types.Docstore{
		ID:         id,
		Name:       name,
		Timestamp:  time.Now(),
		Model:      model,
		VectorSize: vectorSize,
		Options:    options,
	}
	data, err := encodeCBOR(&rec)
	if err != nil {
		return "", err
	}

	wtx := ds.db.WriteTx()
	defer wtx.Discard()
	if _, err := wtx.Get(keyDocstoreName(name)); err == nil {
		// raced with a concurrent create of the same name.
		existing, _ := ds.db.Get(keyDocstoreName(name))
		return string(existing), nil
	}
	if err := wtx.Set(keyDocstoreName(name), []byte(id)); err != nil {
		return "", err
	}
	if err := wtx.Set(keyDocstore(id), data); err != nil {
		return "", err
	}
	if err := wtx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// GetDocstore looks up a docstore by id.
func (ds *DocStore) GetDocstore(id string) (*types.Docstore, error) {
	data, err := ds.db.Get(keyDocstore(id))
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, apperrors.CodeStorageNotFound, fmt.Sprintf("docstore %q not found", id))
	}
	var rec types.Docstore
	if err := decodeCBOR(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListDocstores returns every docstore, in no particular order.
func (ds *DocStore) ListDocstores() ([]*types.Docstore, error) {
	var out []*types.Docstore
	err := ds.db.Iterate(prefixDocstoreByID, func(_, v []byte) bool {
		var rec types.Docstore
		if err := decodeCBOR(v, &rec); err == nil {
			out = append(out, &rec)
		}
		return true
	})
	return out, err
}

// DeleteDocstore removes a docstore and every document it holds,
// transactionally (docs, then the aid index, then the docstore record
// itself and its name mapping).
func (ds *DocStore) DeleteDocstore(id string) error {
	rec, err := ds.GetDocstore(id)
	if err != nil {
		return err
	}

	wtx := ds.db.WriteTx()
	defer wtx.Discard()

	var docKeys, aidKeys [][]byte
	docPrefix := append(append([]byte{}, prefixDoc...), id...)
	docPrefix = append(docPrefix, 0)
	if err := wtx.Iterate(docPrefix, func(k, _ []byte) bool {
		docKeys = append(docKeys, append(append([]byte{}, docPrefix...), k...))
		return true
	}); err != nil {
		return err
	}
	aidPrefix := prefixAIDForDocstore(id)
	if err := wtx.Iterate(aidPrefix, func(k, _ []byte) bool {
		aidKeys = append(aidKeys, append(append([]byte{}, aidPrefix...), k...))
		return true
	}); err != nil {
		return err
	}
	for _, k := range docKeys {
		if err := wtx.Delete(k); err != nil {
			return err
		}
	}
	for _, k := range aidKeys {
		if err := wtx.Delete(k); err != nil {
			return err
		}
	}
	if err := wtx.Delete(keyAIDSeq(id)); err != nil {
		return err
	}
	if err := wtx.Delete(keyDocstoreName(rec.Name)); err != nil {
		return err
	}
	if err := wtx.Delete(keyDocstore(id)); err != nil {
		return err
	}
	return wtx.Commit()
}

func encodeCBOR(v any) ([]byte, error) {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode docstore record: %w", err)
	}
	return em.Marshal(v)
}

func decodeCBOR(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}
