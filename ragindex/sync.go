package ragindex

import (
	"context"
	"fmt"

	"github.com/askexperts/askexperts/docstore"
	"github.com/askexperts/askexperts/types"
)

// SyncConfig configures a DocStore→collection sync bridge.
type SyncConfig struct {
	DocstoreID     string
	CollectionName string

	// OnDoc, if set, is called after each source document's chunks have
	// been written to the collection.
	OnDoc func(*types.Document)
	// OnEOF, if set, is called once the cursor reaches the initial
	// snapshot's end (mirrors docstore.Subscribe's onDoc(nil) signal).
	OnEOF func()
}

// Controller stops a running sync bridge.
type Controller struct {
	sub *docstore.Subscription
}

// Stop halts the underlying cursor and waits for it to exit.
func (c *Controller) Stop() {
	c.sub.Close()
}

// Sync subscribes to ds's tailing cursor over cfg.DocstoreID and mirrors
// every document's embeddings into cfg.CollectionName as one RagEntry per
// vector, chunk id "<doc_id>-<i>", batched per document.
func Sync(ctx context.Context, ds *docstore.DocStore, rag *RagIndex, cfg SyncConfig) (*Controller, error) {
	sub, err := ds.Subscribe(ctx, docstore.SubscribeFilter{DocstoreID: cfg.DocstoreID}, func(doc *types.Document) error {
		if doc == nil {
			if cfg.OnEOF != nil {
				cfg.OnEOF()
			}
			return nil
		}
		entries := chunksFromDocument(doc)
		if len(entries) > 0 {
			if err := rag.StoreBatch(cfg.CollectionName, entries); err != nil {
				return err
			}
		}
		if cfg.OnDoc != nil {
			cfg.OnDoc(doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Controller{sub: sub}, nil
}

func chunksFromDocument(doc *types.Document) []*types.RagEntry {
	entries := make([]*types.RagEntry, 0, len(doc.Embeddings))
	for i, v := range doc.Embeddings {
		entries = append(entries, &types.RagEntry{
			ID:     fmt.Sprintf("%s-%d", doc.ID, i),
			Vector: v,
			Metadata: map[string]string{
				"doc_id":      doc.ID,
				"include":     doc.Include,
				"chunk_index": fmt.Sprint(i),
			},
			Data: doc.Data,
		})
	}
	return entries
}
