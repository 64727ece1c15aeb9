package docstore

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/askexperts/askexperts/types"
)

// SubscribeFilter narrows a tailing cursor subscription to one docstore,
// optionally restricted by document type and a creation-time window.
type SubscribeFilter struct {
	DocstoreID string
	Type       string
	Since      *time.Time
	Until      *time.Time
}

func (f SubscribeFilter) matches(doc *types.Document) bool {
	if f.Type != "" && doc.Type != f.Type {
		return false
	}
	if f.Since != nil && doc.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && doc.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

// Subscription is a running tailing cursor started by Subscribe.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Close stops the cursor and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Err returns the error that stopped the cursor, if onDoc returned one, or
// the context's error on cancellation. Nil if the cursor is still running
// or exited cleanly.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Subscribe opens a tailable cursor over filter.DocstoreID's documents,
// delivered in ascending aid (insertion) order. It fetches in batches of
// at most MaxSubscribeBatch; whenever a batch comes back partial (i.e. the
// cursor has caught up with the current tail), it calls onDoc(nil) exactly
// once to signal end-of-initial-snapshot, then keeps polling every
// DefaultRetryInterval for newly inserted documents. onDoc is called
// synchronously from the cursor's goroutine, so a slow consumer naturally
// backpressures the cursor.
func (ds *DocStore) Subscribe(ctx context.Context, filter SubscribeFilter, onDoc func(*types.Document) error) (*Subscription, error) {
	if _, err := ds.GetDocstore(filter.DocstoreID); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	go ds.runCursor(subCtx, filter, onDoc, sub)
	return sub, nil
}

func (ds *DocStore) runCursor(ctx context.Context, filter SubscribeFilter, onDoc func(*types.Document) error, sub *Subscription) {
	defer close(sub.done)

	var lastAID int64
	eofSignaled := false

	for {
		select {
		case <-ctx.Done():
			sub.setErr(ctx.Err())
			return
		default:
		}

		docs, scanned, lastScanned, err := ds.fetchBatch(filter, lastAID, MaxSubscribeBatch)
		if err != nil {
			sub.setErr(err)
			return
		}
		if scanned > 0 {
			lastAID = lastScanned
		}

		for _, doc := range docs {
			if err := onDoc(doc); err != nil {
				sub.setErr(err)
				return
			}
		}

		if scanned < MaxSubscribeBatch {
			if !eofSignaled {
				if err := onDoc(nil); err != nil {
					sub.setErr(err)
					return
				}
				eofSignaled = true
			}
			select {
			case <-ctx.Done():
				sub.setErr(ctx.Err())
				return
			case <-time.After(DefaultRetryInterval):
			}
		}
	}
}

// fetchBatch scans up to limit aid-index entries after afterAID for
// filter.DocstoreID, returning the matching documents, the number of
// index entries scanned (regardless of filter match — used to detect a
// partial/tail batch), and the highest aid scanned.
func (ds *DocStore) fetchBatch(filter SubscribeFilter, afterAID int64, limit int) (docs []*types.Document, scanned int, lastScanned int64, err error) {
	rec, err := ds.GetDocstore(filter.DocstoreID)
	if err != nil {
		return nil, 0, 0, err
	}

	prefix := prefixAIDForDocstore(filter.DocstoreID)
	iterErr := ds.db.Iterate(prefix, func(k, v []byte) bool {
		if len(k) != 8 {
			return true
		}
		aid := int64(binary.BigEndian.Uint64(k))
		if aid <= afterAID {
			return true
		}
		scanned++
		lastScanned = aid

		docID := string(v)
		data, gerr := ds.db.Get(keyDoc(filter.DocstoreID, docID))
		if gerr == nil {
			if doc, derr := decodeDocument(data, rec.VectorSize); derr == nil && filter.matches(doc) {
				docs = append(docs, doc)
			}
		}
		return scanned < limit
	})
	if iterErr != nil {
		return nil, 0, 0, iterErr
	}
	return docs, scanned, lastScanned, nil
}
