package protocol

import (
	"sync"
	"time"

	"github.com/askexperts/askexperts/types"
)

// bidRegistryTTL is how long a bid stays resolvable by id after its
// CreatedAt, per spec §3's "Bid registry" entity.
const bidRegistryTTL = time.Hour

// bidRegistryEntry pairs a decoded bid with its expiry deadline.
type bidRegistryEntry struct {
	payload types.BidPayload
	expiry  time.Time
}

// BidRegistry is the process-local id->BidPayload map the client side
// consults when an operator selects bids to act on. GC runs lazily on
// every insertion, per spec §5's "bid registry... GC performed lazily on
// insertion".
type BidRegistry struct {
	mu      sync.Mutex
	entries map[string]bidRegistryEntry
}

// NewBidRegistry constructs an empty registry.
func NewBidRegistry() *BidRegistry {
	return &BidRegistry{entries: make(map[string]bidRegistryEntry)}
}

// Put records payload under outerBidID, expiring bidRegistryTTL after its
// CreatedAt, and opportunistically evicts any other expired entries.
func (r *BidRegistry) Put(outerBidID string, payload types.BidPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, e := range r.entries {
		if now.After(e.expiry) {
			delete(r.entries, id)
		}
	}
	r.entries[outerBidID] = bidRegistryEntry{payload: payload, expiry: payload.CreatedAt.Add(bidRegistryTTL)}
}

// Get returns the registered payload for id, if present and unexpired.
func (r *BidRegistry) Get(id string) (types.BidPayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || time.Now().After(e.expiry) {
		return types.BidPayload{}, false
	}
	return e.payload, true
}

// Len reports the number of (possibly expired, not-yet-GC'd) entries.
func (r *BidRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
