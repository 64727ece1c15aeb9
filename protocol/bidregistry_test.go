package protocol

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/types"
)

func TestBidRegistryPutGet(t *testing.T) {
	c := qt.New(t)
	r := NewBidRegistry()
	payload := types.BidPayload{Offer: "hello", CreatedAt: time.Now()}

	r.Put("bid-1", payload)
	got, ok := r.Get("bid-1")
	c.Assert(ok, qt.IsTrue)
	c.Assert(got.Offer, qt.Equals, "hello")

	_, ok = r.Get("missing")
	c.Assert(ok, qt.IsFalse)
}

func TestBidRegistryExpiresAfterTTL(t *testing.T) {
	c := qt.New(t)
	r := NewBidRegistry()
	stale := types.BidPayload{Offer: "old", CreatedAt: time.Now().Add(-2 * bidRegistryTTL)}
	r.Put("bid-stale", stale)

	_, ok := r.Get("bid-stale")
	c.Assert(ok, qt.IsFalse)
}

func TestBidRegistryLazyGCOnInsertion(t *testing.T) {
	c := qt.New(t)
	r := NewBidRegistry()
	stale := types.BidPayload{Offer: "old", CreatedAt: time.Now().Add(-2 * bidRegistryTTL)}
	r.Put("bid-stale", stale)
	c.Assert(r.Len(), qt.Equals, 1)

	r.Put("bid-fresh", types.BidPayload{Offer: "new", CreatedAt: time.Now()})
	c.Assert(r.Len(), qt.Equals, 1) // stale entry swept on this insertion
}
