package protocol

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/types"
)

func bidFrom(pubkey byte, offer string) types.BidPayload {
	return types.BidPayload{ExpertPubkey: types.HexBytes{pubkey}, Offer: offer}
}

func TestSelectAll(t *testing.T) {
	c := qt.New(t)
	bids := []types.BidPayload{bidFrom(1, "a"), bidFrom(2, "b")}
	c.Assert(SelectAll(bids), qt.DeepEquals, bids)
}

func TestSelectTopByPrice(t *testing.T) {
	c := qt.New(t)
	bids := []types.BidPayload{bidFrom(1, "100 sats"), bidFrom(2, "50 sats"), bidFrom(3, "75 sats")}
	priceOf := func(b types.BidPayload) (int64, bool) {
		switch b.ExpertPubkey[0] {
		case 1:
			return 100, true
		case 2:
			return 50, true
		case 3:
			return 75, true
		}
		return 0, false
	}

	top2 := SelectTopByPrice(2, priceOf)(bids)
	c.Assert(top2, qt.HasLen, 2)
	c.Assert(top2[0].ExpertPubkey[0], qt.Equals, byte(2))
	c.Assert(top2[1].ExpertPubkey[0], qt.Equals, byte(3))
}

func TestSelectTopByPriceDropsUnpriceable(t *testing.T) {
	c := qt.New(t)
	bids := []types.BidPayload{bidFrom(1, "unparseable offer"), bidFrom(2, "50 sats")}
	priceOf := func(b types.BidPayload) (int64, bool) {
		if b.ExpertPubkey[0] == 2 {
			return 50, true
		}
		return 0, false
	}
	out := SelectTopByPrice(5, priceOf)(bids)
	c.Assert(out, qt.HasLen, 1)
	c.Assert(out[0].ExpertPubkey[0], qt.Equals, byte(2))
}

func TestDedupeByExpertPubkeyPreservesArrivalOrder(t *testing.T) {
	c := qt.New(t)
	bids := []types.BidPayload{bidFrom(1, "first"), bidFrom(2, "x"), bidFrom(1, "duplicate, later")}
	out := dedupeByExpertPubkey(bids)
	c.Assert(out, qt.HasLen, 2)
	c.Assert(out[0].Offer, qt.Equals, "first")
	c.Assert(out[1].ExpertPubkey[0], qt.Equals, byte(2))
}
