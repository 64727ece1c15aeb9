package protocol

import (
	"sort"

	"github.com/askexperts/askexperts/types"
)

// Selector narrows a received set of bids down to the subset the client
// will actually prompt (§4.7's "selector(bids) -> subset").
type Selector func(bids []types.BidPayload) []types.BidPayload

// SelectAll is the "all" default selector: every bid is kept.
func SelectAll(bids []types.BidPayload) []types.BidPayload {
	return bids
}

// SelectTopByPrice ranks bids ascending by priceOf and keeps the first n,
// preserving arrival order among ties as §4.7's edge case requires.
// BidPayload carries no structured price field on the wire — Offer is
// free text (§3) — so "top by price" needs a caller-supplied extractor;
// bids priceOf reports unable to price are dropped from consideration.
// See DESIGN.md for this Open Question resolution.
func SelectTopByPrice(n int, priceOf func(types.BidPayload) (price int64, ok bool)) Selector {
	return func(bids []types.BidPayload) []types.BidPayload {
		type ranked struct {
			bid   types.BidPayload
			price int64
			pos   int
		}
		candidates := make([]ranked, 0, len(bids))
		for i, b := range bids {
			price, ok := priceOf(b)
			if !ok {
				continue
			}
			candidates = append(candidates, ranked{bid: b, price: price, pos: i})
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].price != candidates[j].price {
				return candidates[i].price < candidates[j].price
			}
			return candidates[i].pos < candidates[j].pos
		})
		if n < len(candidates) {
			candidates = candidates[:n]
		}
		out := make([]types.BidPayload, 0, len(candidates))
		for _, r := range candidates {
			out = append(out, r.bid)
		}
		return out
	}
}

// dedupeByExpertPubkey drops every bid after the first seen for a given
// expert pubkey, preserving arrival order — the no-duplicate-expert-
// selection invariant in §4.7.
func dedupeByExpertPubkey(bids []types.BidPayload) []types.BidPayload {
	seen := make(map[string]bool, len(bids))
	out := make([]types.BidPayload, 0, len(bids))
	for _, b := range bids {
		key := b.ExpertPubkey.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, b)
	}
	return out
}
