// Package types defines the wire types shared across the protocol engine:
// the canonical Event envelope, the fixed kind taxonomy, and the typed
// payloads (Ask, Bid, Prompt, Quote, Proof, Reply, Document, Docstore, Rag
// entries, Invoice) that ride inside it.
package types

// Kind identifies the role an Event plays on the wire.
type Kind int

// Fixed kind taxonomy (§3). Values are stable across implementations so
// unrelated relays and clients agree on framing.
const (
	KindExpertProfile  Kind = 10174 // expert profile
	KindExpertList     Kind = 30174 // addressable expert list
	KindAsk            Kind = 20174
	KindBid            Kind = 20175 // encrypted envelope
	KindBidPayload     Kind = 20176 // inner payload, signed by expert
	KindPrompt         Kind = 20177
	KindQuote          Kind = 20178
	KindProof          Kind = 20179
	KindReply          Kind = 20180
	KindStreamChunk    Kind = 20173
	KindStreamMetadata Kind = 173
	KindAuthRequest    Kind = 27235 // request-bound HTTP auth token
	KindAuthDomain     Kind = 27236 // domain-scoped HTTP auth token
)

// Tag is a single ordered tag sequence, e.g. ["e", "<id>"] or
// ["t", "geography"]. The first element is conventionally the tag name.
type Tag []string

// Tags is an ordered list of Tag, exactly as carried on the wire.
type Tags []Tag

// First returns the first tag whose name matches, and whether one was
// found.
func (t Tags) First(name string) (Tag, bool) {
	for _, tag := range t {
		if len(tag) > 0 && tag[0] == name {
			return tag, true
		}
	}
	return nil, false
}

// Value returns the second element of the first tag matching name ("" if
// absent or malformed).
func (t Tags) Value(name string) string {
	tag, ok := t.First(name)
	if !ok || len(tag) < 2 {
		return ""
	}
	return tag[1]
}

// Values returns the second element of every tag matching name, in order.
func (t Tags) Values(name string) []string {
	var out []string
	for _, tag := range t {
		if len(tag) >= 2 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}

// Event is the universal wire unit: a signed, content-addressed message
// exchanged between clients, experts and relays.
type Event struct {
	ID        HexBytes `json:"id"`
	Pubkey    HexBytes `json:"pubkey"`
	CreatedAt int64    `json:"created_at"`
	Kind      Kind     `json:"kind"`
	Tags      Tags     `json:"tags"`
	Content   string   `json:"content"`
	Sig       HexBytes `json:"sig"`
}
