package types

import "time"

// Ask is the public discovery message a client broadcasts. Content is a
// short anonymized summary; hashtags, accepted formats/compressions/
// methods live in tags so relays can filter without decryption.
type Ask struct {
	ID              HexBytes
	ClientPubkey    HexBytes
	Hashtags        []string
	AcceptedFormats []string
	AcceptedComprs  []string
	AcceptedMethods []string
	Summary         string
	CreatedAt       time.Time
}

// BidPayload is the inner, expert-signed event that an encrypted Bid
// envelope decrypts to.
type BidPayload struct {
	ID              HexBytes
	ExpertPubkey    HexBytes
	AskID           HexBytes
	OuterBidID      HexBytes
	Offer           string
	PromptRelays    []string
	AcceptedFormats []string
	AcceptedComprs  []string
	AcceptedMethods []string
	CreatedAt       time.Time
}

// Bid is the outer, relay-visible event: an encrypted envelope addressed
// to the ask author wrapping a BidPayload.
type Bid struct {
	ID           HexBytes
	AskID        HexBytes
	ExpertPubkey HexBytes
	Envelope     string // base64 ciphertext, decrypts to a BidPayload
	CreatedAt    time.Time
}

// Prompt carries the client's question to a chosen expert, encrypted to
// the expert's pubkey.
type Prompt struct {
	ID           HexBytes
	BidID        HexBytes
	ClientPubkey HexBytes
	ExpertPubkey HexBytes
	Format       string
	StreamRef    HexBytes // optional: id of a 173 stream-metadata event
	Content      string
	CreatedAt    time.Time
}

// InvoiceReasonNoKnowledge marks a Quote the expert could not answer; the
// client selector treats this as a non-error signal, not a protocol fault.
const InvoiceReasonNoKnowledge = "no_knowledge"

// Invoice is a single payment method offered in a Quote.
type Invoice struct {
	Method        string // e.g. "lightning"
	Unit          string // e.g. "sat"
	AmountSats    int64
	InvoiceString string
}

// Quote is the expert's price/terms response to a Prompt, encrypted to the
// client's pubkey.
type Quote struct {
	ID        HexBytes
	PromptID  HexBytes
	Invoices  []Invoice
	Reason    string // InvoiceReasonNoKnowledge, or ""
	CreatedAt time.Time
}

// PreferredInvoice picks the invoice the client should pay when the caller
// (or its selector callback) has no opinion: lightning first, else the
// first listed, matching the open-question resolution in DESIGN.md.
func (q *Quote) PreferredInvoice() (Invoice, bool) {
	if len(q.Invoices) == 0 {
		return Invoice{}, false
	}
	for _, inv := range q.Invoices {
		if inv.Method == "lightning" {
			return inv, true
		}
	}
	return q.Invoices[0], true
}

// Proof is the client's payment receipt sent back to the expert, encrypted
// to the expert's pubkey.
type Proof struct {
	ID        HexBytes
	PromptID  HexBytes
	Method    string
	Preimage  HexBytes
	CreatedAt time.Time
}

// Reply carries (a chunk of) the expert's answer back to the client,
// encrypted to the client's pubkey. Done marks the final chunk in a
// sequence; non-streamed replies set Done true on the only Reply.
type Reply struct {
	ID        HexBytes
	PromptID  HexBytes
	Content   string
	Done      bool
	ErrorCode string
	CreatedAt time.Time
}
