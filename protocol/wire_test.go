package protocol

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/types"
)

func mustSigner(c *qt.C) *codec.Signer {
	s, err := codec.NewSigner()
	c.Assert(err, qt.IsNil)
	return s
}

func TestAskRoundTrip(t *testing.T) {
	c := qt.New(t)
	signer := mustSigner(c)

	ask := &types.Ask{
		Hashtags:        []string{"geography", "history"},
		AcceptedFormats: []string{"markdown"},
		AcceptedComprs:  []string{"gzip"},
		AcceptedMethods: []string{"lightning"},
		Summary:         "what is the capital of France",
		CreatedAt:       time.Unix(1_700_000_000, 0).UTC(),
	}
	event, err := EncodeAsk(ask, signer)
	c.Assert(err, qt.IsNil)
	c.Assert(codec.Verify(event), qt.IsTrue)

	got, err := DecodeAsk(event)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Hashtags, qt.DeepEquals, ask.Hashtags)
	c.Assert(got.AcceptedFormats, qt.DeepEquals, ask.AcceptedFormats)
	c.Assert(got.Summary, qt.Equals, ask.Summary)
	c.Assert(got.ClientPubkey, qt.DeepEquals, signer.Pubkey())
	c.Assert(got.CreatedAt.Unix(), qt.Equals, ask.CreatedAt.Unix())
}

func TestBidPayloadRoundTrip(t *testing.T) {
	c := qt.New(t)
	expertSigner := mustSigner(c)

	payload := &types.BidPayload{
		AskID:           types.HexBytes{0x01, 0x02},
		OuterBidID:      types.HexBytes{0x03, 0x04},
		Offer:           "I can answer this for 100 sats",
		PromptRelays:    []string{"wss://relay.example"},
		AcceptedFormats: []string{"markdown"},
		CreatedAt:       time.Unix(1_700_000_100, 0).UTC(),
	}
	event, err := EncodeBidPayload(payload, expertSigner)
	c.Assert(err, qt.IsNil)
	c.Assert(codec.Verify(event), qt.IsTrue)

	got, err := DecodeBidPayload(event)
	c.Assert(err, qt.IsNil)
	c.Assert(got.AskID, qt.DeepEquals, payload.AskID)
	c.Assert(got.OuterBidID, qt.DeepEquals, payload.OuterBidID)
	c.Assert(got.Offer, qt.Equals, payload.Offer)
	c.Assert(got.PromptRelays, qt.DeepEquals, payload.PromptRelays)
	c.Assert(got.ExpertPubkey, qt.DeepEquals, expertSigner.Pubkey())
}

func TestBidEnvelopeRoundTrip(t *testing.T) {
	c := qt.New(t)
	expertSigner := mustSigner(c)
	clientSigner := mustSigner(c)

	askID := types.HexBytes{0xaa, 0xbb}
	payload := &types.BidPayload{
		AskID:      askID,
		OuterBidID: types.HexBytes{0x11, 0x22},
		Offer:      "happy to help",
		CreatedAt:  time.Unix(1_700_000_200, 0).UTC(),
	}
	payloadEvent, err := EncodeBidPayload(payload, expertSigner)
	c.Assert(err, qt.IsNil)

	outer, err := EncodeBid(payloadEvent, askID, clientSigner.Pubkey(), expertSigner)
	c.Assert(err, qt.IsNil)
	c.Assert(codec.Verify(outer), qt.IsTrue)
	c.Assert(outer.Kind, qt.Equals, types.KindBid)

	decoded, err := OpenBid(outer, clientSigner)
	c.Assert(err, qt.IsNil)
	c.Assert(decoded.Offer, qt.Equals, payload.Offer)
	c.Assert(decoded.OuterBidID, qt.DeepEquals, payload.OuterBidID)

	// A third party cannot open the envelope.
	eavesdropper := mustSigner(c)
	_, err = OpenBid(outer, eavesdropper)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestPromptRoundTrip(t *testing.T) {
	c := qt.New(t)
	clientSigner := mustSigner(c)
	expertSigner := mustSigner(c)

	prompt := &types.Prompt{
		BidID:        types.HexBytes{0x01},
		ExpertPubkey: expertSigner.Pubkey(),
		Format:       "markdown",
		Content:      "what is the capital of France?",
		CreatedAt:    time.Unix(1_700_000_300, 0).UTC(),
	}
	event, err := EncodePrompt(prompt, clientSigner)
	c.Assert(err, qt.IsNil)
	c.Assert(codec.Verify(event), qt.IsTrue)

	got, err := DecodePrompt(event, expertSigner)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Content, qt.Equals, prompt.Content)
	c.Assert(got.Format, qt.Equals, prompt.Format)
	c.Assert(got.ClientPubkey, qt.DeepEquals, clientSigner.Pubkey())
}

func TestQuoteRoundTrip(t *testing.T) {
	c := qt.New(t)
	expertSigner := mustSigner(c)
	clientSigner := mustSigner(c)

	quote := &types.Quote{
		PromptID: types.HexBytes{0x05},
		Invoices: []types.Invoice{
			{Method: "lightning", Unit: "sat", AmountSats: 100, InvoiceString: "lnbc..."},
		},
		CreatedAt: time.Unix(1_700_000_400, 0).UTC(),
	}
	event, err := EncodeQuote(quote, clientSigner.Pubkey(), expertSigner)
	c.Assert(err, qt.IsNil)

	got, err := DecodeQuote(event, clientSigner)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Invoices, qt.DeepEquals, quote.Invoices)
	c.Assert(got.Reason, qt.Equals, "")
}

func TestQuoteNoKnowledgeReason(t *testing.T) {
	c := qt.New(t)
	expertSigner := mustSigner(c)
	clientSigner := mustSigner(c)

	quote := &types.Quote{
		PromptID:  types.HexBytes{0x06},
		Reason:    types.InvoiceReasonNoKnowledge,
		CreatedAt: time.Unix(1_700_000_500, 0).UTC(),
	}
	event, err := EncodeQuote(quote, clientSigner.Pubkey(), expertSigner)
	c.Assert(err, qt.IsNil)

	got, err := DecodeQuote(event, clientSigner)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Reason, qt.Equals, types.InvoiceReasonNoKnowledge)
	c.Assert(got.Invoices, qt.HasLen, 0)
}

func TestProofRoundTrip(t *testing.T) {
	c := qt.New(t)
	clientSigner := mustSigner(c)
	expertSigner := mustSigner(c)

	proof := &types.Proof{
		PromptID:  types.HexBytes{0x07},
		Method:    "lightning",
		Preimage:  types.HexBytes{0x01, 0x02, 0x03},
		CreatedAt: time.Unix(1_700_000_600, 0).UTC(),
	}
	event, err := EncodeProof(proof, expertSigner.Pubkey(), clientSigner)
	c.Assert(err, qt.IsNil)

	got, err := DecodeProof(event, expertSigner)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Preimage, qt.DeepEquals, proof.Preimage)
	c.Assert(got.Method, qt.Equals, proof.Method)
}

func TestReplyRoundTrip(t *testing.T) {
	c := qt.New(t)
	expertSigner := mustSigner(c)
	clientSigner := mustSigner(c)

	reply := &types.Reply{
		PromptID:  types.HexBytes{0x08},
		Content:   "Paris",
		Done:      true,
		CreatedAt: time.Unix(1_700_000_700, 0).UTC(),
	}
	event, err := EncodeReply(reply, clientSigner.Pubkey(), expertSigner)
	c.Assert(err, qt.IsNil)

	got, err := DecodeReply(event, clientSigner)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Content, qt.Equals, reply.Content)
	c.Assert(got.Done, qt.IsTrue)
	c.Assert(got.ErrorCode, qt.Equals, "")
}

func TestReplyErrorRoundTrip(t *testing.T) {
	c := qt.New(t)
	expertSigner := mustSigner(c)
	clientSigner := mustSigner(c)

	reply := &types.Reply{
		PromptID:  types.HexBytes{0x09},
		Done:      true,
		ErrorCode: "proof_invalid",
		CreatedAt: time.Unix(1_700_000_800, 0).UTC(),
	}
	event, err := EncodeReply(reply, clientSigner.Pubkey(), expertSigner)
	c.Assert(err, qt.IsNil)

	got, err := DecodeReply(event, clientSigner)
	c.Assert(err, qt.IsNil)
	c.Assert(got.ErrorCode, qt.Equals, "proof_invalid")
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	c := qt.New(t)
	signer := mustSigner(c)
	ask := &types.Ask{Summary: "x", CreatedAt: time.Unix(1, 0)}
	event, err := EncodeAsk(ask, signer)
	c.Assert(err, qt.IsNil)

	_, err = DecodeQuote(event, signer)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestStreamMetadataRoundTrip(t *testing.T) {
	c := qt.New(t)
	streamSigner := mustSigner(c)
	receiverPubkey := mustSigner(c).Pubkey()

	meta := &types.StreamMetadata{
		Encryption:     types.StreamEncryptionNIP44,
		Compression:    types.StreamCompressionGzip,
		Binary:         false,
		Relays:         []string{"wss://relay.example"},
		ReceiverPubkey: receiverPubkey,
	}
	event, err := EncodeStreamMetadata(meta, time.Now().Unix(), streamSigner)
	c.Assert(err, qt.IsNil)
	c.Assert(codec.Verify(event), qt.IsTrue)

	got, err := DecodeStreamMetadata(event)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Encryption, qt.Equals, meta.Encryption)
	c.Assert(got.Compression, qt.Equals, meta.Compression)
	c.Assert(got.Relays, qt.DeepEquals, meta.Relays)
	c.Assert(got.ReceiverPubkey, qt.DeepEquals, meta.ReceiverPubkey)
	c.Assert(got.StreamPubkey, qt.DeepEquals, streamSigner.Pubkey())
}
