// Package protocol implements the client and expert halves of the
// question-answer state machine (§4.6/§4.7): discovery, bidding,
// prompting, quoting, paying, proving and replying, all carried as
// signed (and where required, encrypted) events over component C2's
// transport and component C3's stream primitives.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/types"
)

// tagList builds one Tag per value, e.g. tagList("t", hashtags) for a
// run of "t" tags.
func tagList(name string, values []string) types.Tags {
	tags := make(types.Tags, 0, len(values))
	for _, v := range values {
		tags = append(tags, types.Tag{name, v})
	}
	return tags
}

// EncodeAsk signs an Ask as a kind-20174 event. Hashtags, accepted
// formats/compressions/methods ride in tags so relays can filter without
// decrypting anything (§4.1/§4.6: Ask is never encrypted).
func EncodeAsk(a *types.Ask, signer *codec.Signer) (*types.Event, error) {
	tags := tagList("t", a.Hashtags)
	tags = append(tags, tagList("format", a.AcceptedFormats)...)
	tags = append(tags, tagList("compr", a.AcceptedComprs)...)
	tags = append(tags, tagList("method", a.AcceptedMethods)...)

	unsigned := types.Event{
		CreatedAt: a.CreatedAt.Unix(),
		Kind:      types.KindAsk,
		Tags:      tags,
		Content:   a.Summary,
	}
	signed, err := codec.Sign(signer, unsigned)
	if err != nil {
		return nil, fmt.Errorf("sign ask: %w", err)
	}
	return signed, nil
}

// DecodeAsk reconstructs an Ask from a verified kind-20174 event.
func DecodeAsk(e *types.Event) (*types.Ask, error) {
	if e.Kind != types.KindAsk {
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind,
			fmt.Sprintf("expected ask (kind %d), got %d", types.KindAsk, e.Kind))
	}
	return &types.Ask{
		ID:              e.ID,
		ClientPubkey:    e.Pubkey,
		Hashtags:        e.Tags.Values("t"),
		AcceptedFormats: e.Tags.Values("format"),
		AcceptedComprs:  e.Tags.Values("compr"),
		AcceptedMethods: e.Tags.Values("method"),
		Summary:         e.Content,
		CreatedAt:       unixTime(e.CreatedAt),
	}, nil
}

// EncodeBidPayload signs a BidPayload as a kind-20176 event. This is the
// inner event an outer Bid envelope decrypts to; signing it separately
// lets the client verify the expert's identity after decryption, without
// the relay-visible outer event revealing who the expert is.
func EncodeBidPayload(b *types.BidPayload, signer *codec.Signer) (*types.Event, error) {
	tags := types.Tags{
		{"e", b.AskID.String()},
		{"outer_bid", b.OuterBidID.String()},
	}
	tags = append(tags, tagList("relay", b.PromptRelays)...)
	tags = append(tags, tagList("format", b.AcceptedFormats)...)
	tags = append(tags, tagList("compr", b.AcceptedComprs)...)
	tags = append(tags, tagList("method", b.AcceptedMethods)...)

	unsigned := types.Event{
		CreatedAt: b.CreatedAt.Unix(),
		Kind:      types.KindBidPayload,
		Tags:      tags,
		Content:   b.Offer,
	}
	signed, err := codec.Sign(signer, unsigned)
	if err != nil {
		return nil, fmt.Errorf("sign bid payload: %w", err)
	}
	return signed, nil
}

// DecodeBidPayload reconstructs a BidPayload from a verified kind-20176
// event.
func DecodeBidPayload(e *types.Event) (*types.BidPayload, error) {
	if e.Kind != types.KindBidPayload {
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind,
			fmt.Sprintf("expected bid payload (kind %d), got %d", types.KindBidPayload, e.Kind))
	}
	askID, err := types.HexStringToHexBytes(e.Tags.Value("e"))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindProtocol, apperrors.CodeProtocolUnknownRef, err, "bid payload missing ask ref")
	}
	outerBidID, err := types.HexStringToHexBytes(e.Tags.Value("outer_bid"))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindProtocol, apperrors.CodeProtocolUnknownRef, err, "bid payload missing outer bid ref")
	}
	return &types.BidPayload{
		ID:              e.ID,
		ExpertPubkey:    e.Pubkey,
		AskID:           askID,
		OuterBidID:      outerBidID,
		Offer:           e.Content,
		PromptRelays:    e.Tags.Values("relay"),
		AcceptedFormats: e.Tags.Values("format"),
		AcceptedComprs:  e.Tags.Values("compr"),
		AcceptedMethods: e.Tags.Values("method"),
		CreatedAt:       unixTime(e.CreatedAt),
	}, nil
}

// EncodeBid wraps a signed BidPayload event in an encrypted, relay-visible
// outer kind-20175 envelope addressed to the ask's client. The envelope
// carries the inner event's full JSON so the client can re-verify the
// expert's signature after decrypting it.
func EncodeBid(payloadEvent *types.Event, askID, clientPubkey types.HexBytes, outerSigner *codec.Signer) (*types.Event, error) {
	inner, err := json.Marshal(payloadEvent)
	if err != nil {
		return nil, fmt.Errorf("encode bid payload event: %w", err)
	}
	envelope, err := codec.Encrypt(inner, clientPubkey, outerSigner)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCrypto, apperrors.CodeCryptoVerifyFailed, err, "encrypt bid envelope")
	}
	unsigned := types.Event{
		CreatedAt: payloadEvent.CreatedAt,
		Kind:      types.KindBid,
		Tags: types.Tags{
			{"e", askID.String()},
			{"p", clientPubkey.String()},
		},
		Content: envelope,
	}
	signed, err := codec.Sign(outerSigner, unsigned)
	if err != nil {
		return nil, fmt.Errorf("sign bid envelope: %w", err)
	}
	return signed, nil
}

// DecodeBid parses the relay-visible shell of an outer kind-20175 event,
// without decrypting it.
func DecodeBid(e *types.Event) (*types.Bid, error) {
	if e.Kind != types.KindBid {
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind,
			fmt.Sprintf("expected bid (kind %d), got %d", types.KindBid, e.Kind))
	}
	askID, err := types.HexStringToHexBytes(e.Tags.Value("e"))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindProtocol, apperrors.CodeProtocolUnknownRef, err, "bid missing ask ref")
	}
	return &types.Bid{
		ID:           e.ID,
		AskID:        askID,
		ExpertPubkey: e.Pubkey,
		Envelope:     e.Content,
		CreatedAt:    unixTime(e.CreatedAt),
	}, nil
}

// OpenBid decrypts outer's envelope addressed to clientSigner, verifies
// the inner event's own signature, and decodes the resulting BidPayload.
// A verification failure here means the bid must be dropped, per the
// same drop-on-mismatch rule codec.Verify documents for any event.
func OpenBid(outer *types.Event, clientSigner *codec.Signer) (*types.BidPayload, error) {
	bid, err := DecodeBid(outer)
	if err != nil {
		return nil, err
	}
	plain, err := codec.Decrypt(bid.Envelope, outer.Pubkey, clientSigner)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCrypto, apperrors.CodeCryptoDecryptFailed, err, "decrypt bid envelope")
	}
	var inner types.Event
	if err := json.Unmarshal(plain, &inner); err != nil {
		return nil, apperrors.Wrap(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind, err, "malformed bid payload event")
	}
	if !codec.Verify(&inner) {
		return nil, apperrors.New(apperrors.KindCrypto, apperrors.CodeCryptoVerifyFailed, "bid payload signature invalid")
	}
	return DecodeBidPayload(&inner)
}

// EncodePrompt encrypts and signs a Prompt as a kind-20177 event addressed
// to the chosen expert.
func EncodePrompt(p *types.Prompt, signer *codec.Signer) (*types.Event, error) {
	envelope, err := codec.Encrypt([]byte(p.Content), p.ExpertPubkey, signer)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCrypto, apperrors.CodeCryptoVerifyFailed, err, "encrypt prompt")
	}
	tags := types.Tags{
		{"e", p.BidID.String()},
		{"p", p.ExpertPubkey.String()},
		{"format", p.Format},
	}
	if len(p.StreamRef) > 0 {
		tags = append(tags, types.Tag{"stream", p.StreamRef.String()})
	}
	unsigned := types.Event{
		CreatedAt: p.CreatedAt.Unix(),
		Kind:      types.KindPrompt,
		Tags:      tags,
		Content:   envelope,
	}
	signed, err := codec.Sign(signer, unsigned)
	if err != nil {
		return nil, fmt.Errorf("sign prompt: %w", err)
	}
	return signed, nil
}

// DecodePrompt decrypts a kind-20177 event addressed to recipient.
func DecodePrompt(e *types.Event, recipient *codec.Signer) (*types.Prompt, error) {
	if e.Kind != types.KindPrompt {
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind,
			fmt.Sprintf("expected prompt (kind %d), got %d", types.KindPrompt, e.Kind))
	}
	bidID, err := types.HexStringToHexBytes(e.Tags.Value("e"))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindProtocol, apperrors.CodeProtocolUnknownRef, err, "prompt missing bid ref")
	}
	plain, err := codec.Decrypt(e.Content, e.Pubkey, recipient)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCrypto, apperrors.CodeCryptoDecryptFailed, err, "decrypt prompt")
	}
	var streamRef types.HexBytes
	if ref := e.Tags.Value("stream"); ref != "" {
		streamRef, _ = types.HexStringToHexBytes(ref)
	}
	return &types.Prompt{
		ID:           e.ID,
		BidID:        bidID,
		ClientPubkey: e.Pubkey,
		ExpertPubkey: recipient.Pubkey(),
		Format:       e.Tags.Value("format"),
		StreamRef:    streamRef,
		Content:      string(plain),
		CreatedAt:    unixTime(e.CreatedAt),
	}, nil
}

// quoteWire is the JSON payload encrypted inside a Quote event's content.
type quoteWire struct {
	Invoices []types.Invoice `json:"invoices"`
	Reason   string          `json:"reason,omitempty"`
}

// EncodeQuote encrypts and signs a Quote as a kind-20178 event addressed
// to clientPubkey.
func EncodeQuote(q *types.Quote, clientPubkey types.HexBytes, signer *codec.Signer) (*types.Event, error) {
	payload, err := json.Marshal(quoteWire{Invoices: q.Invoices, Reason: q.Reason})
	if err != nil {
		return nil, fmt.Errorf("encode quote payload: %w", err)
	}
	envelope, err := codec.Encrypt(payload, clientPubkey, signer)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCrypto, apperrors.CodeCryptoVerifyFailed, err, "encrypt quote")
	}
	unsigned := types.Event{
		CreatedAt: q.CreatedAt.Unix(),
		Kind:      types.KindQuote,
		Tags:      types.Tags{{"e", q.PromptID.String()}, {"p", clientPubkey.String()}},
		Content:   envelope,
	}
	signed, err := codec.Sign(signer, unsigned)
	if err != nil {
		return nil, fmt.Errorf("sign quote: %w", err)
	}
	return signed, nil
}

// DecodeQuote decrypts a kind-20178 event addressed to recipient.
func DecodeQuote(e *types.Event, recipient *codec.Signer) (*types.Quote, error) {
	if e.Kind != types.KindQuote {
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind,
			fmt.Sprintf("expected quote (kind %d), got %d", types.KindQuote, e.Kind))
	}
	promptID, err := types.HexStringToHexBytes(e.Tags.Value("e"))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindProtocol, apperrors.CodeProtocolUnknownRef, err, "quote missing prompt ref")
	}
	plain, err := codec.Decrypt(e.Content, e.Pubkey, recipient)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCrypto, apperrors.CodeCryptoDecryptFailed, err, "decrypt quote")
	}
	var wire quoteWire
	if err := json.Unmarshal(plain, &wire); err != nil {
		return nil, apperrors.Wrap(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind, err, "malformed quote payload")
	}
	return &types.Quote{
		ID:        e.ID,
		PromptID:  promptID,
		Invoices:  wire.Invoices,
		Reason:    wire.Reason,
		CreatedAt: unixTime(e.CreatedAt),
	}, nil
}

// proofWire is the JSON payload encrypted inside a Proof event's content.
type proofWire struct {
	Method   string         `json:"method"`
	Preimage types.HexBytes `json:"preimage"`
}

// EncodeProof encrypts and signs a Proof as a kind-20179 event addressed
// to expertPubkey.
func EncodeProof(p *types.Proof, expertPubkey types.HexBytes, signer *codec.Signer) (*types.Event, error) {
	payload, err := json.Marshal(proofWire{Method: p.Method, Preimage: p.Preimage})
	if err != nil {
		return nil, fmt.Errorf("encode proof payload: %w", err)
	}
	envelope, err := codec.Encrypt(payload, expertPubkey, signer)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCrypto, apperrors.CodeCryptoVerifyFailed, err, "encrypt proof")
	}
	unsigned := types.Event{
		CreatedAt: p.CreatedAt.Unix(),
		Kind:      types.KindProof,
		Tags:      types.Tags{{"e", p.PromptID.String()}, {"p", expertPubkey.String()}},
		Content:   envelope,
	}
	signed, err := codec.Sign(signer, unsigned)
	if err != nil {
		return nil, fmt.Errorf("sign proof: %w", err)
	}
	return signed, nil
}

// DecodeProof decrypts a kind-20179 event addressed to recipient.
func DecodeProof(e *types.Event, recipient *codec.Signer) (*types.Proof, error) {
	if e.Kind != types.KindProof {
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind,
			fmt.Sprintf("expected proof (kind %d), got %d", types.KindProof, e.Kind))
	}
	promptID, err := types.HexStringToHexBytes(e.Tags.Value("e"))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindProtocol, apperrors.CodeProtocolUnknownRef, err, "proof missing prompt ref")
	}
	plain, err := codec.Decrypt(e.Content, e.Pubkey, recipient)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCrypto, apperrors.CodeCryptoDecryptFailed, err, "decrypt proof")
	}
	var wire proofWire
	if err := json.Unmarshal(plain, &wire); err != nil {
		return nil, apperrors.Wrap(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind, err, "malformed proof payload")
	}
	return &types.Proof{
		ID:        e.ID,
		PromptID:  promptID,
		Method:    wire.Method,
		Preimage:  wire.Preimage,
		CreatedAt: unixTime(e.CreatedAt),
	}, nil
}

// replyWire is the JSON payload encrypted inside a non-streamed Reply
// event's content.
type replyWire struct {
	Content   string `json:"content,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// EncodeReply encrypts and signs a Reply as a kind-20180 event addressed
// to clientPubkey. protocol/expert.go splits a large reply across several
// Reply events, the last one with Done set.
func EncodeReply(r *types.Reply, clientPubkey types.HexBytes, signer *codec.Signer) (*types.Event, error) {
	payload, err := json.Marshal(replyWire{Content: r.Content, ErrorCode: r.ErrorCode})
	if err != nil {
		return nil, fmt.Errorf("encode reply payload: %w", err)
	}
	envelope, err := codec.Encrypt(payload, clientPubkey, signer)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCrypto, apperrors.CodeCryptoVerifyFailed, err, "encrypt reply")
	}
	unsigned := types.Event{
		CreatedAt: r.CreatedAt.Unix(),
		Kind:      types.KindReply,
		Tags: types.Tags{
			{"e", r.PromptID.String()},
			{"p", clientPubkey.String()},
			{"done", strconv.FormatBool(r.Done)},
		},
		Content: envelope,
	}
	signed, err := codec.Sign(signer, unsigned)
	if err != nil {
		return nil, fmt.Errorf("sign reply: %w", err)
	}
	return signed, nil
}

// DecodeReply decrypts a kind-20180 event addressed to recipient.
func DecodeReply(e *types.Event, recipient *codec.Signer) (*types.Reply, error) {
	if e.Kind != types.KindReply {
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind,
			fmt.Sprintf("expected reply (kind %d), got %d", types.KindReply, e.Kind))
	}
	promptID, err := types.HexStringToHexBytes(e.Tags.Value("e"))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindProtocol, apperrors.CodeProtocolUnknownRef, err, "reply missing prompt ref")
	}
	plain, err := codec.Decrypt(e.Content, e.Pubkey, recipient)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCrypto, apperrors.CodeCryptoDecryptFailed, err, "decrypt reply")
	}
	var wire replyWire
	if err := json.Unmarshal(plain, &wire); err != nil {
		return nil, apperrors.Wrap(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind, err, "malformed reply payload")
	}
	done, _ := strconv.ParseBool(e.Tags.Value("done"))
	return &types.Reply{
		ID:        e.ID,
		PromptID:  promptID,
		Content:   wire.Content,
		Done:      done,
		ErrorCode: wire.ErrorCode,
		CreatedAt: unixTime(e.CreatedAt),
	}, nil
}

// EncodeStreamMetadata signs a StreamMetadata as a kind-173 event. A large
// Reply publishes one of these before chunking, so the client knows how
// to decode the chunks (§4.3); the stream's own ephemeral signer (not the
// expert's identity) is used, matching StreamID being the stream's own
// pubkey rather than the expert's.
func EncodeStreamMetadata(m *types.StreamMetadata, createdAt int64, signer *codec.Signer) (*types.Event, error) {
	tags := types.Tags{
		{"enc", string(m.Encryption)},
		{"compr", string(m.Compression)},
		{"binary", strconv.FormatBool(m.Binary)},
	}
	tags = append(tags, tagList("relay", m.Relays)...)
	if len(m.ReceiverPubkey) > 0 {
		tags = append(tags, types.Tag{"p", m.ReceiverPubkey.String()})
	}
	unsigned := types.Event{
		CreatedAt: createdAt,
		Kind:      types.KindStreamMetadata,
		Tags:      tags,
	}
	signed, err := codec.Sign(signer, unsigned)
	if err != nil {
		return nil, fmt.Errorf("sign stream metadata: %w", err)
	}
	return signed, nil
}

// DecodeStreamMetadata reconstructs a StreamMetadata from a verified
// kind-173 event.
func DecodeStreamMetadata(e *types.Event) (*types.StreamMetadata, error) {
	if e.Kind != types.KindStreamMetadata {
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind,
			fmt.Sprintf("expected stream metadata (kind %d), got %d", types.KindStreamMetadata, e.Kind))
	}
	binary, _ := strconv.ParseBool(e.Tags.Value("binary"))
	var receiver types.HexBytes
	if pk := e.Tags.Value("p"); pk != "" {
		receiver, _ = types.HexStringToHexBytes(pk)
	}
	return &types.StreamMetadata{
		ID:             e.ID,
		StreamPubkey:   e.Pubkey,
		Encryption:     types.StreamEncryption(e.Tags.Value("enc")),
		Compression:    types.StreamCompression(e.Tags.Value("compr")),
		Binary:         binary,
		Relays:         e.Tags.Values("relay"),
		ReceiverPubkey: receiver,
	}, nil
}
