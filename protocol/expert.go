package protocol

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/log"
	"github.com/askexperts/askexperts/payments"
	"github.com/askexperts/askexperts/transport"
	"github.com/askexperts/askexperts/types"
)

// BidFunc decides whether to bid on ask, and if so, what to offer.
type BidFunc func(ctx context.Context, ask *types.Ask) (offer string, ok bool)

// QuoteFunc computes the price for a received Prompt. Returning
// reason=types.InvoiceReasonNoKnowledge with no invoices tells the client
// selector this expert found no relevant context (§4.5/§4.7), which is a
// non-error signal rather than a protocol fault.
type QuoteFunc func(ctx context.Context, prompt *types.Prompt) (invoices []types.Invoice, reason string, err error)

// AnswerFunc produces the full reply text for an accepted, paid Quote.
// ReplyChunkSize-sized pieces of the returned string are streamed back as
// a sequence of Reply events ending in done=true.
type AnswerFunc func(ctx context.Context, prompt *types.Prompt, quote *types.Quote) (content string, err error)

// ExpertConfig configures an Expert.
type ExpertConfig struct {
	Signer         *codec.Signer
	Pool           *transport.Pool
	ListenRelays   []string // where Asks/Prompts/Proofs are awaited
	PromptRelays   []string // advertised to clients as where to send Prompts
	PublishTimeout time.Duration

	Hashtags        []string // empty matches every Ask regardless of hashtag
	AcceptedFormats []string
	AcceptedComprs  []string
	AcceptedMethods []string

	Bid    BidFunc
	Quote  QuoteFunc
	Answer AnswerFunc

	Payments *payments.Payments // not read by Expert; proofs are checked with payments.VerifyProof

	// ReplyChunkSize bounds the plaintext carried per Reply event content;
	// defaults to codec.MaxEnvelopePlaintext.
	ReplyChunkSize int
}

func (c *ExpertConfig) setDefaults() {
	if c.ReplyChunkSize == 0 {
		c.ReplyChunkSize = codec.MaxEnvelopePlaintext
	}
	if len(c.PromptRelays) == 0 {
		c.PromptRelays = c.ListenRelays
	}
}

// pendingPrompt is what an Expert remembers between quoting a Prompt and
// verifying the Proof that settles it.
type pendingPrompt struct {
	prompt       *types.Prompt
	quote        *types.Quote
	invoice      types.Invoice
	clientPubkey types.HexBytes
}

// Expert drives the expert side of the state machine (§4.7, C8): bid on
// matching Asks, quote Prompts, verify Proofs, stream Replies.
type Expert struct {
	cfg ExpertConfig

	mu       sync.Mutex
	pending  map[string]*pendingPrompt // promptID hex -> awaiting proof
	answered map[string]bool          // promptID hex -> proof already processed

	askSub    *transport.Subscription
	promptSub *transport.Subscription
	proofSub  *transport.Subscription
}

// NewExpert constructs an Expert. Listen must be called to begin serving.
func NewExpert(cfg ExpertConfig) *Expert {
	cfg.setDefaults()
	return &Expert{
		cfg:      cfg,
		pending:  make(map[string]*pendingPrompt),
		answered: make(map[string]bool),
	}
}

// Listen subscribes to Asks, Prompts and Proofs and begins serving until
// ctx is cancelled or Close is called.
func (x *Expert) Listen(ctx context.Context) {
	askFilter := transport.Filter{Kinds: []types.Kind{types.KindAsk}}
	if len(x.cfg.Hashtags) > 0 {
		askFilter.Tags = map[string][]string{"t": x.cfg.Hashtags}
	}
	x.askSub = x.cfg.Pool.Subscribe([]transport.Filter{askFilter}, x.cfg.ListenRelays,
		transport.Callbacks{OnEvent: func(_ string, e *types.Event) { x.handleAsk(ctx, e) }})

	x.promptSub = x.cfg.Pool.Subscribe(
		[]transport.Filter{{Kinds: []types.Kind{types.KindPrompt}, Tags: map[string][]string{"p": {x.cfg.Signer.Pubkey().String()}}}},
		x.cfg.ListenRelays,
		transport.Callbacks{OnEvent: func(_ string, e *types.Event) { x.handlePrompt(ctx, e) }})

	x.proofSub = x.cfg.Pool.Subscribe(
		[]transport.Filter{{Kinds: []types.Kind{types.KindProof}, Tags: map[string][]string{"p": {x.cfg.Signer.Pubkey().String()}}}},
		x.cfg.ListenRelays,
		transport.Callbacks{OnEvent: func(_ string, e *types.Event) { x.handleProof(ctx, e) }})

	go func() {
		<-ctx.Done()
		x.Close()
	}()
}

// Close releases every subscription Listen opened.
func (x *Expert) Close() {
	for _, sub := range []*transport.Subscription{x.askSub, x.promptSub, x.proofSub} {
		if sub != nil {
			sub.Close()
		}
	}
}

func (x *Expert) handleAsk(ctx context.Context, askEvent *types.Event) {
	ask, err := DecodeAsk(askEvent)
	if err != nil {
		log.Debugf("dropping malformed ask %s: %v", askEvent.ID, err)
		return
	}
	offer, ok := x.cfg.Bid(ctx, ask)
	if !ok {
		return
	}

	// outerBidID correlates this bid across the encrypted envelope boundary:
	// the outer event's own content-addressed id can't be embedded in the
	// inner payload (the inner is signed, and thus fixed, before the outer
	// envelope that wraps it exists), so a random nonce stands in for it.
	outerBidID := make(types.HexBytes, 32)
	if _, err := rand.Read(outerBidID); err != nil {
		return
	}

	payload := &types.BidPayload{
		ExpertPubkey:    x.cfg.Signer.Pubkey(),
		AskID:           ask.ID,
		OuterBidID:      outerBidID,
		Offer:           offer,
		PromptRelays:    x.cfg.PromptRelays,
		AcceptedFormats: x.cfg.AcceptedFormats,
		AcceptedComprs:  x.cfg.AcceptedComprs,
		AcceptedMethods: x.cfg.AcceptedMethods,
		CreatedAt:       time.Now(),
	}
	payloadEvent, err := EncodeBidPayload(payload, x.cfg.Signer)
	if err != nil {
		return
	}

	// The outer event is signed by a fresh, one-shot identity rather than
	// x.cfg.Signer: its pubkey is relay-visible before decryption, so
	// signing it with the expert's real key would unmask the expert to
	// every relay and observer regardless of whether the client ever
	// opens the envelope. Only the inner, encrypted BidPayload carries
	// the expert's real identity.
	outerSigner, err := codec.NewSigner()
	if err != nil {
		return
	}
	bidEvent, err := EncodeBid(payloadEvent, ask.ID, ask.ClientPubkey, outerSigner)
	if err != nil {
		return
	}
	_, _ = x.cfg.Pool.Publish(bidEvent, x.cfg.ListenRelays, x.cfg.PublishTimeout)
}

func (x *Expert) handlePrompt(ctx context.Context, promptEvent *types.Event) {
	prompt, err := DecodePrompt(promptEvent, x.cfg.Signer)
	if err != nil {
		log.Debugf("dropping unreadable prompt %s: %v", promptEvent.ID, err)
		return
	}

	invoices, reason, err := x.cfg.Quote(ctx, prompt)
	if err != nil {
		log.Debugf("quote callback failed for prompt %s: %v", prompt.ID, err)
		return
	}
	quote := &types.Quote{
		PromptID:  prompt.ID,
		Invoices:  invoices,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	quoteEvent, err := EncodeQuote(quote, prompt.ClientPubkey, x.cfg.Signer)
	if err != nil {
		return
	}
	quote.ID = quoteEvent.ID

	if len(invoices) > 0 {
		inv, _ := quote.PreferredInvoice()
		x.mu.Lock()
		x.pending[prompt.ID.String()] = &pendingPrompt{prompt: prompt, quote: quote, invoice: inv, clientPubkey: prompt.ClientPubkey}
		x.mu.Unlock()
	}

	_, _ = x.cfg.Pool.Publish(quoteEvent, x.cfg.PromptRelays, x.cfg.PublishTimeout)
}

func (x *Expert) handleProof(ctx context.Context, proofEvent *types.Event) {
	proof, err := DecodeProof(proofEvent, x.cfg.Signer)
	if err != nil {
		log.Debugf("dropping unreadable proof %s: %v", proofEvent.ID, err)
		return
	}
	key := proof.PromptID.String()

	x.mu.Lock()
	if x.answered[key] {
		x.mu.Unlock()
		return // duplicate proof for an already-settled prompt: ignored
	}
	pend, ok := x.pending[key]
	if ok {
		x.answered[key] = true
		delete(x.pending, key)
	}
	x.mu.Unlock()
	if !ok {
		return
	}

	valid, err := payments.VerifyProof(pend.invoice.InvoiceString, proof.Preimage)
	if err != nil || !valid {
		x.sendError(pend, apperrors.CodePaymentProofInvalid, "proof does not match quoted invoice")
		return
	}

	content, err := x.cfg.Answer(ctx, pend.prompt, pend.quote)
	if err != nil {
		x.sendError(pend, apperrors.CodeProtocolUnexpectedKind, err.Error())
		return
	}
	x.streamReply(pend, content)
}

// streamReply splits content into pieces of at most cfg.ReplyChunkSize
// bytes (a boundary may fall inside a multi-byte UTF-8 character) and
// publishes one Reply event per piece, the last carrying done=true —
// the native multi-Reply chunking the Reply invariant in §3 describes.
func (x *Expert) streamReply(pend *pendingPrompt, content string) {
	chunkSize := x.cfg.ReplyChunkSize
	data := []byte(content)
	if len(data) == 0 {
		x.publishReply(pend, "", true, "")
		return
	}
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		done := end >= len(data)
		x.publishReply(pend, string(data[offset:end]), done, "")
	}
}

func (x *Expert) sendError(pend *pendingPrompt, code, message string) {
	log.Debugf("prompt %s terminated with error: %s: %s", pend.prompt.ID, code, message)
	x.publishReply(pend, "", true, code)
}

func (x *Expert) publishReply(pend *pendingPrompt, content string, done bool, errorCode string) {
	reply := &types.Reply{
		PromptID:  pend.prompt.ID,
		Content:   content,
		Done:      done,
		ErrorCode: errorCode,
		CreatedAt: time.Now(),
	}
	replyEvent, err := EncodeReply(reply, pend.clientPubkey, x.cfg.Signer)
	if err != nil {
		return
	}
	_, _ = x.cfg.Pool.Publish(replyEvent, x.cfg.PromptRelays, x.cfg.PublishTimeout)
}
