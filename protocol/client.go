package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/log"
	"github.com/askexperts/askexperts/payments"
	"github.com/askexperts/askexperts/transport"
	"github.com/askexperts/askexperts/types"
)

// Default phase timeouts, per §4.7.
const (
	DefaultDiscoveryTimeout = 10 * time.Second
	DefaultQuoteTimeout     = 10 * time.Second
	DefaultReplyTimeout     = 60 * time.Second
)

// OnQuote decides whether to pay a received Quote.
type OnQuote func(quote *types.Quote, prompt *types.Prompt) bool

// OnPay settles an accepted Quote, returning the payment method and the
// preimage proving it. The default implementation (DefaultOnPay) pays
// Quote.PreferredInvoice through an injected payments.Payments.
type OnPay func(ctx context.Context, quote *types.Quote, prompt *types.Prompt) (method string, preimage []byte, err error)

// DefaultOnPay settles a Quote's preferred invoice through p.
func DefaultOnPay(p *payments.Payments) OnPay {
	return func(ctx context.Context, quote *types.Quote, prompt *types.Prompt) (string, []byte, error) {
		inv, ok := quote.PreferredInvoice()
		if !ok {
			return "", nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolUnknownRef,
				"quote carries no invoice")
		}
		preimage, err := p.Pay(ctx, inv.InvoiceString)
		if err != nil {
			return "", nil, err
		}
		return inv.Method, preimage, nil
	}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Signer          *codec.Signer
	Pool            *transport.Pool
	DiscoveryRelays []string
	PublishTimeout  time.Duration

	DiscoveryTimeout time.Duration
	QuoteTimeout     time.Duration
	ReplyTimeout     time.Duration

	OnQuote OnQuote
	OnPay   OnPay
}

func (c *ClientConfig) setDefaults() {
	if c.DiscoveryTimeout == 0 {
		c.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if c.QuoteTimeout == 0 {
		c.QuoteTimeout = DefaultQuoteTimeout
	}
	if c.ReplyTimeout == 0 {
		c.ReplyTimeout = DefaultReplyTimeout
	}
}

// AskRequest is the public ask a client broadcasts to start a session.
type AskRequest struct {
	Hashtags        []string
	AcceptedFormats []string
	AcceptedComprs  []string
	AcceptedMethods []string
	Summary         string
}

// SessionResult is the terminal outcome of one client<->expert exchange
// (§4.7's per-selected-bid sub-state-machine).
type SessionResult struct {
	ExpertPubkey types.HexBytes
	Quote        *types.Quote
	Content      string // accumulated Reply content, in arrival order
	FailureCode  string // "" on success
	Err          error
}

// Client drives the client side of the Ask->Bid->Prompt->Quote->Pay->
// Proof->Reply state machine (§4.7, C7).
type Client struct {
	cfg      ClientConfig
	registry *BidRegistry

	provenMu sync.Mutex
	proven   map[string]bool // promptID hex -> proof already sent
}

// NewClient constructs a Client. cfg.OnQuote defaults to "accept any
// priceable quote" when unset; cfg.OnPay has no default (see DefaultOnPay)
// since settling payment always needs a real wallet behind it.
func NewClient(cfg ClientConfig) *Client {
	cfg.setDefaults()
	if cfg.OnQuote == nil {
		cfg.OnQuote = func(q *types.Quote, _ *types.Prompt) bool { return q.Reason == "" }
	}
	return &Client{cfg: cfg, registry: NewBidRegistry(), proven: make(map[string]bool)}
}

// Discover publishes req as an Ask and collects Bids for
// cfg.DiscoveryTimeout, returning the decoded Ask and every bid payload
// that arrived and decrypted cleanly, deduplicated by expert pubkey in
// arrival order. Zero bids by timeout is the terminal `no_bids` failure.
func (c *Client) Discover(ctx context.Context, req AskRequest) (*types.Ask, []types.BidPayload, error) {
	unsigned := &types.Ask{
		Hashtags:        req.Hashtags,
		AcceptedFormats: req.AcceptedFormats,
		AcceptedComprs:  req.AcceptedComprs,
		AcceptedMethods: req.AcceptedMethods,
		Summary:         req.Summary,
		CreatedAt:       time.Now(),
	}
	askEvent, err := EncodeAsk(unsigned, c.cfg.Signer)
	if err != nil {
		return nil, nil, err
	}
	ask, err := DecodeAsk(askEvent)
	if err != nil {
		return nil, nil, err
	}

	var mu sync.Mutex
	var bids []types.BidPayload

	sub := c.cfg.Pool.Subscribe(
		[]transport.Filter{{Kinds: []types.Kind{types.KindBid}, Tags: map[string][]string{"e": {ask.ID.String()}}}},
		c.cfg.DiscoveryRelays,
		transport.Callbacks{OnEvent: func(_ string, e *types.Event) {
			payload, err := OpenBid(e, c.cfg.Signer)
			if err != nil {
				log.Debugf("dropping unreadable bid %s: %v", e.ID, err)
				return // malformed/undecryptable bid: dropped, not fatal to discovery
			}
			// Keyed by the inner payload's own OuterBidID correlation nonce,
			// not the outer event's content hash: the inner payload is signed
			// (and thus fixed) before the outer envelope that wraps it exists,
			// so it cannot reference the outer event's own id.
			c.registry.Put(payload.OuterBidID.String(), *payload)
			mu.Lock()
			bids = append(bids, *payload)
			mu.Unlock()
		}},
	)
	defer sub.Close()

	if _, err := c.cfg.Pool.Publish(askEvent, c.cfg.DiscoveryRelays, c.cfg.PublishTimeout); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.KindTransport, apperrors.CodeTransportPublishNoRelay, err, "")
	}

	select {
	case <-time.After(c.cfg.DiscoveryTimeout):
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	mu.Lock()
	collected := dedupeByExpertPubkey(bids)
	mu.Unlock()

	if len(collected) == 0 {
		return ask, nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolNoBids,
			"no bids received within discovery timeout")
	}
	return ask, collected, nil
}

// RunSessions runs one Prompt->Quote->Pay->Proof->Reply sub-state-machine
// per selected bid, concurrently, and returns once every sub-session has
// reached a terminal state (§4.7: "Multiple selected bids run independent
// sub-state-machines in parallel").
func (c *Client) RunSessions(ctx context.Context, bids []types.BidPayload, content string, format string) []SessionResult {
	bids = dedupeByExpertPubkey(bids)
	results := make([]SessionResult, len(bids))
	var wg sync.WaitGroup
	for i, bid := range bids {
		wg.Add(1)
		go func(i int, bid types.BidPayload) {
			defer wg.Done()
			results[i] = c.runSession(ctx, bid, content, format)
		}(i, bid)
	}
	wg.Wait()
	return results
}

func (c *Client) runSession(ctx context.Context, bid types.BidPayload, content, format string) SessionResult {
	res := SessionResult{ExpertPubkey: bid.ExpertPubkey}

	prompt := &types.Prompt{
		BidID:        bid.OuterBidID,
		ClientPubkey: c.cfg.Signer.Pubkey(),
		ExpertPubkey: bid.ExpertPubkey,
		Format:       format,
		Content:      content,
		CreatedAt:    time.Now(),
	}
	promptEvent, err := EncodePrompt(prompt, c.cfg.Signer)
	if err != nil {
		res.Err = err
		return res
	}
	prompt.ID = promptEvent.ID

	quote, err := c.awaitQuote(ctx, promptEvent, bid)
	if err != nil {
		res.Err = err
		if ae, ok := err.(*apperrors.Error); ok {
			res.FailureCode = ae.Code
		}
		return res
	}
	res.Quote = quote

	if !c.cfg.OnQuote(quote, prompt) {
		return res // rejected: Done, no charge
	}

	method, preimage, err := c.cfg.OnPay(ctx, quote, prompt)
	if err != nil {
		res.Err = apperrors.Wrap(apperrors.KindPayment, apperrors.CodePaymentFailed, err, "")
		res.FailureCode = apperrors.CodePaymentFailed
		return res
	}

	if err := c.sendProofOnce(prompt, method, preimage, bid.ExpertPubkey); err != nil {
		res.Err = err
		if ae, ok := err.(*apperrors.Error); ok {
			res.FailureCode = ae.Code
		}
		return res
	}

	replyContent, err := c.awaitReply(ctx, prompt, bid)
	if err != nil {
		res.Err = err
		if ae, ok := err.(*apperrors.Error); ok {
			res.FailureCode = ae.Code
		}
		return res
	}
	res.Content = replyContent
	return res
}

// awaitQuote publishes promptEvent to the bid's prompt relays and waits
// up to cfg.QuoteTimeout for a matching Quote.
func (c *Client) awaitQuote(ctx context.Context, promptEvent *types.Event, bid types.BidPayload) (*types.Quote, error) {
	relays := bid.PromptRelays
	if len(relays) == 0 {
		relays = c.cfg.DiscoveryRelays
	}

	quoteCh := make(chan *types.Quote, 1)
	sub := c.cfg.Pool.Subscribe(
		[]transport.Filter{{
			Kinds:   []types.Kind{types.KindQuote},
			Authors: []types.HexBytes{bid.ExpertPubkey},
			Tags:    map[string][]string{"e": {promptEvent.ID.String()}},
		}},
		relays,
		transport.Callbacks{OnEvent: func(_ string, e *types.Event) {
			quote, err := DecodeQuote(e, c.cfg.Signer)
			if err != nil {
				log.Debugf("dropping unreadable quote %s: %v", e.ID, err)
				return
			}
			select {
			case quoteCh <- quote:
			default:
			}
		}},
	)
	defer sub.Close()

	if _, err := c.cfg.Pool.Publish(promptEvent, relays, c.cfg.PublishTimeout); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransport, apperrors.CodeTransportPublishNoRelay, err, "")
	}

	select {
	case quote := <-quoteCh:
		return quote, nil
	case <-time.After(c.cfg.QuoteTimeout):
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolNoQuote,
			"no quote received within quote timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sendProofOnce publishes a Proof for prompt, refusing a second send for
// the same prompt id (§4.7's single-shot Proof guard).
func (c *Client) sendProofOnce(prompt *types.Prompt, method string, preimage []byte, expertPubkey types.HexBytes) error {
	key := prompt.ID.String()
	c.provenMu.Lock()
	if c.proven[key] {
		c.provenMu.Unlock()
		return apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolDuplicateProof,
			"proof already sent for this prompt")
	}
	c.proven[key] = true
	c.provenMu.Unlock()

	proof := &types.Proof{
		PromptID:  prompt.ID,
		Method:    method,
		Preimage:  preimage,
		CreatedAt: time.Now(),
	}
	proofEvent, err := EncodeProof(proof, expertPubkey, c.cfg.Signer)
	if err != nil {
		return err
	}
	if _, err := c.cfg.Pool.Publish(proofEvent, c.cfg.DiscoveryRelays, c.cfg.PublishTimeout); err != nil {
		return apperrors.Wrap(apperrors.KindTransport, apperrors.CodeTransportPublishNoRelay, err, "")
	}
	return nil
}

// awaitReply collects Reply events for prompt until one arrives with
// done=true, resetting cfg.ReplyTimeout on every received reply — mirroring
// stream.Reader's ttl-reset-on-progress pattern for the native multi-Reply
// chunking §3 describes ("Replies may be multiple... ending in a done
// marker"). A timeout with partial content already received is the
// terminal `stream_ttl` failure (§4.7).
func (c *Client) awaitReply(ctx context.Context, prompt *types.Prompt, bid types.BidPayload) (string, error) {
	relays := bid.PromptRelays
	if len(relays) == 0 {
		relays = c.cfg.DiscoveryRelays
	}

	type replyMsg struct {
		reply *types.Reply
		err   error
	}
	replyCh := make(chan replyMsg, 8)
	sub := c.cfg.Pool.Subscribe(
		[]transport.Filter{{
			Kinds:   []types.Kind{types.KindReply},
			Authors: []types.HexBytes{bid.ExpertPubkey},
			Tags:    map[string][]string{"e": {prompt.ID.String()}},
		}},
		relays,
		transport.Callbacks{OnEvent: func(_ string, e *types.Event) {
			reply, err := DecodeReply(e, c.cfg.Signer)
			if err != nil {
				log.Debugf("dropping unreadable reply %s: %v", e.ID, err)
				return
			}
			replyCh <- replyMsg{reply: reply}
		}},
	)
	defer sub.Close()

	var content string
	timer := time.NewTimer(c.cfg.ReplyTimeout)
	defer timer.Stop()
	for {
		select {
		case msg := <-replyCh:
			if msg.reply.ErrorCode != "" {
				return "", apperrors.New(apperrors.KindProtocol, msg.reply.ErrorCode,
					"expert reported an error reply")
			}
			content += msg.reply.Content
			if msg.reply.Done {
				return content, nil
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(c.cfg.ReplyTimeout)
		case <-timer.C:
			return "", apperrors.New(apperrors.KindStream, apperrors.CodeStreamTerminated,
				fmt.Sprintf("no reply progress within %s", c.cfg.ReplyTimeout))
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
