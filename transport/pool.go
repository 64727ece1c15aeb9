package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/types"
)

// dedupCacheSize bounds the process-wide recently-seen-event id cache used
// to collapse duplicate deliveries across relays (§4.2).
const dedupCacheSize = 4096

// Filter narrows a subscription to events matching all set fields; zero
// values are wildcards.
type Filter struct {
	Kinds   []types.Kind
	Authors []types.HexBytes
	Tags    map[string][]string // tag name -> accepted values
	Since   *time.Time
	Until   *time.Time
}

func (f Filter) matches(e *types.Event) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !containsPubkey(f.Authors, e.Pubkey) {
		return false
	}
	if f.Since != nil && e.CreatedAt < f.Since.Unix() {
		return false
	}
	if f.Until != nil && e.CreatedAt > f.Until.Unix() {
		return false
	}
	for name, values := range f.Tags {
		if !anyTagValueMatches(e.Tags, name, values) {
			return false
		}
	}
	return true
}

func containsKind(kinds []types.Kind, k types.Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

func containsPubkey(pubkeys []types.HexBytes, pk types.HexBytes) bool {
	for _, want := range pubkeys {
		if want.Equal(pk) {
			return true
		}
	}
	return false
}

func anyTagValueMatches(tags types.Tags, name string, accepted []string) bool {
	for _, v := range tags.Values(name) {
		for _, want := range accepted {
			if v == want {
				return true
			}
		}
	}
	return false
}

// Callbacks are invoked as matched events (and end-of-stored-events
// markers) arrive on a Subscription.
type Callbacks struct {
	OnEvent func(relay string, e *types.Event)
	OnEOSE  func(relay string)
}

type subscription struct {
	id      string
	filters []Filter
	cb      Callbacks
}

// Subscription is a live filter registration across some subset of a
// Pool's relays.
type Subscription struct {
	pool *Pool
	id   string
}

// Close deregisters the subscription; events dispatched after it returns
// are not delivered to it (a callback already under way may still run).
func (s *Subscription) Close() {
	s.pool.mu.Lock()
	delete(s.pool.subs, s.id)
	s.pool.mu.Unlock()
}

// PoolConfig configures Pool construction.
type PoolConfig struct {
	// DefaultPublishTimeout is used by Publish callers that pass 0.
	DefaultPublishTimeout time.Duration
}

// ackWaiter collects relay names that sent "OK" for one pending publish.
type ackWaiter struct {
	ch chan string
}

// Pool multiplexes connections to many relay URIs, fanning inbound events
// out to every matching Subscription and deduplicating by event id
// (§4.2).
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    PoolConfig

	mu        sync.Mutex
	conns     map[string]*Connection
	subs      map[string]*subscription
	nextSubID int
	waiters   map[string]*ackWaiter // event id hex -> pending publish waiter
	seen      *lru.Cache[string, struct{}]
}

// NewPool constructs an empty Pool bound to ctx's lifetime: closing ctx
// tears down every managed connection.
func NewPool(ctx context.Context, cfg PoolConfig) *Pool {
	if cfg.DefaultPublishTimeout == 0 {
		cfg.DefaultPublishTimeout = 5 * time.Second
	}
	cctx, cancel := context.WithCancel(ctx)
	seen, _ := lru.New[string, struct{}](dedupCacheSize)
	return &Pool{
		ctx:     cctx,
		cancel:  cancel,
		cfg:     cfg,
		conns:   make(map[string]*Connection),
		subs:    make(map[string]*subscription),
		waiters: make(map[string]*ackWaiter),
		seen:    seen,
	}
}

// Ensure idempotently connects to uri, returning the (possibly
// still-connecting) Connection.
func (p *Pool) Ensure(uri string) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[uri]; ok {
		return c
	}
	c := newConnection(p.ctx, uri, func(raw []byte) { p.dispatch(uri, raw) })
	p.conns[uri] = c
	return c
}

// dispatch decodes one relay frame ("EVENT", "EOSE" or "OK") and routes it
// to matching subscriptions or a pending publish waiter.
func (p *Pool) dispatch(relay string, raw []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) == 0 {
		return
	}
	var frameType string
	if err := json.Unmarshal(frame[0], &frameType); err != nil {
		return
	}

	switch frameType {
	case "EVENT":
		if len(frame) < 2 {
			return
		}
		var e types.Event
		if err := json.Unmarshal(frame[len(frame)-1], &e); err != nil {
			return
		}
		if !codec.Verify(&e) {
			return
		}
		p.deliver(relay, &e)
	case "EOSE":
		p.mu.Lock()
		subs := make([]subscription, 0, len(p.subs))
		for _, s := range p.subs {
			subs = append(subs, *s)
		}
		p.mu.Unlock()
		for _, s := range subs {
			if s.cb.OnEOSE != nil {
				s.cb.OnEOSE(relay)
			}
		}
	case "OK":
		// ["OK", <event id>, <accepted bool>, <message>]
		if len(frame) < 3 {
			return
		}
		var id string
		var accepted bool
		if err := json.Unmarshal(frame[1], &id); err != nil {
			return
		}
		if err := json.Unmarshal(frame[2], &accepted); err != nil || !accepted {
			return
		}
		p.mu.Lock()
		w := p.waiters[id]
		p.mu.Unlock()
		if w != nil {
			select {
			case w.ch <- relay:
			default:
			}
		}
	}
}

func (p *Pool) deliver(relay string, e *types.Event) {
	idHex := e.ID.String()
	if _, dup := p.seen.Get(idHex); dup {
		return
	}
	p.seen.Add(idHex, struct{}{})

	p.mu.Lock()
	subs := make([]subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, *s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		for _, f := range s.filters {
			if f.matches(e) {
				if s.cb.OnEvent != nil {
					s.cb.OnEvent(relay, e)
				}
				break
			}
		}
	}
}

// Subscribe registers filters against relays and delivers deduplicated
// matches via cb until the returned Subscription is closed.
func (p *Pool) Subscribe(filters []Filter, relays []string, cb Callbacks) *Subscription {
	p.mu.Lock()
	p.nextSubID++
	id := fmt.Sprintf("sub-%d", p.nextSubID)
	p.subs[id] = &subscription{id: id, filters: filters, cb: cb}
	p.mu.Unlock()

	reqFilters := make([]any, 0, len(filters))
	for _, f := range filters {
		reqFilters = append(reqFilters, filterToWire(f))
	}
	msg, _ := json.Marshal(append([]any{"REQ", id}, reqFilters...))
	for _, uri := range relays {
		conn := p.Ensure(uri)
		_ = conn.Send(msg)
	}
	return &Subscription{pool: p, id: id}
}

func filterToWire(f Filter) map[string]any {
	w := map[string]any{}
	if len(f.Kinds) > 0 {
		w["kinds"] = f.Kinds
	}
	if len(f.Authors) > 0 {
		w["authors"] = f.Authors
	}
	for name, values := range f.Tags {
		w["#"+name] = values
	}
	if f.Since != nil {
		w["since"] = f.Since.Unix()
	}
	if f.Until != nil {
		w["until"] = f.Until.Unix()
	}
	return w
}

// Publish sends e to every listed relay and waits up to timeout for an
// "OK" acknowledgement, returning the subset of relays that accepted.
// Failure on every relay is reported as an error; partial failure is not
// (§4.2). timeout of 0 uses the pool's DefaultPublishTimeout.
func (p *Pool) Publish(e *types.Event, relays []string, timeout time.Duration) ([]string, error) {
	if timeout == 0 {
		timeout = p.cfg.DefaultPublishTimeout
	}
	msg, err := json.Marshal([]any{"EVENT", e})
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	idHex := e.ID.String()
	w := &ackWaiter{ch: make(chan string, len(relays))}
	p.mu.Lock()
	p.waiters[idHex] = w
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.waiters, idHex)
		p.mu.Unlock()
	}()

	sent := 0
	for _, uri := range relays {
		conn := p.Ensure(uri)
		if sendErr := conn.Send(msg); sendErr == nil {
			sent++
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	accepted := make(map[string]bool, len(relays))
	for len(accepted) < sent {
		select {
		case relay := <-w.ch:
			accepted[relay] = true
		case <-deadline.C:
			goto done
		case <-p.ctx.Done():
			goto done
		}
	}
done:
	out := make([]string, 0, len(accepted))
	for relay := range accepted {
		out = append(out, relay)
	}
	if len(out) == 0 && len(relays) > 0 {
		return nil, fmt.Errorf("publish %s: no relay accepted within %s", e.ID, timeout)
	}
	return out, nil
}

// Close tears down every managed connection.
func (p *Pool) Close() error {
	p.cancel()
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}
