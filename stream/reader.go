package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/transport"
	"github.com/askexperts/askexperts/types"
)

// Defaults for ReaderConfig.
const (
	DefaultMaxChunks     = 4096
	DefaultMaxResultSize = 16 * 1024 * 1024
	DefaultTTL           = 30 * time.Second
)

// ReaderConfig configures a Reader's subscription, decoding and bounds.
type ReaderConfig struct {
	StreamID       types.HexBytes // the stream author's pubkey, from StreamMetadata
	Encryption     types.StreamEncryption
	ReceiverSigner *codec.Signer // required when Encryption == nip44
	Compression    types.StreamCompression

	MaxChunks     int
	MaxResultSize int
	TTL           time.Duration

	Relays []string
	Pool   *transport.Pool
}

func (c *ReaderConfig) setDefaults() {
	if c.MaxChunks == 0 {
		c.MaxChunks = DefaultMaxChunks
	}
	if c.MaxResultSize == 0 {
		c.MaxResultSize = DefaultMaxResultSize
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
}

// chunkResult is one item delivered to the reader's consumer: either a
// data chunk, or a terminal signal (err set, possibly nil for a clean
// done).
type chunkResult struct {
	data []byte
	err  error
}

// Reader reassembles a stream's chunk events into an ordered byte
// sequence, buffering out-of-order arrivals and enforcing the §4.3
// bounds.
type Reader struct {
	cfg ReaderConfig
	sub *transport.Subscription

	mu         sync.Mutex
	buffered   map[int]string // seq -> decoded bytes, not yet delivered
	nextSeq    int
	doneSeq    int // seq of the terminal chunk, or -1 if not yet seen
	totalBytes int
	chunkCount int
	done       bool

	out      chan chunkResult
	ttlTimer *time.Timer
}

// NewReader subscribes to cfg.StreamID's chunk events and begins
// reassembling them; call Next to consume the ordered byte stream.
func NewReader(ctx context.Context, cfg ReaderConfig) *Reader {
	cfg.setDefaults()
	r := &Reader{
		cfg:      cfg,
		buffered: make(map[int]string),
		doneSeq:  -1,
		out:      make(chan chunkResult, cfg.MaxChunks+1),
	}
	r.ttlTimer = time.AfterFunc(cfg.TTL, r.onTTL)

	if cfg.Pool != nil {
		r.sub = cfg.Pool.Subscribe(
			[]transport.Filter{{Kinds: []types.Kind{types.KindStreamChunk}, Authors: []types.HexBytes{cfg.StreamID}}},
			cfg.Relays,
			transport.Callbacks{OnEvent: func(_ string, e *types.Event) { r.handleChunk(e) }},
		)
	}

	context_ := ctx
	go func() {
		<-context_.Done()
		r.terminate(context_.Err())
	}()
	return r
}

func (r *Reader) onTTL() {
	r.terminate(apperrors.New(apperrors.KindStream, apperrors.CodeStreamTTLExceeded,
		"no chunk received within ttl"))
}

// handleChunk decodes one inbound chunk event and feeds it into the
// reassembly buffer, delivering any newly-in-order chunks.
func (r *Reader) handleChunk(e *types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.ttlTimer.Reset(r.cfg.TTL)

	seqStr := e.Tags.Value("i")
	seq, err := strconv.Atoi(seqStr)
	if err != nil {
		return
	}
	status := types.StreamStatus(e.Tags.Value("status"))

	if status == types.StreamStatusError {
		var se types.StreamError
		if jsonErr := json.Unmarshal([]byte(e.Content), &se); jsonErr != nil {
			r.deliverLocked(chunkResult{err: apperrors.New(apperrors.KindStream,
				apperrors.CodeStreamParseError, "malformed stream error payload")})
			return
		}
		r.deliverLocked(chunkResult{err: apperrors.New(apperrors.KindStream, se.Code, se.Message)})
		return
	}

	r.chunkCount++
	if r.chunkCount > r.cfg.MaxChunks {
		r.deliverLocked(chunkResult{err: apperrors.New(apperrors.KindStream,
			apperrors.CodeStreamMaxChunksExceeded, "stream exceeded max chunk count")})
		return
	}

	plaintext, err := r.decode(e.Content)
	if err != nil {
		r.deliverLocked(chunkResult{err: apperrors.Wrap(apperrors.KindStream,
			apperrors.CodeStreamParseError, err, "")})
		return
	}

	r.totalBytes += len(plaintext)
	if r.totalBytes > r.cfg.MaxResultSize {
		r.deliverLocked(chunkResult{err: apperrors.New(apperrors.KindStream,
			apperrors.CodeStreamMaxSizeExceeded, "stream exceeded max result size")})
		return
	}

	if status == types.StreamStatusDone {
		r.doneSeq = seq
	}
	r.buffered[seq] = string(plaintext)
	r.drainLocked()
}

func (r *Reader) decode(content string) ([]byte, error) {
	raw := content
	var err error
	if r.cfg.Encryption == types.StreamEncryptionNIP44 {
		var plain []byte
		plain, err = codec.Decrypt(raw, r.cfg.StreamID, r.cfg.ReceiverSigner)
		if err != nil {
			return nil, fmt.Errorf("decrypt chunk: %w", err)
		}
		return codec.Decompress(string(plain), r.cfg.Compression)
	}
	return codec.Decompress(raw, r.cfg.Compression)
}

// drainLocked delivers every buffered chunk starting at nextSeq, in
// order. Once nextSeq reaches r.doneSeq (the terminal chunk, if already
// seen), the stream completes successfully after that chunk is delivered.
func (r *Reader) drainLocked() {
	for {
		data, ok := r.buffered[r.nextSeq]
		if !ok {
			return
		}
		delete(r.buffered, r.nextSeq)
		isLast := r.doneSeq == r.nextSeq
		r.nextSeq++
		r.deliverLocked(chunkResult{data: []byte(data)})
		if isLast {
			r.deliverLocked(chunkResult{err: nil, data: nil})
			r.done = true
			return
		}
	}
}

func (r *Reader) deliverLocked(res chunkResult) {
	r.out <- res
	if res.err != nil {
		r.done = true
	}
}

func (r *Reader) terminate(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	select {
	case r.out <- chunkResult{err: err}:
	default:
	}
}

// Next blocks for the next ordered chunk. It returns (nil, false, nil) on
// a normal EOF, (nil, false, err) on any terminal error, and (data, true,
// nil) for an intermediate chunk.
func (r *Reader) Next() ([]byte, bool, error) {
	res, ok := <-r.out
	if !ok {
		return nil, false, nil
	}
	if res.err != nil {
		return nil, false, res.err
	}
	if res.data == nil {
		return nil, false, nil // clean EOF sentinel from drainLocked
	}
	return res.data, true, nil
}

// Close releases the reader's subscription and timers.
func (r *Reader) Close() {
	r.ttlTimer.Stop()
	if r.sub != nil {
		r.sub.Close()
	}
}
