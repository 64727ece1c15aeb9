// Package stream implements the chunked writer/reader pair ("Stream-over-
// Events") used to carry quotes, prompts and replies too large for a
// single envelope: ordered chunking, compression, optional encryption and
// size-bounded delivery (§4.3).
package stream

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/transport"
	"github.com/askexperts/askexperts/types"
)

// Defaults for WriterConfig, matching the flush triggers described in
// §4.3 (minChunkSize/minChunkInterval/maxChunkSize).
const (
	DefaultMinChunkSize     = 8 * 1024
	DefaultMinChunkInterval = 500 * time.Millisecond
	// DefaultMaxChunkSize caps each chunk's compressed content at 48 KiB,
	// below codec.MaxEnvelopePlaintext, so an encrypted chunk fits in one
	// envelope.
	DefaultMaxChunkSize = 48 * 1024
)

// WriterConfig configures a Writer's chunking, encoding and transport.
type WriterConfig struct {
	Signer         *codec.Signer // the stream's ephemeral identity (streamId)
	Encryption     types.StreamEncryption
	ReceiverPubkey types.HexBytes // required when Encryption == nip44
	Compression    types.StreamCompression

	MinChunkSize     int
	MinChunkInterval time.Duration
	MaxChunkSize     int

	Relays         []string
	Pool           *transport.Pool
	PublishTimeout time.Duration

	// OnChunk, if set, is invoked with every signed chunk event before it
	// is published — used by tests and by in-process readers that want
	// direct delivery without a relay round-trip.
	OnChunk func(*types.Event)
}

func (c *WriterConfig) setDefaults() {
	if c.MinChunkSize == 0 {
		c.MinChunkSize = DefaultMinChunkSize
	}
	if c.MinChunkInterval == 0 {
		c.MinChunkInterval = DefaultMinChunkInterval
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = DefaultMaxChunkSize
	}
}

// Writer partitions arbitrary-size input into ordered, compressed and
// optionally encrypted chunk events, flushing on size or time triggers.
type Writer struct {
	cfg WriterConfig

	mu        sync.Mutex
	pending   []byte
	seq       int
	lastFlush time.Time
	closed    bool
}

// NewWriter constructs a Writer publishing chunks under cfg.Signer's
// identity as the stream's ephemeral streamId.
func NewWriter(cfg WriterConfig) *Writer {
	cfg.setDefaults()
	return &Writer{cfg: cfg, lastFlush: time.Now()}
}

// Write appends data to the pending chunk, flushing when minChunkSize or
// minChunkInterval is reached. If pending plus data would exceed
// maxChunkSize once compressed, the pending content is flushed first and
// data is retried on its own; data that alone exceeds maxChunkSize once
// compressed is rejected with CodeStreamCompressionSize.
func (w *Writer) Write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("stream writer already closed")
	}

	candidate := append(append([]byte{}, w.pending...), data...)
	compressed, err := codec.Compress(candidate, w.cfg.Compression)
	if err != nil {
		return err
	}

	if len(compressed) > w.cfg.MaxChunkSize && len(w.pending) > 0 {
		if err := w.flushLocked(false); err != nil {
			return err
		}
		candidate = data
		compressed, err = codec.Compress(candidate, w.cfg.Compression)
		if err != nil {
			return err
		}
	}

	if len(compressed) > w.cfg.MaxChunkSize {
		return apperrors.New(apperrors.KindStream, apperrors.CodeStreamCompressionSize,
			"single write exceeds max chunk size even alone")
	}

	w.pending = candidate
	if len(w.pending) >= w.cfg.MinChunkSize || time.Since(w.lastFlush) >= w.cfg.MinChunkInterval {
		return w.flushLocked(false)
	}
	return nil
}

// Done flushes any remaining pending content and emits the final chunk
// with status=done, after which the Writer can no longer be used.
func (w *Writer) Done() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.flushLocked(true)
}

// Error terminates the stream early with a status=error chunk carrying
// {code, message} as its content, discarding any unflushed pending data.
func (w *Writer) Error(code, message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	payload, err := json.Marshal(types.StreamError{Code: code, Message: message})
	if err != nil {
		return fmt.Errorf("encode stream error: %w", err)
	}
	defer func() { w.closed = true }()
	return w.publishChunk(types.StreamStatusError, string(payload))
}

func (w *Writer) flushLocked(done bool) error {
	compressed, err := codec.Compress(w.pending, w.cfg.Compression)
	if err != nil {
		return err
	}
	content := compressed
	if w.cfg.Encryption == types.StreamEncryptionNIP44 {
		content, err = codec.Encrypt([]byte(compressed), w.cfg.ReceiverPubkey, w.cfg.Signer)
		if err != nil {
			return apperrors.Wrap(apperrors.KindCrypto, apperrors.CodeCryptoDecryptFailed, err, "")
		}
	}

	status := types.StreamStatusActive
	if done {
		status = types.StreamStatusDone
	}
	if err := w.publishChunk(status, content); err != nil {
		return err
	}
	w.pending = nil
	w.lastFlush = time.Now()
	if done {
		w.closed = true
	}
	return nil
}

func (w *Writer) publishChunk(status types.StreamStatus, content string) error {
	unsigned := types.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      types.KindStreamChunk,
		Tags: types.Tags{
			{"i", fmt.Sprint(w.seq)},
			{"status", string(status)},
		},
		Content: content,
	}
	signed, err := codec.Sign(w.cfg.Signer, unsigned)
	if err != nil {
		return fmt.Errorf("sign chunk: %w", err)
	}
	w.seq++

	if w.cfg.OnChunk != nil {
		w.cfg.OnChunk(signed)
	}
	if w.cfg.Pool == nil {
		return nil // transport-less writers (e.g. tests) just assemble the event
	}
	_, err = w.cfg.Pool.Publish(signed, w.cfg.Relays, w.cfg.PublishTimeout)
	if err != nil {
		return apperrors.Wrap(apperrors.KindTransport, apperrors.CodeTransportPublishNoRelay, err, "")
	}
	return nil
}
