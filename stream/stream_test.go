package stream

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/types"
)

func newTestReader(c *qt.C, streamID types.HexBytes, compression types.StreamCompression) (*Reader, func(*types.Event)) {
	r := NewReader(context.Background(), ReaderConfig{
		StreamID:    streamID,
		Compression: compression,
		TTL:         2 * time.Second,
	})
	c.Cleanup(r.Close)
	return r, r.handleChunk
}

func TestWriterReaderRoundTrip(t *testing.T) {
	c := qt.New(t)

	signer, err := codec.NewSignerFromSeed([]byte("stream-1"))
	c.Assert(err, qt.IsNil)

	reader, deliver := newTestReader(c, signer.Pubkey(), types.StreamCompressionNone)

	writer := NewWriter(WriterConfig{
		Signer:           signer,
		Compression:      types.StreamCompressionNone,
		MinChunkSize:     1, // flush every Write call
		MinChunkInterval: time.Hour,
		OnChunk:          deliver,
	})

	c.Assert(writer.Write([]byte("Hel")), qt.IsNil)
	c.Assert(writer.Write([]byte("lo, ")), qt.IsNil)
	c.Assert(writer.Write([]byte("world!")), qt.IsNil)
	c.Assert(writer.Done(), qt.IsNil)

	var got []byte
	for {
		data, ok, err := reader.Next()
		c.Assert(err, qt.IsNil)
		if !ok {
			break
		}
		got = append(got, data...)
	}
	c.Assert(string(got), qt.Equals, "Hello, world!")
}

func TestReaderOutOfOrderReassembly(t *testing.T) {
	c := qt.New(t)

	signer, err := codec.NewSignerFromSeed([]byte("stream-2"))
	c.Assert(err, qt.IsNil)
	reader, deliver := newTestReader(c, signer.Pubkey(), types.StreamCompressionNone)

	writer := NewWriter(WriterConfig{
		Signer:           signer,
		Compression:      types.StreamCompressionNone,
		MinChunkSize:     1,
		MinChunkInterval: time.Hour,
	})

	var events []*types.Event
	writer.cfg.OnChunk = func(e *types.Event) { events = append(events, e) }

	c.Assert(writer.Write([]byte("A")), qt.IsNil)
	c.Assert(writer.Write([]byte("B")), qt.IsNil)
	c.Assert(writer.Done(), qt.IsNil) // writes the final "C"-less done chunk (empty pending)
	c.Assert(len(events) >= 2, qt.IsTrue)

	// Deliver out of order: last event first, then the rest in reverse.
	for i := len(events) - 1; i >= 0; i-- {
		deliver(events[i])
	}

	var got []byte
	for {
		data, ok, err := reader.Next()
		c.Assert(err, qt.IsNil)
		if !ok {
			break
		}
		got = append(got, data...)
	}
	c.Assert(string(got), qt.Equals, "AB")
}

func TestWriterErrorPropagatesToReader(t *testing.T) {
	c := qt.New(t)

	signer, err := codec.NewSignerFromSeed([]byte("stream-3"))
	c.Assert(err, qt.IsNil)
	reader, deliver := newTestReader(c, signer.Pubkey(), types.StreamCompressionNone)

	writer := NewWriter(WriterConfig{Signer: signer, OnChunk: deliver})
	c.Assert(writer.Error("ttl_exceeded", "no progress"), qt.IsNil)

	_, ok, err := reader.Next()
	c.Assert(ok, qt.IsFalse)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestWriterMaxChunkSizeFlushesPrevious(t *testing.T) {
	c := qt.New(t)

	signer, err := codec.NewSignerFromSeed([]byte("stream-4"))
	c.Assert(err, qt.IsNil)

	var events []*types.Event
	writer := NewWriter(WriterConfig{
		Signer:           signer,
		MinChunkSize:     1 << 20, // never trips on size
		MinChunkInterval: time.Hour,
		MaxChunkSize:     8,
		OnChunk:          func(e *types.Event) { events = append(events, e) },
	})

	c.Assert(writer.Write([]byte("01234567")), qt.IsNil)
	c.Assert(writer.Write([]byte("89")), qt.IsNil)
	c.Assert(len(events) >= 1, qt.IsTrue)
}
