package docstore

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/askexperts/askexperts/types"
)

// encodeEmbeddings packs a document's embedding vectors into the blob
// layout stored in the docs table: a 2-byte little-endian vector count
// followed by count*vectorSize*4 bytes of little-endian float32 values.
func encodeEmbeddings(vectors []types.Float32Vector, vectorSize int) ([]byte, error) {
	if len(vectors) > 0xFFFF {
		return nil, fmt.Errorf("too many embedding vectors: %d", len(vectors))
	}
	buf := make([]byte, 2+len(vectors)*vectorSize*4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(vectors)))
	off := 2
	for _, v := range vectors {
		if len(v) != vectorSize {
			return nil, fmt.Errorf("embedding vector has length %d, want %d", len(v), vectorSize)
		}
		for _, f := range v {
			binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(f))
			off += 4
		}
	}
	return buf, nil
}

// decodeEmbeddings unpacks the blob layout written by encodeEmbeddings,
// rejecting any blob whose length does not match count*vectorSize*4+2.
func decodeEmbeddings(data []byte, vectorSize int) ([]types.Float32Vector, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("embeddings blob too short")
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	want := 2 + count*vectorSize*4
	if len(data) != want {
		return nil, fmt.Errorf("embeddings blob length %d, want %d for %d vectors of size %d", len(data), want, count, vectorSize)
	}
	if count == 0 {
		return nil, nil
	}
	out := make([]types.Float32Vector, count)
	off := 2
	for i := 0; i < count; i++ {
		v := make(types.Float32Vector, vectorSize)
		for j := 0; j < vectorSize; j++ {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		out[i] = v
	}
	return out, nil
}
