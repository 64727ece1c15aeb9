package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/askexperts/askexperts/types"
)

// Compress applies the named compression (types.StreamCompressionNone or
// types.StreamCompressionGzip) and, for gzip, base64-wraps the result so
// it is safe to embed in a string-typed wire field.
func Compress(data []byte, kind types.StreamCompression) (string, error) {
	switch kind {
	case types.StreamCompressionNone, "":
		return string(data), nil
	case types.StreamCompressionGzip:
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return "", fmt.Errorf("gzip compress: %w", err)
		}
		if err := gw.Close(); err != nil {
			return "", fmt.Errorf("gzip compress: %w", err)
		}
		return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
	default:
		return "", fmt.Errorf("unknown compression %q", kind)
	}
}

// Decompress reverses Compress.
func Decompress(content string, kind types.StreamCompression) ([]byte, error) {
	switch kind {
	case types.StreamCompressionNone, "":
		return []byte(content), nil
	case types.StreamCompressionGzip:
		raw, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 gzip payload: %w", err)
		}
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		defer gr.Close()
		out, err := io.ReadAll(gr)
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", kind)
	}
}
