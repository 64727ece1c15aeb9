package types

// StreamEncryption names the payload encryption applied to stream chunks.
type StreamEncryption string

const (
	StreamEncryptionNone  StreamEncryption = "none"
	StreamEncryptionNIP44 StreamEncryption = "nip44"
)

// StreamCompression names the compression applied before encryption.
type StreamCompression string

const (
	StreamCompressionNone StreamCompression = "none"
	StreamCompressionGzip StreamCompression = "gzip"
)

// StreamStatus is carried on every chunk's "status" tag.
type StreamStatus string

const (
	StreamStatusActive StreamStatus = "active"
	StreamStatusDone   StreamStatus = "done"
	StreamStatusError  StreamStatus = "error"
)

// StreamMetadata (kind 173) describes a stream session: who will author
// chunks, and how those chunks are encoded.
type StreamMetadata struct {
	ID              HexBytes
	StreamPubkey    HexBytes // the ephemeral keypair's public half
	Encryption      StreamEncryption
	Compression     StreamCompression
	Binary          bool
	Relays          []string
	ReceiverPubkey  HexBytes // set when Encryption == nip44
	ReceiverPrivkey HexBytes // only ever populated on the receiving side
}

// StreamChunk (kind 20173) carries one ordered segment of a stream.
type StreamChunk struct {
	ID        HexBytes
	StreamID  HexBytes // author pubkey of the stream
	Seq       int
	Status    StreamStatus
	Content   string // compressed, optionally encrypted payload segment
	CreatedAt int64
}

// StreamError is the structure parsed from a StreamChunk's content when
// Status == StreamStatusError.
type StreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
