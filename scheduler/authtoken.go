package scheduler

import (
	"bytes"
	"fmt"
	"time"

	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/types"
)

// timestampFormat, workerSignMessage and the token layout below adapt the
// teacher's Ethereum-address worker auth token to this engine's Schnorr
// pubkey signing (codec.Signer/VerifySignature) instead of ECDSA over an
// Ethereum address: the handshake proves the same thing (this worker
// process holds the private key for the pubkey it claims), just against
// the signature scheme C1 already establishes for every other signed
// artifact in this engine.
const (
	timestampFormat   = "2006-01-02T15:04:05.000000000Z07:00"
	workerSignMessage = `Authorizing worker in scheduler '%s' at %s`

	signatureLen = 64 // BIP-340 Schnorr signature
	timestampLen = len(timestampFormat)
	tokenLen     = signatureLen + timestampLen
)

// WorkerAuthTokenData builds the message a Worker signs to authenticate its
// duplex session handshake with the Scheduler identified by schedulerPubkey,
// returning the message, the formatted timestamp, and the timestamp's
// fixed-width token suffix encoding.
func WorkerAuthTokenData(schedulerPubkey types.HexBytes, timestamp time.Time) (string, string, types.HexBytes) {
	t := timestamp.UTC().Format(timestampFormat)
	signMessage := fmt.Sprintf(workerSignMessage, schedulerPubkey.String(), t)
	return signMessage, t, TimestampToSuffix(timestamp)
}

// TimestampToSuffix fixed-width encodes t for embedding as a worker auth
// token suffix.
func TimestampToSuffix(t time.Time) types.HexBytes {
	b := make([]byte, timestampLen)
	copy(b, []byte(t.UTC().Format(timestampFormat)))
	return types.HexBytes(b)
}

// EncodeWorkerAuthToken concatenates a Schnorr signature with its signing
// timestamp into the fixed-length token a Worker presents on handshake.
func EncodeWorkerAuthToken(signature types.HexBytes, timestamp time.Time) (types.HexBytes, error) {
	if len(signature) != signatureLen {
		return nil, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	token := make([]byte, tokenLen)
	copy(token, signature)
	copy(token[signatureLen:], TimestampToSuffix(timestamp))
	return types.HexBytes(token), nil
}

// DecodeWorkerAuthToken splits a worker auth token into its signature and
// timestamp.
func DecodeWorkerAuthToken(token types.HexBytes) (types.HexBytes, time.Time, error) {
	if len(token) != tokenLen {
		return nil, time.Time{}, fmt.Errorf("invalid worker token length: %d", len(token))
	}
	signature, encTimestamp := token[:signatureLen], token[signatureLen:]
	timestamp, err := time.Parse(timestampFormat, string(bytes.TrimRight(encTimestamp, "\x00")))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to parse worker token timestamp: %w", err)
	}
	return types.HexBytes(signature), timestamp, nil
}

// SignWorkerAuthToken produces a worker auth token for the current moment,
// signed by signer, proving that signer's pubkey is the worker connecting
// to the scheduler identified by schedulerPubkey.
func SignWorkerAuthToken(signer *codec.Signer, schedulerPubkey types.HexBytes) (types.HexBytes, error) {
	now := time.Now()
	signMessage, _, _ := WorkerAuthTokenData(schedulerPubkey, now)
	sig, err := signer.Sign([]byte(signMessage))
	if err != nil {
		return nil, err
	}
	return EncodeWorkerAuthToken(sig, now)
}

// VerifyWorkerAuthToken verifies token was signed by workerPubkey,
// authorizing a connection to the scheduler identified by schedulerPubkey.
// It returns the signed timestamp for the caller to additionally bound
// (e.g. against clock skew) if desired.
func VerifyWorkerAuthToken(token types.HexBytes, workerPubkey, schedulerPubkey types.HexBytes) (bool, time.Time, error) {
	signature, timestamp, err := DecodeWorkerAuthToken(token)
	if err != nil {
		return false, time.Time{}, err
	}
	signMessage, _, _ := WorkerAuthTokenData(schedulerPubkey, timestamp)
	return codec.VerifySignature(workerPubkey, []byte(signMessage), signature), timestamp, nil
}
