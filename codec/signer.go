// Package codec implements canonical event serialization, Schnorr signing
// and verification, gzip/none compression, and ECDH-derived envelope
// encryption — the wire format every other component builds on.
package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"github.com/askexperts/askexperts/types"
)

// Signer wraps a secp256k1 private key for signing and verifying events.
// The signature scheme is BIP-340-style Schnorr over the event id, the
// same primitive the wire format names in spec §3/§6.
type Signer secp256k1.PrivateKey

// NewSigner generates a fresh random signing key.
func NewSigner() (*Signer, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("could not generate key: %w", err)
	}
	return (*Signer)(key), nil
}

// NewSignerFromHex builds a Signer from a hex-encoded 32-byte private key.
func NewSignerFromHex(hexKey string) (*Signer, error) {
	raw, err := types.HexStringToHexBytes(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	return newSignerFromBytes(raw)
}

// NewSignerFromSeed derives a signing key from an arbitrary-length seed by
// hashing it to 32 bytes with SHA-256, mirroring the
// hash-then-parse pattern for deterministic test/fixture keys.
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	h := sha256.Sum256(seed)
	return newSignerFromBytes(h[:])
}

func newSignerFromBytes(raw []byte) (*Signer, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	key := secp256k1.PrivKeyFromBytes(raw)
	return (*Signer)(key), nil
}

// Pubkey returns the 32-byte x-only public key used as the event pubkey
// field (BIP-340 convention: the y coordinate is never carried on the
// wire).
func (s *Signer) Pubkey() types.HexBytes {
	pk := (*secp256k1.PrivateKey)(s).PubKey()
	return types.HexBytes(schnorr.SerializePubKey(pk))
}

// HexPrivateKey returns the hex-encoded private key scalar.
func (s *Signer) HexPrivateKey() types.HexBytes {
	return types.HexBytes((*secp256k1.PrivateKey)(s).Serialize())
}

// Sign computes a BIP-340 Schnorr signature over a 32-byte message
// (conventionally an event id). It uses auxiliary randomness per BIP-340
// to harden against fault-injection attacks on deterministic nonces.
func (s *Signer) Sign(msg []byte) (types.HexBytes, error) {
	if len(msg) != 32 {
		return nil, fmt.Errorf("message to sign must be 32 bytes, got %d", len(msg))
	}
	var aux [32]byte
	if _, err := rand.Read(aux[:]); err != nil {
		return nil, fmt.Errorf("could not generate auxiliary randomness: %w", err)
	}
	sig, err := schnorr.Sign((*secp256k1.PrivateKey)(s), msg, schnorr.CustomNonce(aux))
	if err != nil {
		return nil, fmt.Errorf("could not sign message: %w", err)
	}
	return types.HexBytes(sig.Serialize()), nil
}

// VerifySignature checks a BIP-340 Schnorr signature against a 32-byte
// message and a 32-byte x-only pubkey.
func VerifySignature(pubkey, msg, sig types.HexBytes) bool {
	pk, err := schnorr.ParsePubKey(pubkey)
	if err != nil {
		return false
	}
	parsedSig, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	return parsedSig.Verify(msg, pk)
}
