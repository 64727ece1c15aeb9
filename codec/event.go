package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/askexperts/askexperts/types"
)

// canonicalTuple mirrors the 6-element array NIP-01 mandates for hashing:
// [0, pubkey, created_at, kind, tags, content]. A plain slice (rather than
// a struct) guarantees json.Marshal emits it positionally with no field
// names, and json.Marshal already produces compact output (no indentation,
// no added whitespace) so this doubles as the compact-encoding requirement.
func canonicalTuple(e *types.Event) ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = types.Tags{}
	}
	tuple := []any{0, e.Pubkey.String(), e.CreatedAt, int(e.Kind), tags, e.Content}
	buf, err := json.Marshal(tuple)
	if err != nil {
		return nil, fmt.Errorf("canonicalize event: %w", err)
	}
	return buf, nil
}

// CanonicalID computes the event id: SHA-256 of the canonical serialization.
func CanonicalID(e *types.Event) (types.HexBytes, error) {
	buf, err := canonicalTuple(e)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(buf)
	return types.HexBytes(sum[:]), nil
}

// Sign finalizes an unsigned event: sets Pubkey from signer, computes ID,
// and signs it, returning the completed, wire-ready Event.
func Sign(signer *Signer, unsigned types.Event) (*types.Event, error) {
	e := unsigned
	e.Pubkey = signer.Pubkey()

	id, err := CanonicalID(&e)
	if err != nil {
		return nil, err
	}
	e.ID = id

	sig, err := signer.Sign(id)
	if err != nil {
		return nil, fmt.Errorf("sign event: %w", err)
	}
	e.Sig = sig
	return &e, nil
}

// Verify recomputes an event's canonical id and checks its signature.
// Per spec §4.1, any mismatch means the event MUST be dropped by the
// caller; Verify itself only reports the boolean, it does not log.
func Verify(e *types.Event) bool {
	id, err := CanonicalID(e)
	if err != nil {
		return false
	}
	if !bytes.Equal(id, e.ID) {
		return false
	}
	return VerifySignature(e.Pubkey, id, e.Sig)
}
