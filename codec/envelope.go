package codec

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	"github.com/askexperts/askexperts/types"
)

// envelopeVersion is the single fixed scheme version this module emits
// and accepts (see DESIGN.md's Open Question resolution for the NIP-44
// parameterization choice).
const envelopeVersion = byte(1)

// MaxEnvelopePlaintext is the per-invocation plaintext ceiling (§4.1);
// larger payloads must be chunked by the caller (component C3).
const MaxEnvelopePlaintext = 64*1024 - 1

const (
	// randSize is the per-message randomness mixed into key derivation
	// (NIP-44 calls this the message "nonce"): since the ECDH shared
	// secret between a sender/recipient pair is constant, this is what
	// makes the derived ChaCha20 key+nonce unique per envelope instead
	// of repeating across every message ever sent between the same two
	// parties (every stream chunk included).
	randSize  = 16
	nonceSize = chacha20.NonceSize // 12 bytes
	macSize   = sha256.Size        // 32 bytes
)

// sharedSecret computes the ECDH shared x-coordinate between privkey and
// pubkey using secp256k1 scalar multiplication directly, since the v4
// module does not ship a separate ecdh subpackage.
func sharedSecret(privkey *secp256k1.PrivateKey, pubkey *secp256k1.PublicKey) []byte {
	var point, result secp256k1.JacobianPoint
	pubkey.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&privkey.Key, &point, &result)
	result.ToAffine()
	x := result.X.Bytes() // *[32]byte
	return x[:]
}

// deriveKey runs HKDF-SHA256 over the ECDH shared secret to produce a
// 32-byte ChaCha20 key and a 12-byte nonce. The salt binds both parties'
// pubkeys so the same shared point can never be replayed across peers;
// random is this message's freshly generated bytes (carried in the
// envelope) so the derived key+nonce also never repeats across messages
// between the same pair.
func deriveKey(secret, senderPubkey, recipientPubkey, random []byte) (key [32]byte, nonce [nonceSize]byte, err error) {
	salt := append(append([]byte{}, senderPubkey...), recipientPubkey...)
	info := append(append([]byte{}, []byte("askexperts-envelope-v1")...), random...)
	reader := hkdf.New(sha256.New, secret, salt, info)
	if _, err = io.ReadFull(reader, key[:]); err != nil {
		return key, nonce, fmt.Errorf("derive key: %w", err)
	}
	if _, err = io.ReadFull(reader, nonce[:]); err != nil {
		return key, nonce, fmt.Errorf("derive nonce: %w", err)
	}
	return key, nonce, nil
}

// Encrypt produces a base64 envelope decryptable only by recipientPubkey's
// holder, binding both identities into the derived key per §4.1's AEAD
// requirement. A fresh random value is generated per call and carried in
// the envelope so the derived key+nonce never repeats across messages
// between the same sender/recipient pair, even though the underlying ECDH
// shared secret is static. Layout: version(1) || random(16) || ciphertext
// || mac(32).
func Encrypt(plaintext []byte, recipientPubkey types.HexBytes, sender *Signer) (string, error) {
	if len(plaintext) > MaxEnvelopePlaintext {
		return "", fmt.Errorf("plaintext exceeds %d bytes, caller must chunk", MaxEnvelopePlaintext)
	}
	recipient, err := secp256k1.ParsePubKey(recipientPubkey)
	if err != nil {
		return "", fmt.Errorf("invalid recipient pubkey: %w", err)
	}
	secret := sharedSecret((*secp256k1.PrivateKey)(sender), recipient)

	var random [randSize]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", fmt.Errorf("generate envelope randomness: %w", err)
	}

	senderPubkey := sender.Pubkey()
	key, nonce, err := deriveKey(secret, senderPubkey, recipientPubkey, random[:])
	if err != nil {
		return "", err
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.XORKeyStream(ciphertext, plaintext)

	mac := computeMAC(key[:], random[:], ciphertext)

	out := make([]byte, 0, 1+randSize+len(ciphertext)+macSize)
	out = append(out, envelopeVersion)
	out = append(out, random[:]...)
	out = append(out, ciphertext...)
	out = append(out, mac...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens an envelope produced by Encrypt. senderPubkey must be the
// sender's pubkey (known from context, e.g. the outer event's pubkey
// field) so the MAC and key derivation can be recomputed identically.
func Decrypt(envelope string, senderPubkey types.HexBytes, recipient *Signer) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("invalid envelope encoding: %w", err)
	}
	if len(raw) < 1+randSize+macSize {
		return nil, fmt.Errorf("envelope too short")
	}
	if raw[0] != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", raw[0])
	}
	random := raw[1 : 1+randSize]
	ciphertext := raw[1+randSize : len(raw)-macSize]
	gotMAC := raw[len(raw)-macSize:]

	sender, err := secp256k1.ParsePubKey(senderPubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid sender pubkey: %w", err)
	}
	secret := sharedSecret((*secp256k1.PrivateKey)(recipient), sender)

	recipientPubkey := recipient.Pubkey()
	key, nonce, err := deriveKey(secret, senderPubkey, recipientPubkey, random)
	if err != nil {
		return nil, err
	}

	wantMAC := computeMAC(key[:], random, ciphertext)
	if !hmac.Equal(gotMAC, wantMAC) {
		return nil, fmt.Errorf("envelope authentication failed")
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

func computeMAC(key, random, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte{envelopeVersion})
	h.Write(random)
	h.Write(ciphertext)
	return h.Sum(nil)
}
