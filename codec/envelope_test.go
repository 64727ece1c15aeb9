package codec

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := qt.New(t)

	alice, err := NewSignerFromSeed([]byte("alice"))
	c.Assert(err, qt.IsNil)
	bob, err := NewSignerFromSeed([]byte("bob"))
	c.Assert(err, qt.IsNil)

	plaintext := []byte("What is the capital of France?")
	envelope, err := Encrypt(plaintext, bob.Pubkey(), alice)
	c.Assert(err, qt.IsNil)

	decrypted, err := Decrypt(envelope, alice.Pubkey(), bob)
	c.Assert(err, qt.IsNil)
	c.Assert(decrypted, qt.DeepEquals, plaintext)
}

func TestDecryptRejectsWrongSender(t *testing.T) {
	c := qt.New(t)

	alice, err := NewSignerFromSeed([]byte("alice"))
	c.Assert(err, qt.IsNil)
	bob, err := NewSignerFromSeed([]byte("bob"))
	c.Assert(err, qt.IsNil)
	eve, err := NewSignerFromSeed([]byte("eve"))
	c.Assert(err, qt.IsNil)

	envelope, err := Encrypt([]byte("secret"), bob.Pubkey(), alice)
	c.Assert(err, qt.IsNil)

	_, err = Decrypt(envelope, eve.Pubkey(), bob)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestEncryptNeverReusesKeystream(t *testing.T) {
	c := qt.New(t)

	alice, err := NewSignerFromSeed([]byte("alice"))
	c.Assert(err, qt.IsNil)
	bob, err := NewSignerFromSeed([]byte("bob"))
	c.Assert(err, qt.IsNil)

	plaintext := []byte("the same message, twice")
	first, err := Encrypt(plaintext, bob.Pubkey(), alice)
	c.Assert(err, qt.IsNil)
	second, err := Encrypt(plaintext, bob.Pubkey(), alice)
	c.Assert(err, qt.IsNil)

	// Same sender, same recipient, same plaintext: the ciphertext must
	// still differ, since a repeated key+nonce pair would let an
	// attacker XOR the two envelopes to cancel the keystream.
	c.Assert(first, qt.Not(qt.Equals), second)

	decrypted, err := Decrypt(second, alice.Pubkey(), bob)
	c.Assert(err, qt.IsNil)
	c.Assert(decrypted, qt.DeepEquals, plaintext)
}

func TestEncryptRejectsOversizedPlaintext(t *testing.T) {
	c := qt.New(t)

	alice, err := NewSignerFromSeed([]byte("alice"))
	c.Assert(err, qt.IsNil)
	bob, err := NewSignerFromSeed([]byte("bob"))
	c.Assert(err, qt.IsNil)

	big := make([]byte, MaxEnvelopePlaintext+1)
	_, err = Encrypt(big, bob.Pubkey(), alice)
	c.Assert(err, qt.Not(qt.IsNil))
}
