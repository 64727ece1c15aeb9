package codec

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/types"
)

func TestSignAndVerify(t *testing.T) {
	c := qt.New(t)

	signer, err := NewSignerFromSeed([]byte("test-seed"))
	c.Assert(err, qt.IsNil)

	unsigned := types.Event{
		CreatedAt: 1700000000,
		Kind:      types.KindAsk,
		Tags:      types.Tags{{"t", "geography"}},
		Content:   "capital of france?",
	}

	signed, err := Sign(signer, unsigned)
	c.Assert(err, qt.IsNil)
	c.Assert(signed.Pubkey, qt.DeepEquals, signer.Pubkey())
	c.Assert(Verify(signed), qt.IsTrue)

	recomputed, err := CanonicalID(signed)
	c.Assert(err, qt.IsNil)
	c.Assert(recomputed, qt.DeepEquals, signed.ID)
}

func TestVerifyRejectsTampering(t *testing.T) {
	c := qt.New(t)

	signer, err := NewSignerFromSeed([]byte("test-seed-2"))
	c.Assert(err, qt.IsNil)

	signed, err := Sign(signer, types.Event{Kind: types.KindAsk, Content: "hello"})
	c.Assert(err, qt.IsNil)

	tampered := *signed
	tampered.Content = "goodbye"
	c.Assert(Verify(&tampered), qt.IsFalse)
}
