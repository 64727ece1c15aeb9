package payments

import (
	"context"
	"crypto/sha256"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestParseInvoiceRejectsGarbage(t *testing.T) {
	c := qt.New(t)
	_, err := ParseInvoice("not-a-bolt11-invoice")
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestCheckAmountCap(t *testing.T) {
	c := qt.New(t)
	inv := &ParsedInvoice{AmountSats: 10}

	c.Assert(checkAmountCap(inv, 0), qt.IsNil)         // unlimited
	c.Assert(checkAmountCap(inv, 100), qt.IsNil)       // under cap
	c.Assert(checkAmountCap(inv, 5), qt.Not(qt.IsNil)) // over cap
}

func TestMatchesPreimage(t *testing.T) {
	c := qt.New(t)
	preimage := []byte("super-secret-preimage")
	hash := sha256.Sum256(preimage)
	inv := &ParsedInvoice{PaymentHash: hash}

	c.Assert(matchesPreimage(inv, preimage), qt.IsTrue)
	c.Assert(matchesPreimage(inv, []byte("wrong")), qt.IsFalse)
}

type fakeWallet struct {
	preimage []byte
	err      error
	called   bool
}

func (w *fakeWallet) Pay(ctx context.Context, bolt11 string) ([]byte, error) {
	w.called = true
	return w.preimage, w.err
}

func TestPayRejectsInvalidInvoiceBeforeCallingWallet(t *testing.T) {
	c := qt.New(t)
	wallet := &fakeWallet{}
	p := New(wallet, 100)

	_, err := p.Pay(context.Background(), "garbage")
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(wallet.called, qt.IsFalse)
}
