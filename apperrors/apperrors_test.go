package apperrors

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestNewAndError(t *testing.T) {
	c := qt.New(t)

	e := New(KindStream, CodeStreamTTLExceeded, "no chunks received in time")
	c.Assert(e.Error(), qt.Equals, "stream: ttl_exceeded: no chunks received in time")
	c.Assert(e.Unwrap(), qt.IsNil)
}

func TestWrap(t *testing.T) {
	c := qt.New(t)

	cause := errors.New("boom")
	e := Wrap(KindTransport, CodeTransportDisconnect, cause, "")
	c.Assert(e.Message, qt.Equals, "boom")
	c.Assert(errors.Unwrap(e), qt.Equals, cause)
}

func TestIs(t *testing.T) {
	c := qt.New(t)

	e := New(KindPayment, CodePaymentAmountOverCap, "quote exceeds cap")
	wrapped := Wrap(KindFatal, "wrapped", e, "")

	c.Assert(Is(e, KindPayment, CodePaymentAmountOverCap), qt.IsTrue)
	c.Assert(Is(wrapped, KindPayment, CodePaymentAmountOverCap), qt.IsTrue)
	c.Assert(Is(wrapped, KindPayment, CodePaymentPayFailed), qt.IsFalse)
	c.Assert(Is(errors.New("plain"), KindFatal, "wrapped"), qt.IsFalse)
}
