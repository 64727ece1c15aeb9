package scheduler

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/codec"
)

func TestWorkerAuthTokenRoundTrip(t *testing.T) {
	c := qt.New(t)

	worker, err := codec.NewSigner()
	c.Assert(err, qt.IsNil)
	scheduler, err := codec.NewSigner()
	c.Assert(err, qt.IsNil)

	token, err := SignWorkerAuthToken(worker, scheduler.Pubkey())
	c.Assert(err, qt.IsNil)
	c.Assert(len(token), qt.Equals, tokenLen)

	ok, ts, err := VerifyWorkerAuthToken(token, worker.Pubkey(), scheduler.Pubkey())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(ts.IsZero(), qt.IsFalse)
}

func TestWorkerAuthTokenRejectsWrongWorkerPubkey(t *testing.T) {
	c := qt.New(t)

	worker, err := codec.NewSigner()
	c.Assert(err, qt.IsNil)
	impostor, err := codec.NewSigner()
	c.Assert(err, qt.IsNil)
	scheduler, err := codec.NewSigner()
	c.Assert(err, qt.IsNil)

	token, err := SignWorkerAuthToken(worker, scheduler.Pubkey())
	c.Assert(err, qt.IsNil)

	ok, _, err := VerifyWorkerAuthToken(token, impostor.Pubkey(), scheduler.Pubkey())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestWorkerAuthTokenRejectsWrongScheduler(t *testing.T) {
	c := qt.New(t)

	worker, err := codec.NewSigner()
	c.Assert(err, qt.IsNil)
	scheduler, err := codec.NewSigner()
	c.Assert(err, qt.IsNil)
	otherScheduler, err := codec.NewSigner()
	c.Assert(err, qt.IsNil)

	token, err := SignWorkerAuthToken(worker, scheduler.Pubkey())
	c.Assert(err, qt.IsNil)

	ok, _, err := VerifyWorkerAuthToken(token, worker.Pubkey(), otherScheduler.Pubkey())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestWorkerAuthTokenRejectsTamperedSignature(t *testing.T) {
	c := qt.New(t)

	worker, err := codec.NewSigner()
	c.Assert(err, qt.IsNil)
	scheduler, err := codec.NewSigner()
	c.Assert(err, qt.IsNil)

	token, err := SignWorkerAuthToken(worker, scheduler.Pubkey())
	c.Assert(err, qt.IsNil)
	token[0] ^= 0xff

	ok, _, err := VerifyWorkerAuthToken(token, worker.Pubkey(), scheduler.Pubkey())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestDecodeWorkerAuthTokenRejectsBadLength(t *testing.T) {
	c := qt.New(t)
	_, _, err := DecodeWorkerAuthToken([]byte{1, 2, 3})
	c.Assert(err, qt.ErrorMatches, "invalid worker token length.*")
}

func TestEncodeWorkerAuthTokenRejectsBadSignatureLength(t *testing.T) {
	c := qt.New(t)
	_, err := EncodeWorkerAuthToken([]byte{1, 2, 3}, time.Now())
	c.Assert(err, qt.ErrorMatches, "invalid signature length.*")
}
