package payments

import (
	"context"
	"crypto/sha256"

	"github.com/askexperts/askexperts/apperrors"
)

// Payments pays parsed invoices through an injected Wallet, enforcing an
// operator-supplied per-payment cap.
type Payments struct {
	wallet        Wallet
	maxAmountSats int64
}

// New constructs a Payments that refuses to settle any invoice whose
// amount exceeds maxAmountSats (0 means unlimited).
func New(wallet Wallet, maxAmountSats int64) *Payments {
	return &Payments{wallet: wallet, maxAmountSats: maxAmountSats}
}

// Pay parses bolt11, rejects it if over cap, pays it through the wallet,
// and confirms sha256(preimage) == payment_hash before returning.
func (p *Payments) Pay(ctx context.Context, bolt11 string) (preimage []byte, err error) {
	inv, err := ParseInvoice(bolt11)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPayment, apperrors.CodePaymentPayFailed, err, "")
	}
	if err := checkAmountCap(inv, p.maxAmountSats); err != nil {
		return nil, err
	}

	preimage, err = p.wallet.Pay(ctx, bolt11)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPayment, apperrors.CodePaymentPayFailed, err, "")
	}
	if !matchesPreimage(inv, preimage) {
		return nil, apperrors.New(apperrors.KindPayment, apperrors.CodePaymentPreimageMismatch,
			"wallet returned a preimage that does not match the invoice's payment hash")
	}
	return preimage, nil
}

// VerifyProof recomputes bolt11's payment hash from preimage and reports
// whether they match — the expert side's check before releasing a Reply.
func VerifyProof(bolt11 string, preimage []byte) (bool, error) {
	inv, err := ParseInvoice(bolt11)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindPayment, apperrors.CodePaymentProofInvalid, err, "")
	}
	return matchesPreimage(inv, preimage), nil
}

// checkAmountCap rejects inv if its amount exceeds maxAmountSats (0 means
// unlimited). Split out from Pay so the cap rule is testable without a
// real signed invoice.
func checkAmountCap(inv *ParsedInvoice, maxAmountSats int64) error {
	if maxAmountSats > 0 && inv.AmountSats > maxAmountSats {
		return apperrors.New(apperrors.KindPayment, apperrors.CodePaymentAmountOverCap,
			"invoice amount exceeds operator cap")
	}
	return nil
}

// matchesPreimage reports whether sha256(preimage) equals inv's payment
// hash.
func matchesPreimage(inv *ParsedInvoice, preimage []byte) bool {
	return sha256.Sum256(preimage) == inv.PaymentHash
}
