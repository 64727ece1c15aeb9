// Package payments implements the Lightning invoice parsing, capped
// payment and proof verification operations the client side of the
// protocol engine uses to settle a Quote (spec §4.6). Wallet execution
// itself (NWC) is an injected external collaborator.
package payments

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

// ParsedInvoice is the decoded content of a bolt11 payment request.
type ParsedInvoice struct {
	AmountSats  int64
	PaymentHash [32]byte
	ExpirySecs  int64
	Description string
}

// ParseInvoice decodes a bolt11 invoice string against the mainnet
// parameters — the only network this module's wallets are expected to
// settle against.
func ParseInvoice(bolt11 string) (*ParsedInvoice, error) {
	inv, err := zpay32.Decode(bolt11, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("parse invoice: %w", err)
	}
	if inv.PaymentHash == nil {
		return nil, fmt.Errorf("parse invoice: missing payment hash")
	}

	var amountSats int64
	if inv.MilliSat != nil {
		amountSats = int64(inv.MilliSat.ToSatoshis())
	}

	desc := ""
	if inv.Description != nil {
		desc = *inv.Description
	}

	return &ParsedInvoice{
		AmountSats:  amountSats,
		PaymentHash: *inv.PaymentHash,
		ExpirySecs:  int64(inv.Expiry().Seconds()),
		Description: desc,
	}, nil
}
