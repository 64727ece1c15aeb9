package payments

import "context"

// Wallet is the external Lightning wallet collaborator (an NWC-speaking
// connection in production) this package pays through. Invoice creation is
// out of scope here — experts mint invoices through their own Wallet
// before quoting; this package only consumes the client side of a Quote.
type Wallet interface {
	// Pay settles bolt11 and returns its preimage. Implementations are
	// expected to serialize calls per wallet: Lightning nodes may not
	// tolerate concurrent payment attempts carrying the same preimage.
	Pay(ctx context.Context, bolt11 string) (preimage []byte, err error)
}
