package scheduler

import (
	"fmt"
	"strings"

	"github.com/askexperts/askexperts/types"
)

// WorkerNameFromPubkey generates a worker display name by masking all but
// the last 4 hex characters of its pubkey, for workers that never
// advertised a human-readable name on handshake.
func WorkerNameFromPubkey(pubkey types.HexBytes) string {
	if len(pubkey) < 2 {
		return pubkey.String()
	}
	return strings.Repeat("*", len(pubkey)-2) + fmt.Sprintf("%x", pubkey[len(pubkey)-2:])
}
