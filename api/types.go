package api

import "github.com/askexperts/askexperts/types"

// WalletRecord is the persisted admin view of one configured wallet: a
// name and an NWC connection string, the shape the CLI's `wallet add` and
// the admin surface's wallet CRUD endpoints operate on (§6).
type WalletRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	NWC       string `json:"nwc"`
	IsDefault bool   `json:"isDefault"`
}

// ExpertRecord is the persisted admin view of one expert persona: its
// identity, the wallet it spends from, and whether it currently accepts
// new Asks.
type ExpertRecord struct {
	Pubkey      types.HexBytes `json:"pubkey"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	WalletID    string         `json:"walletId"`
	ExpertType  string         `json:"expertType"`
	Disabled    bool           `json:"disabled"`
}

// UserRecord is the persisted admin view of one authenticated user (the
// pubkey that signs Authorization headers against this instance).
type UserRecord struct {
	Pubkey types.HexBytes `json:"pubkey"`
	Name   string         `json:"name,omitempty"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// DisabledPatch is the body accepted by PATCH /experts/{pubkey}/disabled.
type DisabledPatch struct {
	Disabled bool `json:"disabled"`
}
