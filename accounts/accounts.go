// Package accounts persists the admin-facing records the HTTP boundary
// (C10) manages: configured wallets, expert personas, and the users
// authorized to administer this instance. The CLI keeps these records and
// the docstores in one pebble database under <data dir>/db; no separate
// askexperts.db or docstore.db file is created. Grounded on
// docstore/docstore.go's CBOR-encode-plus-byte-prefix-key pattern over the
// same generic db.Database abstraction.
package accounts

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/types"
)

var (
	prefixWalletByID    = []byte("w/")
	prefixWalletByName  = []byte("wn/")
	prefixWalletDefault = []byte("wdef")

	prefixExpertByPubkey = []byte("e/")

	prefixUserByPubkey = []byte("u/")
)

func keyWallet(id string) []byte       { return append(append([]byte{}, prefixWalletByID...), id...) }
func keyWalletName(name string) []byte { return append(append([]byte{}, prefixWalletByName...), name...) }
func keyExpert(pubkeyHex string) []byte {
	return append(append([]byte{}, prefixExpertByPubkey...), pubkeyHex...)
}
func keyUser(pubkeyHex string) []byte { return append(append([]byte{}, prefixUserByPubkey...), pubkeyHex...) }

// Wallet is the persisted record behind the admin wallet CRUD surface
// (§6): a name and the NWC connection string the payments (C6) layer
// dials to reach the actual wallet.
type Wallet struct {
	ID        string    `cbor:"id"`
	Name      string    `cbor:"name"`
	NWC       string    `cbor:"nwc"`
	CreatedAt time.Time `cbor:"created_at"`
}

// Expert is the persisted record behind the admin expert CRUD surface: an
// identity, the wallet it spends from, its advertised type (for §4.8's
// worker dispatch filtering), and whether it currently accepts new Asks.
type Expert struct {
	Pubkey      types.HexBytes `cbor:"pubkey"`
	Name        string         `cbor:"name"`
	Description string         `cbor:"description"`
	WalletID    string         `cbor:"wallet_id"`
	ExpertType  string         `cbor:"expert_type"`
	Disabled    bool           `cbor:"disabled"`
	CreatedAt   time.Time      `cbor:"created_at"`
}

// User is the persisted record of a pubkey authorized to administer this
// instance (the identity behind a verified Authorization header, §6).
type User struct {
	Pubkey    types.HexBytes `cbor:"pubkey"`
	Name      string         `cbor:"name"`
	CreatedAt time.Time      `cbor:"created_at"`
}

// Store is the accounts persistence layer, backed by a generic db.Database.
type Store struct {
	db db.Database
}

// New wraps database as a Store. The caller owns database's lifecycle.
func New(database db.Database) *Store {
	return &Store{db: database}
}

// CreateWallet persists a new wallet, rejecting a duplicate name. The
// first wallet ever created becomes the default.
func (s *Store) CreateWallet(name, nwc string) (*Wallet, error) {
	if _, err := s.db.Get(keyWalletName(name)); err == nil {
		return nil, apperrors.New(apperrors.KindStorage, apperrors.CodeStorageUniqueViolation,
			fmt.Sprintf("wallet name %q already in use", name))
	}

	w := &Wallet{ID: uuid.NewString(), Name: name, NWC: nwc, CreatedAt: time.Now()}
	data, err := encodeCBOR(w)
	if err != nil {
		return nil, err
	}

	wtx := s.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set(keyWalletName(name), []byte(w.ID)); err != nil {
		return nil, err
	}
	if err := wtx.Set(keyWallet(w.ID), data); err != nil {
		return nil, err
	}
	if _, err := wtx.Get(prefixWalletDefault); err != nil {
		if err := wtx.Set(prefixWalletDefault, []byte(w.ID)); err != nil {
			return nil, err
		}
	}
	if err := wtx.Commit(); err != nil {
		return nil, err
	}
	return w, nil
}

// GetWallet looks up a wallet by id.
func (s *Store) GetWallet(id string) (*Wallet, error) {
	data, err := s.db.Get(keyWallet(id))
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, apperrors.CodeStorageNotFound, fmt.Sprintf("wallet %q not found", id))
	}
	var w Wallet
	if err := decodeCBOR(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletByName looks up a wallet by its unique name.
func (s *Store) GetWalletByName(name string) (*Wallet, error) {
	id, err := s.db.Get(keyWalletName(name))
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, apperrors.CodeStorageNotFound, fmt.Sprintf("wallet %q not found", name))
	}
	return s.GetWallet(string(id))
}

// GetDefaultWallet returns the wallet marked default, if any has been set.
func (s *Store) GetDefaultWallet() (*Wallet, error) {
	id, err := s.db.Get(prefixWalletDefault)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, apperrors.CodeStorageNotFound, "no default wallet configured")
	}
	return s.GetWallet(string(id))
}

// SetDefaultWallet marks id as the default wallet, after confirming it
// exists.
func (s *Store) SetDefaultWallet(id string) error {
	if _, err := s.GetWallet(id); err != nil {
		return err
	}
	wtx := s.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set(prefixWalletDefault, []byte(id)); err != nil {
		return err
	}
	return wtx.Commit()
}

// ListWallets returns every configured wallet, in no particular order.
func (s *Store) ListWallets() ([]*Wallet, error) {
	var out []*Wallet
	err := s.db.Iterate(prefixWalletByID, func(_, v []byte) bool {
		var w Wallet
		if err := decodeCBOR(v, &w); err == nil {
			out = append(out, &w)
		}
		return true
	})
	return out, err
}

// UpdateWallet overwrites an existing wallet's NWC connection string.
func (s *Store) UpdateWallet(id, nwc string) (*Wallet, error) {
	w, err := s.GetWallet(id)
	if err != nil {
		return nil, err
	}
	w.NWC = nwc
	data, err := encodeCBOR(w)
	if err != nil {
		return nil, err
	}
	wtx := s.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set(keyWallet(id), data); err != nil {
		return nil, err
	}
	if err := wtx.Commit(); err != nil {
		return nil, err
	}
	return w, nil
}

// DeleteWallet removes a wallet and its name index entry.
func (s *Store) DeleteWallet(id string) error {
	w, err := s.GetWallet(id)
	if err != nil {
		return err
	}
	wtx := s.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Delete(keyWalletName(w.Name)); err != nil {
		return err
	}
	if err := wtx.Delete(keyWallet(id)); err != nil {
		return err
	}
	return wtx.Commit()
}

// UpsertExpert creates or replaces the expert record for pubkey.
func (s *Store) UpsertExpert(e *Expert) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	data, err := encodeCBOR(e)
	if err != nil {
		return err
	}
	wtx := s.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set(keyExpert(e.Pubkey.String()), data); err != nil {
		return err
	}
	return wtx.Commit()
}

// GetExpert looks up an expert by pubkey.
func (s *Store) GetExpert(pubkey types.HexBytes) (*Expert, error) {
	data, err := s.db.Get(keyExpert(pubkey.String()))
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, apperrors.CodeStorageNotFound, fmt.Sprintf("expert %s not found", pubkey))
	}
	var e Expert
	if err := decodeCBOR(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListExperts returns every configured expert, in no particular order.
func (s *Store) ListExperts() ([]*Expert, error) {
	var out []*Expert
	err := s.db.Iterate(prefixExpertByPubkey, func(_, v []byte) bool {
		var e Expert
		if err := decodeCBOR(v, &e); err == nil {
			out = append(out, &e)
		}
		return true
	})
	return out, err
}

// SetExpertDisabled toggles whether an expert currently accepts new Asks.
func (s *Store) SetExpertDisabled(pubkey types.HexBytes, disabled bool) error {
	e, err := s.GetExpert(pubkey)
	if err != nil {
		return err
	}
	e.Disabled = disabled
	return s.UpsertExpert(e)
}

// DeleteExpert removes an expert's record.
func (s *Store) DeleteExpert(pubkey types.HexBytes) error {
	wtx := s.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Delete(keyExpert(pubkey.String())); err != nil {
		return err
	}
	return wtx.Commit()
}

// AddUser registers pubkey as authorized to administer this instance.
func (s *Store) AddUser(pubkey types.HexBytes, name string) (*User, error) {
	u := &User{Pubkey: pubkey, Name: name, CreatedAt: time.Now()}
	data, err := encodeCBOR(u)
	if err != nil {
		return nil, err
	}
	wtx := s.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set(keyUser(pubkey.String()), data); err != nil {
		return nil, err
	}
	if err := wtx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser looks up a registered user by pubkey.
func (s *Store) GetUser(pubkey types.HexBytes) (*User, error) {
	data, err := s.db.Get(keyUser(pubkey.String()))
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, apperrors.CodeStorageNotFound, fmt.Sprintf("user %s not found", pubkey))
	}
	var u User
	if err := decodeCBOR(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func encodeCBOR(v any) ([]byte, error) {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode accounts record: %w", err)
	}
	return em.Marshal(v)
}

func decodeCBOR(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}
