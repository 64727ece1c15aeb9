package accounts

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/db/inmemory"
	"github.com/askexperts/askexperts/types"
)

func newTestStore(c *qt.C) *Store {
	memdb, err := inmemory.New(db.Options{})
	c.Assert(err, qt.IsNil)
	return New(memdb)
}

func TestCreateWalletFirstBecomesDefault(t *testing.T) {
	c := qt.New(t)
	s := newTestStore(c)

	w, err := s.CreateWallet("primary", "nostr+walletconnect://aaa")
	c.Assert(err, qt.IsNil)

	def, err := s.GetDefaultWallet()
	c.Assert(err, qt.IsNil)
	c.Assert(def.ID, qt.Equals, w.ID)
}

func TestCreateWalletRejectsDuplicateName(t *testing.T) {
	c := qt.New(t)
	s := newTestStore(c)

	_, err := s.CreateWallet("primary", "nostr+walletconnect://aaa")
	c.Assert(err, qt.IsNil)

	_, err = s.CreateWallet("primary", "nostr+walletconnect://bbb")
	c.Assert(err, qt.ErrorMatches, ".*already in use.*")
}

func TestGetWalletByName(t *testing.T) {
	c := qt.New(t)
	s := newTestStore(c)

	w, err := s.CreateWallet("savings", "nostr+walletconnect://ccc")
	c.Assert(err, qt.IsNil)

	got, err := s.GetWalletByName("savings")
	c.Assert(err, qt.IsNil)
	c.Assert(got.ID, qt.Equals, w.ID)
}

func TestUpdateWalletAndSetDefault(t *testing.T) {
	c := qt.New(t)
	s := newTestStore(c)

	first, err := s.CreateWallet("primary", "nostr+walletconnect://aaa")
	c.Assert(err, qt.IsNil)
	second, err := s.CreateWallet("secondary", "nostr+walletconnect://bbb")
	c.Assert(err, qt.IsNil)

	updated, err := s.UpdateWallet(second.ID, "nostr+walletconnect://ccc")
	c.Assert(err, qt.IsNil)
	c.Assert(updated.NWC, qt.Equals, "nostr+walletconnect://ccc")

	c.Assert(s.SetDefaultWallet(second.ID), qt.IsNil)
	def, err := s.GetDefaultWallet()
	c.Assert(err, qt.IsNil)
	c.Assert(def.ID, qt.Equals, second.ID)
	c.Assert(first.ID, qt.Not(qt.Equals), def.ID)
}

func TestDeleteWalletRemovesNameIndex(t *testing.T) {
	c := qt.New(t)
	s := newTestStore(c)

	w, err := s.CreateWallet("throwaway", "nostr+walletconnect://aaa")
	c.Assert(err, qt.IsNil)
	c.Assert(s.DeleteWallet(w.ID), qt.IsNil)

	_, err = s.GetWallet(w.ID)
	c.Assert(err, qt.ErrorMatches, ".*not found.*")
	_, err = s.GetWalletByName("throwaway")
	c.Assert(err, qt.ErrorMatches, ".*not found.*")
}

func TestExpertUpsertGetListDelete(t *testing.T) {
	c := qt.New(t)
	s := newTestStore(c)

	pk := types.HexBytes{0x01, 0x02, 0x03}
	e := &Expert{Pubkey: pk, Name: "Geography Bot", WalletID: "w1", ExpertType: "geography"}
	c.Assert(s.UpsertExpert(e), qt.IsNil)

	got, err := s.GetExpert(pk)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Name, qt.Equals, "Geography Bot")
	c.Assert(got.CreatedAt.IsZero(), qt.IsFalse)

	list, err := s.ListExperts()
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 1)

	c.Assert(s.SetExpertDisabled(pk, true), qt.IsNil)
	got, err = s.GetExpert(pk)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Disabled, qt.IsTrue)

	c.Assert(s.DeleteExpert(pk), qt.IsNil)
	_, err = s.GetExpert(pk)
	c.Assert(err, qt.ErrorMatches, ".*not found.*")
}

func TestAddAndGetUser(t *testing.T) {
	c := qt.New(t)
	s := newTestStore(c)

	pk := types.HexBytes{0xaa, 0xbb}
	_, err := s.AddUser(pk, "admin")
	c.Assert(err, qt.IsNil)

	got, err := s.GetUser(pk)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Name, qt.Equals, "admin")
}

func TestGetUserNotFound(t *testing.T) {
	c := qt.New(t)
	s := newTestStore(c)

	_, err := s.GetUser(types.HexBytes{0x01})
	c.Assert(err, qt.ErrorMatches, ".*not found.*")
}
