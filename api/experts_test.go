package api

import (
	"encoding/json"
	"net/http"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/types"
)

func TestCreateAndDisableExpert(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(c)

	pk := types.HexBytes{0x01, 0x02, 0x03, 0x04}
	rec := doJSON(a, http.MethodPost, ExpertsEndpoint, ExpertRecord{
		Pubkey:     pk,
		Name:       "Geography Bot",
		WalletID:   "w1",
		ExpertType: "geography",
	})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	pubkeyHex := pk.String()
	rec = doJSON(a, http.MethodPatch, EndpointWithParam(ExpertDisabledEndpoint, ExpertPubkeyParam, pubkeyHex), DisabledPatch{Disabled: true})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	rec = doJSON(a, http.MethodGet, EndpointWithParam(ExpertEndpoint, ExpertPubkeyParam, pubkeyHex), nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	var got ExpertRecord
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &got), qt.IsNil)
	c.Assert(got.Disabled, qt.IsTrue)
}

func TestCreateExpertRejectsMissingFields(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(c)

	rec := doJSON(a, http.MethodPost, ExpertsEndpoint, ExpertRecord{Name: "Incomplete"})
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestListExperts(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(c)

	doJSON(a, http.MethodPost, ExpertsEndpoint, ExpertRecord{Pubkey: types.HexBytes{0x01}, WalletID: "w1", ExpertType: "a"})
	doJSON(a, http.MethodPost, ExpertsEndpoint, ExpertRecord{Pubkey: types.HexBytes{0x02}, WalletID: "w1", ExpertType: "b"})

	rec := doJSON(a, http.MethodGet, ExpertsEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	var list []ExpertRecord
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &list), qt.IsNil)
	c.Assert(list, qt.HasLen, 2)
}

func TestDeleteExpert(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(c)

	pk := types.HexBytes{0x09, 0x08}
	doJSON(a, http.MethodPost, ExpertsEndpoint, ExpertRecord{Pubkey: pk, WalletID: "w1", ExpertType: "a"})

	rec := doJSON(a, http.MethodDelete, EndpointWithParam(ExpertEndpoint, ExpertPubkeyParam, pk.String()), nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	rec = doJSON(a, http.MethodGet, EndpointWithParam(ExpertEndpoint, ExpertPubkeyParam, pk.String()), nil)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}
