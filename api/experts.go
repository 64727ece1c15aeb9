package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/askexperts/askexperts/accounts"
	"github.com/askexperts/askexperts/types"
)

func expertToRecord(e *accounts.Expert) ExpertRecord {
	return ExpertRecord{
		Pubkey:      e.Pubkey,
		Name:        e.Name,
		Description: e.Description,
		WalletID:    e.WalletID,
		ExpertType:  e.ExpertType,
		Disabled:    e.Disabled,
	}
}

func (a *API) listExperts(w http.ResponseWriter, _ *http.Request) {
	experts, err := a.accounts.ListExperts()
	if err != nil {
		writeAppError(w, err)
		return
	}
	out := make([]ExpertRecord, 0, len(experts))
	for _, e := range experts {
		out = append(out, expertToRecord(e))
	}
	httpWriteJSON(w, out)
}

func (a *API) createExpert(w http.ResponseWriter, r *http.Request) {
	var req ExpertRecord
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if len(req.Pubkey) == 0 || req.WalletID == "" {
		ErrMalformedBody.Withf("pubkey and walletId are required").Write(w)
		return
	}
	e := &accounts.Expert{
		Pubkey:      req.Pubkey,
		Name:        req.Name,
		Description: req.Description,
		WalletID:    req.WalletID,
		ExpertType:  req.ExpertType,
		Disabled:    req.Disabled,
	}
	if err := a.accounts.UpsertExpert(e); err != nil {
		writeAppError(w, err)
		return
	}
	httpWriteJSON(w, expertToRecord(e))
}

func pubkeyParam(r *http.Request) types.HexBytes {
	hexStr := chi.URLParam(r, ExpertPubkeyParam)
	pk, err := types.HexStringToHexBytes(hexStr)
	if err != nil {
		return nil
	}
	return pk
}

func (a *API) getExpert(w http.ResponseWriter, r *http.Request) {
	pk := pubkeyParam(r)
	if pk == nil {
		ErrMalformedParam.Withf("invalid pubkey").Write(w)
		return
	}
	e, err := a.accounts.GetExpert(pk)
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpWriteJSON(w, expertToRecord(e))
}

func (a *API) updateExpert(w http.ResponseWriter, r *http.Request) {
	pk := pubkeyParam(r)
	if pk == nil {
		ErrMalformedParam.Withf("invalid pubkey").Write(w)
		return
	}
	e, err := a.accounts.GetExpert(pk)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req ExpertRecord
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	e.Name = req.Name
	e.Description = req.Description
	e.WalletID = req.WalletID
	e.ExpertType = req.ExpertType
	if err := a.accounts.UpsertExpert(e); err != nil {
		writeAppError(w, err)
		return
	}
	httpWriteJSON(w, expertToRecord(e))
}

func (a *API) deleteExpert(w http.ResponseWriter, r *http.Request) {
	pk := pubkeyParam(r)
	if pk == nil {
		ErrMalformedParam.Withf("invalid pubkey").Write(w)
		return
	}
	if err := a.accounts.DeleteExpert(pk); err != nil {
		writeAppError(w, err)
		return
	}
	httpWriteOK(w)
}

func (a *API) setExpertDisabled(w http.ResponseWriter, r *http.Request) {
	pk := pubkeyParam(r)
	if pk == nil {
		ErrMalformedParam.Withf("invalid pubkey").Write(w)
		return
	}
	var req DisabledPatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if err := a.accounts.SetExpertDisabled(pk, req.Disabled); err != nil {
		writeAppError(w, err)
		return
	}
	httpWriteOK(w)
}
