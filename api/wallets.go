package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/askexperts/askexperts/accounts"
)

func walletToRecord(w *accounts.Wallet, defaultID string) WalletRecord {
	return WalletRecord{ID: w.ID, Name: w.Name, NWC: w.NWC, IsDefault: w.ID == defaultID}
}

func (a *API) defaultWalletID() string {
	w, err := a.accounts.GetDefaultWallet()
	if err != nil {
		return ""
	}
	return w.ID
}

// listWallets honors the §6 permissions hook: when checkPerms is set, it
// may restrict the listing to a subset of wallet ids for the requesting
// user.
func (a *API) listWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := a.accounts.ListWallets()
	if err != nil {
		writeAppError(w, err)
		return
	}

	if a.checkPerms != nil {
		if token, ok := AuthTokenFromContext(r.Context()); ok {
			listIDs, restrict := a.checkPerms(token.Event.Pubkey.String(), r)
			if restrict {
				allowed := make(map[string]bool, len(listIDs))
				for _, id := range listIDs {
					allowed[id] = true
				}
				filtered := wallets[:0]
				for _, wl := range wallets {
					if allowed[wl.ID] {
						filtered = append(filtered, wl)
					}
				}
				wallets = filtered
			}
		}
	}

	defID := a.defaultWalletID()
	out := make([]WalletRecord, 0, len(wallets))
	for _, wl := range wallets {
		out = append(out, walletToRecord(wl, defID))
	}
	httpWriteJSON(w, out)
}

func (a *API) createWallet(w http.ResponseWriter, r *http.Request) {
	var req WalletRecord
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.Name == "" || req.NWC == "" {
		ErrMalformedBody.Withf("name and nwc are required").Write(w)
		return
	}
	wl, err := a.accounts.CreateWallet(req.Name, req.NWC)
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpWriteJSON(w, walletToRecord(wl, a.defaultWalletID()))
}

func (a *API) getWallet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, WalletIDParam)
	wl, err := a.accounts.GetWallet(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpWriteJSON(w, walletToRecord(wl, a.defaultWalletID()))
}

func (a *API) getWalletByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, WalletNameParam)
	wl, err := a.accounts.GetWalletByName(name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpWriteJSON(w, walletToRecord(wl, a.defaultWalletID()))
}

func (a *API) getDefaultWallet(w http.ResponseWriter, _ *http.Request) {
	wl, err := a.accounts.GetDefaultWallet()
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpWriteJSON(w, walletToRecord(wl, wl.ID))
}

func (a *API) updateWallet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, WalletIDParam)
	var req WalletRecord
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	wl, err := a.accounts.UpdateWallet(id, req.NWC)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if req.IsDefault {
		if err := a.accounts.SetDefaultWallet(id); err != nil {
			writeAppError(w, err)
			return
		}
	}
	httpWriteJSON(w, walletToRecord(wl, a.defaultWalletID()))
}

func (a *API) deleteWallet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, WalletIDParam)
	if err := a.accounts.DeleteWallet(id); err != nil {
		writeAppError(w, err)
		return
	}
	httpWriteOK(w)
}
