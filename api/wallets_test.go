package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/accounts"
	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/db/inmemory"
	"github.com/askexperts/askexperts/types"
)

const testBaseURL = "http://example.com"

func newTestAPI(c *qt.C) *API {
	memdb, err := inmemory.New(db.Options{})
	c.Assert(err, qt.IsNil)
	signer, err := codec.NewSignerFromSeed([]byte("api-test-signer"))
	c.Assert(err, qt.IsNil)
	a := &API{accounts: accounts.New(memdb), signer: signer, stopping: func() bool { return false }}
	a.initRouter()
	return a
}

// doJSON sends method/path through a.router with a valid request-bound
// Authorization header signed by a fixed in-test signer, so the
// requireAuth middleware admits it.
func doJSON(a *API, method, path string, body any) *httptest.ResponseRecorder {
	var raw []byte
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, testBaseURL+path, bytes.NewReader(raw))

	tags := types.Tags{{"u", testBaseURL + path}, {"method", method}}
	if len(raw) > 0 {
		sum := sha256.Sum256(raw)
		tags = append(tags, types.Tag{"payload", hex.EncodeToString(sum[:])})
	}
	signer, _ := codec.NewSignerFromSeed([]byte("api-test-signer"))
	signed, err := codec.Sign(signer, types.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      types.KindAuthRequest,
		Tags:      tags,
	})
	if err == nil {
		eventJSON, _ := json.Marshal(signed)
		req.Header.Set("Authorization", "Nostr "+base64.StdEncoding.EncodeToString(eventJSON))
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsOK(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(c)

	rec := doJSON(a, http.MethodGet, HealthEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	var body HealthResponse
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &body), qt.IsNil)
	c.Assert(body.Status, qt.Equals, "ok")
}

func TestHealthReportsStopping(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(c)
	a.stopping = func() bool { return true }

	rec := doJSON(a, http.MethodGet, HealthEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusServiceUnavailable)
}

func TestCreateAndGetWallet(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(c)

	rec := doJSON(a, http.MethodPost, WalletsEndpoint, WalletRecord{Name: "primary", NWC: "nostr+walletconnect://aaa"})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	var created WalletRecord
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &created), qt.IsNil)
	c.Assert(created.IsDefault, qt.IsTrue)

	rec = doJSON(a, http.MethodGet, EndpointWithParam(WalletEndpoint, WalletIDParam, created.ID), nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
}

func TestCreateWalletRejectsMissingFields(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(c)

	rec := doJSON(a, http.MethodPost, WalletsEndpoint, WalletRecord{Name: "primary"})
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestGetMissingWalletReturns400FromStorageNotFound(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(c)

	rec := doJSON(a, http.MethodGet, EndpointWithParam(WalletEndpoint, WalletIDParam, "nonexistent"), nil)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestDeleteWallet(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(c)

	rec := doJSON(a, http.MethodPost, WalletsEndpoint, WalletRecord{Name: "throwaway", NWC: "nostr+walletconnect://aaa"})
	var created WalletRecord
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &created), qt.IsNil)

	rec = doJSON(a, http.MethodDelete, EndpointWithParam(WalletEndpoint, WalletIDParam, created.ID), nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	rec = doJSON(a, http.MethodGet, EndpointWithParam(WalletEndpoint, WalletIDParam, created.ID), nil)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}
