package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/types"
)

func authHeader(c *qt.C, e *types.Event) string {
	raw, err := json.Marshal(e)
	c.Assert(err, qt.IsNil)
	return "Nostr " + base64.StdEncoding.EncodeToString(raw)
}

func TestRequireAuthAcceptsMatchingRequestBoundToken(t *testing.T) {
	c := qt.New(t)

	signer, err := codec.NewSignerFromSeed([]byte("auth-test-seed"))
	c.Assert(err, qt.IsNil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/wallets", nil)

	unsigned := types.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      types.KindAuthRequest,
		Tags: types.Tags{
			{"u", "http://example.com/wallets"},
			{"method", http.MethodGet},
		},
	}
	signed, err := codec.Sign(signer, unsigned)
	c.Assert(err, qt.IsNil)
	req.Header.Set("Authorization", authHeader(c, signed))

	var gotToken *types.AuthToken
	handler := requireAuth(func(w http.ResponseWriter, r *http.Request) {
		gotToken, _ = AuthTokenFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	c.Assert(gotToken, qt.Not(qt.IsNil))
	c.Assert(gotToken.URL, qt.Equals, "http://example.com/wallets")
}

func TestRequireAuthRejectsMissingHeader(t *testing.T) {
	c := qt.New(t)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/wallets", nil)
	handler := requireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusUnauthorized)
}

func TestRequireAuthRejectsURLMismatch(t *testing.T) {
	c := qt.New(t)

	signer, err := codec.NewSignerFromSeed([]byte("auth-test-seed-2"))
	c.Assert(err, qt.IsNil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/wallets", nil)

	unsigned := types.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      types.KindAuthRequest,
		Tags: types.Tags{
			{"u", "http://example.com/experts"},
			{"method", http.MethodGet},
		},
	}
	signed, err := codec.Sign(signer, unsigned)
	c.Assert(err, qt.IsNil)
	req.Header.Set("Authorization", authHeader(c, signed))

	handler := requireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusUnauthorized)
}

func TestRequireAuthRejectsStaleTimestamp(t *testing.T) {
	c := qt.New(t)

	signer, err := codec.NewSignerFromSeed([]byte("auth-test-seed-3"))
	c.Assert(err, qt.IsNil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/wallets", nil)

	unsigned := types.Event{
		CreatedAt: time.Now().Add(-5 * time.Minute).Unix(),
		Kind:      types.KindAuthRequest,
		Tags: types.Tags{
			{"u", "http://example.com/wallets"},
			{"method", http.MethodGet},
		},
	}
	signed, err := codec.Sign(signer, unsigned)
	c.Assert(err, qt.IsNil)
	req.Header.Set("Authorization", authHeader(c, signed))

	handler := requireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusUnauthorized)
}

func TestRequireAuthAcceptsDomainScopedToken(t *testing.T) {
	c := qt.New(t)

	signer, err := codec.NewSignerFromSeed([]byte("auth-test-seed-4"))
	c.Assert(err, qt.IsNil)

	req := httptest.NewRequest(http.MethodGet, "http://sub.example.com/wallets", nil)

	unsigned := types.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      types.KindAuthDomain,
		Tags: types.Tags{
			{"domain", "example.com"},
			{"expiration", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)},
		},
	}
	signed, err := codec.Sign(signer, unsigned)
	c.Assert(err, qt.IsNil)
	req.Header.Set("Authorization", authHeader(c, signed))

	handler := requireAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
}

func TestRequireAuthRejectsExpiredDomainToken(t *testing.T) {
	c := qt.New(t)

	signer, err := codec.NewSignerFromSeed([]byte("auth-test-seed-5"))
	c.Assert(err, qt.IsNil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/wallets", nil)

	unsigned := types.Event{
		CreatedAt: time.Now().Add(-2 * time.Hour).Unix(),
		Kind:      types.KindAuthDomain,
		Tags: types.Tags{
			{"domain", "example.com"},
			{"expiration", strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)},
		},
	}
	signed, err := codec.Sign(signer, unsigned)
	c.Assert(err, qt.IsNil)
	req.Header.Set("Authorization", authHeader(c, signed))

	handler := requireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusUnauthorized)
}
