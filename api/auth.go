package api

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/types"
)

type authTokenCtxKey struct{}

// AuthTokenFromContext returns the verified AuthToken bound to this
// request, if requireAuth admitted it.
func AuthTokenFromContext(ctx context.Context) (*types.AuthToken, bool) {
	t, ok := ctx.Value(authTokenCtxKey{}).(*types.AuthToken)
	return t, ok
}

// parseAuthorizationHeader decodes the base64 canonical event JSON carried
// in an "Authorization: Nostr <base64>" header (§6).
func parseAuthorizationHeader(header string) (*types.Event, error) {
	const prefix = "Nostr "
	if !strings.HasPrefix(header, prefix) {
		return nil, apperrors.New(apperrors.KindAuth, apperrors.CodeAuthMissing, "missing Nostr authorization scheme")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindAuth, apperrors.CodeAuthSignatureInvalid, err, "malformed authorization token")
	}
	var e types.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, apperrors.Wrap(apperrors.KindAuth, apperrors.CodeAuthSignatureInvalid, err, "malformed authorization event")
	}
	return &e, nil
}

// verifyAuthToken validates a decoded Authorization header against the
// request it arrived on: the event must verify (§4.1), and depending on
// its kind either bind the exact URL/method/payload hash (27235, within
// AuthTokenWindow of server time) or cover domain and not yet have expired
// (27236).
func verifyAuthToken(e *types.Event, r *http.Request, bodyHash []byte) (*types.AuthToken, error) {
	if !codec.Verify(e) {
		return nil, apperrors.New(apperrors.KindAuth, apperrors.CodeAuthSignatureInvalid, "authorization event failed verification")
	}
	token, err := types.ParseAuthToken(e)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindAuth, apperrors.CodeAuthSignatureInvalid, err, "")
	}

	if token.IsDomainScoped() {
		if time.Now().After(token.Expiration) {
			return nil, apperrors.New(apperrors.KindAuth, apperrors.CodeAuthExpired, "domain auth token expired")
		}
		host := r.Host
		if !strings.EqualFold(host, token.Domain) && !strings.HasSuffix(strings.ToLower(host), "."+strings.ToLower(token.Domain)) {
			return nil, apperrors.New(apperrors.KindAuth, apperrors.CodeAuthDomainMismatch, host)
		}
		return token, nil
	}

	skew := time.Since(time.Unix(e.CreatedAt, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > types.AuthTokenWindow {
		return nil, apperrors.New(apperrors.KindAuth, apperrors.CodeAuthExpired, "authorization token outside allowed clock skew")
	}
	if !strings.EqualFold(token.Method, r.Method) {
		return nil, apperrors.New(apperrors.KindAuth, apperrors.CodeAuthURLMismatch, "method mismatch")
	}
	if token.URL != requestURL(r) {
		return nil, apperrors.New(apperrors.KindAuth, apperrors.CodeAuthURLMismatch, "url mismatch")
	}
	if token.PayloadHashHex != "" {
		if token.PayloadHashHex != hex.EncodeToString(bodyHash) {
			return nil, apperrors.New(apperrors.KindAuth, apperrors.CodeAuthPayloadMismatch, "body hash mismatch")
		}
	}
	return token, nil
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// requireAuth wraps next with Nostr Authorization-header verification
// (§6). On success the verified *types.AuthToken is attached to the
// request context, retrievable with AuthTokenFromContext.
func requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			ErrUnauthorized.Withf("missing Authorization header").Write(w)
			return
		}
		e, err := parseAuthorizationHeader(header)
		if err != nil {
			writeAppError(w, err)
			return
		}

		var bodyHash []byte
		if r.Body != nil && r.ContentLength > 0 {
			raw, err := io.ReadAll(r.Body)
			if err != nil {
				ErrMalformedBody.WithErr(err).Write(w)
				return
			}
			r.Body = io.NopCloser(strings.NewReader(string(raw)))
			sum := sha256.Sum256(raw)
			bodyHash = sum[:]
		}

		token, err := verifyAuthToken(e, r, bodyHash)
		if err != nil {
			writeAppError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), authTokenCtxKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
