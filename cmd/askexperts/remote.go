package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/types"
)

// remoteClient issues admin-API requests signed with a request-bound
// Nostr Authorization header, the same scheme api/auth.go's requireAuth
// verifies — the CLI's --remote/-r mode is simply another client of the
// boundary this engine already exposes over HTTP.
type remoteClient struct {
	baseURL string
	signer  *codec.Signer
	http    *http.Client
}

func newRemoteClient(baseURL string, signer *codec.Signer) *remoteClient {
	return &remoteClient{baseURL: baseURL, signer: signer, http: &http.Client{Timeout: 30 * time.Second}}
}

// do signs and sends method/path with an optional JSON body, decoding the
// response into out when non-nil.
func (r *remoteClient) do(method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	url := r.baseURL + path
	req, err := http.NewRequest(method, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	tags := types.Tags{{"u", url}, {"method", method}}
	if len(raw) > 0 {
		sum := sha256.Sum256(raw)
		tags = append(tags, types.Tag{"payload", hex.EncodeToString(sum[:])})
	}
	signed, err := codec.Sign(r.signer, types.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      types.KindAuthRequest,
		Tags:      tags,
	})
	if err != nil {
		return err
	}
	eventJSON, err := json.Marshal(signed)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Nostr "+base64.StdEncoding.EncodeToString(eventJSON))

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("remote admin API returned %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		return json.Unmarshal(respBody, out)
	}
	return nil
}
