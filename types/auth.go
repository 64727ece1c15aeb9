package types

import (
	"fmt"
	"strconv"
	"time"
)

// AuthTokenWindow bounds how far a request-bound auth token's created_at
// may drift from server time in either direction before it is rejected.
const AuthTokenWindow = 60 * time.Second

// AuthToken is the decoded form of a kind 27235 (request-bound) or 27236
// (domain-scoped) Authorization header event.
type AuthToken struct {
	Event Event

	// Request-bound (kind 27235) fields, read from tags "u", "method",
	// "payload".
	URL            string
	Method         string
	PayloadHashHex string

	// Domain-scoped (kind 27236) fields, read from tags "domain",
	// "expiration".
	Domain     string
	Expiration time.Time
}

// IsDomainScoped reports whether the token is a kind-27236 domain token
// rather than a kind-27235 request-bound one.
func (t *AuthToken) IsDomainScoped() bool {
	return t.Event.Kind == KindAuthDomain
}

// ParseAuthToken decodes the tags of an already-unmarshaled kind 27235 or
// 27236 event into an AuthToken. It performs no signature or binding
// verification — callers at the HTTP boundary (C10) additionally check
// codec.Verify and the URL/method/payload/domain/expiration match.
func ParseAuthToken(e *Event) (*AuthToken, error) {
	switch e.Kind {
	case KindAuthRequest:
		return &AuthToken{
			Event:          *e,
			URL:            e.Tags.Value("u"),
			Method:         e.Tags.Value("method"),
			PayloadHashHex: e.Tags.Value("payload"),
		}, nil
	case KindAuthDomain:
		expTag := e.Tags.Value("expiration")
		expSecs, err := strconv.ParseInt(expTag, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid expiration tag: %w", err)
		}
		return &AuthToken{
			Event:      *e,
			Domain:     e.Tags.Value("domain"),
			Expiration: time.Unix(expSecs, 0).UTC(),
		}, nil
	default:
		return nil, fmt.Errorf("unexpected auth token kind: %d", e.Kind)
	}
}
