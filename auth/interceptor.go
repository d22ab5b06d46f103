package auth

import (
	"net/http"
	"race-lab/domain"
	"strings"
)

// FromRequest identifies the caller of an HTTP request. Browsers cannot
// set headers on a websocket upgrade, so a token query parameter is
// accepted as well. A request without any token is an anonymous observer.
func (t *Tokens) FromRequest(r *http.Request) (domain.Actor, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return domain.Actor{}, nil
	}
	return t.Actor(raw)
}
