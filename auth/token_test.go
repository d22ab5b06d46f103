package auth

import (
	"net/http/httptest"
	"race-lab/clock"
	"race-lab/domain"
	"race-lab/errors"
	"race-lab/idcodec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func newTokens(t *testing.T) (*Tokens, *clock.FakeClock) {
	t.Helper()
	codec, err := idcodec.New("auth-test-secret")
	require.NoError(t, err)
	clk := clock.Fake(t0)
	tokens, err := NewTokens("a-long-enough-signing-secret", time.Hour, codec, clk)
	require.NoError(t, err)
	return tokens, clk
}

func TestTokens_RoundTrip(t *testing.T) {
	tokens, _ := newTokens(t)
	staff := domain.UserActor(7)
	staff.IsStaff = true

	tests := []struct {
		name  string
		actor domain.Actor
	}{
		{name: "user", actor: domain.UserActor(42)},
		{name: "staff", actor: staff},
		{name: "bot", actor: domain.BotActor(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			raw, err := tokens.Issue(tt.actor)
			req.NoError(err)

			actor, err := tokens.Actor(raw)

			req.NoError(err)
			req.Equal(tt.actor, actor)
		})
	}
}

func TestTokens_Rejects(t *testing.T) {
	req := require.New(t)
	tokens, clk := newTokens(t)
	raw, err := tokens.Issue(domain.UserActor(42))
	req.NoError(err)

	// Given a token signed with another secret
	other, err := NewTokens("another-signing-secret-entirely", time.Hour, tokens.codec, clk)
	req.NoError(err)
	forged, err := other.Issue(domain.UserActor(42))
	req.NoError(err)
	_, err = tokens.Actor(forged)
	req.Equal(errors.KindAuthorization, errors.KindOf(err))

	// Given an expired token
	clk.Advance(2 * time.Hour)
	_, err = tokens.Actor(raw)
	req.Equal(errors.KindAuthorization, errors.KindOf(err))

	// Given an anonymous actor
	_, err = tokens.Issue(domain.Actor{})
	req.Equal(errors.KindValidation, errors.KindOf(err))
}

func TestTokens_ShortSecret(t *testing.T) {
	codec, err := idcodec.New("auth-test-secret")
	require.NoError(t, err)

	_, err = NewTokens("short", time.Hour, codec, clock.Real())

	require.Error(t, err)
}

func TestTokens_FromRequest(t *testing.T) {
	req := require.New(t)
	tokens, _ := newTokens(t)
	raw, err := tokens.Issue(domain.UserActor(42))
	req.NoError(err)

	// Given no token the caller is anonymous
	actor, err := tokens.FromRequest(httptest.NewRequest("GET", "/ws/race/smw/quick-fox-1234", nil))
	req.NoError(err)
	req.True(actor.IsAnonymous())

	// Given a bearer header
	r := httptest.NewRequest("GET", "/ws/race/smw/quick-fox-1234", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	actor, err = tokens.FromRequest(r)
	req.NoError(err)
	req.Equal(int64(42), *actor.UserID)

	// Given a query token
	actor, err = tokens.FromRequest(httptest.NewRequest("GET", "/ws/race/smw/quick-fox-1234?token="+raw, nil))
	req.NoError(err)
	req.Equal(int64(42), *actor.UserID)

	// Given garbage
	r = httptest.NewRequest("GET", "/ws/race/smw/quick-fox-1234", nil)
	r.Header.Set("Authorization", "Bearer nope")
	_, err = tokens.FromRequest(r)
	req.Error(err)
}
