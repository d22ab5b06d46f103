package auth

import (
	"race-lab/clock"
	"race-lab/domain"
	"race-lab/errors"
	"race-lab/idcodec"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "race-lab"

// Claims is what a bearer token says about its holder. Ids travel as
// hashids, never as raw numbers.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	BotID  string `json:"bot_id,omitempty"`
	Staff  bool   `json:"staff,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and checks HS256 tokens identifying users and bots.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	codec  *idcodec.Codec
	clock  clock.Clock
}

func NewTokens(secret string, ttl time.Duration, codec *idcodec.Codec, clk clock.Clock) (*Tokens, error) {
	if len(secret) < 16 {
		return nil, errors.Fatal(nil, "the token secret must be at least 16 characters")
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, codec: codec, clock: clk}, nil
}

// Issue signs a token for actor, which must not be anonymous.
func (t *Tokens) Issue(actor domain.Actor) (string, error) {
	now := t.clock.Now()
	claims := &Claims{
		Staff: actor.IsStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	var err error
	switch {
	case actor.IsBot():
		claims.BotID, err = t.codec.Encode(idcodec.Bot, *actor.BotID)
	case actor.UserID != nil:
		claims.UserID, err = t.codec.Encode(idcodec.User, *actor.UserID)
	default:
		return "", errors.Validation("cannot issue a token for an anonymous actor")
	}
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Actor validates the signature and expiry of raw and returns the actor it
// identifies.
func (t *Tokens) Actor(raw string) (domain.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.clock.Now),
	)
	if err != nil {
		return domain.Actor{}, errors.Authorization("invalid or expired token")
	}

	switch {
	case claims.BotID != "":
		id, err := t.codec.Decode(idcodec.Bot, claims.BotID)
		if err != nil {
			return domain.Actor{}, errors.Authorization("invalid or expired token")
		}
		return domain.BotActor(id), nil
	case claims.UserID != "":
		id, err := t.codec.Decode(idcodec.User, claims.UserID)
		if err != nil {
			return domain.Actor{}, errors.Authorization("invalid or expired token")
		}
		actor := domain.UserActor(id)
		actor.IsStaff = claims.Staff
		return actor, nil
	}
	return domain.Actor{}, errors.Authorization("the token names nobody")
}
