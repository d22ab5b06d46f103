// Package idcodec turns internal numeric ids into opaque, reversible
// 32-character identifiers. Each entity type has its own alphabet salt
// derived from the process secret, so an id for one type never decodes as
// another.
package idcodec

import (
	"encoding/hex"
	"fmt"
	"race-lab/errors"
	"sync"

	"github.com/speps/go-hashids/v2"
	"github.com/zeebo/blake3"
)

const MinLength = 32

type EntityType string

const (
	Race    EntityType = "race"
	Entrant EntityType = "entrant"
	Message EntityType = "message"
	User    EntityType = "user"
	Bot     EntityType = "bot"
	Team    EntityType = "team"
	Goal    EntityType = "goal"
)

type Codec struct {
	secret []byte
	mu     sync.Mutex
	coders map[EntityType]*hashids.HashID
}

func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("idcodec: secret is required")
	}
	return &Codec{secret: []byte(secret), coders: make(map[EntityType]*hashids.HashID)}, nil
}

func (c *Codec) coder(t EntityType) (*hashids.HashID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.coders[t]; ok {
		return h, nil
	}
	sum := blake3.Sum256(append(append([]byte{}, c.secret...), []byte(":"+string(t))...))
	data := hashids.NewData()
	data.Salt = hex.EncodeToString(sum[:])
	data.MinLength = MinLength
	h, err := hashids.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("idcodec: building %s coder: %w", t, err)
	}
	c.coders[t] = h
	return h, nil
}

func (c *Codec) Encode(t EntityType, id int64) (string, error) {
	if id < 0 {
		return "", errors.Validation("negative %s id", t)
	}
	h, err := c.coder(t)
	if err != nil {
		return "", err
	}
	return h.EncodeInt64([]int64{id})
}

// MustEncode is for ids that came out of the store, where a failure means
// the codec itself is broken.
func (c *Codec) MustEncode(t EntityType, id int64) string {
	s, err := c.Encode(t, id)
	if err != nil {
		panic(err)
	}
	return s
}

func (c *Codec) Decode(t EntityType, s string) (int64, error) {
	h, err := c.coder(t)
	if err != nil {
		return 0, err
	}
	ids, err := h.DecodeInt64WithError(s)
	if err != nil || len(ids) != 1 {
		return 0, errors.NotFound("unknown %s id %q", t, s)
	}
	// Hashids decodes some foreign strings into numbers; only accept the
	// canonical encoding.
	if back, err := h.EncodeInt64(ids); err != nil || back != s {
		return 0, errors.NotFound("unknown %s id %q", t, s)
	}
	return ids[0], nil
}
