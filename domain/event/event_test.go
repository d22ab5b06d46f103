package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvent_MarshalJSON_FlattensPayload(t *testing.T) {
	req := require.New(t)
	date := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	// Given an error event
	evt := New(ErrorType, date, Error{Errors: []string{"race is not in preparation"}})

	// When
	raw, err := json.Marshal(evt)
	req.NoError(err)

	// Then the payload fields sit next to type and date
	req.JSONEq(`{"type":"error","date":"2026-03-01T20:00:00Z","errors":["race is not in preparation"]}`, string(raw))
}

func TestEvent_MarshalJSON_EmptyPayload(t *testing.T) {
	req := require.New(t)
	date := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	raw, err := json.Marshal(New(PongType, date, Pong{}))
	req.NoError(err)
	req.JSONEq(`{"type":"pong","date":"2026-03-01T20:00:00Z"}`, string(raw))
}

func TestDuration_JSON(t *testing.T) {
	req := require.New(t)

	raw, err := json.Marshal(RaceRenders{Version: 3})
	req.NoError(err)
	req.JSONEq(`{"version":3,"renders":null}`, string(raw))

	d := Duration(90 * time.Minute)
	raw, err = json.Marshal(d)
	req.NoError(err)
	req.Equal(`"PT1H30M"`, string(raw))

	var back Duration
	req.NoError(json.Unmarshal(raw, &back))
	req.Equal(d, back)
}
