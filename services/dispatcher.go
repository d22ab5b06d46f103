// Package services turns raw client actions into room operations.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"race-lab/clock"
	"race-lab/domain"
	"race-lab/domain/event"
	"race-lab/errors"
	"race-lab/idcodec"
	"race-lab/room"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ActionPing       = "ping"
	ActionGetHistory = "gethistory"

	RateLimitMessages = 10
	RateLimitWindow   = 5 * time.Second
)

var validate = validator.New()

// Request is the envelope of every inbound action.
type Request struct {
	Action string          `json:"action" validate:"required,max=64"`
	Data   json.RawMessage `json:"data"`
}

type messagePayload struct {
	GUID     string `json:"guid" validate:"omitempty,uuid"`
	Message  string `json:"message" validate:"required,max=1000"`
	Pinned   bool   `json:"pinned"`
	DirectTo string `json:"direct_to"`
}

type userPayload struct {
	User string `json:"user" validate:"required"`
}

type messageRefPayload struct {
	Message string `json:"message" validate:"required"`
}

type teamPayload struct {
	Team string `json:"team" validate:"required"`
}

type commentPayload struct {
	Comment string `json:"comment" validate:"required,max=200"`
}

type infoPayload struct {
	InfoUser *string `json:"info_user" validate:"omitempty,max=1000"`
	InfoBot  *string `json:"info_bot" validate:"omitempty,max=1000"`
}

type splitPayload struct {
	SplitName string `json:"split_name" validate:"required,max=200"`
	SplitTime string `json:"split_time" validate:"max=32"`
	IsUndo    bool   `json:"is_undo"`
	IsFinish  bool   `json:"is_finish"`
}

type historyPayload struct {
	LastMessage string `json:"last_message"`
}

// Dispatcher decodes {action, data} envelopes, enforces the chat rate
// limit and runs the matching room verb.
type Dispatcher struct {
	log   *slog.Logger
	rooms *room.Service
	codec *idcodec.Codec
	clock clock.Clock

	mu    sync.Mutex
	sent  map[string][]time.Time
	swept time.Time
}

func NewDispatcher(log *slog.Logger, rooms *room.Service, codec *idcodec.Codec, clk clock.Clock) *Dispatcher {
	return &Dispatcher{log: log, rooms: rooms, codec: codec, clock: clk, sent: make(map[string][]time.Time)}
}

// Dispatch runs one raw action for actor in the room at key. It returns
// the event to send back to the caller alone, if any. A duplicate chat
// message is dropped without error.
func (d *Dispatcher) Dispatch(ctx context.Context, key domain.RaceKey, actor domain.Actor, raw []byte) (*event.Event, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, errors.Validation("malformed action: %v", err)
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	switch req.Action {
	case ActionPing:
		evt := event.New(event.PongType, d.clock.Now(), event.Pong{})
		return &evt, nil
	case ActionGetHistory:
		return d.history(ctx, key, actor, req.Data)
	}

	verb, ok := room.Verbs[req.Action]
	if !ok {
		return nil, errors.Validation("unknown action %q", req.Action)
	}
	args, guid, err := d.args(ctx, key, verb.Name, req.Data)
	if err != nil {
		return nil, err
	}

	limited := verb.Name == room.VerbMessage && actor.UserID != nil && !actor.IsStaff
	var sentAt time.Time
	if limited {
		var ok bool
		if sentAt, ok = d.reserve(key, *actor.UserID); !ok {
			return nil, errors.ErrRateLimited
		}
	}
	if guid != "" {
		ctx = room.WithGUID(ctx, guid)
	}

	err = d.rooms.Act(ctx, key, actor, verb.Name, args)
	if err != nil && limited {
		d.refund(key, *actor.UserID, sentAt)
	}
	if errors.Is(err, errors.ErrDuplicateAction) {
		d.log.Debug("Duplicate action dropped", "race", key.String(), "guid", guid)
		return nil, nil
	}
	return nil, err
}

// ErrorEvent renders err for the caller. Errors that are not meant for
// clients are reported as false.
func ErrorEvent(err error, now time.Time) (event.Event, bool) {
	if !errors.IsClientVisible(err) {
		return event.Event{}, false
	}
	return event.New(event.ErrorType, now, event.Error{Errors: []string{errors.Message(err)}}), true
}

func (d *Dispatcher) args(ctx context.Context, key domain.RaceKey, verb string, data json.RawMessage) (room.Args, string, error) {
	var args room.Args
	switch verb {
	case room.VerbMessage:
		var p messagePayload
		if err := decode(data, &p); err != nil {
			return args, "", err
		}
		args.Text, args.Pinned = p.Message, p.Pinned
		if p.DirectTo != "" {
			id, err := d.codec.Decode(idcodec.User, p.DirectTo)
			if err != nil {
				return args, "", err
			}
			args.DirectTo = id
		}
		return args, p.GUID, nil

	case room.VerbInvite, room.VerbAcceptRequest, room.VerbForceUnready, room.VerbRemoveEntrant,
		room.VerbAddMonitor, room.VerbRemoveMonitor, room.VerbOverrideStream, room.VerbPurgeUser:
		var p userPayload
		if err := decode(data, &p); err != nil {
			return args, "", err
		}
		id, err := d.user(ctx, key, p.User)
		if err != nil {
			return args, "", err
		}
		args.User = id

	case room.VerbDeleteMessage, room.VerbPinMessage, room.VerbUnpinMessage:
		var p messageRefPayload
		if err := decode(data, &p); err != nil {
			return args, "", err
		}
		id, err := d.codec.Decode(idcodec.Message, p.Message)
		if err != nil {
			return args, "", err
		}
		args.Message = id

	case room.VerbSetTeam:
		var p teamPayload
		if err := decode(data, &p); err != nil {
			return args, "", err
		}
		id, err := d.codec.Decode(idcodec.Team, p.Team)
		if err != nil {
			return args, "", err
		}
		args.Team = id

	case room.VerbAddComment:
		var p commentPayload
		if err := decode(data, &p); err != nil {
			return args, "", err
		}
		args.Text = p.Comment

	case room.VerbSetInfo:
		var p infoPayload
		if err := decode(data, &p); err != nil {
			return args, "", err
		}
		args.InfoUser, args.InfoBot = p.InfoUser, p.InfoBot

	case room.VerbSetMeta:
		if err := json.Unmarshal(data, &args.Meta); err != nil {
			return args, "", errors.Validation("setmeta expects an object")
		}

	case room.VerbSplit:
		var p splitPayload
		if err := decode(data, &p); err != nil {
			return args, "", err
		}
		args.Split = room.Split{Name: p.SplitName, Time: p.SplitTime, IsUndo: p.IsUndo, IsFinish: p.IsFinish}
	}
	return args, "", nil
}

// user decodes a user reference. Hidden races only hand out entrant ids,
// which are resolved through the race.
func (d *Dispatcher) user(ctx context.Context, key domain.RaceKey, ref string) (int64, error) {
	if id, err := d.codec.Decode(idcodec.User, ref); err == nil {
		return id, nil
	}
	entrantID, err := d.codec.Decode(idcodec.Entrant, ref)
	if err != nil {
		return 0, errors.NotFound("unknown user %q", ref)
	}
	return d.rooms.EntrantUser(ctx, key, entrantID)
}

func (d *Dispatcher) history(ctx context.Context, key domain.RaceKey, actor domain.Actor, data json.RawMessage) (*event.Event, error) {
	var p historyPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Validation("malformed gethistory payload")
		}
	}
	var after *int64
	if p.LastMessage != "" {
		id, err := d.codec.Decode(idcodec.Message, p.LastMessage)
		if err != nil {
			return nil, err
		}
		after = &id
	}
	messages, err := d.rooms.History(ctx, key, actor, after)
	if err != nil {
		return nil, err
	}
	evt := event.New(event.ChatHistoryType, d.clock.Now(), event.ChatHistory{Messages: messages})
	return &evt, nil
}

// reserve records a message of user in the room unless the last
// RateLimitWindow already holds RateLimitMessages of them. Windows that
// emptied are swept at most once per RateLimitWindow.
func (d *Dispatcher) reserve(key domain.RaceKey, userID int64) (time.Time, bool) {
	now := d.clock.Now()
	k := rateKey(key, userID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if now.Sub(d.swept) >= RateLimitWindow {
		for other, times := range d.sent {
			if len(times) == 0 || now.Sub(times[len(times)-1]) >= RateLimitWindow {
				delete(d.sent, other)
			}
		}
		d.swept = now
	}

	recent := d.sent[k][:0]
	for _, at := range d.sent[k] {
		if now.Sub(at) < RateLimitWindow {
			recent = append(recent, at)
		}
	}
	if len(recent) >= RateLimitMessages {
		d.sent[k] = recent
		return time.Time{}, false
	}
	d.sent[k] = append(recent, now)
	return now, true
}

// refund forgets a reserved message the room did not accept.
func (d *Dispatcher) refund(key domain.RaceKey, userID int64, at time.Time) {
	k := rateKey(key, userID)

	d.mu.Lock()
	defer d.mu.Unlock()
	times := d.sent[k]
	for i := len(times) - 1; i >= 0; i-- {
		if times[i].Equal(at) {
			times = append(times[:i], times[i+1:]...)
			break
		}
	}
	if len(times) == 0 {
		delete(d.sent, k)
		return
	}
	d.sent[k] = times
}

func rateKey(key domain.RaceKey, userID int64) string {
	return fmt.Sprintf("%s|%d", key.String(), userID)
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return validateStruct(v)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Validation("malformed payload: %v", err)
	}
	return validateStruct(v)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.Validation("%s failed the %s rule", fe.Field(), fe.Tag())
	}
	return errors.Validation("%v", err)
}
