package room

import (
	"context"
	"encoding/json"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/errors"
)

// Role is the authority a verb requires from its caller.
type Role int

const (
	// RoleUser is any authenticated user.
	RoleUser Role = iota
	// RoleMonitor is a race monitor, the opener, a category moderator or staff.
	RoleMonitor
	// RoleModerator is a category owner or moderator, or staff.
	RoleModerator
)

// Args carries the decoded payload of an action.
type Args struct {
	User     int64
	Message  int64
	Team     int64
	Text     string
	Pinned   bool
	DirectTo int64
	InfoUser *string
	InfoBot  *string
	Meta     map[string]json.RawMessage
	Split    Split
}

type Split struct {
	Name     string
	Time     string
	IsUndo   bool
	IsFinish bool
}

// Verb binds an action name to the scopes allowed to send it, the role it
// requires and the transition it runs.
type Verb struct {
	Name  string
	User  bool
	Bot   bool
	Role  Role
	apply func(c *call) error
}

const (
	VerbJoin             = "join"
	VerbRequestInvite    = "request_invite"
	VerbCancelInvite     = "cancel_invite"
	VerbAcceptInvite     = "accept_invite"
	VerbDeclineInvite    = "decline_invite"
	VerbLeave            = "leave"
	VerbReady            = "ready"
	VerbUnready          = "unready"
	VerbSetTeam          = "set_team"
	VerbDone             = "done"
	VerbUndone           = "undone"
	VerbForfeit          = "forfeit"
	VerbUnforfeit        = "unforfeit"
	VerbAddComment       = "add_comment"
	VerbMessage          = "message"
	VerbSplit            = "split"
	VerbMakeOpen         = "make_open"
	VerbMakeInvitational = "make_invitational"
	VerbBegin            = "begin"
	VerbCancel           = "cancel_race"
	VerbInvite           = "invite"
	VerbAcceptRequest    = "accept_request"
	VerbForceUnready     = "force_unready"
	VerbRemoveEntrant    = "remove_entrant"
	VerbAddMonitor       = "add_monitor"
	VerbRemoveMonitor    = "remove_monitor"
	VerbOverrideStream   = "override_stream"
	VerbRecord           = "record"
	VerbUnrecord         = "unrecord"
	VerbHold             = "hold"
	VerbUnhold           = "unhold"
	VerbRematch          = "rematch"
	VerbPartition        = "partition"
	VerbDeleteMessage    = "delete_message"
	VerbPurgeUser        = "purge_user"
	VerbPinMessage       = "pin_message"
	VerbUnpinMessage     = "unpin_message"
	VerbSetInfo          = "setinfo"
	VerbSetMeta          = "setmeta"
)

// Verbs is the single table of every action a caller may submit to a room.
var Verbs = map[string]Verb{}

func register(verbs ...Verb) {
	for _, v := range verbs {
		Verbs[v.Name] = v
	}
}

func init() {
	register(
		Verb{Name: VerbJoin, User: true, Role: RoleUser, apply: (*call).join},
		Verb{Name: VerbRequestInvite, User: true, Role: RoleUser, apply: (*call).requestToJoin},
		Verb{Name: VerbCancelInvite, User: true, Role: RoleUser, apply: (*call).cancelRequest},
		Verb{Name: VerbAcceptInvite, User: true, Role: RoleUser, apply: (*call).acceptInvite},
		Verb{Name: VerbDeclineInvite, User: true, Role: RoleUser, apply: (*call).declineInvite},
		Verb{Name: VerbLeave, User: true, Role: RoleUser, apply: (*call).leave},
		Verb{Name: VerbReady, User: true, Role: RoleUser, apply: (*call).ready},
		Verb{Name: VerbUnready, User: true, Role: RoleUser, apply: (*call).notReady},
		Verb{Name: VerbSetTeam, User: true, Role: RoleUser, apply: (*call).setTeam},
		Verb{Name: VerbDone, User: true, Role: RoleUser, apply: (*call).done},
		Verb{Name: VerbUndone, User: true, Role: RoleUser, apply: (*call).undone},
		Verb{Name: VerbForfeit, User: true, Role: RoleUser, apply: (*call).forfeit},
		Verb{Name: VerbUnforfeit, User: true, Role: RoleUser, apply: (*call).unforfeit},
		Verb{Name: VerbAddComment, User: true, Role: RoleUser, apply: (*call).addComment},
		Verb{Name: VerbMessage, User: true, Bot: true, Role: RoleUser, apply: (*call).postMessage},
		Verb{Name: VerbSplit, User: true, Role: RoleUser, apply: (*call).split},

		Verb{Name: VerbMakeOpen, User: true, Role: RoleMonitor, apply: (*call).makeOpen},
		Verb{Name: VerbMakeInvitational, User: true, Role: RoleMonitor, apply: (*call).makeInvitational},
		Verb{Name: VerbBegin, User: true, Role: RoleMonitor, apply: (*call).begin},
		Verb{Name: VerbCancel, User: true, Role: RoleMonitor, apply: (*call).cancelByActor},
		Verb{Name: VerbInvite, User: true, Bot: true, Role: RoleMonitor, apply: (*call).invite},
		Verb{Name: VerbAcceptRequest, User: true, Bot: true, Role: RoleMonitor, apply: (*call).acceptRequest},
		Verb{Name: VerbForceUnready, User: true, Bot: true, Role: RoleMonitor, apply: (*call).forceUnready},
		Verb{Name: VerbRemoveEntrant, User: true, Bot: true, Role: RoleMonitor, apply: (*call).remove},
		Verb{Name: VerbAddMonitor, User: true, Bot: true, Role: RoleMonitor, apply: (*call).addMonitor},
		Verb{Name: VerbRemoveMonitor, User: true, Bot: true, Role: RoleMonitor, apply: (*call).removeMonitor},
		Verb{Name: VerbOverrideStream, User: true, Bot: true, Role: RoleMonitor, apply: (*call).overrideStream},
		Verb{Name: VerbHold, User: true, Role: RoleMonitor, apply: (*call).hold},
		Verb{Name: VerbUnhold, User: true, Role: RoleMonitor, apply: (*call).unhold},
		Verb{Name: VerbRematch, User: true, Role: RoleMonitor, apply: (*call).rematch},
		Verb{Name: VerbPartition, User: true, Role: RoleMonitor, apply: (*call).partition},
		Verb{Name: VerbDeleteMessage, User: true, Role: RoleMonitor, apply: (*call).deleteMessage},
		Verb{Name: VerbPurgeUser, User: true, Role: RoleMonitor, apply: (*call).purgeUser},
		Verb{Name: VerbPinMessage, User: true, Bot: true, Role: RoleMonitor, apply: (*call).pinMessage},
		Verb{Name: VerbUnpinMessage, User: true, Bot: true, Role: RoleMonitor, apply: (*call).unpinMessage},
		Verb{Name: VerbSetInfo, User: true, Bot: true, Role: RoleMonitor, apply: (*call).setInfo},
		Verb{Name: VerbSetMeta, Bot: true, Role: RoleMonitor, apply: (*call).setMeta},

		Verb{Name: VerbRecord, User: true, Role: RoleModerator, apply: (*call).record},
		Verb{Name: VerbUnrecord, User: true, Role: RoleModerator, apply: (*call).unrecord},
	)
}

// Act runs verb on behalf of actor against the room at key. The caller's
// authority is checked in the same transaction as the transition.
func (s *Service) Act(ctx context.Context, key domain.RaceKey, actor domain.Actor, verb string, args Args) error {
	v, ok := Verbs[verb]
	if !ok {
		return errors.Validation("unknown action %q", verb)
	}
	return s.mutate(ctx, key, actor, args, func(c *call) error {
		if err := c.authorize(v); err != nil {
			return err
		}
		return v.apply(c)
	})
}

func (c *call) authorize(v Verb) error {
	switch {
	case c.actor.IsAnonymous():
		return errors.Authorization("you must be logged in to do that")
	case c.actor.IsBot():
		if !v.Bot {
			return errors.Authorization("bots cannot use the %s action", v.Name)
		}
		return c.authorizeBot()
	case !v.User:
		return errors.Authorization("only bots can use the %s action", v.Name)
	}

	switch v.Role {
	case RoleMonitor:
		if !c.canMonitor(*c.actor.UserID) {
			return errors.Authorization("only race monitors can do that")
		}
	case RoleModerator:
		if !c.category.CanModerate(*c.actor.UserID, c.actor.IsStaff) {
			return errors.Authorization("only category moderators can do that")
		}
	}
	return nil
}

func (c *call) authorizeBot() error {
	bot, err := c.tx.Bot(*c.actor.BotID)
	if err != nil {
		return err
	}
	if !bot.Active || bot.Category != c.race.Category {
		return errors.Authorization("bot %s cannot act in %s", bot.Name, c.race.Category)
	}
	return nil
}

// canMonitor holds for staff, category moderators, the race opener and
// appointed monitors.
func (c *call) canMonitor(userID int64) bool {
	staff := c.actor.UserID != nil && *c.actor.UserID == userID && c.actor.IsStaff
	if c.category.CanModerate(userID, staff) || c.race.IsMonitor(userID) {
		return true
	}
	if c.race.OpenedBy != nil && *c.race.OpenedBy == userID {
		return true
	}
	u, err := c.user(userID)
	return err == nil && u.IsStaff
}

// actorIsMonitor is true for monitors and for category bots.
func (c *call) actorIsMonitor() bool {
	if c.actor.IsBot() {
		return true
	}
	return c.actor.UserID != nil && c.canMonitor(*c.actor.UserID)
}

// self returns the user id of the caller.
func (c *call) self() int64 { return *c.actor.UserID }

// entrant returns the caller's entrant, or a BadState error.
func (c *call) entrant() (*domain.Entrant, error) {
	e := c.race.Entrant(c.self())
	if e == nil {
		return nil, errors.BadState("you are not an entrant of this race")
	}
	return e, nil
}

// target returns the entrant designated by Args.User.
func (c *call) target() (*domain.Entrant, error) {
	e := c.race.Entrant(c.args.User)
	if e == nil {
		return nil, errors.NotFound("that user is not an entrant of this race")
	}
	return e, nil
}

// Actions lists the entrant verbs actor may submit now.
func (s *Service) Actions(ctx context.Context, key domain.RaceKey, actor domain.Actor) ([]string, error) {
	if actor.UserID == nil {
		return nil, nil
	}
	var actions []string
	err := s.store.View(ctx, func(tx contract.Tx) error {
		race, err := tx.LoadRoom(key)
		if err != nil {
			return err
		}
		c, err := s.newCall(tx, race, actor, Args{}, &plan{})
		if err != nil {
			return err
		}
		eligible := c.checkEligible(*actor.UserID) == nil
		actions = race.AvailableActions(domain.ActionContext{
			UserID:     *actor.UserID,
			CanMonitor: c.canMonitor(*actor.UserID),
			Eligible:   eligible,
			Now:        c.now,
		})
		return nil
	})
	return actions, err
}

// EntrantUser returns the user behind an entrant of the race at key. Hidden
// races only expose entrant ids, so callers resolve targets through it.
func (s *Service) EntrantUser(ctx context.Context, key domain.RaceKey, entrantID int64) (int64, error) {
	var userID int64
	err := s.store.View(ctx, func(tx contract.Tx) error {
		race, err := tx.LoadRoom(key)
		if err != nil {
			return err
		}
		e := race.EntrantByID(entrantID)
		if e == nil {
			return errors.NotFound("that user is not an entrant of this race")
		}
		userID = e.UserID
		return nil
	})
	return userID, err
}

// CanMonitor reports whether actor sees the room as a monitor does: chat
// without delay and hidden comments.
func (s *Service) CanMonitor(ctx context.Context, key domain.RaceKey, actor domain.Actor) (bool, error) {
	if actor.IsAnonymous() {
		return false, nil
	}
	var monitor bool
	err := s.store.View(ctx, func(tx contract.Tx) error {
		race, err := tx.LoadRoom(key)
		if err != nil {
			return err
		}
		c, err := s.newCall(tx, race, actor, Args{}, &plan{})
		if err != nil {
			return err
		}
		monitor = c.actorIsMonitor()
		return nil
	})
	return monitor, err
}
