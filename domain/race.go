// Package domain contains the race room model and the pure rules derived
// from it. No storage, network or clock access happens here: callers pass
// the current time in.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type RaceState string

const (
	StateOpen         RaceState = "open"
	StateInvitational RaceState = "invitational"
	StatePending      RaceState = "pending"
	StateInProgress   RaceState = "in_progress"
	StateFinished     RaceState = "finished"
	StateCancelled    RaceState = "cancelled"
	StatePartitioned  RaceState = "partitioned"
)

// IsPreparation is true while entrants may still join, ready up or leave.
func (s RaceState) IsPreparation() bool {
	return s == StateOpen || s == StateInvitational
}

func (s RaceState) IsRunning() bool {
	return s == StatePending || s == StateInProgress
}

func (s RaceState) IsDone() bool {
	return s == StateFinished || s == StateCancelled || s == StatePartitioned
}

func (s RaceState) Verbose() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateInvitational:
		return "Invitational"
	case StatePending:
		return "Starting"
	case StateInProgress:
		return "In progress"
	case StateFinished:
		return "Finished"
	case StateCancelled:
		return "Cancelled"
	case StatePartitioned:
		return "Partitioned"
	}
	return string(s)
}

func (s RaceState) HelpText() string {
	switch s {
	case StateOpen:
		return "Anyone may join this race"
	case StateInvitational:
		return "Only invited users may join this race"
	case StatePending:
		return "Waiting for the race to begin"
	case StateInProgress:
		return "Race is in progress"
	case StateFinished:
		return "This race has been completed"
	case StateCancelled:
		return "This race has been cancelled"
	case StatePartitioned:
		return "This race was split into 1v1 races"
	}
	return ""
}

// RaceKey globally addresses a room.
type RaceKey struct {
	Category string
	Slug     string
}

func (k RaceKey) String() string { return k.Category + "/" + k.Slug }

const (
	MinStartDelay       = 10 * time.Second
	MaxStartDelay       = 60 * time.Second
	MinTimeLimit        = time.Hour
	MaxTimeLimit        = 72 * time.Hour
	MaxChatMessageDelay = 90 * time.Second
	MaxMonitors         = 5
	MaxBotMetaBytes     = 2048
	MaxInfoLength       = 1000
	MaxCommentLength    = 200
	MaxMessageLength    = 1000
	MinFinishTime       = 5 * time.Second
	RematchWindow       = time.Hour
	ChatCloseAfter      = time.Hour
)

// GoalRef points at a catalog goal. A race has either a GoalRef or a
// CustomGoal, never both.
type GoalRef struct {
	ID   int64
	Name string
}

type Race struct {
	ID         int64
	Category   string
	Slug       string
	State      RaceState
	Version    uint64
	Goal       *GoalRef
	CustomGoal string
	InfoUser   string
	InfoBot    string

	OpenedBy    *int64
	OpenedAt    time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	CancelledAt *time.Time
	RecordedBy  *int64

	StartDelay            time.Duration
	TimeLimit             time.Duration
	TimeLimitAutoComplete bool
	ChatMessageDelay      time.Duration

	Ranked              bool
	Recordable          bool
	Recorded            bool
	Unlisted            bool
	Hold                bool
	Partitionable       bool
	StreamingRequired   bool
	AutoStart           bool
	DisqualifyUnready   bool
	HideEntrants        bool
	AllowPreraceChat    bool
	AllowMidraceChat    bool
	AllowNonEntrantChat bool
	AllowComments       bool
	HideComments        bool
	TeamRace            bool
	RequireEvenTeams    bool

	Monitors []int64
	// BotPID is the supervisor instance owning the room, nil when unowned.
	BotPID  *int
	BotMeta json.RawMessage
	Rematch *RaceKey
	Parent  *RaceKey

	Entrants []Entrant
}

func (r *Race) Key() RaceKey { return RaceKey{Category: r.Category, Slug: r.Slug} }

func (r *Race) GoalName() string {
	if r.Goal != nil {
		return r.Goal.Name
	}
	return r.CustomGoal
}

func (r *Race) IsCustomGoal() bool { return r.Goal == nil }

func (r *Race) IsMonitor(userID int64) bool {
	for _, id := range r.Monitors {
		if id == userID {
			return true
		}
	}
	return false
}

// CompletedAt is when the race reached a terminal state.
func (r *Race) CompletedAt() *time.Time {
	if r.EndedAt != nil {
		return r.EndedAt
	}
	return r.CancelledAt
}

// TimeLimitAt is the instant the time limit expires, nil before start.
func (r *Race) TimeLimitAt() *time.Time {
	if r.StartedAt == nil {
		return nil
	}
	t := r.StartedAt.Add(r.TimeLimit)
	return &t
}

// Entrant returns the entrant of userID or nil.
func (r *Race) Entrant(userID int64) *Entrant {
	for i := range r.Entrants {
		if r.Entrants[i].UserID == userID {
			return &r.Entrants[i]
		}
	}
	return nil
}

func (r *Race) EntrantByID(id int64) *Entrant {
	for i := range r.Entrants {
		if r.Entrants[i].ID == id {
			return &r.Entrants[i]
		}
	}
	return nil
}

func (r *Race) RemoveEntrant(userID int64) {
	kept := r.Entrants[:0]
	for _, e := range r.Entrants {
		if e.UserID != userID {
			kept = append(kept, e)
		}
	}
	r.Entrants = kept
}

// Validate checks the structural invariants that must hold after every
// committed transition.
func (r *Race) Validate() error {
	if r.StartedAt != nil && r.StartedAt.Before(r.OpenedAt) {
		return fmt.Errorf("race %s started before it opened", r.Key())
	}
	if r.EndedAt != nil && r.StartedAt != nil && r.EndedAt.Before(*r.StartedAt) {
		return fmt.Errorf("race %s ended before it started", r.Key())
	}
	if r.Recorded && r.State != StateFinished {
		return fmt.Errorf("race %s is recorded but %s", r.Key(), r.State)
	}
	if r.CustomGoal != "" && (r.Ranked || r.Recordable) {
		return fmt.Errorf("race %s has a custom goal but is ranked or recordable", r.Key())
	}
	if len(r.Monitors) > MaxMonitors {
		return fmt.Errorf("race %s has %d monitors", r.Key(), len(r.Monitors))
	}
	for _, e := range r.Entrants {
		if e.Place != nil && (e.DNF || e.DQ || e.FinishTime == nil) {
			return fmt.Errorf("entrant %d of %s has a place without a valid finish", e.UserID, r.Key())
		}
	}
	return nil
}
