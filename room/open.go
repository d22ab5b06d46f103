package room

import (
	"context"
	"fmt"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// maxSlugRedraws bounds the draws after the first one when a slug is taken.
const maxSlugRedraws = 99

var validate = validator.New()

// Params are the settings of a new room.
type Params struct {
	Goal                  string `validate:"required_without=CustomGoal,excluded_with=CustomGoal"`
	CustomGoal            string `validate:"max=200"`
	InfoUser              string `validate:"max=1000"`
	Invitational          bool
	StartDelay            time.Duration `validate:"min=10s,max=60s"`
	TimeLimit             time.Duration `validate:"min=1h,max=72h"`
	TimeLimitAutoComplete bool
	ChatMessageDelay      time.Duration `validate:"min=0s,max=90s"`
	Ranked                bool
	Unlisted              bool
	Partitionable         bool
	StreamingRequired     bool
	AutoStart             bool
	DisqualifyUnready     bool
	HideEntrants          bool
	AllowPreraceChat      bool
	AllowMidraceChat      bool
	AllowNonEntrantChat   bool
	AllowComments         bool
	HideComments          bool
	TeamRace              bool
	RequireEvenTeams      bool
}

// DefaultParams are the settings a room opens with unless told otherwise.
func DefaultParams(goal string) Params {
	return Params{
		Goal:                goal,
		StartDelay:          15 * time.Second,
		TimeLimit:           24 * time.Hour,
		Ranked:              true,
		AutoStart:           true,
		AllowPreraceChat:    true,
		AllowMidraceChat:    true,
		AllowNonEntrantChat: true,
		AllowComments:       true,
	}
}

// validateStruct reports the first failing field as a validation error.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		return errors.Validation("%s is invalid (%s)", fields[0].Field(), fields[0].Tag())
	}
	return errors.Validation("%v", err)
}

// paramsOf returns the settings race was opened with.
func paramsOf(race *domain.Race) Params {
	return Params{
		Goal:                  goalName(race.Goal),
		CustomGoal:            race.CustomGoal,
		InfoUser:              race.InfoUser,
		Invitational:          race.State == domain.StateInvitational,
		StartDelay:            race.StartDelay,
		TimeLimit:             race.TimeLimit,
		TimeLimitAutoComplete: race.TimeLimitAutoComplete,
		ChatMessageDelay:      race.ChatMessageDelay,
		Ranked:                race.Ranked,
		Unlisted:              race.Unlisted,
		Partitionable:         race.Partitionable,
		StreamingRequired:     race.StreamingRequired,
		AutoStart:             race.AutoStart,
		DisqualifyUnready:     race.DisqualifyUnready,
		HideEntrants:          race.HideEntrants,
		AllowPreraceChat:      race.AllowPreraceChat,
		AllowMidraceChat:      race.AllowMidraceChat,
		AllowNonEntrantChat:   race.AllowNonEntrantChat,
		AllowComments:         race.AllowComments,
		HideComments:          race.HideComments,
		TeamRace:              race.TeamRace,
		RequireEvenTeams:      race.RequireEvenTeams,
	}
}

func goalName(goal *domain.GoalRef) string {
	if goal == nil {
		return ""
	}
	return goal.Name
}

// newRace builds an unsaved room of category from params. The goal must
// already be resolved.
func newRace(category string, goal *domain.GoalRef, params Params, openedBy *int64, now time.Time) *domain.Race {
	state := domain.StateOpen
	if params.Invitational {
		state = domain.StateInvitational
	}
	race := &domain.Race{
		Category:              category,
		State:                 state,
		Goal:                  goal,
		InfoUser:              params.InfoUser,
		OpenedBy:              openedBy,
		OpenedAt:              now,
		StartDelay:            params.StartDelay,
		TimeLimit:             params.TimeLimit,
		TimeLimitAutoComplete: params.TimeLimitAutoComplete,
		ChatMessageDelay:      params.ChatMessageDelay,
		Ranked:                params.Ranked && goal != nil,
		Recordable:            goal != nil,
		Unlisted:              params.Unlisted,
		Partitionable:         params.Partitionable,
		StreamingRequired:     params.StreamingRequired,
		AutoStart:             params.AutoStart,
		DisqualifyUnready:     params.DisqualifyUnready,
		HideEntrants:          params.HideEntrants,
		AllowPreraceChat:      params.AllowPreraceChat,
		AllowMidraceChat:      params.AllowMidraceChat,
		AllowNonEntrantChat:   params.AllowNonEntrantChat,
		AllowComments:         params.AllowComments,
		HideComments:          params.HideComments,
		TeamRace:              params.TeamRace,
		RequireEvenTeams:      params.RequireEvenTeams && params.TeamRace,
	}
	if goal == nil {
		race.CustomGoal = params.CustomGoal
	}
	return race
}

// Open creates a room in category. A user who cannot moderate the
// category may hold a single room that is not done.
func (s *Service) Open(ctx context.Context, actor domain.Actor, category string, params Params) (*domain.Race, error) {
	if err := validateStruct(params); err != nil {
		return nil, err
	}
	if actor.IsAnonymous() {
		return nil, errors.Authorization("you must be logged in to open a race")
	}

	var race *domain.Race
	p := &plan{}
	err := s.store.WithTx(ctx, func(tx contract.Tx) error {
		p.reset()
		cat, err := tx.Category(category)
		if err != nil {
			return err
		}
		if !cat.Active {
			return errors.BadState("category %s is not accepting new races", cat.Name)
		}
		now := s.clock.Now()

		var openedBy *int64
		opener := "Race"
		switch {
		case actor.IsBot():
			bot, err := tx.Bot(*actor.BotID)
			if err != nil {
				return err
			}
			if !bot.Active || bot.Category != category {
				return errors.Authorization("bot %s cannot open races in %s", bot.Name, category)
			}
			opener = bot.Name
		default:
			u, err := tx.User(*actor.UserID)
			if err != nil {
				return err
			}
			if err := s.checkBans(tx, u.ID, category, now); err != nil {
				return err
			}
			if !cat.CanModerate(u.ID, actor.IsStaff || u.IsStaff) {
				open, err := tx.OpenRoomsBy(u.ID)
				if err != nil {
					return err
				}
				if len(open) > 0 {
					return errors.BadState("you already have an open race: %s", open[0])
				}
			}
			openedBy = &u.ID
			opener = u.DisplayName()
		}

		goal, err := s.resolveGoal(tx, category, params)
		if err != nil {
			return err
		}
		race = newRace(category, goal, params, openedBy, now)
		if err := s.createRoom(tx, cat, race); err != nil {
			return err
		}

		c, err := s.newCall(tx, race, actor, Args{}, p)
		if err != nil {
			return err
		}
		c.now = now
		if err := c.system("%s opened the race %s.", opener, race.Key()); err != nil {
			return err
		}
		c.created = append(c.created, race)
		return c.commit()
	})
	if err != nil {
		return nil, err
	}
	s.publish(p)
	s.log.Info("Race opened", "race", race.Key().String(), "goal", race.GoalName())
	return race, nil
}

func (s *Service) checkBans(tx contract.Tx, userID int64, category string, now time.Time) error {
	bans, err := tx.Bans(userID)
	if err != nil {
		return err
	}
	for _, b := range bans {
		if b.Active(now) && b.Applies(category) {
			return errors.Authorization("you are banned from this category")
		}
	}
	return nil
}

func (s *Service) resolveGoal(tx contract.Tx, category string, params Params) (*domain.GoalRef, error) {
	if params.Goal == "" {
		return nil, nil
	}
	goal, err := tx.GoalByName(category, params.Goal)
	if err != nil {
		return nil, err
	}
	if !goal.Active {
		return nil, errors.Validation("goal %s is no longer available", goal.Name)
	}
	return &domain.GoalRef{ID: goal.ID, Name: goal.Name}, nil
}

// createRoom allocates a free slug and stores race.
func (s *Service) createRoom(tx contract.Tx, category domain.Category, race *domain.Race) error {
	words := s.slugWords
	if category.SlugWords != nil {
		words = *category.SlugWords
	}
	for draw := 0; draw <= maxSlugRedraws; draw++ {
		slug := s.slug(words)
		taken, err := tx.SlugTaken(race.Category, slug)
		if err != nil {
			return err
		}
		if taken {
			continue
		}
		race.Slug = slug
		return tx.CreateRoom(race)
	}
	return errors.ErrSlugExhausted
}

// slug draws an <adjective>-<noun>-<4 digits> room name.
func (s *Service) slug(words domain.SlugWords) string {
	adjective := words.Adjectives[s.intN(len(words.Adjectives))]
	noun := words.Nouns[s.intN(len(words.Nouns))]
	return fmt.Sprintf("%s-%s-%04d", adjective, noun, s.intN(10000))
}

// rematch opens a new room with the parameters of the finished one,
// invites its entrants and joins the initiator.
func (c *call) rematch() error {
	if !c.race.CanRematch(c.now) {
		return errors.BadState("a rematch can no longer be created for this race")
	}
	next := newRace(c.race.Category, c.race.Goal, paramsOf(c.race), c.actor.UserID, c.now)
	next.State = domain.StateOpen
	if c.race.Goal == nil {
		next.CustomGoal = c.race.CustomGoal
	}
	next.InfoBot = c.race.InfoBot
	if err := c.s.createRoom(c.tx, c.category, next); err != nil {
		return err
	}

	initiator := c.self()
	for _, e := range c.race.Entrants {
		if e.State != domain.EntrantJoined || e.UserID == initiator {
			continue
		}
		if err := c.seed(next, e.UserID, domain.EntrantInvited); err != nil {
			return err
		}
	}
	if other, err := c.tx.ActiveEntry(initiator, next.ID); err != nil {
		return err
	} else if other == nil {
		if err := c.seed(next, initiator, domain.EntrantJoined); err != nil {
			return err
		}
	}
	if _, err := c.tx.SaveRoom(next, next.Version); err != nil {
		return err
	}

	key := next.Key()
	c.race.Rematch = &key
	c.touch()
	c.created = append(c.created, next)
	return c.highlight("%s created a rematch: %s", c.actorName(), key)
}

// seed adds an entrant to a room created in this transaction.
func (c *call) seed(race *domain.Race, userID int64, state domain.EntrantState) error {
	id, err := c.tx.NextEntrantID()
	if err != nil {
		return err
	}
	race.Entrants = append(race.Entrants, domain.Entrant{
		ID:       id,
		RaceID:   race.ID,
		UserID:   userID,
		State:    state,
		JoinedAt: c.now,
	})
	return nil
}
