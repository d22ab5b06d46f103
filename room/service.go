// Package room runs the race state machine. Every operation loads the race,
// applies one transition inside a store transaction and, once committed,
// hands the resulting broadcast plan to the hub.
package room

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"race-lab/clock"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/domain/event"
	"race-lab/errors"
	"race-lab/idcodec"
	"race-lab/moderation"
	"race-lab/partition"
	"race-lab/rating"
	"sync"
	"time"
)

type Service struct {
	store       contract.Store
	broadcast   contract.Broadcaster
	codec       *idcodec.Codec
	clock       clock.Clock
	moderator   *moderation.Moderator
	engine      rating.Engine
	partitioner *partition.Partitioner
	locks       *Locks
	slugWords   domain.SlugWords
	rngMu       sync.Mutex
	rng         *rand.Rand
	log         *slog.Logger
}

// NewService wires a room service. The moderator may be nil to disable the
// chat censor.
func NewService(
	log *slog.Logger,
	store contract.Store,
	broadcast contract.Broadcaster,
	codec *idcodec.Codec,
	clk clock.Clock,
	moderator *moderation.Moderator,
	slugWords domain.SlugWords,
	lockTimeout time.Duration,
) *Service {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	engine := rating.Default()
	return &Service{
		store:       store,
		broadcast:   broadcast,
		codec:       codec,
		clock:       clk,
		moderator:   moderator,
		engine:      engine,
		partitioner: partition.New(engine, rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))),
		locks:       NewLocks(lockTimeout),
		slugWords:   slugWords,
		rng:         rng,
		log:         log,
	}
}

type guidKey struct{}

// WithGUID marks ctx as carrying a client action id. An action whose id
// was accepted in the last five minutes is dropped with ErrDuplicateAction.
func WithGUID(ctx context.Context, guid string) context.Context {
	return context.WithValue(ctx, guidKey{}, guid)
}

func guidFrom(ctx context.Context) string {
	guid, _ := ctx.Value(guidKey{}).(string)
	return guid
}

func (s *Service) intN(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

// call is the state of one operation inside its transaction.
type call struct {
	s        *Service
	tx       contract.Tx
	race     *domain.Race
	category domain.Category
	actor    domain.Actor
	args     Args
	guid     string
	now      time.Time
	plan     *plan
	dirty    bool
	created  []*domain.Race
	users    map[int64]domain.User
}

// touch marks the race as changed so the transition bumps its version.
func (c *call) touch() { c.dirty = true }

func (c *call) user(id int64) (domain.User, error) {
	if u, ok := c.users[id]; ok {
		return u, nil
	}
	u, err := c.tx.User(id)
	if err != nil {
		return domain.User{}, err
	}
	c.users[id] = u
	return u, nil
}

// mutate runs fn against the race at key under the room lock and inside a
// single transaction, then publishes what fn planned.
func (s *Service) mutate(ctx context.Context, key domain.RaceKey, actor domain.Actor, args Args, fn func(c *call) error) error {
	release, err := s.locks.Acquire(ctx, key.String())
	if err != nil {
		return err
	}
	defer release()

	p := &plan{}
	err = s.store.WithTx(ctx, func(tx contract.Tx) error {
		p.reset()
		race, err := tx.LoadRoom(key)
		if err != nil {
			return err
		}
		c, err := s.newCall(tx, race, actor, args, p)
		if err != nil {
			return err
		}

		guid := guidFrom(ctx)
		c.guid = guid
		if guid != "" {
			seen, err := tx.SeenGUID(race.ID, guid, c.now)
			if err != nil {
				return err
			}
			if seen {
				return errors.ErrDuplicateAction
			}
		}

		if err := fn(c); err != nil {
			return err
		}
		if err := c.commit(); err != nil {
			return err
		}
		if guid != "" {
			return tx.RememberGUID(race.ID, guid, c.now)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(p)
	return nil
}

func (s *Service) newCall(tx contract.Tx, race *domain.Race, actor domain.Actor, args Args, p *plan) (*call, error) {
	category, err := tx.Category(race.Category)
	if err != nil {
		return nil, err
	}
	return &call{
		s:        s,
		tx:       tx,
		race:     race,
		category: category,
		actor:    actor,
		args:     args,
		now:      s.clock.Now(),
		plan:     p,
		users:    make(map[int64]domain.User),
	}, nil
}

// commit saves the race when it changed, along with any room created by
// the transition, and plans their snapshots.
func (c *call) commit() error {
	if c.dirty {
		version, err := c.tx.SaveRoom(c.race, c.race.Version)
		if err != nil {
			return err
		}
		c.race.Version = version
		if err := c.planRace(c.race); err != nil {
			return err
		}
	}
	for _, race := range c.created {
		if err := c.planRace(race); err != nil {
			return err
		}
	}
	return nil
}

func (c *call) planRace(race *domain.Race) error {
	data, renders, err := c.on(race).raceEvents()
	if err != nil {
		return err
	}
	c.plan.races = append(c.plan.races, raceUpdate{raceID: race.ID, version: race.Version, data: data, renders: renders})
	return nil
}

// plan is what a committed transition broadcasts.
type plan struct {
	races   []raceUpdate
	chats   []contract.ChatDelivery
	deletes []deleteNote
	events  []roomEvent
}

type raceUpdate struct {
	raceID  int64
	version uint64
	data    event.Event
	renders event.Event
}

type deleteNote struct {
	raceID    int64
	messageID int64
	evt       event.Event
}

type roomEvent struct {
	raceID int64
	evt    event.Event
}

// reset empties the plan when the store retries the transaction.
func (p *plan) reset() { *p = plan{} }

func (s *Service) publish(p *plan) {
	if s.broadcast == nil {
		return
	}
	for _, d := range p.deletes {
		s.broadcast.PublishDelete(d.raceID, d.messageID, d.evt)
	}
	for _, r := range p.races {
		s.broadcast.PublishRace(r.raceID, r.version, r.data, r.renders)
	}
	for _, d := range p.chats {
		s.broadcast.PublishChat(d)
	}
	for _, e := range p.events {
		s.broadcast.Publish(e.raceID, e.evt)
	}
}

// RaceEvents returns the current race.data and race.renders of a room, for
// subscribers that connect before any update is cached.
func (s *Service) RaceEvents(ctx context.Context, key domain.RaceKey) (int64, uint64, event.Event, event.Event, error) {
	var (
		id      int64
		version uint64
		data    event.Event
		renders event.Event
	)
	err := s.store.View(ctx, func(tx contract.Tx) error {
		race, err := tx.LoadRoom(key)
		if err != nil {
			return err
		}
		c, err := s.newCall(tx, race, domain.Actor{}, Args{}, &plan{})
		if err != nil {
			return err
		}
		id, version = race.ID, race.Version
		data, renders, err = c.raceEvents()
		return err
	})
	return id, version, data, renders, err
}

// Race loads a room.
func (s *Service) Race(ctx context.Context, key domain.RaceKey) (*domain.Race, error) {
	var race *domain.Race
	err := s.store.View(ctx, func(tx contract.Tx) error {
		var err error
		race, err = tx.LoadRoom(key)
		return err
	})
	return race, err
}
