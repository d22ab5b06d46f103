package workers

import (
	"context"
	"fmt"
	"log/slog"
	"race-lab/clock"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/errors"
	"race-lab/room"
	"sync"
	"time"
)

const (
	LowEntrantsTimeout = 30 * time.Minute
	OpenTimeout        = 4 * time.Hour
	WarnBefore         = 5 * time.Minute
	RefreshInterval    = 100 * time.Millisecond
	AdoptInterval      = 10 * time.Second
	ReapInterval       = 10 * time.Second
	LoopIdle           = 10 * time.Millisecond
	ProbeTimeout       = 5 * time.Second
	ReleaseTimeout     = 5 * time.Second
)

// Countdown seconds announced while a race is pending.
var countdownSeconds = []int{10, 5, 4, 3, 2, 1}

// ProbeSchedule polls one streaming provider. Idle applies while no
// entrant of the race is live on it, Live once at least one is.
type ProbeSchedule struct {
	Probe contract.StreamProbe
	Idle  time.Duration
	Live  time.Duration
}

// owned is what the racebot remembers about a race it supervises.
type owned struct {
	id        int64
	key       domain.RaceKey
	refreshed time.Time
	warned    map[string]bool
	counted   int
	polled    map[string]time.Time
}

// Racebot owns a set of active races and applies their time driven rules:
// cancelling rooms that never start, auto starting, countdowns, time
// limits and stream polling. Ownership is a compare-and-set on the race
// so several racebots can share one store.
type Racebot struct {
	log      *slog.Logger
	rooms    *room.Service
	store    contract.Store
	clock    clock.Clock
	liveness contract.Liveness
	probes   []ProbeSchedule
	pid      int

	mu        sync.Mutex
	owned     map[int64]*owned
	lastAdopt time.Time
	lastReap  time.Time
}

func NewRacebot(
	log *slog.Logger,
	rooms *room.Service,
	store contract.Store,
	clk clock.Clock,
	liveness contract.Liveness,
	pid int,
	probes ...ProbeSchedule,
) *Racebot {
	return &Racebot{
		log:      log.With("pid", pid),
		rooms:    rooms,
		store:    store,
		clock:    clk,
		liveness: liveness,
		probes:   probes,
		pid:      pid,
		owned:    make(map[int64]*owned),
	}
}

// Run loops until ctx ends, then gives every owned race back.
func (b *Racebot) Run(ctx context.Context) error {
	b.log.Info("Racebot started")
	defer b.releaseAll()
	for {
		b.Tick(ctx)
		select {
		case <-ctx.Done():
			b.log.Info("Racebot stopping")
			return nil
		case <-b.clock.After(LoopIdle):
		}
	}
}

// Owned returns how many races this instance supervises.
func (b *Racebot) Owned() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.owned)
}

// Tick runs one iteration of the loop.
func (b *Racebot) Tick(ctx context.Context) {
	now := b.clock.Now()
	if now.Sub(b.lastAdopt) >= AdoptInterval {
		b.lastAdopt = now
		b.adopt(ctx)
	}
	if now.Sub(b.lastReap) >= ReapInterval {
		b.lastReap = now
		b.reap(ctx)
	}

	b.mu.Lock()
	rooms := make([]*owned, 0, len(b.owned))
	for _, o := range b.owned {
		rooms = append(rooms, o)
	}
	b.mu.Unlock()

	for _, o := range rooms {
		if ctx.Err() != nil {
			return
		}
		if now.Sub(o.refreshed) < RefreshInterval {
			continue
		}
		o.refreshed = now
		b.supervise(ctx, o)
	}
}

// adopt claims one unowned race.
func (b *Racebot) adopt(ctx context.Context) {
	var key *domain.RaceKey
	var raceID int64
	err := b.store.WithTx(ctx, func(tx contract.Tx) error {
		key = nil
		ids, err := tx.UnownedRooms(1)
		if err != nil || len(ids) == 0 {
			return err
		}
		claimed, err := tx.ClaimRoom(ids[0], b.pid)
		if err != nil || !claimed {
			return err
		}
		race, err := tx.LoadRoomByID(ids[0])
		if err != nil {
			return err
		}
		k := race.Key()
		key, raceID = &k, race.ID
		return nil
	})
	if err != nil {
		b.log.Warn("Adoption failed", "error", err)
		return
	}
	if key == nil {
		return
	}
	b.mu.Lock()
	b.owned[raceID] = &owned{id: raceID, key: *key, warned: make(map[string]bool), polled: make(map[string]time.Time)}
	b.mu.Unlock()
	b.log.Info("Race adopted", "race", key.String())
}

// reap frees the races of supervisors that no longer run.
func (b *Racebot) reap(ctx context.Context) {
	var pids []int
	err := b.store.View(ctx, func(tx contract.Tx) error {
		var err error
		pids, err = tx.OwnerPIDs()
		return err
	})
	if err != nil {
		b.log.Warn("Listing race owners failed", "error", err)
		return
	}
	for _, pid := range pids {
		if pid == b.pid {
			continue
		}
		alive, err := b.liveness.Alive(ctx, pid)
		if err != nil {
			b.log.Warn("Liveness probe failed", "owner", pid, "error", err)
			continue
		}
		if alive {
			continue
		}
		var released int
		err = b.store.WithTx(ctx, func(tx contract.Tx) error {
			var err error
			released, err = tx.ReleaseOwner(pid)
			return err
		})
		if err != nil {
			b.log.Warn("Releasing orphaned races failed", "owner", pid, "error", err)
			continue
		}
		b.log.Info("Released races of a dead supervisor", "owner", pid, "races", released)
	}
}

func (b *Racebot) supervise(ctx context.Context, o *owned) {
	race, err := b.rooms.Race(ctx, o.key)
	if err != nil {
		b.fail(o, err)
		return
	}
	if race.State.IsDone() || race.BotPID == nil || *race.BotPID != b.pid {
		b.drop(ctx, o)
		return
	}

	now := b.clock.Now()
	switch {
	case race.State.IsPreparation():
		err = b.prepare(ctx, o, race, now)
	case race.State == domain.StatePending:
		err = b.countdown(ctx, o, race, now)
	case race.State == domain.StateInProgress:
		err = b.timeLimit(ctx, o, race, now)
	}
	if err != nil {
		b.fail(o, err)
		return
	}
	b.pollStreams(ctx, o, race, now)
}

func (b *Racebot) prepare(ctx context.Context, o *owned, race *domain.Race, now time.Time) error {
	if race.NumJoined() < 2 {
		deadline := race.OpenedAt.Add(LowEntrantsTimeout)
		if !now.Before(deadline) {
			return b.rooms.Cancel(ctx, o.key, "This race has been cancelled as less than 2 entrants joined.")
		}
		return b.warn(ctx, o, "low", now, deadline,
			"This race will be cancelled in 5 minutes unless at least 2 entrants join.")
	}

	deadline := race.OpenedAt.Add(OpenTimeout)
	if !now.Before(deadline) {
		return b.rooms.Cancel(ctx, o.key, "This race has been cancelled as it was open for too long.")
	}
	if err := b.warn(ctx, o, "open", now, deadline,
		"This race will be cancelled in 5 minutes if it does not begin."); err != nil {
		return err
	}
	if race.AutoStart && !race.Hold && race.AllReady() && race.CanBegin() == "" {
		b.log.Info("Auto starting race", "race", o.key.String())
		return b.rooms.Begin(ctx, o.key)
	}
	return nil
}

// countdown announces the last seconds before the start and starts the
// race once it is due. A slow tick only announces the latest boundary.
func (b *Racebot) countdown(ctx context.Context, o *owned, race *domain.Race, now time.Time) error {
	if !now.Before(*race.StartedAt) {
		return b.rooms.Start(ctx, o.key)
	}
	remaining := race.StartedAt.Sub(now)
	due := 0
	for _, s := range countdownSeconds {
		if remaining <= time.Duration(s)*time.Second {
			due = s
		}
	}
	if due == 0 || (o.counted != 0 && due >= o.counted) {
		return nil
	}
	o.counted = due
	if time.Duration(due)*time.Second == race.StartDelay {
		// begin already announced it
		return nil
	}
	if due == countdownSeconds[0] {
		return b.rooms.Notify(ctx, o.key, fmt.Sprintf("The race will begin in %d seconds!", due), true)
	}
	return b.rooms.Notify(ctx, o.key, fmt.Sprintf("%d…", due), true)
}

func (b *Racebot) timeLimit(ctx context.Context, o *owned, race *domain.Race, now time.Time) error {
	limit := race.TimeLimitAt()
	if limit != nil {
		if !now.Before(*limit) {
			b.log.Info("Time limit reached", "race", o.key.String())
			return b.rooms.Finish(ctx, o.key)
		}
		if err := b.warn(ctx, o, "limit", now, *limit,
			"This race will reach its time limit in 5 minutes."); err != nil {
			return err
		}
	}
	if race.NumRunning() == 0 {
		return b.rooms.FinishIfNoneRemaining(ctx, o.key)
	}
	return nil
}

// warn posts text once when now enters the last WarnBefore of deadline.
func (b *Racebot) warn(ctx context.Context, o *owned, name string, now, deadline time.Time, text string) error {
	if o.warned[name] || now.Before(deadline.Add(-WarnBefore)) {
		return nil
	}
	o.warned[name] = true
	return b.rooms.Notify(ctx, o.key, text, true)
}

// pollStreams asks each provider which entrants are live. Failures are
// logged and retried at the next interval.
func (b *Racebot) pollStreams(ctx context.Context, o *owned, race *domain.Race, now time.Time) {
	if len(b.probes) == 0 || race.State.IsDone() {
		return
	}
	var accounts map[string][]string
	for _, p := range b.probes {
		name := p.Probe.Name()
		interval := p.Idle
		if anyLive(race, name) {
			interval = p.Live
		}
		if last, ok := o.polled[name]; ok && now.Sub(last) < interval {
			continue
		}
		o.polled[name] = now

		if accounts == nil {
			var err error
			if accounts, err = b.rooms.StreamAccounts(ctx, o.key); err != nil {
				b.log.Warn("Listing stream accounts failed", "race", o.key.String(), "error", err)
				return
			}
		}
		if len(accounts[name]) == 0 {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
		live, err := p.Probe.Live(probeCtx, accounts[name])
		cancel()
		if err != nil {
			b.log.Warn("Stream probe failed", "provider", name, "race", o.key.String(), "error", err)
			continue
		}
		if err := b.rooms.UpdateStreams(ctx, o.key, name, live); err != nil {
			b.log.Warn("Updating streams failed", "provider", name, "race", o.key.String(), "error", err)
		}
	}
}

func anyLive(race *domain.Race, provider string) bool {
	for _, e := range race.Joined() {
		if (provider == domain.StreamTwitch && e.TwitchLive) || (provider == domain.StreamYoutube && e.YoutubeLive) {
			return true
		}
	}
	return false
}

// fail logs err by kind. A fatal error gives the race up.
func (b *Racebot) fail(o *owned, err error) {
	switch errors.KindOf(err) {
	case errors.KindFatal:
		b.log.Error("Race failed, releasing it", "race", o.key.String(), "error", err)
		b.drop(context.Background(), o)
	case errors.KindTransient, errors.KindConflict:
		b.log.Warn("Race supervision deferred", "race", o.key.String(), "error", err)
	case errors.KindShuttingDown:
		b.log.Debug("Race supervision interrupted", "race", o.key.String())
	default:
		b.log.Debug("Race supervision skipped", "race", o.key.String(), "error", err)
	}
}

// drop forgets a race and clears its owner.
func (b *Racebot) drop(ctx context.Context, o *owned) {
	b.mu.Lock()
	delete(b.owned, o.id)
	b.mu.Unlock()
	err := b.store.WithTx(ctx, func(tx contract.Tx) error {
		return tx.ReleaseRoom(o.id, b.pid)
	})
	if err != nil {
		b.log.Warn("Releasing race failed", "race", o.key.String(), "error", err)
		return
	}
	b.log.Info("Race released", "race", o.key.String())
}

func (b *Racebot) releaseAll() {
	ctx, cancel := context.WithTimeout(context.Background(), ReleaseTimeout)
	defer cancel()
	var released int
	err := b.store.WithTx(ctx, func(tx contract.Tx) error {
		var err error
		released, err = tx.ReleaseOwner(b.pid)
		return err
	})
	b.mu.Lock()
	b.owned = make(map[int64]*owned)
	b.mu.Unlock()
	if err != nil {
		b.log.Error("Releasing races on shutdown failed", "error", err)
		return
	}
	b.log.Info("Races released on shutdown", "races", released)
}
