package domain

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

func (r *Race) Joined() []Entrant {
	return lo.Filter(r.Entrants, func(e Entrant, _ int) bool { return e.State == EntrantJoined })
}

func (r *Race) NumJoined() int { return len(r.Joined()) }

func (r *Race) NumReady() int {
	return lo.CountBy(r.Entrants, func(e Entrant) bool { return e.State == EntrantJoined && e.Ready })
}

func (r *Race) NumFinished() int {
	return lo.CountBy(r.Entrants, func(e Entrant) bool { return e.IsFinished() })
}

func (r *Race) NumRunning() int {
	return lo.CountBy(r.Entrants, func(e Entrant) bool { return e.IsRunning() })
}

// AllReady reports whether every joined entrant is ready.
func (r *Race) AllReady() bool {
	joined := r.Joined()
	return len(joined) > 0 && lo.EveryBy(joined, func(e Entrant) bool { return e.Ready })
}

// CanBegin returns the reason the race cannot begin, or "" when it can.
func (r *Race) CanBegin() string {
	if !r.State.IsPreparation() {
		return "race is not in preparation"
	}
	starters := r.starters()
	if len(starters) < 2 {
		return "at least 2 entrants must be ready"
	}
	if !r.TeamRace {
		return ""
	}
	sizes := lo.CountValuesBy(starters, func(e Entrant) int64 { return lo.FromPtr(e.Team) })
	delete(sizes, 0)
	if len(sizes) < 2 {
		return "at least 2 teams are required"
	}
	if r.RequireEvenTeams && len(lo.Uniq(lo.Values(sizes))) > 1 {
		return "teams must have the same number of entrants"
	}
	return ""
}

// starters are the entrants that take part if the race begins now.
func (r *Race) starters() []Entrant {
	if r.DisqualifyUnready {
		return r.Joined()
	}
	return lo.Filter(r.Entrants, func(e Entrant, _ int) bool { return e.State == EntrantJoined && e.Ready })
}

// RecalculatePlaces assigns 1-based places to finishers in finish-time
// order. Entrants with equal times share a place.
func (r *Race) RecalculatePlaces() {
	times := make([]time.Duration, 0, len(r.Entrants))
	for _, e := range r.Entrants {
		if e.IsFinished() {
			times = append(times, *e.FinishTime)
		}
	}
	for i := range r.Entrants {
		e := &r.Entrants[i]
		if !e.IsFinished() {
			e.Place = nil
			continue
		}
		place := 1 + lo.CountBy(times, func(t time.Duration) bool { return t < *e.FinishTime })
		e.Place = &place
	}
}

func entrantGroup(e Entrant) int {
	switch {
	case e.State == EntrantRequested:
		return 6
	case e.State == EntrantInvited:
		return 7
	case e.State == EntrantDeclined:
		return 8
	case e.State == EntrantPartitioned:
		return 9
	case e.DQ:
		return 5
	case e.DNF:
		return 4
	case e.FinishTime != nil:
		return 0
	case e.Ready:
		return 1
	}
	return 2
}

// OrderedEntrants returns a copy of the entrants in display order:
// finishers by place, then racing, forfeits, disqualifications and
// pending invitations.
func (r *Race) OrderedEntrants() []Entrant {
	out := append([]Entrant(nil), r.Entrants...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ga, gb := entrantGroup(a), entrantGroup(b)
		if ga != gb {
			return ga < gb
		}
		if ga == 0 && *a.FinishTime != *b.FinishTime {
			return *a.FinishTime < *b.FinishTime
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.UserID < b.UserID
	})
	return out
}

// ChatClosed reports whether chat is closed: once recorded, or an hour
// after completion of a race that can no longer be recorded.
func (r *Race) ChatClosed(now time.Time) bool {
	if r.Recorded {
		return true
	}
	done := r.CompletedAt()
	if done == nil || r.Recordable {
		return false
	}
	return !now.Before(done.Add(ChatCloseAfter))
}

// CanReopen reports whether a finish or forfeit may still be reversed.
func (r *Race) CanReopen(now time.Time) bool {
	if r.StartedAt == nil {
		return false
	}
	if r.State != StateInProgress && (r.State != StateFinished || r.Recorded) {
		return false
	}
	return now.Before(r.StartedAt.Add(r.TimeLimit))
}

// CanRematch reports whether a rematch may be created at now.
func (r *Race) CanRematch(now time.Time) bool {
	done := r.CompletedAt()
	if r.Rematch != nil || done == nil || r.State == StatePartitioned {
		return false
	}
	return !now.After(done.Add(RematchWindow))
}
