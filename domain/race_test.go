package domain

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func joined(userID int64, ready bool) Entrant {
	return Entrant{ID: userID * 10, UserID: userID, State: EntrantJoined, Ready: ready, JoinedAt: t0.Add(time.Duration(userID) * time.Second)}
}

func finished(userID int64, d time.Duration) Entrant {
	e := joined(userID, true)
	e.FinishTime = &d
	return e
}

func TestRace_CanBegin(t *testing.T) {
	req := require.New(t)

	// Given an open race with one ready and one unready entrant
	race := Race{State: StateOpen, Entrants: []Entrant{joined(1, true), joined(2, false)}}

	// Then it cannot begin while unready entrants are ignored
	req.NotEmpty(race.CanBegin())

	// When unready entrants count because they would be disqualified
	race.DisqualifyUnready = true
	req.Empty(race.CanBegin())

	// When the race is already pending
	race.State = StatePending
	req.NotEmpty(race.CanBegin())
}

func TestRace_CanBegin_Teams(t *testing.T) {
	req := require.New(t)
	red, blue := int64(1), int64(2)

	// Given a team race where both ready entrants are on the same team
	a, b, c := joined(1, true), joined(2, true), joined(3, true)
	a.Team, b.Team, c.Team = &red, &red, &blue
	race := Race{State: StateOpen, TeamRace: true, Entrants: []Entrant{a, b}}
	req.Equal("at least 2 teams are required", race.CanBegin())

	// When a second team shows up
	race.Entrants = append(race.Entrants, c)
	req.Empty(race.CanBegin())

	// Then even teams are enforced on request
	race.RequireEvenTeams = true
	req.Equal("teams must have the same number of entrants", race.CanBegin())
}

func TestRace_RecalculatePlaces(t *testing.T) {
	req := require.New(t)

	// Given three finishers, one forfeit and one still running
	forfeit := finished(4, 2*time.Minute)
	forfeit.DNF = true
	race := Race{Entrants: []Entrant{
		finished(1, 4*time.Minute),
		finished(2, 3*time.Minute),
		forfeit,
		joined(5, true),
		finished(3, 4*time.Minute),
	}}

	// When
	race.RecalculatePlaces()

	// Then places follow finish time and ties share a place
	req.Equal(2, *race.Entrant(1).Place)
	req.Equal(1, *race.Entrant(2).Place)
	req.Equal(2, *race.Entrant(3).Place)
	req.Nil(race.Entrant(4).Place)
	req.Nil(race.Entrant(5).Place)
	req.NoError(race.Validate())
}

func TestRace_OrderedEntrants(t *testing.T) {
	req := require.New(t)

	dnf := joined(4, true)
	dnf.DNF = true
	invited := Entrant{UserID: 6, State: EntrantInvited}
	race := Race{State: StateInProgress, Entrants: []Entrant{
		invited,
		dnf,
		joined(5, true),
		finished(2, 5*time.Minute),
		finished(1, 3*time.Minute),
	}}

	// When
	ordered := race.OrderedEntrants()

	// Then finishers come first, then racers, forfeits and invites
	req.Equal([]int64{1, 2, 5, 4, 6}, lo.Map(ordered, func(e Entrant, _ int) int64 { return e.UserID }))
	// And the race itself keeps its order
	req.Equal(int64(6), race.Entrants[0].UserID)
}

func TestRace_ChatClosed(t *testing.T) {
	req := require.New(t)
	ended := t0

	// Given a cancelled race
	race := Race{State: StateCancelled, CancelledAt: &ended}

	// Then chat stays open for an hour
	req.False(race.ChatClosed(t0.Add(59 * time.Minute)))
	req.True(race.ChatClosed(t0.Add(time.Hour)))

	// Given a recordable finished race, chat stays open until recorded
	race = Race{State: StateFinished, EndedAt: &ended, Recordable: true}
	req.False(race.ChatClosed(t0.Add(5 * time.Hour)))
	race.Recorded = true
	req.True(race.ChatClosed(t0))
}

func TestRace_CanRematch(t *testing.T) {
	req := require.New(t)
	ended := t0
	race := Race{State: StateFinished, EndedAt: &ended}

	req.True(race.CanRematch(t0.Add(59 * time.Minute)))
	req.False(race.CanRematch(t0.Add(61 * time.Minute)))

	race.Rematch = &RaceKey{Category: "smw", Slug: "odd-yoshi-1234"}
	req.False(race.CanRematch(t0.Add(time.Minute)))
}

func TestRace_CanReopen(t *testing.T) {
	req := require.New(t)
	started := t0
	race := Race{State: StateFinished, StartedAt: &started, TimeLimit: time.Hour}

	req.True(race.CanReopen(t0.Add(30 * time.Minute)))
	req.False(race.CanReopen(t0.Add(time.Hour)))

	race.Recorded = true
	req.False(race.CanReopen(t0.Add(30 * time.Minute)))
}

func TestRace_Validate(t *testing.T) {
	req := require.New(t)

	race := Race{State: StateOpen, OpenedAt: t0, CustomGoal: "any%", Ranked: true}
	req.Error(race.Validate())

	race.Ranked = false
	req.NoError(race.Validate())

	race.Recorded = true
	req.Error(race.Validate())
}

func TestRaceState(t *testing.T) {
	req := require.New(t)

	req.True(StateInvitational.IsPreparation())
	req.False(StatePending.IsPreparation())
	req.True(StatePartitioned.IsDone())
	req.False(StateInProgress.IsDone())
	req.Equal("In progress", StateInProgress.Verbose())
}

func TestComputeRating(t *testing.T) {
	req := require.New(t)

	req.Equal(833, ComputeRating(25, 25.0/3))
	req.Equal(1500, ComputeRating(25, 5))
	req.Equal(0, ComputeRating(1, 8))
}

func TestBan_Active(t *testing.T) {
	req := require.New(t)
	expires := t0.Add(time.Hour)

	ban := Ban{UserID: 1, ExpiresAt: &expires}
	req.True(ban.Active(t0))
	req.False(ban.Active(expires))
	req.True(ban.Applies("smw"))

	ban = Ban{UserID: 1, Category: "smw"}
	req.True(ban.Active(t0.Add(1000 * time.Hour)))
	req.False(ban.Applies("oot"))
}

func TestMessage_Kind(t *testing.T) {
	req := require.New(t)
	id := int64(3)

	req.Equal(MessageSystem, Message{}.Kind())
	req.Equal(MessageUser, Message{UserID: &id}.Kind())
	req.Equal(MessageBot, Message{UserID: &id, BotID: &id}.Kind())
}
