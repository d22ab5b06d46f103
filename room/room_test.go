package room

import (
	"context"
	"encoding/json"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/domain/event"
	"race-lab/errors"
	"race-lab/idcodec"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestRoom_HappyPath(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	// Given a race with two ready entrants past the countdown
	key := f.open(t, alice, nil)
	f.start(t, key, alice, bob)
	req.Equal(domain.StateInProgress, f.race(t, key).State)

	// When alice finishes at 0:03:10 and bob at 0:04:00
	f.clock.Advance(3*time.Minute + 10*time.Second)
	req.NoError(f.act(key, alice, VerbDone, Args{}))
	f.clock.Advance(50 * time.Second)
	req.NoError(f.act(key, bob, VerbDone, Args{}))

	// Then the race is finished with both places set
	race := f.race(t, key)
	req.Equal(domain.StateFinished, race.State)
	req.Equal(1, *race.Entrant(alice).Place)
	req.Equal(2, *race.Entrant(bob).Place)
	req.Equal(3*time.Minute+10*time.Second, *race.Entrant(alice).FinishTime)
	req.Contains(f.pub.chatTexts(), "alice#0001 has finished in 1st place with a time of 0:03:10!")

	// When a category owner records the result
	req.NoError(f.act(key, owner, VerbRecord, Args{}))

	// Then each entrant carries its prior rating and the change
	race = f.race(t, key)
	req.True(race.Recorded)
	a, b := race.Entrant(alice), race.Entrant(bob)
	req.Equal(833, *a.Rating)
	req.Equal(833, *b.Rating)
	req.Positive(*a.RatingChange)
	req.Negative(*b.RatingChange)

	var ranking *domain.UserRanking
	err := f.store.View(ctx, func(tx contract.Tx) error {
		var err error
		ranking, err = tx.Ranking(alice, "smw", race.Goal.ID)
		return err
	})
	req.NoError(err)
	req.NotNil(ranking)
	req.Equal(1, ranking.TimesRaced)
	req.Equal(3*time.Minute+10*time.Second, *ranking.BestTime)
	req.Equal(*a.Rating+*a.RatingChange, ranking.Rating)

	// And every broadcast snapshot carried a newer version
	versions := f.pub.versions[race.ID]
	req.NotEmpty(versions)
	for i := 1; i < len(versions); i++ {
		req.Greater(versions[i], versions[i-1])
	}
}

func TestRoom_Record_RequiresModerator(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given a finished race
	key := f.open(t, alice, nil)
	f.start(t, key, alice, bob)
	f.clock.Advance(time.Minute)
	req.NoError(f.act(key, alice, VerbDone, Args{}))
	req.NoError(f.act(key, bob, VerbForfeit, Args{}))

	// When the opener tries to record it
	err := f.act(key, alice, VerbRecord, Args{})

	// Then only category moderators may
	req.Equal(errors.KindAuthorization, errors.KindOf(err))
	req.False(f.race(t, key).Recorded)
}

func TestRoom_Authority(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	key := f.open(t, alice, nil)

	// When an entrant who is not a monitor tries to begin the race
	req.NoError(f.act(key, bob, VerbJoin, Args{}))
	err := f.act(key, bob, VerbBegin, Args{})

	// Then it is rejected
	req.Equal(errors.KindAuthorization, errors.KindOf(err))

	// And anonymous observers cannot act at all
	err = f.svc.Act(ctx, key, domain.Actor{}, VerbJoin, Args{})
	req.Equal(errors.KindAuthorization, errors.KindOf(err))

	// And unknown verbs are a validation error
	err = f.act(key, bob, "teleport", Args{})
	req.Equal(errors.KindValidation, errors.KindOf(err))
}

func TestRoom_Invitational(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	key := f.open(t, alice, func(p *Params) { p.Invitational = true })

	// When bob tries to join an invitational race
	err := f.act(key, bob, VerbJoin, Args{})

	// Then he has to request an invite
	req.Equal(errors.KindBadState, errors.KindOf(err))
	req.NoError(f.act(key, bob, VerbRequestInvite, Args{}))
	req.Equal(domain.EntrantRequested, f.race(t, key).Entrant(bob).State)

	// When the opener accepts and invites carol, who declines
	req.NoError(f.act(key, alice, VerbAcceptRequest, Args{User: bob}))
	req.NoError(f.act(key, alice, VerbInvite, Args{User: carol}))
	req.NoError(f.act(key, carol, VerbDeclineInvite, Args{}))

	// Then
	race := f.race(t, key)
	req.Equal(domain.EntrantJoined, race.Entrant(bob).State)
	req.Equal(domain.EntrantDeclined, race.Entrant(carol).State)

	// And a declined entrant cannot be removed
	err = f.act(key, alice, VerbRemoveEntrant, Args{User: carol})
	req.Equal(errors.KindBadState, errors.KindOf(err))
}

func TestRoom_Rematch(t *testing.T) {
	finished := func(t *testing.T) (*fixture, domain.RaceKey) {
		f := newFixture(t)
		key := f.open(t, alice, nil)
		f.start(t, key, alice, bob)
		f.clock.Advance(time.Minute)
		require.NoError(t, f.act(key, alice, VerbDone, Args{}))
		require.NoError(t, f.act(key, bob, VerbDone, Args{}))
		return f, key
	}

	t.Run("within the hour", func(t *testing.T) {
		req := require.New(t)
		f, key := finished(t)

		// When the opener asks for a rematch 59 minutes later
		f.clock.Advance(59 * time.Minute)
		req.NoError(f.act(key, alice, VerbRematch, Args{}))

		// Then a new open room invites bob and holds alice
		race := f.race(t, key)
		req.NotNil(race.Rematch)
		next := f.race(t, *race.Rematch)
		req.Equal(domain.StateOpen, next.State)
		req.Equal(domain.EntrantJoined, next.Entrant(alice).State)
		req.Equal(domain.EntrantInvited, next.Entrant(bob).State)
		req.Equal(race.Goal.ID, next.Goal.ID)

		// And a second rematch is refused
		err := f.act(key, alice, VerbRematch, Args{})
		req.Equal(errors.KindBadState, errors.KindOf(err))
	})

	t.Run("after the hour", func(t *testing.T) {
		req := require.New(t)
		f, key := finished(t)

		// When the opener asks 61 minutes later
		f.clock.Advance(61 * time.Minute)
		err := f.act(key, alice, VerbRematch, Args{})

		// Then
		req.Equal(errors.KindBadState, errors.KindOf(err))
		req.Nil(f.race(t, key).Rematch)
	})
}

func TestRoom_DuplicateMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	key := f.open(t, alice, nil)
	ctx := WithGUID(context.Background(), "5f0c1d2e-guid")

	// When the same message is submitted twice, 2 seconds apart
	req.NoError(f.svc.Act(ctx, key, domain.UserActor(bob), VerbMessage, Args{Text: "gl hf"}))
	f.clock.Advance(2 * time.Second)
	err := f.svc.Act(ctx, key, domain.UserActor(bob), VerbMessage, Args{Text: "gl hf"})

	// Then the second one is dropped
	req.ErrorIs(err, errors.ErrDuplicateAction)
	user := lo.Filter(f.messages(t, key), func(m domain.Message, _ int) bool { return m.Kind() == domain.MessageUser })
	req.Len(user, 1)
	req.Equal(1, lo.Count(f.pub.chatTexts(), "gl hf"))
}

func TestRoom_Partition(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	// Given a 1v1 pool of five rated entrants
	key := f.open(t, owner, func(p *Params) { p.Partitionable = true })
	goal := f.race(t, key).Goal.ID
	mus := map[int64]float64{alice: 17, bob: 16.5, carol: 16, dave: 15.5, erin: 15}
	err := f.store.WithTx(ctx, func(tx contract.Tx) error {
		for userID, mu := range mus {
			r := domain.UserRanking{UserID: userID, Category: "smw", GoalID: goal, Score: mu, Confidence: 1}
			if err := tx.SaveRanking(r); err != nil {
				return err
			}
		}
		return nil
	})
	req.NoError(err)
	for _, u := range []int64{alice, bob, carol, dave, erin} {
		req.NoError(f.act(key, u, VerbJoin, Args{}))
	}
	req.Equal(errors.KindBadState, errors.KindOf(f.act(key, alice, VerbReady, Args{})))

	// When the owner partitions it
	req.NoError(f.act(key, owner, VerbPartition, Args{}))

	// Then the pool is closed
	parent := f.race(t, key)
	req.Equal(domain.StatePartitioned, parent.State)
	req.Len(parent.Entrants, 5)
	for _, e := range parent.Entrants {
		req.Equal(domain.EntrantPartitioned, e.State)
	}

	// And every entrant is invited to exactly one hidden child room
	var children []domain.Race
	err = f.store.View(ctx, func(tx contract.Tx) error {
		children, err = tx.ListRooms("smw", false)
		return err
	})
	req.NoError(err)
	req.Len(children, 2)
	room := make(map[int64]string)
	for _, child := range children {
		req.Equal(key, *child.Parent)
		req.True(child.HideEntrants)
		req.True(child.DisqualifyUnready)
		req.False(child.AllowPreraceChat)
		req.Equal(domain.StateInvitational, child.State)
		req.GreaterOrEqual(len(child.Entrants), 2)
		req.LessOrEqual(len(child.Entrants), 3)
		for _, e := range child.Entrants {
			req.Equal(domain.EntrantInvited, e.State)
			_, dup := room[e.UserID]
			req.False(dup)
			room[e.UserID] = child.Slug
		}
	}
	req.Len(room, 5)
	req.Equal(room[alice], room[bob])
	req.Equal(room[carol], room[dave])
	req.NotEqual(room[alice], room[carol])
}

func TestRoom_TimeLimit(t *testing.T) {
	for _, tc := range []struct {
		name         string
		autoComplete bool
		want         domain.RaceState
	}{
		{name: "cancelled without finisher", want: domain.StateCancelled},
		{name: "auto completed", autoComplete: true, want: domain.StateFinished},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t)
			key := f.open(t, alice, func(p *Params) {
				p.TimeLimit = time.Hour
				p.TimeLimitAutoComplete = tc.autoComplete
			})
			f.start(t, key, alice, bob)

			// When the time limit expires with nobody done
			f.clock.Advance(time.Hour)
			req.NoError(f.svc.Finish(context.Background(), key))

			// Then
			race := f.race(t, key)
			req.Equal(tc.want, race.State)
			req.NotNil(race.EndedAt)
			req.True(race.Entrant(alice).DNF)
			req.True(race.Entrant(bob).DNF)
			if tc.want == domain.StateCancelled {
				req.False(race.Recordable)
				req.NotNil(race.CancelledAt)
			}
		})
	}
}

func TestRoom_Cancel(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	key := f.open(t, alice, nil)
	req.NoError(f.act(key, alice, VerbJoin, Args{}))
	req.NoError(f.act(key, bob, VerbJoin, Args{}))
	req.NoError(f.act(key, alice, VerbReady, Args{}))
	req.NoError(f.act(key, bob, VerbReady, Args{}))
	req.NoError(f.svc.Begin(context.Background(), key))

	// When the opener cancels during the countdown
	req.NoError(f.act(key, alice, VerbCancel, Args{}))

	// Then
	race := f.race(t, key)
	req.Equal(domain.StateCancelled, race.State)
	req.False(race.Recordable)
	req.Nil(race.StartedAt)
	req.Equal(errors.KindBadState, errors.KindOf(f.act(key, alice, VerbCancel, Args{})))
}

func TestRoom_Unforfeit_Reopens(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	key := f.open(t, alice, nil)
	f.start(t, key, alice, bob)

	// Given a race finished by a forfeit
	f.clock.Advance(10 * time.Minute)
	req.NoError(f.act(key, alice, VerbDone, Args{}))
	req.NoError(f.act(key, bob, VerbForfeit, Args{}))
	req.Equal(domain.StateFinished, f.race(t, key).State)

	// When bob takes the forfeit back
	req.NoError(f.act(key, bob, VerbUnforfeit, Args{}))

	// Then the race runs again
	race := f.race(t, key)
	req.Equal(domain.StateInProgress, race.State)
	req.Nil(race.EndedAt)
	req.True(race.Entrant(bob).IsRunning())

	actions, err := f.svc.Actions(context.Background(), key, domain.UserActor(bob))
	req.NoError(err)
	req.Contains(actions, "done")
	req.Contains(actions, "forfeit")
}

func TestRoom_HiddenEntrants(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	key := f.open(t, owner, func(p *Params) { p.HideEntrants = true })

	// When two users join a race hiding its entrants
	req.NoError(f.act(key, alice, VerbJoin, Args{}))
	req.NoError(f.act(key, bob, VerbJoin, Args{}))

	// Then neither messages nor snapshots name them
	for _, m := range f.messages(t, key) {
		req.NotContains(m.Text, "alice")
		req.NotContains(m.Text, "bob")
	}
	_, _, data, _, err := f.svc.RaceEvents(ctx, key)
	req.NoError(err)
	raw, err := json.Marshal(data)
	req.NoError(err)
	req.NotContains(string(raw), "alice")
	req.Contains(string(raw), "Anonymous (")

	// When the race is cancelled
	req.NoError(f.act(key, owner, VerbCancel, Args{}))

	// Then past messages are rewritten with real names
	texts := lo.Map(f.messages(t, key), func(m domain.Message, _ int) string { return m.Text })
	req.Contains(texts, "alice#0001 joins.")
	req.Contains(texts, "bob#0001 joins.")
	for _, text := range texts {
		req.False(strings.Contains(text, "Anonymous ("))
	}
	req.Contains(f.pub.chatTexts(), "alice#0001 joins.")
}

func TestRoom_Pseudonyms_SharedPrefix(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given two entrants whose hashids start alike
	seen := make(map[string]int64)
	var first, second int64
	for id := int64(1); id <= 20000 && second == 0; id++ {
		prefix := f.svc.codec.MustEncode(idcodec.Entrant, id)[:8]
		if prev, ok := seen[prefix]; ok {
			first, second = prev, id
		}
		seen[prefix] = id
	}
	req.NotZero(second)
	race := &domain.Race{
		HideEntrants: true,
		Entrants:     []domain.Entrant{{ID: first, UserID: alice}, {ID: second, UserID: bob}},
	}
	c := &call{s: f.svc, race: race, users: map[int64]domain.User{
		alice: {ID: alice, Name: "alice", Discriminator: "0001"},
		bob:   {ID: bob, Name: "bob", Discriminator: "0001"},
	}}

	// When both are named while hidden and revealed afterwards
	a, b := c.pseudonym(race.Entrants[0]), c.pseudonym(race.Entrants[1])
	revealed := c.revealer().Replace(b + " has finished. " + a + " has forfeited.")

	// Then each keeps a name of their own
	req.NotEqual(a, b)
	req.Equal("bob#0001 has finished. alice#0001 has forfeited.", revealed)
}

func TestRoom_ChatDelay(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	key := f.open(t, alice, func(p *Params) { p.ChatMessageDelay = 30 * time.Second })

	// When a spectator chats before the race starts
	req.NoError(f.act(key, carol, VerbMessage, Args{Text: "good luck"}))

	// Then the delivery is delayed already
	req.Equal(domain.StateOpen, f.race(t, key).State)
	req.Equal(30*time.Second, f.pub.chats[len(f.pub.chats)-1].Delay)
	history, err := f.svc.History(ctx, key, domain.UserActor(dave), nil)
	req.NoError(err)
	req.Empty(lo.Filter(history, func(m event.MessageData, _ int) bool { return m.Message == "good luck" }))

	f.start(t, key, alice, bob)

	// When a spectator chats during the race
	req.NoError(f.act(key, carol, VerbMessage, Args{Text: "go go go"}))

	// Then the delivery is delayed for everyone but monitors and the author
	last := f.pub.chats[len(f.pub.chats)-1]
	req.Equal(30*time.Second, last.Delay)
	req.Equal(carol, *last.Author)
	req.Contains(last.Monitors, alice)

	texts := func(userID int64) []string {
		history, err := f.svc.History(ctx, key, domain.UserActor(userID), nil)
		req.NoError(err)
		var out []string
		for _, m := range history {
			out = append(out, m.Message)
		}
		return out
	}
	req.NotContains(texts(bob), "go go go")
	req.Contains(texts(alice), "go go go")
	req.Contains(texts(carol), "go go go")

	// And everyone sees it once the delay elapsed
	f.clock.Advance(30 * time.Second)
	req.Contains(texts(bob), "go go go")
}

func TestRoom_ChatModeration(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	key := f.open(t, alice, nil)
	req.NoError(f.act(key, bob, VerbMessage, Args{Text: "hello"}))
	req.NoError(f.act(key, carol, VerbMessage, Args{Text: "spam"}))
	messages := lo.Filter(f.messages(t, key), func(m domain.Message, _ int) bool { return m.Kind() == domain.MessageUser })
	req.Len(messages, 2)

	// When bob tries to pin and the opener pins then deletes
	err := f.act(key, bob, VerbPinMessage, Args{Message: messages[0].ID})
	req.Equal(errors.KindAuthorization, errors.KindOf(err))
	req.NoError(f.act(key, alice, VerbPinMessage, Args{Message: messages[0].ID}))
	req.NoError(f.act(key, alice, VerbDeleteMessage, Args{Message: messages[1].ID}))

	// Then
	after := f.messages(t, key)
	pinned, _ := lo.Find(after, func(m domain.Message) bool { return m.ID == messages[0].ID })
	deleted, _ := lo.Find(after, func(m domain.Message) bool { return m.ID == messages[1].ID })
	req.True(pinned.Pinned)
	req.True(deleted.Deleted)
	req.Equal(alice, *deleted.DeletedBy)
	req.Contains(f.pub.deletes, messages[1].ID)

	// And a purge removes what is left of bob
	req.NoError(f.act(key, alice, VerbPurgeUser, Args{User: bob}))
	purged, _ := lo.Find(f.messages(t, key), func(m domain.Message) bool { return m.ID == messages[0].ID })
	req.True(purged.Deleted)
}

func TestRoom_SetInfoAndMeta(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	key := f.open(t, alice, nil)

	// When the opener sets the race info
	info := "Seed 1234"
	req.NoError(f.act(key, alice, VerbSetInfo, Args{InfoUser: &info}))

	// Then
	req.Equal("Seed 1234", f.race(t, key).InfoUser)

	// And users cannot set bot info or meta
	err := f.act(key, alice, VerbSetInfo, Args{InfoBot: &info})
	req.Equal(errors.KindAuthorization, errors.KindOf(err))
	err = f.act(key, alice, VerbSetMeta, Args{Meta: map[string]json.RawMessage{"seed": json.RawMessage(`1`)}})
	req.Equal(errors.KindAuthorization, errors.KindOf(err))
}

func TestRoom_OneOpenRoomPerUser(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.open(t, alice, nil)

	// When alice opens a second room
	_, err := f.svc.Open(context.Background(), domain.UserActor(alice), "smw", DefaultParams("Any%"))

	// Then
	req.Equal(errors.KindBadState, errors.KindOf(err))

	// And moderators are not limited
	f.open(t, owner, nil)
	f.open(t, owner, nil)
}

func TestRoom_Open_Validation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	params := DefaultParams("Any%")
	params.StartDelay = 5 * time.Second
	_, err := f.svc.Open(ctx, domain.UserActor(alice), "smw", params)
	req.Equal(errors.KindValidation, errors.KindOf(err))

	params = DefaultParams("Any%")
	params.CustomGoal = "Beat the game blindfolded"
	_, err = f.svc.Open(ctx, domain.UserActor(alice), "smw", params)
	req.Equal(errors.KindValidation, errors.KindOf(err))

	params = DefaultParams("")
	params.CustomGoal = "Beat the game blindfolded"
	race, err := f.svc.Open(ctx, domain.UserActor(alice), "smw", params)
	req.NoError(err)
	req.True(race.IsCustomGoal())
	req.False(race.Ranked)
	req.False(race.Recordable)
	req.Regexp(`^[a-z]+-[a-z]+-\d{4}$`, race.Slug)
}

// takenTx reports every slug as taken.
type takenTx struct {
	contract.Tx
	draws int
}

func (t *takenTx) SlugTaken(string, string) (bool, error) {
	t.draws++
	return true, nil
}

func TestRoom_CreateRoom_SlugExhausted(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	tx := &takenTx{}

	// When every slug drawn is already taken
	err := f.svc.createRoom(tx, domain.Category{Slug: "smw"}, &domain.Race{Category: "smw"})

	// Then the first draw and 99 redraws were tried before giving up
	req.ErrorIs(err, errors.ErrSlugExhausted)
	req.Equal(100, tx.draws)
}
