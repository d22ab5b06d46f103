package repositories

import (
	"context"
	"log/slog"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("")
	require.NoError(t, err)
	store := NewStore(db, slog.Default())
	t.Cleanup(func() {
		_ = store.Close()
		_ = db.Close()
	})
	return store
}

func openRace(slug string, opener int64) *domain.Race {
	return &domain.Race{
		Category:   "smw",
		Slug:       slug,
		State:      domain.StateOpen,
		Goal:       &domain.GoalRef{ID: 1, Name: "Any%"},
		OpenedBy:   &opener,
		OpenedAt:   t0,
		StartDelay: 15 * time.Second,
		TimeLimit:  24 * time.Hour,
	}
}

func TestStore_CreateLoadSave(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	// Given a new race with one entrant
	race := openRace("odd-yoshi-1234", 1)
	race.Entrants = []domain.Entrant{{UserID: 1, State: domain.EntrantJoined, JoinedAt: t0}}
	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error { return tx.CreateRoom(race) }))
	req.Equal(int64(1), race.ID)
	req.Equal(uint64(1), race.Version)
	req.NotZero(race.Entrants[0].ID)

	// When a second entrant joins and the first leaves
	race.Entrants = []domain.Entrant{{UserID: 2, State: domain.EntrantJoined, JoinedAt: t0}}
	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error {
		v, err := tx.SaveRoom(race, 1)
		req.Equal(uint64(2), v)
		return err
	}))

	// Then the stored race reflects it
	var loaded *domain.Race
	req.NoError(store.View(ctx, func(tx contract.Tx) error {
		var err error
		loaded, err = tx.LoadRoom(domain.RaceKey{Category: "smw", Slug: "odd-yoshi-1234"})
		return err
	}))
	req.Equal(uint64(2), loaded.Version)
	req.Len(loaded.Entrants, 1)
	req.Equal(int64(2), loaded.Entrants[0].UserID)
	req.Nil(loaded.BotPID)
	req.Equal("Any%", loaded.GoalName())
}

func TestStore_SaveRoom_VersionMismatch(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	race := openRace("odd-yoshi-1234", 1)
	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error { return tx.CreateRoom(race) }))

	// When saving with a stale version
	err := store.WithTx(ctx, func(tx contract.Tx) error {
		_, err := tx.SaveRoom(race, 7)
		return err
	})

	// Then
	req.ErrorIs(err, errors.ErrVersionMismatch)
	req.Equal(errors.KindConflict, errors.KindOf(err))
}

func TestStore_CreateRoom_SlugTaken(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error { return tx.CreateRoom(openRace("odd-yoshi-1234", 1)) }))
	err := store.WithTx(ctx, func(tx contract.Tx) error { return tx.CreateRoom(openRace("odd-yoshi-1234", 2)) })
	req.Equal(errors.KindConflict, errors.KindOf(err))
}

func TestStore_ActiveEntry(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	race := openRace("odd-yoshi-1234", 1)
	race.Entrants = []domain.Entrant{{UserID: 5, State: domain.EntrantJoined, JoinedAt: t0}}
	other := openRace("big-koopa-0001", 2)
	other.Entrants = []domain.Entrant{{UserID: 6, State: domain.EntrantInvited, JoinedAt: t0}}
	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error {
		if err := tx.CreateRoom(race); err != nil {
			return err
		}
		return tx.CreateRoom(other)
	}))

	req.NoError(store.View(ctx, func(tx contract.Tx) error {
		// Then a joined user has an active entry
		key, err := tx.ActiveEntry(5, 0)
		req.NoError(err)
		req.Equal(&domain.RaceKey{Category: "smw", Slug: "odd-yoshi-1234"}, key)

		// Unless that race is excluded
		key, err = tx.ActiveEntry(5, race.ID)
		req.NoError(err)
		req.Nil(key)

		// And an invitation is not an entry
		key, err = tx.ActiveEntry(6, 0)
		req.NoError(err)
		req.Nil(key)

		rooms, err := tx.OpenRoomsBy(2)
		req.NoError(err)
		req.Len(rooms, 1)
		return nil
	}))
}

func TestStore_Ownership(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	a, b := openRace("odd-yoshi-1234", 1), openRace("big-koopa-0001", 2)
	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error {
		if err := tx.CreateRoom(a); err != nil {
			return err
		}
		return tx.CreateRoom(b)
	}))

	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error {
		ids, err := tx.UnownedRooms(0)
		req.NoError(err)
		req.Equal([]int64{a.ID, b.ID}, ids)

		// When instance 10 claims the first room
		ok, err := tx.ClaimRoom(a.ID, 10)
		req.NoError(err)
		req.True(ok)

		// Then instance 11 cannot take it
		ok, err = tx.ClaimRoom(a.ID, 11)
		req.NoError(err)
		req.False(ok)

		pids, err := tx.OwnerPIDs()
		req.NoError(err)
		req.Equal([]int{10}, pids)

		loaded, err := tx.LoadRoomByID(a.ID)
		req.NoError(err)
		req.Equal(10, *loaded.BotPID)

		// When instance 10 is declared dead
		n, err := tx.ReleaseOwner(10)
		req.NoError(err)
		req.Equal(1, n)

		ids, err = tx.UnownedRooms(1)
		req.NoError(err)
		req.Equal([]int64{a.ID}, ids)
		return nil
	}))
}

func TestStore_DoneRaceLeavesAdoptionIndex(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	race := openRace("odd-yoshi-1234", 1)
	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error { return tx.CreateRoom(race) }))

	cancelled := t0.Add(time.Minute)
	race.State = domain.StateCancelled
	race.CancelledAt = &cancelled
	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error {
		_, err := tx.SaveRoom(race, race.Version)
		return err
	}))

	req.NoError(store.View(ctx, func(tx contract.Tx) error {
		ids, err := tx.UnownedRooms(0)
		req.NoError(err)
		req.Empty(ids)
		ok, err := tx.ClaimRoom(race.ID, 10)
		req.NoError(err)
		req.False(ok)
		return nil
	}))
}

func TestStore_Messages_History(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()
	user := int64(3)

	// Given five messages, the second pinned and the fourth deleted
	var ids []int64
	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error {
		for i := 0; i < 5; i++ {
			m := &domain.Message{RaceID: 1, UserID: &user, PostedAt: t0.Add(time.Duration(i) * time.Second), Text: "gl"}
			m.Pinned = i == 1
			m.Deleted = i == 3
			if err := tx.InsertMessage(m); err != nil {
				return err
			}
			ids = append(ids, m.ID)
		}
		return nil
	}))

	req.NoError(store.View(ctx, func(tx contract.Tx) error {
		// When reading the whole history with a small limit
		history, err := tx.History(1, nil, 2)
		req.NoError(err)
		// Then the newest non-pinned messages come first, pinned last
		req.Equal([]int64{ids[2], ids[4], ids[1]}, messageIDs(history))

		// When reading after the third message
		history, err = tx.History(1, &ids[2], 100)
		req.NoError(err)
		req.Equal([]int64{ids[4], ids[1]}, messageIDs(history))

		all, err := tx.RaceMessages(1)
		req.NoError(err)
		req.Len(all, 5)
		return nil
	}))
}

func TestStore_UpdateMessage(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	m := &domain.Message{RaceID: 1, PostedAt: t0, Text: "Anonymous (abcd1234) joins."}
	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error { return tx.InsertMessage(m) }))

	m.Text = "Alice joins."
	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error { return tx.UpdateMessage(*m) }))

	req.NoError(store.View(ctx, func(tx contract.Tx) error {
		got, err := tx.Message(m.ID)
		req.NoError(err)
		req.Equal("Alice joins.", got.Text)
		_, err = tx.Message(999)
		req.Equal(errors.KindNotFound, errors.KindOf(err))
		return nil
	}))
}

func TestStore_GUID(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error { return tx.RememberGUID(1, "g-1", t0) }))

	req.NoError(store.View(ctx, func(tx contract.Tx) error {
		seen, err := tx.SeenGUID(1, "g-1", t0.Add(2*time.Second))
		req.NoError(err)
		req.True(seen)

		seen, err = tx.SeenGUID(1, "g-1", t0.Add(GUIDWindow))
		req.NoError(err)
		req.False(seen)

		seen, err = tx.SeenGUID(2, "g-1", t0)
		req.NoError(err)
		req.False(seen)
		return nil
	}))
}

func TestStore_AssignDiscriminator(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	// Given two users sharing a name and asking for the same discriminator
	alice := &domain.User{Name: "Alice", Discriminator: "0042"}
	other := &domain.User{Name: "alice", Discriminator: "0042"}
	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error {
		if err := tx.SaveUser(alice); err != nil {
			return err
		}
		return tx.SaveUser(other)
	}))

	// Then the first keeps it and the second gets a fresh one
	req.Equal("0042", alice.Discriminator)
	req.NotEqual("0042", other.Discriminator)
	req.Len(other.Discriminator, 4)

	// When the first user saves again, nothing changes
	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error { return tx.SaveUser(alice) }))
	req.Equal("0042", alice.Discriminator)
}

func TestStore_Directory(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()
	expires := t0.Add(time.Hour)

	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error {
		req.NoError(tx.SaveCategory(domain.Category{Slug: "smw", Name: "Super Mario World", Active: true}))
		g := &domain.Goal{Category: "smw", Name: "Any%", Active: true}
		req.NoError(tx.SaveGoal(g))
		again := &domain.Goal{Category: "smw", Name: "any%"}
		req.NoError(tx.SaveGoal(again))
		req.Equal(g.ID, again.ID)
		req.NoError(tx.SaveBan(domain.Ban{UserID: 1, ExpiresAt: &expires}))
		req.NoError(tx.SaveBan(domain.Ban{UserID: 1, Category: "smw"}))
		return nil
	}))

	req.NoError(store.View(ctx, func(tx contract.Tx) error {
		c, err := tx.Category("smw")
		req.NoError(err)
		req.Equal("Super Mario World", c.Name)
		g, err := tx.GoalByName("smw", "ANY%")
		req.NoError(err)
		req.Equal("smw", g.Category)
		bans, err := tx.Bans(1)
		req.NoError(err)
		req.Len(bans, 2)
		_, err = tx.Category("oot")
		req.Equal(errors.KindNotFound, errors.KindOf(err))
		return nil
	}))
}

func TestStore_Heartbeat(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	req.NoError(store.WithTx(ctx, func(tx contract.Tx) error {
		return tx.SaveHeartbeat(domain.Heartbeat{PID: 42, At: t0, RSS: 1024}, time.Minute)
	}))
	req.NoError(store.View(ctx, func(tx contract.Tx) error {
		hb, err := tx.Heartbeat(42)
		req.NoError(err)
		req.Equal(uint64(1024), hb.RSS)
		hb, err = tx.Heartbeat(43)
		req.NoError(err)
		req.Nil(hb)
		return nil
	}))
}

func TestStore_WithTx_CancelledContext(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.WithTx(ctx, func(tx contract.Tx) error { return nil })
	req.ErrorIs(err, errors.ErrShuttingDown)
}

func messageIDs(ms []domain.Message) []int64 {
	ids := make([]int64, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}
