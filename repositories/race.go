package repositories

import (
	"fmt"
	"race-lab/domain"
	"race-lab/errors"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

func raceKey(id int64) string { return fmt.Sprintf("race:%019d", id) }

func raceSlugKey(category, slug string) string {
	return fmt.Sprintf("raceslug:%s:%s", category, slug)
}

func entrantPrefix(raceID int64) string { return fmt.Sprintf("entrant:%019d:", raceID) }

func entrantKey(raceID, userID int64) string {
	return fmt.Sprintf("entrant:%019d:%019d", raceID, userID)
}

func userRacePrefix(userID int64) string { return fmt.Sprintf("userrace:%019d:", userID) }

func userRaceKey(userID, raceID int64) string {
	return fmt.Sprintf("userrace:%019d:%019d", userID, raceID)
}

// activeKey exists for every race that is not done. Its value is the pid
// of the owning supervisor, 0 when unowned.
func activeKey(raceID int64) string { return fmt.Sprintf("active:%019d", raceID) }

func rankingKey(category string, goalID, userID int64) string {
	return fmt.Sprintf("ranking:%s:%019d:%019d", category, goalID, userID)
}

func (t *tx) LoadRoom(key domain.RaceKey) (*domain.Race, error) {
	var id int64
	if err := t.get(raceSlugKey(key.Category, key.Slug), &id); err != nil {
		return nil, notFound(err, "race %s not found", key)
	}
	return t.LoadRoomByID(id)
}

func (t *tx) LoadRoomByID(id int64) (*domain.Race, error) {
	var race domain.Race
	if err := t.get(raceKey(id), &race); err != nil {
		return nil, notFound(err, "race %d not found", id)
	}
	race.Entrants = nil
	err := t.scan(entrantPrefix(id), false, func(_ string, val []byte) (bool, error) {
		var e domain.Entrant
		if err := decMode.Unmarshal(val, &e); err != nil {
			return false, err
		}
		race.Entrants = append(race.Entrants, e)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load entrants of race %d: %w", id, err)
	}
	race.BotPID = nil
	var pid int
	if err := t.get(activeKey(id), &pid); err == nil && pid != 0 {
		race.BotPID = &pid
	}
	return &race, nil
}

func (t *tx) CreateRoom(race *domain.Race) error {
	taken, err := t.SlugTaken(race.Category, race.Slug)
	if err != nil {
		return err
	}
	if taken {
		return &errors.Error{Kind: errors.KindConflict, Msg: fmt.Sprintf("race slug %s is taken", race.Key())}
	}
	if race.ID, err = t.store.nextID("race"); err != nil {
		return err
	}
	race.Version = 1
	if err := t.set(raceSlugKey(race.Category, race.Slug), race.ID); err != nil {
		return err
	}
	if err := t.writeRoom(race); err != nil {
		return err
	}
	if !race.State.IsDone() {
		return t.set(activeKey(race.ID), 0)
	}
	return nil
}

func (t *tx) NextEntrantID() (int64, error) { return t.store.nextID("entrant") }

func (t *tx) SaveRoom(race *domain.Race, expectedVersion uint64) (uint64, error) {
	var stored domain.Race
	if err := t.get(raceKey(race.ID), &stored); err != nil {
		return 0, notFound(err, "race %d not found", race.ID)
	}
	if stored.Version != expectedVersion {
		return 0, errors.ErrVersionMismatch
	}
	race.Version = expectedVersion + 1

	keep := make(map[string]bool, len(race.Entrants))
	for _, e := range race.Entrants {
		keep[entrantKey(race.ID, e.UserID)] = true
	}
	var stale []string
	err := t.scan(entrantPrefix(race.ID), false, func(key string, _ []byte) (bool, error) {
		if !keep[key] {
			stale = append(stale, key)
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	for _, key := range stale {
		userID, err := strconv.ParseInt(key[strings.LastIndexByte(key, ':')+1:], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed entrant key %q: %w", key, err)
		}
		if err := t.del(key); err != nil {
			return 0, err
		}
		if err := t.del(userRaceKey(userID, race.ID)); err != nil {
			return 0, err
		}
	}

	if err := t.writeRoom(race); err != nil {
		return 0, err
	}
	active, err := t.exists(activeKey(race.ID))
	if err != nil {
		return 0, err
	}
	switch {
	case race.State.IsDone() && active:
		if err := t.del(activeKey(race.ID)); err != nil {
			return 0, err
		}
	case !race.State.IsDone() && !active:
		// A reopened race goes back up for adoption.
		if err := t.set(activeKey(race.ID), 0); err != nil {
			return 0, err
		}
	}
	return race.Version, nil
}

// writeRoom stores the race record and every entrant. Ownership lives in
// the active key and is never written from here.
func (t *tx) writeRoom(race *domain.Race) error {
	if err := race.Validate(); err != nil {
		return errors.Fatal(err, "refusing to store an invalid race")
	}
	record := *race
	record.Entrants = nil
	record.BotPID = nil
	if err := t.set(raceKey(race.ID), record); err != nil {
		return err
	}
	for i := range race.Entrants {
		e := &race.Entrants[i]
		if e.ID == 0 {
			id, err := t.store.nextID("entrant")
			if err != nil {
				return err
			}
			e.ID = id
		}
		e.RaceID = race.ID
		if err := t.set(entrantKey(race.ID, e.UserID), *e); err != nil {
			return err
		}
		if err := t.set(userRaceKey(e.UserID, race.ID), e.State); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) SlugTaken(category, slug string) (bool, error) {
	return t.exists(raceSlugKey(category, slug))
}

func (t *tx) ActiveEntry(userID int64, except int64) (*domain.RaceKey, error) {
	var found *domain.RaceKey
	err := t.scan(userRacePrefix(userID), false, func(key string, val []byte) (bool, error) {
		var state domain.EntrantState
		if err := decMode.Unmarshal(val, &state); err != nil {
			return false, err
		}
		if state != domain.EntrantJoined {
			return true, nil
		}
		raceID, err := strconv.ParseInt(key[strings.LastIndexByte(key, ':')+1:], 10, 64)
		if err != nil {
			return false, fmt.Errorf("malformed entry key %q: %w", key, err)
		}
		if raceID == except {
			return true, nil
		}
		if ok, err := t.exists(activeKey(raceID)); err != nil || !ok {
			return err == nil, err
		}
		var e domain.Entrant
		if err := t.get(entrantKey(raceID, userID), &e); err != nil {
			return false, err
		}
		if !e.IsRunning() {
			return true, nil
		}
		var race domain.Race
		if err := t.get(raceKey(raceID), &race); err != nil {
			return false, err
		}
		key2 := race.Key()
		found = &key2
		return false, nil
	})
	return found, err
}

func (t *tx) OpenRoomsBy(userID int64) ([]domain.RaceKey, error) {
	var keys []domain.RaceKey
	err := t.activeRaces(func(race domain.Race, _ int) error {
		if race.OpenedBy != nil && *race.OpenedBy == userID {
			keys = append(keys, race.Key())
		}
		return nil
	})
	return keys, err
}

// activeRaces visits the record of every race that is not done along with
// its owner pid.
func (t *tx) activeRaces(fn func(race domain.Race, pid int) error) error {
	var ids []int64
	var pids []int
	err := t.scan("active:", false, func(key string, val []byte) (bool, error) {
		id, err := strconv.ParseInt(strings.TrimPrefix(key, "active:"), 10, 64)
		if err != nil {
			return false, fmt.Errorf("malformed active key %q: %w", key, err)
		}
		var pid int
		if err := decMode.Unmarshal(val, &pid); err != nil {
			return false, err
		}
		ids = append(ids, id)
		pids = append(pids, pid)
		return true, nil
	})
	if err != nil {
		return err
	}
	for i, id := range ids {
		var race domain.Race
		if err := t.get(raceKey(id), &race); err != nil {
			return notFound(err, "race %d not found", id)
		}
		if err := fn(race, pids[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) ListRooms(category string, includeDone bool) ([]domain.Race, error) {
	var ids []int64
	prefix := "raceslug:"
	if category != "" {
		prefix = raceSlugKey(category, "")
	}
	err := t.scan(prefix, false, func(_ string, val []byte) (bool, error) {
		var id int64
		if err := decMode.Unmarshal(val, &id); err != nil {
			return false, err
		}
		ids = append(ids, id)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	var races []domain.Race
	for _, id := range ids {
		race, err := t.LoadRoomByID(id)
		if err != nil {
			return nil, err
		}
		if race.State.IsDone() && !includeDone {
			continue
		}
		races = append(races, *race)
	}
	return races, nil
}

func (t *tx) Ranking(userID int64, category string, goalID int64) (*domain.UserRanking, error) {
	var r domain.UserRanking
	err := t.get(rankingKey(category, goalID, userID), &r)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ranking of user %d: %w", userID, err)
	}
	return &r, nil
}

func (t *tx) SaveRanking(r domain.UserRanking) error {
	return t.set(rankingKey(r.Category, r.GoalID, r.UserID), r)
}
