package repositories

import (
	"fmt"
	"race-lab/domain"
	"race-lab/errors"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// GUIDWindow is how long an accepted action GUID is remembered.
const GUIDWindow = 5 * time.Minute

// msgKey is formatted as "msg:{race}:{posted_at_padded}:{id}" so that a
// prefix scan returns the messages of a race in chronological order. The
// id breaks ties between messages posted in the same nanosecond.
func msgKey(m domain.Message) string {
	return fmt.Sprintf("msg:%019d:%019d:%019d", m.RaceID, m.PostedAt.UnixNano(), m.ID)
}

func msgPrefix(raceID int64) string { return fmt.Sprintf("msg:%019d:", raceID) }

func msgIDKey(id int64) string { return fmt.Sprintf("msgid:%019d", id) }

func guidKey(raceID int64, guid string) string { return fmt.Sprintf("guid:%019d:%s", raceID, guid) }

func (t *tx) InsertMessage(m *domain.Message) error {
	id, err := t.store.nextID("message")
	if err != nil {
		return err
	}
	m.ID = id
	key := msgKey(*m)
	if err := t.set(key, *m); err != nil {
		return err
	}
	return t.set(msgIDKey(id), key)
}

// UpdateMessage rewrites a stored message in place. PostedAt must not change.
func (t *tx) UpdateMessage(m domain.Message) error {
	var key string
	if err := t.get(msgIDKey(m.ID), &key); err != nil {
		return notFound(err, "message %d not found", m.ID)
	}
	if key != msgKey(m) {
		return errors.Fatal(nil, "message %d moved in time", m.ID)
	}
	return t.set(key, m)
}

func (t *tx) Message(id int64) (domain.Message, error) {
	var key string
	if err := t.get(msgIDKey(id), &key); err != nil {
		return domain.Message{}, notFound(err, "message %d not found", id)
	}
	var m domain.Message
	if err := t.get(key, &m); err != nil {
		return domain.Message{}, notFound(err, "message %d not found", id)
	}
	return m, nil
}

// RaceMessages returns every message of a race, deleted ones included,
// oldest first.
func (t *tx) RaceMessages(raceID int64) ([]domain.Message, error) {
	var out []domain.Message
	err := t.scan(msgPrefix(raceID), false, func(_ string, val []byte) (bool, error) {
		var m domain.Message
		if err := decMode.Unmarshal(val, &m); err != nil {
			return false, err
		}
		out = append(out, m)
		return true, nil
	})
	return out, err
}

// History walks the race messages backwards from the newest one until it
// reaches the cursor or collected limit non-pinned messages. Pinned
// messages are always appended, whatever their age.
func (t *tx) History(raceID int64, after *int64, limit int) ([]domain.Message, error) {
	var stopKey string
	if after != nil {
		if err := t.get(msgIDKey(*after), &stopKey); err != nil {
			return nil, notFound(err, "message %d not found", *after)
		}
	}
	var recent, pinned []domain.Message
	err := t.scan(msgPrefix(raceID), true, func(key string, val []byte) (bool, error) {
		var m domain.Message
		if err := decMode.Unmarshal(val, &m); err != nil {
			return false, err
		}
		if m.Deleted {
			return true, nil
		}
		if m.Pinned {
			pinned = append(pinned, m)
			return true, nil
		}
		if stopKey != "" && key <= stopKey {
			return true, nil
		}
		if len(recent) < limit {
			recent = append(recent, m)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(recent)
	slices.Reverse(pinned)
	return append(recent, pinned...), nil
}

// SeenGUID reports whether the GUID was accepted within GUIDWindow of now.
// Entries expire on their own, the timestamp check keeps injected clocks
// honest.
func (t *tx) SeenGUID(raceID int64, guid string, now time.Time) (bool, error) {
	var at time.Time
	err := t.get(guidKey(raceID, guid), &at)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup guid %s: %w", guid, err)
	}
	return now.Sub(at) < GUIDWindow, nil
}

func (t *tx) RememberGUID(raceID int64, guid string, now time.Time) error {
	b, err := encMode.Marshal(now)
	if err != nil {
		return err
	}
	return t.txn.SetEntry(badger.NewEntry([]byte(guidKey(raceID, guid)), b).WithTTL(GUIDWindow))
}
