package repositories

import (
	"fmt"
	"race-lab/domain"
	"race-lab/errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func heartbeatKey(pid int) string { return fmt.Sprintf("heartbeat:%d", pid) }

// ClaimRoom compares the stored owner with 0 and sets pid. Two instances
// racing for the same room conflict at commit and only one wins.
func (t *tx) ClaimRoom(raceID int64, pid int) (bool, error) {
	var owner int
	err := t.get(activeKey(raceID), &owner)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim race %d: %w", raceID, err)
	}
	if owner == pid {
		return true, nil
	}
	if owner != 0 {
		return false, nil
	}
	return true, t.set(activeKey(raceID), pid)
}

func (t *tx) ReleaseRoom(raceID int64, pid int) error {
	var owner int
	err := t.get(activeKey(raceID), &owner)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release race %d: %w", raceID, err)
	}
	if owner != pid {
		return nil
	}
	return t.set(activeKey(raceID), 0)
}

func (t *tx) UnownedRooms(limit int) ([]int64, error) {
	var ids []int64
	err := t.scan("active:", false, func(key string, val []byte) (bool, error) {
		var pid int
		if err := decMode.Unmarshal(val, &pid); err != nil {
			return false, err
		}
		if pid != 0 {
			return true, nil
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(key, "active:"), 10, 64)
		if err != nil {
			return false, fmt.Errorf("malformed active key %q: %w", key, err)
		}
		ids = append(ids, id)
		return limit <= 0 || len(ids) < limit, nil
	})
	return ids, err
}

func (t *tx) OwnerPIDs() ([]int, error) {
	seen := make(map[int]bool)
	err := t.scan("active:", false, func(_ string, val []byte) (bool, error) {
		var pid int
		if err := decMode.Unmarshal(val, &pid); err != nil {
			return false, err
		}
		if pid != 0 {
			seen[pid] = true
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(seen))
	for pid := range seen {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	return pids, nil
}

func (t *tx) ReleaseOwner(pid int) (int, error) {
	var keys []string
	err := t.scan("active:", false, func(key string, val []byte) (bool, error) {
		var owner int
		if err := decMode.Unmarshal(val, &owner); err != nil {
			return false, err
		}
		if owner == pid {
			keys = append(keys, key)
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := t.set(key, 0); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (t *tx) SaveHeartbeat(hb domain.Heartbeat, ttl time.Duration) error {
	b, err := encMode.Marshal(hb)
	if err != nil {
		return err
	}
	return t.txn.SetEntry(badger.NewEntry([]byte(heartbeatKey(hb.PID)), b).WithTTL(ttl))
}

// Heartbeat returns nil once the last heartbeat of pid expired.
func (t *tx) Heartbeat(pid int) (*domain.Heartbeat, error) {
	var hb domain.Heartbeat
	err := t.get(heartbeatKey(pid), &hb)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("heartbeat of %d: %w", pid, err)
	}
	return &hb, nil
}
