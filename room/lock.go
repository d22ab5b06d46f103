package room

import (
	"context"
	"race-lab/errors"
	"sync"
	"time"
)

// Locks serialises the writers of each room. Waiters are served in arrival
// order and give up after the timeout.
type Locks struct {
	mu      sync.Mutex
	rooms   map[string]*roomLock
	timeout time.Duration
}

type roomLock struct {
	slot chan struct{}
	refs int
}

func NewLocks(timeout time.Duration) *Locks {
	return &Locks{rooms: make(map[string]*roomLock), timeout: timeout}
}

// Acquire blocks until the room is free. The returned func releases it.
func (l *Locks) Acquire(ctx context.Context, room string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.rooms[room]
	if !ok {
		lock = &roomLock{slot: make(chan struct{}, 1)}
		l.rooms[room] = lock
	}
	lock.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case lock.slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lock.slot
				l.unref(room, lock)
			})
		}, nil
	case <-timer.C:
		l.unref(room, lock)
		return nil, errors.ErrRoomBusy
	case <-ctx.Done():
		l.unref(room, lock)
		return nil, errors.ErrShuttingDown
	}
}

func (l *Locks) unref(room string, lock *roomLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.rooms, room)
	}
}

func (l *Locks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}
