package runtime

import (
	"race-lab/domain/event"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Subscriber is one observer of a race. The transport drains Events until
// Done is closed.
type Subscriber struct {
	ID     string
	RaceID int64
	// UserID is nil for anonymous observers.
	UserID *int64
	// Monitor subscribers see delayed chat at once.
	Monitor bool

	out     chan event.Event
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	version uint64
}

func NewSubscriber(raceID int64, userID *int64, monitor bool, buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscriber{
		ID:      uuid.NewString(),
		RaceID:  raceID,
		UserID:  userID,
		Monitor: monitor,
		out:     make(chan event.Event, buffer),
		done:    make(chan struct{}),
	}
}

func (s *Subscriber) Events() <-chan event.Event { return s.out }

// Done is closed once the hub dropped the subscriber.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() { s.once.Do(func() { close(s.done) }) }

func (s *Subscriber) is(userID *int64) bool {
	return userID != nil && s.UserID != nil && *s.UserID == *userID
}

func (s *Subscriber) in(userIDs []int64) bool {
	return s.UserID != nil && lo.Contains(userIDs, *s.UserID)
}
