//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"race-lab/domain/event"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// StreamStatus is what a provider knows about one external account.
type StreamStatus struct {
	Live        bool
	DisplayName string
}

// StreamProbe asks a streaming provider which accounts are live.
// A failed call fails as a whole, never per account.
type StreamProbe interface {
	Name() string
	Live(ctx context.Context, accountIDs []string) (map[string]StreamStatus, error)
}

// Liveness tells whether a supervisor instance still runs.
type Liveness interface {
	Alive(ctx context.Context, pid int) (bool, error)
}

// ChatDelivery describes how a chat message reaches the subscribers of a
// room. Monitors and the author get it at once, others after Delay.
type ChatDelivery struct {
	RaceID    int64
	MessageID int64
	Event     event.Event
	Delay     time.Duration
	Author    *int64
	Monitors  []int64
	DirectTo  *int64
}

// Broadcaster fans room events out to subscribers.
type Broadcaster interface {
	PublishRace(raceID int64, version uint64, data event.Event, renders event.Event)
	PublishChat(delivery ChatDelivery)
	// PublishDelete drops any pending delayed delivery of messageID, then
	// broadcasts evt unless it has no type.
	PublishDelete(raceID, messageID int64, evt event.Event)
	Publish(raceID int64, evt event.Event)
}
