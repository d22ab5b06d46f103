package runtime

import (
	"log/slog"
	"race-lab/clock"
	"race-lab/contract"
	"race-lab/domain/event"
	"sync"
	"time"
)

var _ contract.Broadcaster = (*Hub)(nil)

type snapshot struct {
	version uint64
	data    event.Event
	renders event.Event
}

// Hub fans room events out to the subscribers of each race.
//
// Every subscriber has its own bounded queue. A send that cannot complete
// within the send deadline drops the subscriber, never the event for the
// others. race.data and race.renders reach a subscriber in strictly
// increasing version order.
type Hub struct {
	log          *slog.Logger
	registry     *Registry
	clock        clock.Clock
	sendDeadline time.Duration

	mu      sync.Mutex
	latest  map[int64]snapshot
	pending map[int64]clock.Timer // delayed chat by message id
}

func NewHub(log *slog.Logger, registry *Registry, clk clock.Clock, sendDeadline time.Duration) *Hub {
	return &Hub{
		log:          log,
		registry:     registry,
		clock:        clk,
		sendDeadline: sendDeadline,
		latest:       make(map[int64]snapshot),
		pending:      make(map[int64]clock.Timer),
	}
}

// Subscribe attaches sub to its race and queues the freshest snapshot
// known, either the cached one or the one given by the caller.
func (h *Hub) Subscribe(sub *Subscriber, version uint64, data, renders event.Event) {
	h.mu.Lock()
	if cur, ok := h.latest[sub.RaceID]; !ok || version > cur.version {
		h.latest[sub.RaceID] = snapshot{version: version, data: data, renders: renders}
	}
	snap := h.latest[sub.RaceID]
	h.registry.Subscribe(sub)
	h.mu.Unlock()

	h.log.Debug("Subscriber attached", "race", sub.RaceID, "subscriber", sub.ID)
	h.deliverRace(sub, snap)
}

// Unsubscribe detaches a subscriber. The cached snapshot of a race nobody
// watches anymore is forgotten.
func (h *Hub) Unsubscribe(id string) {
	sub, ok := h.registry.Unsubscribe(id)
	if !ok {
		return
	}
	sub.close()
	h.mu.Lock()
	if len(h.registry.SubscribersOf(sub.RaceID)) == 0 {
		delete(h.latest, sub.RaceID)
	}
	h.mu.Unlock()
	h.log.Debug("Subscriber detached", "race", sub.RaceID, "subscriber", id)
}

func (h *Hub) PublishRace(raceID int64, version uint64, data event.Event, renders event.Event) {
	h.mu.Lock()
	if cur, ok := h.latest[raceID]; ok && cur.version >= version {
		h.mu.Unlock()
		h.log.Debug("Stale race update skipped", "race", raceID, "version", version, "latest", cur.version)
		return
	}
	snap := snapshot{version: version, data: data, renders: renders}
	h.latest[raceID] = snap
	subs := h.registry.SubscribersOf(raceID)
	h.mu.Unlock()

	for _, sub := range subs {
		h.deliverRace(sub, snap)
	}
}

func (h *Hub) PublishChat(d contract.ChatDelivery) {
	got := make(Set)
	for _, sub := range h.registry.SubscribersOf(d.RaceID) {
		switch {
		case d.DirectTo != nil:
			if !sub.is(d.DirectTo) && !sub.is(d.Author) {
				continue
			}
		case d.Delay > 0 && !sub.Monitor && !sub.is(d.Author) && !sub.in(d.Monitors):
			continue
		}
		got[sub.ID] = struct{}{}
		h.send(sub, d.Event)
	}
	if d.DirectTo != nil || d.Delay <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending[d.MessageID] = h.clock.AfterFunc(d.Delay, func() {
		h.mu.Lock()
		delete(h.pending, d.MessageID)
		h.mu.Unlock()
		for _, sub := range h.registry.SubscribersOf(d.RaceID) {
			if _, ok := got[sub.ID]; !ok {
				h.send(sub, d.Event)
			}
		}
	})
}

func (h *Hub) PublishDelete(raceID, messageID int64, evt event.Event) {
	h.mu.Lock()
	if timer, ok := h.pending[messageID]; ok {
		timer.Stop()
		delete(h.pending, messageID)
		h.log.Debug("Delayed message suppressed", "race", raceID, "message", messageID)
	}
	h.mu.Unlock()
	if evt.Type == "" {
		return
	}
	h.Publish(raceID, evt)
}

func (h *Hub) Publish(raceID int64, evt event.Event) {
	for _, sub := range h.registry.SubscribersOf(raceID) {
		h.send(sub, evt)
	}
}

// SendTo queues evt for a single subscriber, e.g. an error or a history
// reply meant for the caller only.
func (h *Hub) SendTo(id string, evt event.Event) {
	if sub, ok := h.registry.Get(id); ok {
		h.send(sub, evt)
	}
}

// Close stops every pending delayed delivery and drops all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, timer := range h.pending {
		timer.Stop()
		delete(h.pending, id)
	}
	h.mu.Unlock()
	for raceID := range h.registry.Watched() {
		for _, sub := range h.registry.SubscribersOf(raceID) {
			h.Unsubscribe(sub.ID)
		}
	}
}

func (h *Hub) deliverRace(sub *Subscriber, snap snapshot) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if snap.version <= sub.version {
		return
	}
	sub.version = snap.version
	if h.send(sub, snap.data) {
		h.send(sub, snap.renders)
	}
}

// send reports whether evt was queued. A subscriber whose queue stays full
// for the whole send deadline is dropped.
func (h *Hub) send(sub *Subscriber, evt event.Event) bool {
	select {
	case <-sub.done:
		return false
	case sub.out <- evt:
		return true
	default:
	}

	timer := time.NewTimer(h.sendDeadline)
	defer timer.Stop()
	select {
	case <-sub.done:
		return false
	case sub.out <- evt:
		return true
	case <-timer.C:
		h.log.Warn("Subscriber too slow, dropping it", "race", sub.RaceID, "subscriber", sub.ID, "event", evt.Type)
		h.Unsubscribe(sub.ID)
		return false
	}
}
