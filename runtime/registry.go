package runtime

import (
	"sync"
)

type Set map[string]struct{}

type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Subscriber // map subscriber id -> Subscriber
	roomMembers map[int64]Set          // map race id to subscriber ids
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string]*Subscriber),
		roomMembers: make(map[int64]Set),
	}
}

// SubscribersOf returns every subscriber currently attached to a race, or
// nil when nobody watches it.
func (r *Registry) SubscribersOf(raceID int64) []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[raceID]
	if !ok {
		return nil
	}
	subs := make([]*Subscriber, 0, len(members))
	for id := range members {
		if sub, exists := r.sessions[id]; exists {
			subs = append(subs, sub)
		}
	}
	return subs
}

// Get returns the subscriber registered under id.
func (r *Registry) Get(id string) (*Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.sessions[id]
	return sub, ok
}

// Subscribe registers a subscriber under its race. The race entry is
// created on the fly.
func (r *Registry) Subscribe(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sub.ID] = sub
	if _, ok := r.roomMembers[sub.RaceID]; !ok {
		r.roomMembers[sub.RaceID] = make(Set)
	}
	r.roomMembers[sub.RaceID][sub.ID] = struct{}{}
}

// Unsubscribe removes a subscriber and reports whether it was registered.
// Races left without subscribers are forgotten.
func (r *Registry) Unsubscribe(id string) (*Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	if members, ok := r.roomMembers[sub.RaceID]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.roomMembers, sub.RaceID)
		}
	}
	return sub, true
}

// Watched reports how many subscribers each race has.
func (r *Registry) Watched() map[int64]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[int64]int, len(r.roomMembers))
	for raceID, members := range r.roomMembers {
		counts[raceID] = len(members)
	}
	return counts
}
