package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Subscribe_One_Race_One_Subscriber(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sub := NewSubscriber(1, nil, false, 1)

	// Given nobody watches any race
	req.Empty(registry.sessions)
	req.Empty(registry.roomMembers)

	// When a subscriber attaches to race 1
	registry.Subscribe(sub)

	// Then
	req.Len(registry.sessions, 1)
	req.Equal(sub, registry.sessions[sub.ID])
	req.Contains(registry.roomMembers[1], sub.ID)
	req.Equal([]*Subscriber{sub}, registry.SubscribersOf(1))
	req.Equal(map[int64]int{1: 1}, registry.Watched())
}

func TestRegistry_Subscribe_One_Race_Multiple_Subscribers(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sub1 := NewSubscriber(1, nil, false, 1)
	sub2 := NewSubscriber(1, nil, false, 1)

	// When subscribers attach to the same race
	registry.Subscribe(sub1)
	registry.Subscribe(sub2)

	// Then
	req.Len(registry.sessions, 2)
	req.Len(registry.roomMembers[1], 2)
	req.ElementsMatch([]*Subscriber{sub1, sub2}, registry.SubscribersOf(1))
	req.Nil(registry.SubscribersOf(2))
}

func TestRegistry_Unsubscribe_Last_Subscriber(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sub := NewSubscriber(1, nil, false, 1)

	// Given a subscriber watches race 1
	registry.Subscribe(sub)

	// When it leaves
	removed, ok := registry.Unsubscribe(sub.ID)

	// Then the race is forgotten
	req.True(ok)
	req.Equal(sub, removed)
	req.Empty(registry.sessions)
	req.Empty(registry.roomMembers)
	req.Nil(registry.SubscribersOf(1))

	// And leaving twice is a no-op
	_, ok = registry.Unsubscribe(sub.ID)
	req.False(ok)
}

func TestRegistry_Unsubscribe_One_Of_Many(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sub1 := NewSubscriber(1, nil, false, 1)
	sub2 := NewSubscriber(1, nil, false, 1)
	registry.Subscribe(sub1)
	registry.Subscribe(sub2)

	// When one subscriber leaves
	registry.Unsubscribe(sub1.ID)

	// Then only the other is left
	req.Len(registry.sessions, 1)
	req.Equal([]*Subscriber{sub2}, registry.SubscribersOf(1))
	_, ok := registry.Get(sub1.ID)
	req.False(ok)
}
