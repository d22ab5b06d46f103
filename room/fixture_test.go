package room

import (
	"context"
	"log/slog"
	"race-lab/clock"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/domain/event"
	"race-lab/idcodec"
	"race-lab/mocks"
	"race-lab/repositories"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

const (
	alice int64 = 1
	bob   int64 = 2
	carol int64 = 3
	dave  int64 = 4
	erin  int64 = 5
	owner int64 = 100
)

var names = map[int64]string{alice: "alice", bob: "bob", carol: "carol", dave: "dave", erin: "erin", owner: "owner"}

// published records what the service handed to the broadcaster.
type published struct {
	mu       sync.Mutex
	versions map[int64][]uint64
	chats    []contract.ChatDelivery
	deletes  []int64
	events   []event.Event
}

func (p *published) chatTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var texts []string
	for _, d := range p.chats {
		texts = append(texts, d.Event.Payload.(event.ChatMessage).Message.Message)
	}
	return texts
}

type fixture struct {
	svc   *Service
	store *repositories.Store
	clock *clock.FakeClock
	pub   *published
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)

	db, err := repositories.Open("")
	req.NoError(err)
	store := repositories.NewStore(db, log)
	t.Cleanup(func() {
		_ = store.Close()
		_ = db.Close()
	})

	pub := &published{versions: make(map[int64][]uint64)}
	bc := mocks.NewMockBroadcaster(ctrl)
	bc.EXPECT().PublishRace(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Do(
		func(raceID int64, version uint64, _ event.Event, _ event.Event) {
			pub.mu.Lock()
			defer pub.mu.Unlock()
			pub.versions[raceID] = append(pub.versions[raceID], version)
		}).AnyTimes()
	bc.EXPECT().PublishChat(gomock.Any()).Do(
		func(d contract.ChatDelivery) {
			pub.mu.Lock()
			defer pub.mu.Unlock()
			pub.chats = append(pub.chats, d)
		}).AnyTimes()
	bc.EXPECT().PublishDelete(gomock.Any(), gomock.Any(), gomock.Any()).Do(
		func(_ int64, messageID int64, _ event.Event) {
			pub.mu.Lock()
			defer pub.mu.Unlock()
			pub.deletes = append(pub.deletes, messageID)
		}).AnyTimes()
	bc.EXPECT().Publish(gomock.Any(), gomock.Any()).Do(
		func(_ int64, evt event.Event) {
			pub.mu.Lock()
			defer pub.mu.Unlock()
			pub.events = append(pub.events, evt)
		}).AnyTimes()

	codec, err := idcodec.New("room-test-secret")
	req.NoError(err)
	clk := clock.Fake(t0)
	words := domain.SlugWords{
		Adjectives: []string{"quick", "lazy", "brave", "calm"},
		Nouns:      []string{"fox", "dog", "yoshi", "koopa"},
	}
	svc := NewService(log, store, bc, codec, clk, nil, words, time.Second)

	err = store.WithTx(context.Background(), func(tx contract.Tx) error {
		if err := tx.SaveCategory(domain.Category{
			Slug:   "smw",
			Name:   "Super Mario World",
			Owners: []int64{owner},
			Active: true,
		}); err != nil {
			return err
		}
		if err := tx.SaveGoal(&domain.Goal{Category: "smw", Name: "Any%", Active: true}); err != nil {
			return err
		}
		for id, name := range names {
			if err := tx.SaveUser(&domain.User{ID: id, Name: name, Discriminator: "0001", Active: true}); err != nil {
				return err
			}
		}
		return nil
	})
	req.NoError(err)
	return &fixture{svc: svc, store: store, clock: clk, pub: pub}
}

func (f *fixture) open(t *testing.T, by int64, mutate func(p *Params)) domain.RaceKey {
	t.Helper()
	params := DefaultParams("Any%")
	if mutate != nil {
		mutate(&params)
	}
	race, err := f.svc.Open(context.Background(), domain.UserActor(by), "smw", params)
	require.NoError(t, err)
	return race.Key()
}

func (f *fixture) act(key domain.RaceKey, by int64, verb string, args Args) error {
	return f.svc.Act(context.Background(), key, domain.UserActor(by), verb, args)
}

func (f *fixture) race(t *testing.T, key domain.RaceKey) *domain.Race {
	t.Helper()
	race, err := f.svc.Race(context.Background(), key)
	require.NoError(t, err)
	return race
}

func (f *fixture) messages(t *testing.T, key domain.RaceKey) []domain.Message {
	t.Helper()
	race := f.race(t, key)
	var messages []domain.Message
	err := f.store.View(context.Background(), func(tx contract.Tx) error {
		var err error
		messages, err = tx.RaceMessages(race.ID)
		return err
	})
	require.NoError(t, err)
	return messages
}

// start joins and readies users, begins the race and moves past the
// countdown.
func (f *fixture) start(t *testing.T, key domain.RaceKey, users ...int64) {
	t.Helper()
	req := require.New(t)
	for _, u := range users {
		req.NoError(f.act(key, u, VerbJoin, Args{}))
		req.NoError(f.act(key, u, VerbReady, Args{}))
	}
	req.NoError(f.svc.Begin(context.Background(), key))
	f.clock.Advance(f.race(t, key).StartDelay)
	req.NoError(f.svc.Start(context.Background(), key))
}
