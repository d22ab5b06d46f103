package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"race-lab/auth"
	"race-lab/clock"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/idcodec"
	"race-lab/repositories"
	"race-lab/room"
	"race-lab/runtime"
	"race-lab/services"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const (
	alice int64 = 1
	bob   int64 = 2
)

type frame struct {
	Type   string   `json:"type"`
	Errors []string `json:"errors"`
	Race   struct {
		Entrants []struct {
			User struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"entrants"`
	} `json:"race"`
}

type fixture struct {
	srv    *httptest.Server
	tokens *auth.Tokens
	rooms  *room.Service
	key    domain.RaceKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	clk := clock.Real()

	db, err := repositories.Open("")
	req.NoError(err)
	store := repositories.NewStore(db, log)
	t.Cleanup(func() {
		_ = store.Close()
		_ = db.Close()
	})

	codec, err := idcodec.New("ws-test-secret")
	req.NoError(err)
	hub := runtime.NewHub(log, runtime.NewRegistry(), clk, time.Second)
	words := domain.SlugWords{Adjectives: []string{"quick"}, Nouns: []string{"fox"}}
	rooms := room.NewService(log, store, hub, codec, clk, nil, words, time.Second)
	tokens, err := auth.NewTokens("ws-test-signing-secret", time.Hour, codec, clk)
	req.NoError(err)

	err = store.WithTx(context.Background(), func(tx contract.Tx) error {
		if err := tx.SaveCategory(domain.Category{Slug: "smw", Name: "Super Mario World", Active: true}); err != nil {
			return err
		}
		if err := tx.SaveGoal(&domain.Goal{Category: "smw", Name: "Any%", Active: true}); err != nil {
			return err
		}
		for id, name := range map[int64]string{alice: "alice", bob: "bob"} {
			if err := tx.SaveUser(&domain.User{ID: id, Name: name, Discriminator: "0001", Active: true}); err != nil {
				return err
			}
		}
		return nil
	})
	req.NoError(err)
	race, err := rooms.Open(context.Background(), domain.UserActor(alice), "smw", room.DefaultParams("Any%"))
	req.NoError(err)

	server := NewServer(log, hub, rooms, services.NewDispatcher(log, rooms, codec, clk), tokens, clk, 32)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &fixture{srv: srv, tokens: tokens, rooms: rooms, key: race.Key()}
}

func (f *fixture) dial(t *testing.T, key domain.RaceKey, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/race/" + key.Category + "/" + key.Slug
	if token != "" {
		url += "?token=" + token
	}
	return websocket.DefaultDialer.Dial(url, nil)
}

func (f *fixture) connect(t *testing.T, by *int64) *websocket.Conn {
	t.Helper()
	token := ""
	if by != nil {
		var err error
		token, err = f.tokens.Issue(domain.UserActor(*by))
		require.NoError(t, err)
	}
	conn, _, err := f.dial(t, f.key, token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// next reads frames until one of type typ arrives.
func next(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == typ {
			return f
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, action string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"action": action, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func TestServer_SnapshotOnConnect(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	conn := f.connect(t, nil)

	next(t, conn, "race.data")
	renders := next(t, conn, "race.renders")
	req.Equal("race.renders", renders.Type)
}

func TestServer_PingPong(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t, nil)

	send(t, conn, services.ActionPing, nil)

	next(t, conn, "pong")
}

func TestServer_AnonymousActionIsRefused(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	conn := f.connect(t, nil)

	send(t, conn, room.VerbJoin, nil)

	errFrame := next(t, conn, "error")
	req.Equal([]string{"you must be logged in to do that"}, errFrame.Errors)
}

func TestServer_JoinIsBroadcast(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	watcher := f.connect(t, nil)
	next(t, watcher, "race.data")
	user := bob
	player := f.connect(t, &user)

	// When bob joins over his own connection
	send(t, player, room.VerbJoin, nil)

	// Then the watcher sees him in the next race.data
	update := next(t, watcher, "race.data")
	req.Len(update.Race.Entrants, 1)
	req.Equal("bob", update.Race.Entrants[0].User.Name)
}

func TestServer_Rejects(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given an unknown race
	_, resp, err := f.dial(t, domain.RaceKey{Category: "smw", Slug: "no-such-race"}, "")
	req.Error(err)
	req.Equal(http.StatusNotFound, resp.StatusCode)

	// Given a forged token
	_, resp, err = f.dial(t, f.key, "forged")
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}
