// Package ws serves race rooms over websockets: every connection is a hub
// subscriber and its inbound frames are room actions.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"race-lab/auth"
	"race-lab/clock"
	"race-lab/domain"
	"race-lab/domain/event"
	"race-lab/errors"
	"race-lab/room"
	"race-lab/runtime"
	"race-lab/services"
	"time"

	"github.com/gorilla/websocket"
)

const (
	RacePath = "/ws/race/{category}/{slug}"

	pingInterval = 30 * time.Second
	pongWait     = 40 * time.Second
	writeWait    = 10 * time.Second
	readLimit    = 64 * 1024
)

type Server struct {
	log        *slog.Logger
	hub        *runtime.Hub
	rooms      *room.Service
	dispatcher *services.Dispatcher
	tokens     *auth.Tokens
	clock      clock.Clock
	buffer     int
	upgrader   websocket.Upgrader
}

func NewServer(
	log *slog.Logger,
	hub *runtime.Hub,
	rooms *room.Service,
	dispatcher *services.Dispatcher,
	tokens *auth.Tokens,
	clk clock.Clock,
	buffer int,
) *Server {
	return &Server{
		log:        log,
		hub:        hub,
		rooms:      rooms,
		dispatcher: dispatcher,
		tokens:     tokens,
		clock:      clk,
		buffer:     buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+RacePath, s.serveRace)
	return mux
}

// serveRace attaches the caller to a room. Anonymous callers may watch
// but every action they send is refused by the room.
func (s *Server) serveRace(w http.ResponseWriter, r *http.Request) {
	key := domain.RaceKey{Category: r.PathValue("category"), Slug: r.PathValue("slug")}
	actor, err := s.tokens.FromRequest(r)
	if err != nil {
		http.Error(w, errors.Message(err), http.StatusUnauthorized)
		return
	}
	raceID, version, data, renders, err := s.rooms.RaceEvents(r.Context(), key)
	if err != nil {
		s.httpError(w, key, err)
		return
	}
	monitor, err := s.rooms.CanMonitor(r.Context(), key, actor)
	if err != nil {
		s.httpError(w, key, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "race", key.String(), "error", err)
		return
	}
	defer conn.Close()

	sub := runtime.NewSubscriber(raceID, actor.UserID, monitor, s.buffer)
	s.hub.Subscribe(sub, version, data, renders)
	defer s.hub.Unsubscribe(sub.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errChan := make(chan error, 2)
	go func() { errChan <- s.readLoop(ctx, conn, key, actor, sub) }()
	go func() { errChan <- s.writeLoop(ctx, conn, sub) }()

	err = <-errChan
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Debug("Connection closed", "race", key.String(), "subscriber", sub.ID, "error", err)
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, key domain.RaceKey, actor domain.Actor, sub *runtime.Subscriber) error {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		reply, err := s.dispatcher.Dispatch(ctx, key, actor, raw)
		if err != nil {
			s.reportError(key, sub, err)
			continue
		}
		if reply != nil {
			s.hub.SendTo(sub.ID, *reply)
		}
	}
}

// reportError answers the caller alone. Internal failures are logged and
// surfaced as a generic message.
func (s *Server) reportError(key domain.RaceKey, sub *runtime.Subscriber, err error) {
	evt, ok := services.ErrorEvent(err, s.clock.Now())
	if !ok {
		s.log.Error("Action failed", "race", key.String(), "subscriber", sub.ID, "error", err)
		evt = event.New(event.ErrorType, s.clock.Now(), event.Error{Errors: []string{"something went wrong, please try again"}})
	}
	s.hub.SendTo(sub.ID, evt)
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sub *runtime.Subscriber) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(writeWait))
			return nil
		case evt := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func (s *Server) httpError(w http.ResponseWriter, key domain.RaceKey, err error) {
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		http.Error(w, errors.Message(err), http.StatusNotFound)
	case errors.KindAuthorization:
		http.Error(w, errors.Message(err), http.StatusForbidden)
	default:
		s.log.Error("Cannot attach to race", "race", key.String(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
