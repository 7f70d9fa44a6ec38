// Package ws runs one Session per connected websocket client. A session
// verifies the game, seats the user if needed, subscribes to the game's room
// and then keeps three loops going: a reader for inbound actions, a writer
// for outbound frames and a relay feeding room broadcasts to the writer. The
// first loop to stop tears the whole connection down.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/conclave-mtg/conclave-api/internal/comm"
	"github.com/conclave-mtg/conclave-api/internal/conclave/apperr"
	"github.com/conclave-mtg/conclave-api/internal/conclave/hub"
	"github.com/conclave-mtg/conclave-api/internal/conclave/models"
)

const writeWait = 10 * time.Second

// GameService is the slice of the service layer a session dispatches into.
type GameService interface {
	GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error)
	EnsureSeated(ctx context.Context, gameID uuid.UUID, userID string) (*models.Player, bool, error)
	Snapshot(ctx context.Context, gameID uuid.UUID) (comm.Event, error)
	UpdateLife(ctx context.Context, gameID, playerID uuid.UUID, changeAmount int) (*models.Player, error)
	JoinGame(ctx context.Context, gameID uuid.UUID, userID string) (*models.Player, error)
	LeaveGame(ctx context.Context, gameID uuid.UUID, userID string) error
	EndGame(ctx context.Context, gameID uuid.UUID, winnerPlayerID *uuid.UUID) (*models.Game, error)
	UpdateCommanderDamage(ctx context.Context, gameID uuid.UUID, req models.UpdateCommanderDamageRequest) (*models.CommanderDamage, error)
	TogglePartner(ctx context.Context, gameID, playerID uuid.UUID, enable bool) error
}

type Session struct {
	gameID uuid.UUID
	userID string
	conn   *websocket.Conn
	svc    GameService
	hub    *hub.Hub

	out       chan comm.Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(gameID uuid.UUID, userID string, conn *websocket.Conn, svc GameService, h *hub.Hub) *Session {
	return &Session{
		gameID: gameID,
		userID: userID,
		conn:   conn,
		svc:    svc,
		hub:    h,
		out:    make(chan comm.Event, 32),
		done:   make(chan struct{}),
	}
}

// Run drives the session to completion and returns once the connection is
// fully torn down. Cleanup runs exactly once no matter which loop exits
// first.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	// Verifying: the game must exist and still be running.
	game, err := s.svc.GetGame(ctx, s.gameID)
	if err != nil {
		s.writeDirect(comm.NewError(s.gameID, apperr.PublicMessage(err)))
		return
	}
	if game.Status != models.GameStatusActive {
		s.writeDirect(comm.NewError(s.gameID, "game is not active"))
		return
	}

	// Attaching: a websocket connect doubles as a join for unseated users.
	if _, joined, err := s.svc.EnsureSeated(ctx, s.gameID, s.userID); err != nil {
		s.writeDirect(comm.NewError(s.gameID, apperr.PublicMessage(err)))
		return
	} else if joined {
		log.Infof("user %s implicitly joined game %s on connect", s.userID, s.gameID)
	}

	sub := s.hub.Subscribe(s.gameID)
	defer sub.Cancel()

	// Streaming: announce the full state to the room so every client,
	// including this one, starts from the same snapshot.
	if snap, err := s.svc.Snapshot(ctx, s.gameID); err == nil {
		if err := s.hub.Publish(s.gameID, snap); err != nil {
			log.Errorf("failed to publish snapshot for game %s: %v", s.gameID, err)
		}
	} else {
		log.Errorf("failed to build snapshot for game %s: %v", s.gameID, err)
	}

	go s.writer()
	go s.relay(sub)
	go s.reader(ctx)

	<-s.done
	log.Infof("session closed for user %s on game %s", s.userID, s.gameID)
}

// teardown converges every exit path on a single close.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		// Unblocks the reader, which waits on the socket.
		s.conn.Close()
	})
}

// send queues a frame for the writer unless the session is closing.
func (s *Session) send(event comm.Event) {
	select {
	case s.out <- event:
	case <-s.done:
	}
}

// writeDirect is for frames sent before the writer loop exists.
func (s *Session) writeDirect(event comm.Event) {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(event); err != nil {
		log.Debugf("failed to write frame: %v", err)
	}
}

func (s *Session) writer() {
	defer s.teardown()
	for {
		select {
		case event := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(event); err != nil {
				log.Debugf("write failed for user %s: %v", s.userID, err)
				return
			}
		case <-s.done:
			return
		}
	}
}

// relay forwards room broadcasts to the writer. Channel closure means the
// room was torn down and the connection should close with it.
func (s *Session) relay(sub *hub.Subscription) {
	defer s.teardown()
	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				log.Debugf("room for game %s closed, dropping session", s.gameID)
				return
			}
			s.send(event)
		case <-s.done:
			return
		}
	}
}

func (s *Session) reader(ctx context.Context) {
	defer s.teardown()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugf("unexpected close for user %s: %v", s.userID, err)
			}
			return
		}
		s.dispatch(ctx, raw)
	}
}

// dispatch handles one inbound frame. A malformed or rejected frame gets an
// error reply on this connection only; it never aborts the session.
func (s *Session) dispatch(ctx context.Context, raw []byte) {
	var req comm.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		s.send(comm.NewError(s.gameID, "invalid message format"))
		return
	}

	var err error
	switch req.Action {
	case comm.ActionUpdateLife:
		var a comm.UpdateLifeAction
		if err = decodePayload(req.Data, &a); err == nil {
			_, err = s.svc.UpdateLife(ctx, s.gameID, a.PlayerID, a.ChangeAmount)
		}
	case comm.ActionJoinGame:
		_, err = s.svc.JoinGame(ctx, s.gameID, s.userID)
	case comm.ActionLeaveGame:
		// Connections may only vacate their own seat.
		err = s.svc.LeaveGame(ctx, s.gameID, s.userID)
	case comm.ActionGetGameState:
		var snap comm.Event
		if snap, err = s.svc.Snapshot(ctx, s.gameID); err == nil {
			if err = s.hub.Publish(s.gameID, snap); err != nil {
				// Room already torn down; the game is over for this session.
				err = apperr.Wrap(apperr.KindNotActive, err, "game is no longer active")
			}
		}
	case comm.ActionEndGame:
		var a comm.EndGameAction
		if len(req.Data) > 0 {
			err = decodePayload(req.Data, &a)
		}
		if err == nil {
			_, err = s.svc.EndGame(ctx, s.gameID, a.WinnerPlayerID)
		}
	case comm.ActionUpdateCommanderDamage:
		var a comm.UpdateCommanderDamageAction
		if err = decodePayload(req.Data, &a); err == nil {
			_, err = s.svc.UpdateCommanderDamage(ctx, s.gameID, models.UpdateCommanderDamageRequest{
				FromPlayerID:    a.FromPlayerID,
				ToPlayerID:      a.ToPlayerID,
				CommanderNumber: a.CommanderNumber,
				DamageAmount:    a.DamageAmount,
			})
		}
	case comm.ActionTogglePartner:
		var a comm.TogglePartnerAction
		if err = decodePayload(req.Data, &a); err == nil {
			err = s.svc.TogglePartner(ctx, s.gameID, a.PlayerID, a.EnablePartner)
		}
	default:
		s.send(comm.NewError(s.gameID, "unknown action: "+req.Action))
		return
	}

	if err != nil {
		log.Warnf("action %s failed for user %s: %v", req.Action, s.userID, err)
		s.send(comm.NewError(s.gameID, apperr.PublicMessage(err)))
	}
}

func decodePayload(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return apperr.Invalid("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Invalid("invalid payload")
	}
	return nil
}
