package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/conclave-mtg/conclave-api/internal/comm"
	"github.com/conclave-mtg/conclave-api/internal/conclave/apperr"
	"github.com/conclave-mtg/conclave-api/internal/conclave/hub"
	"github.com/conclave-mtg/conclave-api/internal/conclave/models"
)

const recentChangesLimit = 20

// Store seams. Satisfied by the pgx stores; tests plug in in-memory fakes.

type GameStore interface {
	CreateGame(ctx context.Context, name string, startingLife int, userID string) (*models.Game, *models.Player, error)
	GetGameByID(ctx context.Context, gameID uuid.UUID) (*models.Game, error)
	EndGame(ctx context.Context, gameID uuid.UUID, winnerPlayerID *uuid.UUID) (*models.Game, error)
	CountActiveGames(ctx context.Context) (int, error)
	ListAvailableGames(ctx context.Context, userID string) ([]models.GameWithUsers, error)
	ListUserGames(ctx context.Context, userID string) ([]models.GameWithUsers, error)
	ListAllGames(ctx context.Context) ([]models.GameWithUsers, error)
	ListUserHistory(ctx context.Context, userID string) ([]models.GameWithPlayers, error)
}

type PlayerStore interface {
	JoinGame(ctx context.Context, gameID uuid.UUID, userID string) (*models.Player, error)
	LeaveGame(ctx context.Context, gameID uuid.UUID, userID string) (uuid.UUID, error)
	GetPlayersByGameID(ctx context.Context, gameID uuid.UUID) ([]models.Player, error)
	GetPlayerByID(ctx context.Context, playerID uuid.UUID) (*models.Player, error)
	SetEliminated(ctx context.Context, playerID uuid.UUID, eliminated bool) (*models.Player, error)
}

type LifeStore interface {
	UpdateLife(ctx context.Context, playerID uuid.UUID, changeAmount int) (*models.Player, *models.LifeChange, error)
	GetRecentChanges(ctx context.Context, gameID uuid.UUID, limit int) ([]models.LifeChange, error)
}

type DamageStore interface {
	UpdateDamage(ctx context.Context, gameID, fromPlayerID, toPlayerID uuid.UUID, commanderNumber, newDamage int) (*models.CommanderDamage, error)
	GetDamage(ctx context.Context, gameID, fromPlayerID, toPlayerID uuid.UUID, commanderNumber int) (int, bool, error)
	GetDamageForGame(ctx context.Context, gameID uuid.UUID) ([]models.CommanderDamage, error)
	TogglePartner(ctx context.Context, gameID, playerID uuid.UUID, enable bool) error
}

// EventPublisher mirrors accepted events beyond the local hub (NATS bridge).
type EventPublisher interface {
	Publish(event comm.Event)
}

// GameService sequences persistence before announcement: every mutation is
// committed by its store before the matching event reaches the hub.
type GameService struct {
	games   GameStore
	players PlayerStore
	life    LifeStore
	damage  DamageStore
	hub     *hub.Hub

	mirror        EventPublisher
	elimination   EliminationPolicy
	winner        WinnerPolicy
	teardownDelay time.Duration
}

func NewGameService(games GameStore, players PlayerStore, life LifeStore, damage DamageStore, h *hub.Hub) *GameService {
	return &GameService{
		games:         games,
		players:       players,
		life:          life,
		damage:        damage,
		hub:           h,
		elimination:   ManualElimination{},
		winner:        ExplicitWinner{},
		teardownDelay: 5 * time.Second,
	}
}

func (s *GameService) SetPolicies(e EliminationPolicy, w WinnerPolicy) {
	s.elimination = e
	s.winner = w
}

func (s *GameService) SetMirror(m EventPublisher) {
	s.mirror = m
}

// SetTeardownDelay overrides the grace period between GameEnded and room
// teardown.
func (s *GameService) SetTeardownDelay(d time.Duration) {
	s.teardownDelay = d
}

// publish fans an accepted mutation's event out. The room is created on
// demand so events are never silently lost to a missing room.
func (s *GameService) publish(gameID uuid.UUID, event comm.Event) {
	s.hub.GetOrCreateRoom(gameID)
	if err := s.hub.Publish(gameID, event); err != nil {
		log.Errorf("failed to publish %s for game %s: %v", event.Type, gameID, err)
	}
	if s.mirror != nil {
		s.mirror.Publish(event)
	}
}

// InjectEvent delivers an event from another instance to the local room
// without re-mirroring it.
func (s *GameService) InjectEvent(event comm.Event) {
	s.hub.GetOrCreateRoom(event.GameID)
	if err := s.hub.Publish(event.GameID, event); err != nil {
		log.Errorf("failed to inject %s for game %s: %v", event.Type, event.GameID, err)
	}
}

func (s *GameService) CreateGame(ctx context.Context, name string, startingLife *int, userID string) (*models.Game, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("game name is required")
	}
	life := models.DefaultStartingLife
	if startingLife != nil {
		life = *startingLife
	}
	if life < 1 || life > models.MaxStartingLife {
		return nil, apperr.Invalid("starting life must be between 1 and %d", models.MaxStartingLife)
	}

	game, _, err := s.games.CreateGame(ctx, name, life, userID)
	if err != nil {
		return nil, err
	}
	s.hub.GetOrCreateRoom(game.ID)
	log.Infof("game %s created by user %s", game.ID, userID)
	return game, nil
}

func (s *GameService) GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	return s.games.GetGameByID(ctx, gameID)
}

func (s *GameService) GetGameState(ctx context.Context, gameID uuid.UUID) (*models.GameState, error) {
	game, err := s.games.GetGameByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	players, err := s.players.GetPlayersByGameID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	changes, err := s.life.GetRecentChanges(ctx, gameID, recentChangesLimit)
	if err != nil {
		return nil, err
	}
	damage, err := s.damage.GetDamageForGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return &models.GameState{
		Game:            *game,
		Players:         players,
		RecentChanges:   changes,
		CommanderDamage: damage,
	}, nil
}

func (s *GameService) JoinGame(ctx context.Context, gameID uuid.UUID, userID string) (*models.Player, error) {
	player, err := s.players.JoinGame(ctx, gameID, userID)
	if err != nil {
		return nil, err
	}
	s.publish(gameID, comm.NewPlayerJoined(gameID, *player))
	log.Infof("user %s joined game %s at position %d", userID, gameID, player.Position)
	return player, nil
}

// EnsureSeated joins the user if they hold no seat yet; a websocket attach
// doubles as a join this way. Reports whether a join happened.
func (s *GameService) EnsureSeated(ctx context.Context, gameID uuid.UUID, userID string) (*models.Player, bool, error) {
	players, err := s.players.GetPlayersByGameID(ctx, gameID)
	if err != nil {
		return nil, false, err
	}
	for i := range players {
		if players[i].UserID == userID {
			return &players[i], false, nil
		}
	}
	player, err := s.JoinGame(ctx, gameID, userID)
	if err != nil {
		return nil, false, err
	}
	return player, true, nil
}

func (s *GameService) LeaveGame(ctx context.Context, gameID uuid.UUID, userID string) error {
	playerID, err := s.players.LeaveGame(ctx, gameID, userID)
	if err != nil {
		return err
	}
	s.publish(gameID, comm.NewPlayerLeft(gameID, playerID))
	log.Infof("user %s left game %s", userID, gameID)
	return nil
}

func (s *GameService) UpdateLife(ctx context.Context, gameID, playerID uuid.UUID, changeAmount int) (*models.Player, error) {
	if changeAmount > models.MaxLifeChange || changeAmount < -models.MaxLifeChange {
		return nil, apperr.Invalid("life change too large (max ±%d)", models.MaxLifeChange)
	}
	game, err := s.games.GetGameByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != models.GameStatusActive {
		return nil, apperr.NotActive("game is not active")
	}

	existing, err := s.players.GetPlayerByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if existing.GameID != gameID {
		return nil, apperr.NotFound("player not in game")
	}

	player, change, err := s.life.UpdateLife(ctx, playerID, changeAmount)
	if err != nil {
		return nil, err
	}
	s.publish(gameID, comm.NewLifeUpdate(gameID, player.ID, player.CurrentLife, change.ChangeAmount))

	if s.elimination.Eliminates(player) {
		player, err = s.players.SetEliminated(ctx, playerID, true)
		if err != nil {
			return nil, err
		}
		log.Infof("player %s eliminated in game %s", playerID, gameID)
		if s.elimination.AutoEnds() {
			if err := s.maybeAutoEnd(ctx, gameID); err != nil {
				return nil, err
			}
		}
	}
	return player, nil
}

// maybeAutoEnd finishes the game once at most one player is left standing.
func (s *GameService) maybeAutoEnd(ctx context.Context, gameID uuid.UUID) error {
	players, err := s.players.GetPlayersByGameID(ctx, gameID)
	if err != nil {
		return err
	}
	standing := 0
	var lastID *uuid.UUID
	for i := range players {
		if !players[i].IsEliminated {
			standing++
			id := players[i].ID
			lastID = &id
		}
	}
	if standing > 1 {
		return nil
	}
	_, err = s.EndGame(ctx, gameID, lastID)
	return err
}

func (s *GameService) UpdateCommanderDamage(ctx context.Context, gameID uuid.UUID, req models.UpdateCommanderDamageRequest) (*models.CommanderDamage, error) {
	if req.DamageAmount > models.MaxDamageChange || req.DamageAmount < -models.MaxDamageChange {
		return nil, apperr.Invalid("commander damage change too large (max ±%d)", models.MaxDamageChange)
	}
	game, err := s.games.GetGameByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != models.GameStatusActive {
		return nil, apperr.NotActive("game is not active")
	}

	current, exists, err := s.damage.GetDamage(ctx, gameID, req.FromPlayerID, req.ToPlayerID, req.CommanderNumber)
	if err != nil {
		return nil, err
	}
	if req.CommanderNumber == 2 && !exists {
		return nil, apperr.Invalid("partner is not enabled for the dealing player")
	}

	entry, err := s.damage.UpdateDamage(ctx, gameID, req.FromPlayerID, req.ToPlayerID, req.CommanderNumber, current+req.DamageAmount)
	if err != nil {
		return nil, err
	}
	s.publish(gameID, comm.NewCommanderDamageUpdate(gameID, comm.CommanderDamagePayload{
		FromPlayerID:    req.FromPlayerID,
		ToPlayerID:      req.ToPlayerID,
		CommanderNumber: req.CommanderNumber,
		NewDamage:       entry.Damage,
		DamageAmount:    req.DamageAmount,
	}))
	return entry, nil
}

func (s *GameService) TogglePartner(ctx context.Context, gameID, playerID uuid.UUID, enable bool) error {
	game, err := s.games.GetGameByID(ctx, gameID)
	if err != nil {
		return err
	}
	if game.Status != models.GameStatusActive {
		return apperr.NotActive("game is not active")
	}
	if err := s.damage.TogglePartner(ctx, gameID, playerID, enable); err != nil {
		return err
	}
	s.publish(gameID, comm.NewPartnerToggled(gameID, playerID, enable))
	return nil
}

func (s *GameService) EndGame(ctx context.Context, gameID uuid.UUID, winnerPlayerID *uuid.UUID) (*models.Game, error) {
	players, err := s.players.GetPlayersByGameID(ctx, gameID)
	if err != nil {
		return nil, err
	}

	resolved := s.winner.Resolve(winnerPlayerID, players)
	var winner *models.Player
	if resolved != nil {
		for i := range players {
			if players[i].ID == *resolved {
				winner = &players[i]
				break
			}
		}
		if winner == nil {
			return nil, apperr.Invalid("winner is not a player of this game")
		}
	}

	game, err := s.games.EndGame(ctx, gameID, resolved)
	if err != nil {
		return nil, err
	}

	s.publish(gameID, comm.NewGameEnded(gameID, winner))
	log.Infof("game %s ended, winner: %v", gameID, resolved)

	// Let the final event drain to connected clients before the room goes.
	time.AfterFunc(s.teardownDelay, func() {
		s.hub.Teardown(gameID)
	})
	return game, nil
}

// Snapshot builds the full-state event broadcast on attach and on the
// getGameState action.
func (s *GameService) Snapshot(ctx context.Context, gameID uuid.UUID) (comm.Event, error) {
	players, err := s.players.GetPlayersByGameID(ctx, gameID)
	if err != nil {
		return comm.Event{}, err
	}
	return comm.NewGameStarted(gameID, players), nil
}

func (s *GameService) GetRecentLifeChanges(ctx context.Context, gameID uuid.UUID, limit int) ([]models.LifeChange, error) {
	return s.life.GetRecentChanges(ctx, gameID, limit)
}

func (s *GameService) ListAvailableGames(ctx context.Context, userID string) ([]models.GameWithUsers, error) {
	return s.games.ListAvailableGames(ctx, userID)
}

func (s *GameService) ListUserGames(ctx context.Context, userID string) ([]models.GameWithUsers, error) {
	return s.games.ListUserGames(ctx, userID)
}

func (s *GameService) ListAllGames(ctx context.Context) ([]models.GameWithUsers, error) {
	return s.games.ListAllGames(ctx)
}

func (s *GameService) ListUserHistory(ctx context.Context, userID string) ([]models.GameWithPlayers, error) {
	return s.games.ListUserHistory(ctx, userID)
}

func (s *GameService) CountActiveGames(ctx context.Context) (int, error) {
	return s.games.CountActiveGames(ctx)
}
