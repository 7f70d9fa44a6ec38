// Package comm defines the wire frames exchanged over a game session
// websocket. Events flow server to client and are tagged by Type; requests
// flow client to server and are tagged by Action. Both sets are closed:
// anything outside them is rejected at the boundary.
package comm

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/conclave-mtg/conclave-api/internal/conclave/models"
)

// Event types.
const (
	EventLifeUpdate            = "lifeUpdate"
	EventPlayerJoined          = "playerJoined"
	EventPlayerLeft            = "playerLeft"
	EventGameStarted           = "gameStarted"
	EventGameEnded             = "gameEnded"
	EventCommanderDamageUpdate = "commanderDamageUpdate"
	EventPartnerToggled        = "partnerToggled"
	EventError                 = "error"
)

// Request actions.
const (
	ActionUpdateLife            = "updateLife"
	ActionJoinGame              = "joinGame"
	ActionLeaveGame             = "leaveGame"
	ActionGetGameState          = "getGameState"
	ActionEndGame               = "endGame"
	ActionUpdateCommanderDamage = "updateCommanderDamage"
	ActionTogglePartner         = "togglePartner"
)

// Event is a broadcast frame. GameID rides at the top level so a multiplexed
// client can route the frame without decoding the payload.
type Event struct {
	Type   string          `json:"type"`
	GameID uuid.UUID       `json:"gameId"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Request is an inbound frame from a connected client.
type Request struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type LifeUpdatePayload struct {
	PlayerID     uuid.UUID `json:"playerId"`
	NewLife      int       `json:"newLife"`
	ChangeAmount int       `json:"changeAmount"`
}

type PlayerJoinedPayload struct {
	Player models.Player `json:"player"`
}

type PlayerLeftPayload struct {
	PlayerID uuid.UUID `json:"playerId"`
}

type GameStartedPayload struct {
	Players []models.Player `json:"players"`
}

type GameEndedPayload struct {
	Winner *models.Player `json:"winner,omitempty"`
}

type CommanderDamagePayload struct {
	FromPlayerID    uuid.UUID `json:"fromPlayerId"`
	ToPlayerID      uuid.UUID `json:"toPlayerId"`
	CommanderNumber int       `json:"commanderNumber"`
	NewDamage       int       `json:"newDamage"`
	DamageAmount    int       `json:"damageAmount"`
}

type PartnerToggledPayload struct {
	PlayerID   uuid.UUID `json:"playerId"`
	HasPartner bool      `json:"hasPartner"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Inbound request payloads. JoinGame and GetGameState carry no body: the
// acting user and game are bound to the connection at attach time.

type UpdateLifeAction struct {
	PlayerID     uuid.UUID `json:"playerId"`
	ChangeAmount int       `json:"changeAmount"`
}

type LeaveGameAction struct {
	PlayerID uuid.UUID `json:"playerId"`
}

type EndGameAction struct {
	WinnerPlayerID *uuid.UUID `json:"winnerPlayerId,omitempty"`
}

type UpdateCommanderDamageAction struct {
	FromPlayerID    uuid.UUID `json:"fromPlayerId"`
	ToPlayerID      uuid.UUID `json:"toPlayerId"`
	CommanderNumber int       `json:"commanderNumber"`
	DamageAmount    int       `json:"damageAmount"`
}

type TogglePartnerAction struct {
	PlayerID      uuid.UUID `json:"playerId"`
	EnablePartner bool      `json:"enablePartner"`
}

// newEvent marshals the payload inline. Payloads are plain data structs, so
// marshalling cannot fail in practice.
func newEvent(eventType string, gameID uuid.UUID, payload interface{}) Event {
	data, _ := json.Marshal(payload)
	return Event{Type: eventType, GameID: gameID, Data: data}
}

func NewLifeUpdate(gameID uuid.UUID, playerID uuid.UUID, newLife, changeAmount int) Event {
	return newEvent(EventLifeUpdate, gameID, LifeUpdatePayload{
		PlayerID:     playerID,
		NewLife:      newLife,
		ChangeAmount: changeAmount,
	})
}

func NewPlayerJoined(gameID uuid.UUID, player models.Player) Event {
	return newEvent(EventPlayerJoined, gameID, PlayerJoinedPayload{Player: player})
}

func NewPlayerLeft(gameID uuid.UUID, playerID uuid.UUID) Event {
	return newEvent(EventPlayerLeft, gameID, PlayerLeftPayload{PlayerID: playerID})
}

func NewGameStarted(gameID uuid.UUID, players []models.Player) Event {
	return newEvent(EventGameStarted, gameID, GameStartedPayload{Players: players})
}

func NewGameEnded(gameID uuid.UUID, winner *models.Player) Event {
	return newEvent(EventGameEnded, gameID, GameEndedPayload{Winner: winner})
}

func NewCommanderDamageUpdate(gameID uuid.UUID, p CommanderDamagePayload) Event {
	return newEvent(EventCommanderDamageUpdate, gameID, p)
}

func NewPartnerToggled(gameID uuid.UUID, playerID uuid.UUID, hasPartner bool) Event {
	return newEvent(EventPartnerToggled, gameID, PartnerToggledPayload{PlayerID: playerID, HasPartner: hasPartner})
}

func NewError(gameID uuid.UUID, message string) Event {
	return newEvent(EventError, gameID, ErrorPayload{Message: message})
}
