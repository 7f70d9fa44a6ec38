package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	GameStatusActive   = "active"
	GameStatusFinished = "finished"
)

const (
	DefaultStartingLife = 20
	MaxPlayersPerGame   = 8

	// Per-request mutation bounds.
	MaxLifeChange   = 100
	MaxDamageChange = 50
	MaxDamageTotal  = 999
	MaxStartingLife = 999
)

type Game struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	StartingLife   int        `json:"startingLife"`
	WinnerPlayerID *uuid.UUID `json:"winnerPlayerId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

type Player struct {
	ID           uuid.UUID `json:"id"`
	GameID       uuid.UUID `json:"gameId"`
	UserID       string    `json:"userId"`
	CurrentLife  int       `json:"currentLife"`
	Position     int       `json:"position"` // 1..8 seat ordinal, dense per game
	IsEliminated bool      `json:"isEliminated"`
}

type LifeChange struct {
	ID           uuid.UUID `json:"id"`
	GameID       uuid.UUID `json:"gameId"`
	PlayerID     uuid.UUID `json:"playerId"`
	ChangeAmount int       `json:"changeAmount"`
	NewLifeTotal int       `json:"newLifeTotal"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CommanderDamage is one directed cell of the damage matrix. CommanderNumber 2
// rows exist only while the dealing player has partner enabled.
type CommanderDamage struct {
	ID              uuid.UUID `json:"id"`
	GameID          uuid.UUID `json:"gameId"`
	FromPlayerID    uuid.UUID `json:"fromPlayerId"`
	ToPlayerID      uuid.UUID `json:"toPlayerId"`
	CommanderNumber int       `json:"commanderNumber"`
	Damage          int       `json:"damage"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type GameState struct {
	Game            Game              `json:"game"`
	Players         []Player          `json:"players"`
	RecentChanges   []LifeChange      `json:"recentChanges"`
	CommanderDamage []CommanderDamage `json:"commanderDamage"`
}

type GameWithUsers struct {
	Game  Game     `json:"game"`
	Users []string `json:"users"` // seated user ids, position order
}

// GameWithPlayers is the history shape: a finished game with its final seats
// and the recorded winner, if any.
type GameWithPlayers struct {
	Game    Game     `json:"game"`
	Players []Player `json:"players"`
	Winner  *Player  `json:"winner,omitempty"`
}

// Request DTOs for the REST surface.

type CreateGameRequest struct {
	Name         string `json:"name"`
	StartingLife *int   `json:"startingLife,omitempty"`
}

type UpdateLifeRequest struct {
	PlayerID     uuid.UUID `json:"playerId"`
	ChangeAmount int       `json:"changeAmount"`
}

type UpdateCommanderDamageRequest struct {
	FromPlayerID    uuid.UUID `json:"fromPlayerId"`
	ToPlayerID      uuid.UUID `json:"toPlayerId"`
	CommanderNumber int       `json:"commanderNumber"`
	DamageAmount    int       `json:"damageAmount"`
}

type TogglePartnerRequest struct {
	PlayerID      uuid.UUID `json:"playerId"`
	EnablePartner bool      `json:"enablePartner"`
}

type EndGameRequest struct {
	WinnerPlayerID *uuid.UUID `json:"winnerPlayerId,omitempty"`
}
