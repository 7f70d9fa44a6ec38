package service

import (
	"github.com/google/uuid"

	"github.com/conclave-mtg/conclave-api/internal/conclave/models"
)

// EliminationPolicy decides what a life update does beyond the arithmetic.
// Play groups disagree on whether hitting zero knocks a player out, so the
// behavior is pluggable and chosen at boot.
type EliminationPolicy interface {
	// Eliminates reports whether the player should be marked eliminated
	// after the update.
	Eliminates(player *models.Player) bool
	// AutoEnds reports whether the game should finish once at most one
	// player remains standing.
	AutoEnds() bool
}

// ManualElimination never eliminates anyone; games end only through an
// explicit EndGame. This is the default.
type ManualElimination struct{}

func (ManualElimination) Eliminates(*models.Player) bool { return false }
func (ManualElimination) AutoEnds() bool                 { return false }

// ThresholdElimination eliminates at life <= 0 and finishes the game when a
// single player is left standing.
type ThresholdElimination struct{}

func (ThresholdElimination) Eliminates(p *models.Player) bool {
	return p.CurrentLife <= 0 && !p.IsEliminated
}
func (ThresholdElimination) AutoEnds() bool { return true }

// WinnerPolicy resolves the winner of a finishing game. An explicitly
// supplied winner always takes precedence.
type WinnerPolicy interface {
	Resolve(explicit *uuid.UUID, players []models.Player) *uuid.UUID
}

// ExplicitWinner records only a caller-supplied winner. This is the default.
type ExplicitWinner struct{}

func (ExplicitWinner) Resolve(explicit *uuid.UUID, _ []models.Player) *uuid.UUID {
	return explicit
}

// HighestLife falls back to the player with the highest life total.
type HighestLife struct{}

func (HighestLife) Resolve(explicit *uuid.UUID, players []models.Player) *uuid.UUID {
	if explicit != nil {
		return explicit
	}
	var winner *uuid.UUID
	best := 0
	for i := range players {
		if winner == nil || players[i].CurrentLife > best {
			id := players[i].ID
			winner = &id
			best = players[i].CurrentLife
		}
	}
	return winner
}

// LastStanding falls back to the sole non-eliminated player, if there is
// exactly one.
type LastStanding struct{}

func (LastStanding) Resolve(explicit *uuid.UUID, players []models.Player) *uuid.UUID {
	if explicit != nil {
		return explicit
	}
	var winner *uuid.UUID
	for i := range players {
		if players[i].IsEliminated {
			continue
		}
		if winner != nil {
			return nil // more than one still standing
		}
		id := players[i].ID
		winner = &id
	}
	return winner
}

// EliminationPolicyByName maps the ELIMINATION_POLICY setting; unknown values
// fall back to manual.
func EliminationPolicyByName(name string) EliminationPolicy {
	if name == "threshold" {
		return ThresholdElimination{}
	}
	return ManualElimination{}
}

// WinnerPolicyByName maps the WINNER_POLICY setting; unknown values fall back
// to explicit.
func WinnerPolicyByName(name string) WinnerPolicy {
	switch name {
	case "highest-life":
		return HighestLife{}
	case "last-standing":
		return LastStanding{}
	default:
		return ExplicitWinner{}
	}
}
