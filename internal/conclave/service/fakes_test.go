package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-mtg/conclave-api/internal/conclave/apperr"
	"github.com/conclave-mtg/conclave-api/internal/conclave/models"
)

// memStore is an in-memory stand-in for the pgx stores. It enforces the same
// rules the SQL layer does (dense positions, damage matrix bootstrap, typed
// failures) so the service tests exercise real semantics without postgres.
type memStore struct {
	mu      sync.Mutex
	games   map[uuid.UUID]*models.Game
	players map[uuid.UUID]*models.Player
	changes []models.LifeChange
	damage  map[damageKey]*models.CommanderDamage
}

type damageKey struct {
	game uuid.UUID
	from uuid.UUID
	to   uuid.UUID
	slot int
}

func newMemStore() *memStore {
	return &memStore{
		games:   make(map[uuid.UUID]*models.Game),
		players: make(map[uuid.UUID]*models.Player),
		damage:  make(map[damageKey]*models.CommanderDamage),
	}
}

func (m *memStore) playersOfLocked(gameID uuid.UUID) []*models.Player {
	var out []*models.Player
	for _, p := range m.players {
		if p.GameID == gameID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (m *memStore) joinLocked(game *models.Game, userID string) (*models.Player, error) {
	if game.Status == models.GameStatusFinished {
		return nil, apperr.Invalid("cannot join finished game")
	}
	seated := m.playersOfLocked(game.ID)
	for _, p := range seated {
		if p.UserID == userID {
			return nil, apperr.Conflict("user already in game")
		}
	}
	if len(seated) >= models.MaxPlayersPerGame {
		return nil, apperr.Capacity("game is full (max %d players)", models.MaxPlayersPerGame)
	}
	player := &models.Player{
		ID:          uuid.New(),
		GameID:      game.ID,
		UserID:      userID,
		CurrentLife: game.StartingLife,
		Position:    len(seated) + 1,
	}
	m.players[player.ID] = player
	for _, other := range seated {
		m.putDamageLocked(game.ID, player.ID, other.ID, 1, 0)
		m.putDamageLocked(game.ID, other.ID, player.ID, 1, 0)
	}
	return player, nil
}

func (m *memStore) putDamageLocked(gameID, from, to uuid.UUID, slot, total int) *models.CommanderDamage {
	key := damageKey{game: gameID, from: from, to: to, slot: slot}
	if cd, ok := m.damage[key]; ok {
		cd.Damage = total
		cd.UpdatedAt = time.Now()
		return cd
	}
	cd := &models.CommanderDamage{
		ID:              uuid.New(),
		GameID:          gameID,
		FromPlayerID:    from,
		ToPlayerID:      to,
		CommanderNumber: slot,
		Damage:          total,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	m.damage[key] = cd
	return cd
}

// GameStore

func (m *memStore) CreateGame(_ context.Context, name string, startingLife int, userID string) (*models.Game, *models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.games {
		if g.Name == name && g.Status != models.GameStatusFinished {
			return nil, nil, apperr.Conflict("game name %q already in use", name)
		}
	}
	game := &models.Game{
		ID:           uuid.New(),
		Name:         name,
		Status:       models.GameStatusActive,
		StartingLife: startingLife,
		CreatedAt:    time.Now(),
	}
	m.games[game.ID] = game
	player, err := m.joinLocked(game, userID)
	if err != nil {
		delete(m.games, game.ID)
		return nil, nil, err
	}
	return game, player, nil
}

func (m *memStore) GetGameByID(_ context.Context, gameID uuid.UUID) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	game, ok := m.games[gameID]
	if !ok {
		return nil, apperr.NotFound("game not found")
	}
	copied := *game
	return &copied, nil
}

func (m *memStore) EndGame(_ context.Context, gameID uuid.UUID, winnerPlayerID *uuid.UUID) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	game, ok := m.games[gameID]
	if !ok {
		return nil, apperr.NotFound("game not found")
	}
	now := time.Now()
	game.Status = models.GameStatusFinished
	game.FinishedAt = &now
	game.WinnerPlayerID = winnerPlayerID
	copied := *game
	return &copied, nil
}

func (m *memStore) CountActiveGames(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, g := range m.games {
		if g.Status == models.GameStatusActive {
			count++
		}
	}
	return count, nil
}

func (m *memStore) ListAvailableGames(_ context.Context, userID string) ([]models.GameWithUsers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GameWithUsers
	for _, g := range m.games {
		if g.Status != models.GameStatusActive {
			continue
		}
		seated := m.playersOfLocked(g.ID)
		mine := false
		users := make([]string, 0, len(seated))
		for _, p := range seated {
			users = append(users, p.UserID)
			if p.UserID == userID {
				mine = true
			}
		}
		if !mine && len(users) < models.MaxPlayersPerGame {
			out = append(out, models.GameWithUsers{Game: *g, Users: users})
		}
	}
	return out, nil
}

func (m *memStore) ListUserGames(_ context.Context, userID string) ([]models.GameWithUsers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GameWithUsers
	for _, g := range m.games {
		if g.Status == models.GameStatusFinished {
			continue
		}
		seated := m.playersOfLocked(g.ID)
		for _, p := range seated {
			if p.UserID == userID {
				users := make([]string, 0, len(seated))
				for _, sp := range seated {
					users = append(users, sp.UserID)
				}
				out = append(out, models.GameWithUsers{Game: *g, Users: users})
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) ListAllGames(context.Context) ([]models.GameWithUsers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GameWithUsers
	for _, g := range m.games {
		users := make([]string, 0)
		for _, p := range m.playersOfLocked(g.ID) {
			users = append(users, p.UserID)
		}
		out = append(out, models.GameWithUsers{Game: *g, Users: users})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Game.CreatedAt.After(out[j].Game.CreatedAt) })
	return out, nil
}

func (m *memStore) ListUserHistory(_ context.Context, userID string) ([]models.GameWithPlayers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GameWithPlayers
	for _, g := range m.games {
		if g.Status != models.GameStatusFinished {
			continue
		}
		seated := m.playersOfLocked(g.ID)
		mine := false
		for _, p := range seated {
			if p.UserID == userID {
				mine = true
				break
			}
		}
		if !mine {
			continue
		}
		entry := models.GameWithPlayers{Game: *g}
		for _, p := range seated {
			entry.Players = append(entry.Players, *p)
		}
		if g.WinnerPlayerID != nil {
			for i := range entry.Players {
				if entry.Players[i].ID == *g.WinnerPlayerID {
					entry.Winner = &entry.Players[i]
					break
				}
			}
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Game.FinishedAt.After(*out[j].Game.FinishedAt)
	})
	return out, nil
}

// PlayerStore

func (m *memStore) JoinGame(_ context.Context, gameID uuid.UUID, userID string) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	game, ok := m.games[gameID]
	if !ok {
		return nil, apperr.NotFound("game not found")
	}
	player, err := m.joinLocked(game, userID)
	if err != nil {
		return nil, err
	}
	copied := *player
	return &copied, nil
}

func (m *memStore) LeaveGame(_ context.Context, gameID uuid.UUID, userID string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	game, ok := m.games[gameID]
	if !ok || game.Status == models.GameStatusFinished {
		return uuid.Nil, apperr.NotFound("game not found")
	}
	var leaving *models.Player
	for _, p := range m.playersOfLocked(gameID) {
		if p.UserID == userID {
			leaving = p
			break
		}
	}
	if leaving == nil {
		return uuid.Nil, apperr.NotFound("player not found")
	}
	for key := range m.damage {
		if key.game == gameID && (key.from == leaving.ID || key.to == leaving.ID) {
			delete(m.damage, key)
		}
	}
	delete(m.players, leaving.ID)
	for _, p := range m.players {
		if p.GameID == gameID && p.Position > leaving.Position {
			p.Position--
		}
	}
	return leaving.ID, nil
}

func (m *memStore) GetPlayersByGameID(_ context.Context, gameID uuid.UUID) ([]models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Player
	for _, p := range m.playersOfLocked(gameID) {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memStore) GetPlayerByID(_ context.Context, playerID uuid.UUID) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return nil, apperr.NotFound("player not found")
	}
	copied := *p
	return &copied, nil
}

func (m *memStore) SetEliminated(_ context.Context, playerID uuid.UUID, eliminated bool) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return nil, apperr.NotFound("player not found")
	}
	p.IsEliminated = eliminated
	copied := *p
	return &copied, nil
}

// LifeStore

func (m *memStore) UpdateLife(_ context.Context, playerID uuid.UUID, changeAmount int) (*models.Player, *models.LifeChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return nil, nil, apperr.NotFound("player not found")
	}
	p.CurrentLife += changeAmount
	change := models.LifeChange{
		ID:           uuid.New(),
		GameID:       p.GameID,
		PlayerID:     p.ID,
		ChangeAmount: changeAmount,
		NewLifeTotal: p.CurrentLife,
		CreatedAt:    time.Now(),
	}
	m.changes = append(m.changes, change)
	copied := *p
	return &copied, &change, nil
}

func (m *memStore) GetRecentChanges(_ context.Context, gameID uuid.UUID, limit int) ([]models.LifeChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LifeChange
	for i := len(m.changes) - 1; i >= 0 && len(out) < limit; i-- {
		if m.changes[i].GameID == gameID {
			out = append(out, m.changes[i])
		}
	}
	return out, nil
}

// DamageStore

func (m *memStore) UpdateDamage(_ context.Context, gameID, fromPlayerID, toPlayerID uuid.UUID, commanderNumber, newDamage int) (*models.CommanderDamage, error) {
	if newDamage < 0 {
		return nil, apperr.Invalid("commander damage cannot be negative")
	}
	if newDamage > models.MaxDamageTotal {
		return nil, apperr.Invalid("commander damage cannot exceed %d", models.MaxDamageTotal)
	}
	if commanderNumber != 1 && commanderNumber != 2 {
		return nil, apperr.Invalid("commander number must be 1 or 2")
	}
	if fromPlayerID == toPlayerID {
		return nil, apperr.Invalid("players cannot deal commander damage to themselves")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range []uuid.UUID{fromPlayerID, toPlayerID} {
		p, ok := m.players[id]
		if !ok || p.GameID != gameID {
			return nil, apperr.NotFound("player %s not in game", id)
		}
	}
	cd := m.putDamageLocked(gameID, fromPlayerID, toPlayerID, commanderNumber, newDamage)
	copied := *cd
	return &copied, nil
}

func (m *memStore) GetDamage(_ context.Context, gameID, fromPlayerID, toPlayerID uuid.UUID, commanderNumber int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cd, ok := m.damage[damageKey{game: gameID, from: fromPlayerID, to: toPlayerID, slot: commanderNumber}]
	if !ok {
		return 0, false, nil
	}
	return cd.Damage, true, nil
}

func (m *memStore) GetDamageForGame(_ context.Context, gameID uuid.UUID) ([]models.CommanderDamage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CommanderDamage
	for key, cd := range m.damage {
		if key.game == gameID {
			out = append(out, *cd)
		}
	}
	return out, nil
}

func (m *memStore) TogglePartner(_ context.Context, gameID, playerID uuid.UUID, enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok || p.GameID != gameID {
		return apperr.NotFound("player not found in game")
	}
	if enable {
		for _, other := range m.playersOfLocked(gameID) {
			if other.ID == playerID {
				continue
			}
			if _, ok := m.damage[damageKey{game: gameID, from: playerID, to: other.ID, slot: 2}]; !ok {
				m.putDamageLocked(gameID, playerID, other.ID, 2, 0)
			}
			if _, ok := m.damage[damageKey{game: gameID, from: other.ID, to: playerID, slot: 2}]; !ok {
				m.putDamageLocked(gameID, other.ID, playerID, 2, 0)
			}
		}
		return nil
	}
	for key := range m.damage {
		if key.game == gameID && key.slot == 2 && (key.from == playerID || key.to == playerID) {
			delete(m.damage, key)
		}
	}
	return nil
}
