package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conclave-mtg/conclave-api/internal/conclave/apperr"
	"github.com/conclave-mtg/conclave-api/internal/conclave/models"
)

const playerColumns = "id, game_id, user_id, current_life, position, is_eliminated"

type PlayerStore struct {
	db *pgxpool.Pool
}

func NewPlayerStore(db *pgxpool.Pool) *PlayerStore {
	return &PlayerStore{db: db}
}

func scanPlayer(row pgx.Row) (*models.Player, error) {
	p := &models.Player{}
	err := row.Scan(
		&p.ID,
		&p.GameID,
		&p.UserID,
		&p.CurrentLife,
		&p.Position,
		&p.IsEliminated,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func getGameTx(ctx context.Context, tx pgx.Tx, gameID uuid.UUID) (*models.Game, error) {
	game, err := scanGame(tx.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = $1`, gameID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("game not found")
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return game, nil
}

// joinGameTx seats a user in the game. The position is derived from the
// transaction-scoped player count, not re-read after insert, so two joiners
// racing each other serialize on the unique (game_id, position) constraint.
func joinGameTx(ctx context.Context, tx pgx.Tx, game *models.Game, userID string) (*models.Player, error) {
	if game.Status == models.GameStatusFinished {
		return nil, apperr.Invalid("cannot join finished game")
	}

	var seated int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM players WHERE game_id = $1 AND user_id = $2`,
		game.ID, userID,
	).Scan(&seated)
	if err != nil {
		return nil, fmt.Errorf("failed to check seat: %w", err)
	}
	if seated > 0 {
		return nil, apperr.Conflict("user already in game")
	}

	var playerCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM players WHERE game_id = $1`, game.ID,
	).Scan(&playerCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count players: %w", err)
	}
	if playerCount >= models.MaxPlayersPerGame {
		return nil, apperr.Capacity("game is full (max %d players)", models.MaxPlayersPerGame)
	}

	player, err := scanPlayer(tx.QueryRow(ctx,
		`INSERT INTO players (id, game_id, user_id, current_life, position, is_eliminated)
		 VALUES ($1, $2, $3, $4, $5, FALSE)
		 RETURNING `+playerColumns,
		uuid.New(), game.ID, userID, game.StartingLife, playerCount+1,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "unique_game_user" {
			return nil, apperr.Conflict("user already in game")
		}
		return nil, fmt.Errorf("failed to insert player: %w", err)
	}

	if err := initCommanderDamageTx(ctx, tx, game.ID, player.ID); err != nil {
		return nil, err
	}
	return player, nil
}

func (s *PlayerStore) JoinGame(ctx context.Context, gameID uuid.UUID, userID string) (*models.Player, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin join: %w", err)
	}
	defer tx.Rollback(ctx)

	game, err := getGameTx(ctx, tx, gameID)
	if err != nil {
		return nil, err
	}
	player, err := joinGameTx(ctx, tx, game, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit join: %w", err)
	}
	return player, nil
}

// LeaveGame removes the user's seat, drops every damage entry referencing the
// player and compacts the positions of players seated after them. Returns the
// removed player's id for the broadcast.
func (s *PlayerStore) LeaveGame(ctx context.Context, gameID uuid.UUID, userID string) (uuid.UUID, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin leave: %w", err)
	}
	defer tx.Rollback(ctx)

	game, err := getGameTx(ctx, tx, gameID)
	if err != nil {
		return uuid.Nil, err
	}
	if game.Status == models.GameStatusFinished {
		return uuid.Nil, apperr.NotFound("game not found")
	}

	var playerID uuid.UUID
	var position int
	err = tx.QueryRow(ctx,
		`SELECT id, position FROM players WHERE game_id = $1 AND user_id = $2`,
		gameID, userID,
	).Scan(&playerID, &position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, apperr.NotFound("player not found")
		}
		return uuid.Nil, fmt.Errorf("failed to find player: %w", err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM commander_damage
		 WHERE game_id = $1 AND (from_player_id = $2 OR to_player_id = $2)`,
		gameID, playerID,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to delete damage entries: %w", err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM players WHERE id = $1`, playerID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to delete player: %w", err)
	}

	// Keep positions a dense 1..N; the position constraint is deferred so the
	// shift is free to pass through intermediate duplicates.
	_, err = tx.Exec(ctx,
		`UPDATE players SET position = position - 1 WHERE game_id = $1 AND position > $2`,
		gameID, position,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to compact positions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit leave: %w", err)
	}
	return playerID, nil
}

func (s *PlayerStore) GetPlayersByGameID(ctx context.Context, gameID uuid.UUID) ([]models.Player, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+playerColumns+` FROM players WHERE game_id = $1 ORDER BY position`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read players: %w", err)
	}
	return players, nil
}

func (s *PlayerStore) GetPlayerByID(ctx context.Context, playerID uuid.UUID) (*models.Player, error) {
	p, err := scanPlayer(s.db.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1`, playerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("player not found")
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

func (s *PlayerStore) SetEliminated(ctx context.Context, playerID uuid.UUID, eliminated bool) (*models.Player, error) {
	p, err := scanPlayer(s.db.QueryRow(ctx,
		`UPDATE players SET is_eliminated = $2 WHERE id = $1 RETURNING `+playerColumns,
		playerID, eliminated))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("player not found")
		}
		return nil, fmt.Errorf("failed to set eliminated: %w", err)
	}
	return p, nil
}
