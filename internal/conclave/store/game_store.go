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

const gameColumns = "id, name, status, starting_life, winner_player_id, created_at, finished_at"

type GameStore struct {
	db *pgxpool.Pool
}

func NewGameStore(db *pgxpool.Pool) *GameStore {
	return &GameStore{db: db}
}

func scanGame(row pgx.Row) (*models.Game, error) {
	game := &models.Game{}
	err := row.Scan(
		&game.ID,
		&game.Name,
		&game.Status,
		&game.StartingLife,
		&game.WinnerPlayerID,
		&game.CreatedAt,
		&game.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return game, nil
}

// CreateGame inserts the game and seats the creator as player 1 in a single
// transaction. An active game with the same name is a conflict.
func (s *GameStore) CreateGame(ctx context.Context, name string, startingLife int, userID string) (*models.Game, *models.Player, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin create game: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM games WHERE name = $1 AND status <> 'finished'`, name,
	).Scan(&count)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check game name: %w", err)
	}
	if count > 0 {
		return nil, nil, apperr.Conflict("game name %q already in use", name)
	}

	gameID := uuid.New()
	game, err := scanGame(tx.QueryRow(ctx,
		`INSERT INTO games (id, name, status, starting_life)
		 VALUES ($1, $2, 'active', $3)
		 RETURNING `+gameColumns,
		gameID, name, startingLife,
	))
	if err != nil {
		// The partial unique index closes the race two creators can hit
		// between the count check and the insert.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, nil, apperr.Conflict("game name %q already in use", name)
		}
		return nil, nil, fmt.Errorf("failed to insert game: %w", err)
	}

	player, err := joinGameTx(ctx, tx, game, userID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit create game: %w", err)
	}
	return game, player, nil
}

func (s *GameStore) GetGameByID(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	game, err := scanGame(s.db.QueryRow(ctx,
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

// EndGame marks the game finished and stamps the winner. Ending an already
// finished game overwrites the finish time and winner.
func (s *GameStore) EndGame(ctx context.Context, gameID uuid.UUID, winnerPlayerID *uuid.UUID) (*models.Game, error) {
	game, err := scanGame(s.db.QueryRow(ctx,
		`UPDATE games SET status = 'finished', finished_at = now(), winner_player_id = $2
		 WHERE id = $1
		 RETURNING `+gameColumns,
		gameID, winnerPlayerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("game not found")
		}
		return nil, fmt.Errorf("failed to end game: %w", err)
	}
	return game, nil
}

func (s *GameStore) CountActiveGames(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM games WHERE status = 'active'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active games: %w", err)
	}
	return count, nil
}

// ListAvailableGames returns active games the user has not joined and that
// still have an open seat.
func (s *GameStore) ListAvailableGames(ctx context.Context, userID string) ([]models.GameWithUsers, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+gameColumns+`
		FROM games g
		WHERE g.status = 'active'
		AND g.id NOT IN (SELECT p.game_id FROM players p WHERE p.user_id = $1)
		ORDER BY g.created_at DESC
		LIMIT 50`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list available games: %w", err)
	}
	games, err := s.collectGamesWithUsers(ctx, rows)
	if err != nil {
		return nil, err
	}
	open := make([]models.GameWithUsers, 0, len(games))
	for _, g := range games {
		if len(g.Users) < models.MaxPlayersPerGame {
			open = append(open, g)
		}
	}
	return open, nil
}

// ListAllGames returns every game, newest first, with the seated users.
func (s *GameStore) ListAllGames(ctx context.Context) ([]models.GameWithUsers, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+gameColumns+`
		FROM games g
		ORDER BY g.created_at DESC
		LIMIT 100`)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	return s.collectGamesWithUsers(ctx, rows)
}

// ListUserHistory returns the finished games the user played in, newest
// first, each with its final seats and the recorded winner.
func (s *GameStore) ListUserHistory(ctx context.Context, userID string) ([]models.GameWithPlayers, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT `+gameColumns+`
		FROM games g
		INNER JOIN players p ON g.id = p.game_id
		WHERE p.user_id = $1 AND g.status = 'finished'
		ORDER BY g.finished_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var history []models.GameWithPlayers
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		history = append(history, models.GameWithPlayers{Game: *game})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	for i := range history {
		playerRows, err := s.db.Query(ctx,
			`SELECT `+playerColumns+` FROM players WHERE game_id = $1 ORDER BY position`,
			history[i].Game.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list history players: %w", err)
		}
		var players []models.Player
		for playerRows.Next() {
			p, err := scanPlayer(playerRows)
			if err != nil {
				playerRows.Close()
				return nil, fmt.Errorf("failed to scan history player: %w", err)
			}
			players = append(players, *p)
		}
		if err := playerRows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read history players: %w", err)
		}
		history[i].Players = players

		if winnerID := history[i].Game.WinnerPlayerID; winnerID != nil {
			for j := range players {
				if players[j].ID == *winnerID {
					history[i].Winner = &players[j]
					break
				}
			}
		}
	}
	return history, nil
}

// ListUserGames returns the active games the user is seated in.
func (s *GameStore) ListUserGames(ctx context.Context, userID string) ([]models.GameWithUsers, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT `+gameColumns+`
		FROM games g
		INNER JOIN players p ON g.id = p.game_id
		WHERE p.user_id = $1 AND g.status <> 'finished'
		ORDER BY g.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user games: %w", err)
	}
	return s.collectGamesWithUsers(ctx, rows)
}

func (s *GameStore) collectGamesWithUsers(ctx context.Context, rows pgx.Rows) ([]models.GameWithUsers, error) {
	defer rows.Close()

	var games []models.GameWithUsers
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, models.GameWithUsers{Game: *game})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read games: %w", err)
	}

	for i := range games {
		userRows, err := s.db.Query(ctx,
			`SELECT user_id FROM players WHERE game_id = $1 ORDER BY position`, games[i].Game.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list game users: %w", err)
		}
		users, err := pgx.CollectRows(userRows, pgx.RowTo[string])
		if err != nil {
			return nil, fmt.Errorf("failed to scan game users: %w", err)
		}
		games[i].Users = users
	}
	return games, nil
}
