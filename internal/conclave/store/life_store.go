package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conclave-mtg/conclave-api/internal/conclave/apperr"
	"github.com/conclave-mtg/conclave-api/internal/conclave/models"
)

const lifeChangeColumns = "id, game_id, player_id, change_amount, new_life_total, created_at"

type LifeStore struct {
	db *pgxpool.Pool
}

func NewLifeStore(db *pgxpool.Pool) *LifeStore {
	return &LifeStore{db: db}
}

func scanLifeChange(row pgx.Row) (*models.LifeChange, error) {
	lc := &models.LifeChange{}
	err := row.Scan(
		&lc.ID,
		&lc.GameID,
		&lc.PlayerID,
		&lc.ChangeAmount,
		&lc.NewLifeTotal,
		&lc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return lc, nil
}

// UpdateLife applies the delta and appends the audit row in one transaction,
// so the life total a reader sees always has a matching LifeChange.
func (s *LifeStore) UpdateLife(ctx context.Context, playerID uuid.UUID, changeAmount int) (*models.Player, *models.LifeChange, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin life update: %w", err)
	}
	defer tx.Rollback(ctx)

	player, err := scanPlayer(tx.QueryRow(ctx,
		`UPDATE players SET current_life = current_life + $2
		 WHERE id = $1
		 RETURNING `+playerColumns,
		playerID, changeAmount,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperr.NotFound("player not found")
		}
		return nil, nil, fmt.Errorf("failed to update life: %w", err)
	}

	change, err := scanLifeChange(tx.QueryRow(ctx,
		`INSERT INTO life_changes (id, game_id, player_id, change_amount, new_life_total)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+lifeChangeColumns,
		uuid.New(), player.GameID, player.ID, changeAmount, player.CurrentLife,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert life change: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit life update: %w", err)
	}
	return player, change, nil
}

func (s *LifeStore) GetRecentChanges(ctx context.Context, gameID uuid.UUID, limit int) ([]models.LifeChange, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+lifeChangeColumns+`
		 FROM life_changes WHERE game_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list life changes: %w", err)
	}
	defer rows.Close()

	var changes []models.LifeChange
	for rows.Next() {
		lc, err := scanLifeChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan life change: %w", err)
		}
		changes = append(changes, *lc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read life changes: %w", err)
	}
	return changes, nil
}
