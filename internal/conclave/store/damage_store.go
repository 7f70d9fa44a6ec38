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

const damageColumns = "id, game_id, from_player_id, to_player_id, commander_number, damage, created_at, updated_at"

type DamageStore struct {
	db *pgxpool.Pool
}

func NewDamageStore(db *pgxpool.Pool) *DamageStore {
	return &DamageStore{db: db}
}

func scanDamage(row pgx.Row) (*models.CommanderDamage, error) {
	cd := &models.CommanderDamage{}
	err := row.Scan(
		&cd.ID,
		&cd.GameID,
		&cd.FromPlayerID,
		&cd.ToPlayerID,
		&cd.CommanderNumber,
		&cd.Damage,
		&cd.CreatedAt,
		&cd.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cd, nil
}

// initCommanderDamageTx bootstraps the slot-1 matrix for a newly seated
// player: one zeroed entry in each direction against every existing player.
func initCommanderDamageTx(ctx context.Context, tx pgx.Tx, gameID, playerID uuid.UUID) error {
	rows, err := tx.Query(ctx,
		`SELECT id FROM players WHERE game_id = $1 AND id <> $2`, gameID, playerID)
	if err != nil {
		return fmt.Errorf("failed to list co-players: %w", err)
	}
	others, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return fmt.Errorf("failed to scan co-players: %w", err)
	}

	for _, otherID := range others {
		for _, pair := range [][2]uuid.UUID{{playerID, otherID}, {otherID, playerID}} {
			_, err = tx.Exec(ctx,
				`INSERT INTO commander_damage (id, game_id, from_player_id, to_player_id, commander_number, damage)
				 VALUES ($1, $2, $3, $4, 1, 0)`,
				uuid.New(), gameID, pair[0], pair[1],
			)
			if err != nil {
				return fmt.Errorf("failed to bootstrap damage entry: %w", err)
			}
		}
	}
	return nil
}

func playerInGameTx(ctx context.Context, tx pgx.Tx, gameID, playerID uuid.UUID) (bool, error) {
	var count int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM players WHERE id = $1 AND game_id = $2`, playerID, gameID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check player: %w", err)
	}
	return count > 0, nil
}

// UpdateDamage upserts the directed damage cell at its new absolute total.
func (s *DamageStore) UpdateDamage(ctx context.Context, gameID, fromPlayerID, toPlayerID uuid.UUID, commanderNumber, newDamage int) (*models.CommanderDamage, error) {
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

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin damage update: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, playerID := range []uuid.UUID{fromPlayerID, toPlayerID} {
		ok, err := playerInGameTx(ctx, tx, gameID, playerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.NotFound("player %s not in game", playerID)
		}
	}

	cd, err := scanDamage(tx.QueryRow(ctx,
		`INSERT INTO commander_damage (id, game_id, from_player_id, to_player_id, commander_number, damage)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (game_id, from_player_id, to_player_id, commander_number)
		 DO UPDATE SET damage = EXCLUDED.damage, updated_at = now()
		 RETURNING `+damageColumns,
		uuid.New(), gameID, fromPlayerID, toPlayerID, commanderNumber, newDamage,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert damage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit damage update: %w", err)
	}
	return cd, nil
}

// GetDamage reads a single cell's current total. The second return reports
// whether the cell exists; a missing slot-2 cell means partner is off.
func (s *DamageStore) GetDamage(ctx context.Context, gameID, fromPlayerID, toPlayerID uuid.UUID, commanderNumber int) (int, bool, error) {
	var damage int
	err := s.db.QueryRow(ctx,
		`SELECT damage FROM commander_damage
		 WHERE game_id = $1 AND from_player_id = $2 AND to_player_id = $3 AND commander_number = $4`,
		gameID, fromPlayerID, toPlayerID, commanderNumber,
	).Scan(&damage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get damage: %w", err)
	}
	return damage, true, nil
}

func (s *DamageStore) GetDamageForGame(ctx context.Context, gameID uuid.UUID) ([]models.CommanderDamage, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+damageColumns+`
		 FROM commander_damage WHERE game_id = $1
		 ORDER BY from_player_id, to_player_id, commander_number`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list damage: %w", err)
	}
	defer rows.Close()

	var entries []models.CommanderDamage
	for rows.Next() {
		cd, err := scanDamage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan damage: %w", err)
		}
		entries = append(entries, *cd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read damage: %w", err)
	}
	return entries, nil
}

// TogglePartner creates the slot-2 matrix rows for the player when enabling
// (idempotent) and removes every slot-2 row referencing the player when
// disabling.
func (s *DamageStore) TogglePartner(ctx context.Context, gameID, playerID uuid.UUID, enable bool) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin partner toggle: %w", err)
	}
	defer tx.Rollback(ctx)

	ok, err := playerInGameTx(ctx, tx, gameID, playerID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("player not found in game")
	}

	if enable {
		rows, err := tx.Query(ctx,
			`SELECT id FROM players WHERE game_id = $1 AND id <> $2`, gameID, playerID)
		if err != nil {
			return fmt.Errorf("failed to list co-players: %w", err)
		}
		others, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return fmt.Errorf("failed to scan co-players: %w", err)
		}
		for _, otherID := range others {
			for _, pair := range [][2]uuid.UUID{{playerID, otherID}, {otherID, playerID}} {
				_, err = tx.Exec(ctx,
					`INSERT INTO commander_damage (id, game_id, from_player_id, to_player_id, commander_number, damage)
					 VALUES ($1, $2, $3, $4, 2, 0)
					 ON CONFLICT (game_id, from_player_id, to_player_id, commander_number) DO NOTHING`,
					uuid.New(), gameID, pair[0], pair[1],
				)
				if err != nil {
					return fmt.Errorf("failed to insert partner entry: %w", err)
				}
			}
		}
	} else {
		_, err = tx.Exec(ctx,
			`DELETE FROM commander_damage
			 WHERE game_id = $1 AND commander_number = 2
			 AND (from_player_id = $2 OR to_player_id = $2)`,
			gameID, playerID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete partner entries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit partner toggle: %w", err)
	}
	return nil
}
