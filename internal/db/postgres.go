package db

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var DB *pgxpool.Pool

// Connect initializes the connection pool
func Connect() (*pgxpool.Pool, error) {
	dsn := os.Getenv("DATABASE_URL")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	// Try pinging to make sure it's valid
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	DB = pool

	return pool, nil
}

// ClosePool is for graceful shutdown
func ClosePool() {
	if DB != nil {
		DB.Close()
	}
}

// Migrate creates the schema at boot. Safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
CREATE TABLE IF NOT EXISTS games (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	starting_life INT NOT NULL,
	winner_player_id UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS unique_active_game_name
	ON games (name) WHERE status <> 'finished';

CREATE TABLE IF NOT EXISTS players (
	id UUID PRIMARY KEY,
	game_id UUID NOT NULL REFERENCES games(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	current_life INT NOT NULL,
	position INT NOT NULL,
	is_eliminated BOOLEAN NOT NULL DEFAULT FALSE,
	CONSTRAINT unique_game_user UNIQUE (game_id, user_id),
	CONSTRAINT unique_game_position UNIQUE (game_id, position) DEFERRABLE INITIALLY DEFERRED
);

CREATE TABLE IF NOT EXISTS life_changes (
	id UUID PRIMARY KEY,
	game_id UUID NOT NULL REFERENCES games(id) ON DELETE CASCADE,
	player_id UUID NOT NULL REFERENCES players(id) ON DELETE CASCADE,
	change_amount INT NOT NULL,
	new_life_total INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS life_changes_game_created
	ON life_changes (game_id, created_at DESC);

CREATE TABLE IF NOT EXISTS commander_damage (
	id UUID PRIMARY KEY,
	game_id UUID NOT NULL REFERENCES games(id) ON DELETE CASCADE,
	from_player_id UUID NOT NULL REFERENCES players(id) ON DELETE CASCADE,
	to_player_id UUID NOT NULL REFERENCES players(id) ON DELETE CASCADE,
	commander_number INT NOT NULL,
	damage INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT unique_damage_cell UNIQUE (game_id, from_player_id, to_player_id, commander_number)
);
`
	_, err := pool.Exec(ctx, schema)
	return err
}
