package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Constraint names referenced by the repositories when translating *pq.Error.
const (
	ConstraintMemberUserUnique     = "tournament_members_user_id_key"
	ConstraintMemberPK             = "tournament_members_pkey"
	ConstraintCreatorActiveUnique  = "tournaments_creator_active_key"
	ConstraintMatchSlotUnique      = "matches_tournament_round_number_key"
	ConstraintPlayerOneConsumerKey = "matches_player_one_prev_match_key"
	ConstraintPlayerTwoConsumerKey = "matches_player_two_prev_match_key"
)

const schema = `
CREATE TABLE IF NOT EXISTS tournaments (
	id             SERIAL PRIMARY KEY,
	name           TEXT NOT NULL,
	creator_id     INTEGER NOT NULL,
	size           INTEGER NOT NULL CHECK (size IN (4, 8, 16)),
	status         TEXT NOT NULL DEFAULT 'created'
	               CHECK (status IN ('created', 'ready', 'in_progress', 'completed')),
	player_amount  INTEGER NOT NULL DEFAULT 0 CHECK (player_amount >= 0),
	winner_id      INTEGER,
	current_round  INTEGER NOT NULL DEFAULT 0,
	ready_deadline TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at   TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS tournaments_creator_active_key
	ON tournaments (creator_id) WHERE status <> 'completed';

CREATE INDEX IF NOT EXISTS tournaments_open_window_idx
	ON tournaments (ready_deadline) WHERE ready_deadline IS NOT NULL;

CREATE TABLE IF NOT EXISTS tournament_members (
	tournament_id INTEGER NOT NULL REFERENCES tournaments (id) ON DELETE CASCADE,
	user_id       INTEGER NOT NULL,
	ready_state   TEXT NOT NULL DEFAULT 'not_ready'
	              CHECK (ready_state IN ('not_ready', 'ready', 'forfeited')),
	just_advanced BOOLEAN NOT NULL DEFAULT FALSE,
	joined_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT tournament_members_pkey PRIMARY KEY (tournament_id, user_id),
	CONSTRAINT tournament_members_user_id_key UNIQUE (user_id)
);

CREATE TABLE IF NOT EXISTS matches (
	id                    SERIAL PRIMARY KEY,
	tournament_id         INTEGER NOT NULL REFERENCES tournaments (id) ON DELETE CASCADE,
	round                 INTEGER NOT NULL CHECK (round >= 1),
	match_number          INTEGER NOT NULL CHECK (match_number >= 1),
	player_one_id         INTEGER,
	player_two_id         INTEGER,
	player_one_prev_match INTEGER REFERENCES matches (id),
	player_two_prev_match INTEGER REFERENCES matches (id),
	status                TEXT NOT NULL DEFAULT 'waiting'
	                      CHECK (status IN ('waiting', 'in_progress', 'completed')),
	winner_id             INTEGER,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at          TIMESTAMPTZ,
	CONSTRAINT matches_tournament_round_number_key UNIQUE (tournament_id, round, match_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS matches_player_one_prev_match_key
	ON matches (player_one_prev_match) WHERE player_one_prev_match IS NOT NULL;

CREATE UNIQUE INDEX IF NOT EXISTS matches_player_two_prev_match_key
	ON matches (player_two_prev_match) WHERE player_two_prev_match IS NOT NULL;

CREATE INDEX IF NOT EXISTS matches_tournament_status_idx
	ON matches (tournament_id, status);

CREATE TABLE IF NOT EXISTS match_history (
	id             SERIAL PRIMARY KEY,
	user_id        INTEGER NOT NULL,
	opponent_id    INTEGER NOT NULL,
	user_score     INTEGER NOT NULL CHECK (user_score >= 0),
	opponent_score INTEGER NOT NULL CHECK (opponent_score >= 0),
	winner_id      INTEGER NOT NULL,
	round          INTEGER NOT NULL,
	tournament_id  INTEGER NOT NULL REFERENCES tournaments (id) ON DELETE CASCADE,
	match_type     TEXT NOT NULL DEFAULT 'tournament',
	forfeit        BOOLEAN NOT NULL DEFAULT FALSE,
	played_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS match_history_user_idx ON match_history (user_id, played_at DESC);
`

// CreateSchema applies the DDL. Safe to run on every start.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Truncate wipes all engine tables. Used by store-backed tests.
func Truncate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `TRUNCATE match_history, matches, tournament_members, tournaments RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}
	return nil
}
