package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"smartsmeta.app/bot/core/db"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS bot_sessions (
    session_key  TEXT PRIMARY KEY,
    phase        TEXT NOT NULL,
    last_turn_id TEXT NOT NULL DEFAULT '',
    rates        JSONB,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertSession = `
INSERT INTO bot_sessions (session_key, phase, last_turn_id, rates, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (session_key) DO UPDATE
SET phase = EXCLUDED.phase,
    last_turn_id = EXCLUDED.last_turn_id,
    rates = EXCLUDED.rates,
    updated_at = now()`

// PostgresStore keeps sessions in the bot_sessions table.
type PostgresStore struct {
	db *db.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates the table when missing.
func NewPostgresStore(ctx context.Context, database *db.DB) (*PostgresStore, error) {
	if _, err := database.Pool().Exec(ctx, createSessionsTable); err != nil {
		return nil, fmt.Errorf("creating bot_sessions table: %w", err)
	}
	return &PostgresStore{db: database}, nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) (State, error) {
	var (
		state State
		phase string
		rates []byte
	)
	err := s.db.Pool().QueryRow(ctx,
		`SELECT phase, last_turn_id, rates FROM bot_sessions WHERE session_key = $1`, key,
	).Scan(&phase, &state.LastTurnID, &rates)
	if errors.Is(err, pgx.ErrNoRows) {
		return New(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("loading session %s: %w", key, err)
	}

	state.Phase = Phase(phase)
	if len(rates) > 0 {
		if err := json.Unmarshal(rates, &state.Rates); err != nil {
			return State{}, fmt.Errorf("decoding rates of session %s: %w", key, err)
		}
	}
	return normalize(state), nil
}

func (s *PostgresStore) Save(ctx context.Context, key string, state State) error {
	var rates []byte
	if len(state.Rates) > 0 {
		var err error
		if rates, err = json.Marshal(state.Rates); err != nil {
			return fmt.Errorf("encoding rates of session %s: %w", key, err)
		}
	}

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertSession, key, string(state.Phase), state.LastTurnID, rates); err != nil {
			return fmt.Errorf("saving session %s: %w", key, err)
		}
		return nil
	})
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Pool().Exec(ctx, `DELETE FROM bot_sessions WHERE session_key = $1`, key); err != nil {
		return fmt.Errorf("deleting session %s: %w", key, err)
	}
	return nil
}
