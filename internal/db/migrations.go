package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the schema on boot. Statements are idempotent so
// restarts are safe.
//
// conversations.pair_key is the sorted concatenation of the two
// participant ids; its unique index is what makes concurrent
// get-or-create calls for the same pair converge on one row.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            UUID PRIMARY KEY,
			external_id   TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL,
			image_url     TEXT,
			password_hash TEXT,
			is_online     BOOLEAN NOT NULL DEFAULT false,
			last_seen     TIMESTAMPTZ NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS users_email_idx ON users (lower(email))`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id                   UUID PRIMARY KEY,
			participant_a        UUID NOT NULL REFERENCES users (id),
			participant_b        UUID NOT NULL REFERENCES users (id),
			pair_key             TEXT NOT NULL UNIQUE,
			last_message_time    TIMESTAMPTZ NOT NULL,
			last_message_preview TEXT,
			created_at           TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS conversations_participant_a_idx ON conversations (participant_a, last_message_time DESC)`,
		`CREATE INDEX IF NOT EXISTS conversations_participant_b_idx ON conversations (participant_b, last_message_time DESC)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id              UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES conversations (id),
			sender_id       UUID NOT NULL REFERENCES users (id),
			body            TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			deleted_at      TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS message_reactions (
			message_id UUID NOT NULL REFERENCES messages (id),
			user_id    UUID NOT NULL REFERENCES users (id),
			emoji      TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (message_id, user_id, emoji)
		)`,

		`CREATE TABLE IF NOT EXISTS message_reads (
			conversation_id UUID NOT NULL REFERENCES conversations (id),
			user_id         UUID NOT NULL REFERENCES users (id),
			last_read_time  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS typing_indicators (
			conversation_id UUID NOT NULL REFERENCES conversations (id),
			user_id         UUID NOT NULL REFERENCES users (id),
			updated_at      TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS typing_conversation_idx ON typing_indicators (conversation_id, updated_at)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
