package store

import (
	"context"
	"errors"
	"time"

	"dm-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store and TypingStore on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const userColumns = `id, external_id, name, email, image_url, is_online, last_seen, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Name, &u.Email, &u.ImageURL, &u.IsOnline, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Postgres) UpsertUser(ctx context.Context, externalID, name, email string, imageURL *string, now time.Time) (*models.User, error) {
	// On conflict only the profile fields change; id, online flag and
	// last-seen are preserved.
	query := `
		INSERT INTO users (id, external_id, name, email, image_url, is_online, last_seen, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6, $6)
		ON CONFLICT (external_id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, image_url = EXCLUDED.image_url
		RETURNING ` + userColumns
	return scanUser(s.pool.QueryRow(ctx, query, uuid.NewString(), externalID, name, email, imageURL, now))
}

func (s *Postgres) UserByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Postgres) UserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID))
}

func (s *Postgres) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (s *Postgres) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.ExternalID, &u.Name, &u.Email, &u.ImageURL, &u.IsOnline, &u.LastSeen, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *Postgres) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1`, userID, online, lastSeen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SetPasswordHash(ctx context.Context, userID, hash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) PasswordHash(ctx context.Context, userID string) (string, error) {
	var hash *string
	err := s.pool.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	if hash == nil {
		return "", ErrNotFound
	}
	return *hash, nil
}

const convColumns = `id, participant_a, participant_b, last_message_time, last_message_preview, created_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	var a, b string
	err := row.Scan(&c.ID, &a, &b, &c.LastMessageTime, &c.LastMessagePreview, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.ParticipantIDs = []string{a, b}
	return &c, nil
}

func (s *Postgres) GetOrCreateConversation(ctx context.Context, userA, userB string, now time.Time) (*models.Conversation, bool, error) {
	key := PairKey(userA, userB)

	// Insert-or-nothing on the pair key makes concurrent calls for the
	// same pair converge on a single row.
	query := `
		INSERT INTO conversations (id, participant_a, participant_b, pair_key, last_message_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (pair_key) DO NOTHING
		RETURNING ` + convColumns
	c, err := scanConversation(s.pool.QueryRow(ctx, query, uuid.NewString(), userA, userB, key, now))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	c, err = scanConversation(s.pool.QueryRow(ctx, `SELECT `+convColumns+` FROM conversations WHERE pair_key = $1`, key))
	if err != nil {
		return nil, false, err
	}
	return c, false, nil
}

func (s *Postgres) ConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	return scanConversation(s.pool.QueryRow(ctx, `SELECT `+convColumns+` FROM conversations WHERE id = $1`, id))
}

func (s *Postgres) ConversationsForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `
		SELECT ` + convColumns + `
		FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY last_message_time DESC
	`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		var c models.Conversation
		var a, b string
		if err := rows.Scan(&c.ID, &a, &b, &c.LastMessageTime, &c.LastMessagePreview, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ParticipantIDs = []string{a, b}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *Postgres) AppendMessage(ctx context.Context, msg *models.Message, preview string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Body, msg.CreatedAt)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET last_message_time = $2, last_message_preview = $3 WHERE id = $1`,
		msg.ConversationID, msg.CreatedAt, preview)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

const msgColumns = `id, conversation_id, sender_id, body, created_at, deleted_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt, &m.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Postgres) MessageByID(ctx context.Context, id string) (*models.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+msgColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	m.Reactions, err = s.reactionsFor(ctx, []string{m.ID})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Postgres) reactionsFor(ctx context.Context, messageIDs []string) ([]models.Reaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT emoji, user_id FROM message_reactions WHERE message_id = ANY($1) ORDER BY created_at, emoji`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reactions := []models.Reaction{}
	for rows.Next() {
		var r models.Reaction
		if err := rows.Scan(&r.Emoji, &r.UserID); err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

func (s *Postgres) MessagesForConversation(ctx context.Context, convID string) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+msgColumns+` FROM messages WHERE conversation_id = $1 ORDER BY created_at, id`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	byID := make(map[string]*models.Message)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt, &m.DeletedAt); err != nil {
			return nil, err
		}
		m.Reactions = []models.Reaction{}
		out = append(out, &m)
		byID[m.ID] = &m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rrows, err := s.pool.Query(ctx, `
		SELECT r.message_id, r.emoji, r.user_id
		FROM message_reactions r
		JOIN messages m ON m.id = r.message_id
		WHERE m.conversation_id = $1
		ORDER BY r.created_at, r.emoji`, convID)
	if err != nil {
		return nil, err
	}
	defer rrows.Close()

	for rrows.Next() {
		var msgID string
		var r models.Reaction
		if err := rrows.Scan(&msgID, &r.Emoji, &r.UserID); err != nil {
			return nil, err
		}
		if m, ok := byID[msgID]; ok {
			m.Reactions = append(m.Reactions, r)
		}
	}
	return out, rrows.Err()
}

func (s *Postgres) SoftDeleteMessage(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET deleted_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, messageID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji)
	if err != nil {
		return false, err
	}

	added := false
	if tag.RowsAffected() == 0 {
		_, err = tx.Exec(ctx,
			`INSERT INTO message_reactions (message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, now())
			 ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
			messageID, userID, emoji)
		if err != nil {
			return false, err
		}
		added = true
	}

	return added, tx.Commit(ctx)
}

func (s *Postgres) CountUnread(ctx context.Context, convID, userID string, after time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE conversation_id = $1 AND sender_id <> $2 AND created_at > $3`,
		convID, userID, after).Scan(&n)
	return n, err
}

func (s *Postgres) LastReadTime(ctx context.Context, convID, userID string) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_read_time FROM message_reads WHERE conversation_id = $1 AND user_id = $2`,
		convID, userID).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return t, nil
}

func (s *Postgres) AdvanceLastRead(ctx context.Context, convID, userID string, t time.Time) error {
	// GREATEST keeps the marker forward-only under concurrent calls.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_reads (conversation_id, user_id, last_read_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO UPDATE
		SET last_read_time = GREATEST(message_reads.last_read_time, EXCLUDED.last_read_time)`,
		convID, userID, t)
	return err
}

func (s *Postgres) SetTyping(ctx context.Context, convID, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO typing_indicators (conversation_id, user_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		convID, userID, at)
	return err
}

func (s *Postgres) ClearTyping(ctx context.Context, convID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM typing_indicators WHERE conversation_id = $1 AND user_id = $2`, convID, userID)
	return err
}

func (s *Postgres) TypingSince(ctx context.Context, convID string, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM typing_indicators WHERE conversation_id = $1 AND updated_at > $2`, convID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
