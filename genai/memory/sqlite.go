package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store implementation backed by a local SQLite database.
// It keeps the same append-only ordering guarantees as the in-memory store
// while surviving restarts.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chats (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	title         TEXT,
	visibility    TEXT,
	exposed_tools TEXT,
	created_at    TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	parts      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
CREATE TABLE IF NOT EXISTS streams (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_streams_chat ON streams(chat_id, created_at);
`

// OpenSQLite opens (creating if needed) a SQLite-backed store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveChat(ctx context.Context, chat Chat) error {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	exposed, err := marshalExposed(chat.ExposedTools)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats(id, user_id, title, visibility, exposed_tools, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, visibility=excluded.visibility`,
		chat.ID, chat.UserID, chat.Title, chat.Visibility, exposed, chat.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save chat %v: %w", chat.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, visibility, exposed_tools, created_at FROM chats WHERE id = ?`, chatID)
	var chat Chat
	var exposed sql.NullString
	if err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.Visibility, &exposed, &chat.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read chat %v: %w", chatID, err)
	}
	if exposed.Valid && exposed.String != "" {
		var et ExposedTools
		if err := json.Unmarshal([]byte(exposed.String), &et); err != nil {
			return nil, fmt.Errorf("failed to decode exposed tools for chat %v: %w", chatID, err)
		}
		chat.ExposedTools = &et
	}
	return &chat, nil
}

func (s *SQLiteStore) UpdateExposedTools(ctx context.Context, chatID string, exposedTools *ExposedTools) error {
	exposed, err := marshalExposed(exposedTools)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET exposed_tools = ? WHERE id = ?`, exposed, chatID)
	if err != nil {
		return fmt.Errorf("failed to update exposed tools for chat %v: %w", chatID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM messages WHERE chat_id = ?`,
		`DELETE FROM streams WHERE chat_id = ?`,
		`DELETE FROM chats WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, chatID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to delete chat %v: %w", chatID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) AddMessage(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("failed to encode message parts: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages(id, chat_id, role, parts, created_at) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.ConversationID, msg.Role, string(parts), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save message %v: %w", msg.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, parts, created_at FROM messages WHERE chat_id = ? ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages for chat %v: %w", chatID, err)
	}
	defer rows.Close()
	var result []Message
	for rows.Next() {
		var msg Message
		var parts string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &parts, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
			return nil, fmt.Errorf("failed to decode parts of message %v: %w", msg.ID, err)
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) MessageCountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages m JOIN chats c ON m.chat_id = c.id
		 WHERE c.user_id = ? AND m.role = 'user' AND m.created_at > ?`, userID, since)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages for user %v: %w", userID, err)
	}
	return count, nil
}

func (s *SQLiteStore) CreateStreamID(ctx context.Context, chatID, streamID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO streams(id, chat_id, created_at) VALUES(?, ?, ?)`, streamID, chatID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record stream %v: %w", streamID, err)
	}
	return nil
}

func (s *SQLiteStore) StreamIDs(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM streams WHERE chat_id = ? ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to read streams for chat %v: %w", chatID, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func marshalExposed(exposed *ExposedTools) (string, error) {
	if exposed == nil {
		return "", nil
	}
	data, err := json.Marshal(exposed)
	if err != nil {
		return "", fmt.Errorf("failed to encode exposed tools: %w", err)
	}
	return string(data), nil
}
