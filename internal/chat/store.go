package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/koshercapital/kosher/pkg/types"
)

// ErrUsernameTaken is returned when another wallet already holds a name.
var ErrUsernameTaken = errors.New("username already taken")

const chatSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	room       TEXT NOT NULL,
	sender     TEXT NOT NULL,
	username   TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room, seq);

CREATE TABLE IF NOT EXISTS chat_usernames (
	wallet     TEXT PRIMARY KEY,
	username   TEXT NOT NULL,
	name_key   TEXT NOT NULL UNIQUE,
	updated_at TIMESTAMP NOT NULL
);`

// Store persists room messages and usernames.
type Store struct {
	db *sql.DB
}

// NewStore creates the chat tables on db if needed. The handle is shared
// with the state store and is not closed by Store.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, chatSchema); err != nil {
		return nil, fmt.Errorf("unable to initialize chat schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append stores msg at the end of its room.
func (s *Store) Append(ctx context.Context, msg types.ChatMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, room, sender, username, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Room, msg.Sender, msg.Username, msg.Text, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest messages in room, oldest first.
func (s *Store) Recent(ctx context.Context, room Room, limit int) ([]types.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room, sender, username, text, created_at FROM (
			SELECT * FROM chat_messages WHERE room = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`, string(room), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]types.ChatMessage, 0, limit)
	for rows.Next() {
		var m types.ChatMessage
		if err := rows.Scan(&m.ID, &m.Room, &m.Sender, &m.Username, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Username returns the name registered for wallet.
func (s *Store) Username(ctx context.Context, wallet string) (string, bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT username FROM chat_usernames WHERE wallet = ?`, strings.ToLower(wallet)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get username: %w", err)
	}
	return name, true, nil
}

// SetUsername registers or renames wallet's username. Names are unique
// case-insensitively.
func (s *Store) SetUsername(ctx context.Context, wallet, name string) error {
	wallet = strings.ToLower(wallet)
	key := strings.ToLower(name)

	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT wallet FROM chat_usernames WHERE name_key = ?`, key).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("check username: %w", err)
	case owner != wallet:
		return ErrUsernameTaken
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_usernames (wallet, username, name_key, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(wallet) DO UPDATE SET username = excluded.username, name_key = excluded.name_key, updated_at = excluded.updated_at`,
		wallet, name, key, time.Now().UTC())
	if err != nil {
		// A concurrent insert of the same name trips the unique index.
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrUsernameTaken
		}
		return fmt.Errorf("set username: %w", err)
	}
	return nil
}
