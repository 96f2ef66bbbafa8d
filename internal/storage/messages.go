package storage

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/whisper/dm-server/internal/model"
)

// MessagesPage returns up to limit messages of chatID, newest first. With
// before set only ids strictly lower are considered; with after set the page
// holds the limit messages immediately following the cursor.
func (s *Store) MessagesPage(ctx context.Context, chatID, before, after string, limit int) ([]model.Message, error) {
	var (
		query string
		args  []any
	)
	switch {
	case before != "":
		query = "SELECT id, chat_id, author_id, content FROM messages WHERE chat_id = ? AND id < ? ORDER BY id DESC LIMIT ?"
		args = []any{chatID, before, limit}
	case after != "":
		query = "SELECT id, chat_id, author_id, content FROM messages WHERE chat_id = ? AND id > ? ORDER BY id ASC LIMIT ?"
		args = []any{chatID, after, limit}
	default:
		query = "SELECT id, chat_id, author_id, content FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?"
		args = []any{chatID, limit}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if after != "" {
		slices.Reverse(msgs)
	}
	return msgs, nil
}

// MessagesByID returns the messages with the given ids, newest first.
func (s *Store) MessagesByID(ctx context.Context, ids []string) ([]model.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := "SELECT id, chat_id, author_id, content FROM messages WHERE id IN (" + placeholders(len(ids)) + ") ORDER BY id DESC"
	rows, err := s.db.QueryContext(ctx, s.rebind(query), stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("storage: get messages: %w", err)
	}
	return scanMessages(rows)
}

// InsertMessage stores m.
func (t *Tx) InsertMessage(ctx context.Context, m *model.Message) error {
	_, err := t.tx.ExecContext(ctx,
		t.s.rebind("INSERT INTO messages (id, chat_id, author_id, content) VALUES (?, ?, ?, ?)"),
		m.ID, m.ChatID, m.AuthorID, m.Content)
	if err != nil {
		return fmt.Errorf("storage: insert message: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	defer rows.Close()
	msgs := []model.Message{}
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.AuthorID, &m.Content); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
