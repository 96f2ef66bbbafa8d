package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/whisper/dm-server/internal/idgen"
	"github.com/whisper/dm-server/internal/model"
)

// directKey identifies the unordered pair of a direct chat.
func directKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// ChatsOfUser returns every chat userID is a recipient of, with recipients.
func (s *Store) ChatsOfUser(ctx context.Context, userID string) ([]model.Chat, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT c.id, c.chat_type, c.last_message_id
		FROM chats c JOIN chat_recipients r ON r.chat_id = c.id
		WHERE r.user_id = ? ORDER BY c.id`), userID)
	if err != nil {
		return nil, fmt.Errorf("storage: list chats: %w", err)
	}
	chats, err := scanChats(rows)
	if err != nil {
		return nil, err
	}
	if err := loadRecipients(ctx, s.db, s, chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// Chat returns the chat with the given id.
func (s *Store) Chat(ctx context.Context, chatID string) (*model.Chat, error) {
	return chatByID(ctx, s.db, s, chatID)
}

// Chat returns the chat with the given id inside the transaction.
func (t *Tx) Chat(ctx context.Context, chatID string) (*model.Chat, error) {
	return chatByID(ctx, t.tx, t.s, chatID)
}

// DirectChat returns the direct chat between a and b.
func (t *Tx) DirectChat(ctx context.Context, a, b string) (*model.Chat, error) {
	var id string
	err := t.tx.QueryRowContext(ctx, t.s.rebind("SELECT id FROM chats WHERE direct_key = ?"), directKey(a, b)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find direct chat: %w", err)
	}
	return chatByID(ctx, t.tx, t.s, id)
}

// FindOrCreateDirectChat returns the direct chat between a and b, creating it
// with recipients [a, b] when none exists.
func (t *Tx) FindOrCreateDirectChat(ctx context.Context, a, b string) (*model.Chat, error) {
	chat, err := t.DirectChat(ctx, a, b)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	chat = &model.Chat{
		ID:         idgen.New(),
		Type:       model.ChatDirect,
		Recipients: []model.Recipient{{ID: a}, {ID: b}},
	}
	_, err = t.tx.ExecContext(ctx,
		t.s.rebind("INSERT INTO chats (id, chat_type, direct_key) VALUES (?, ?, ?)"),
		chat.ID, string(chat.Type), directKey(a, b))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("storage: create chat: %w", err)
	}
	for i, r := range chat.Recipients {
		_, err := t.tx.ExecContext(ctx,
			t.s.rebind("INSERT INTO chat_recipients (chat_id, user_id, position) VALUES (?, ?, ?)"),
			chat.ID, r.ID, i)
		if err != nil {
			return nil, fmt.Errorf("storage: add recipient: %w", err)
		}
	}
	return chat, nil
}

// SetLastMessage points the chat at its newest message.
func (t *Tx) SetLastMessage(ctx context.Context, chatID, messageID string) error {
	res, err := t.tx.ExecContext(ctx, t.s.rebind("UPDATE chats SET last_message_id = ? WHERE id = ?"), messageID, chatID)
	if err != nil {
		return fmt.Errorf("storage: set last message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func chatByID(ctx context.Context, q querier, s *Store, chatID string) (*model.Chat, error) {
	var (
		c    model.Chat
		last sql.NullString
	)
	err := q.QueryRowContext(ctx, s.rebind("SELECT id, chat_type, last_message_id FROM chats WHERE id = ?"), chatID).
		Scan(&c.ID, &c.Type, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get chat: %w", err)
	}
	if last.Valid {
		c.LastMessageID = &last.String
	}
	chats := []model.Chat{c}
	if err := loadRecipients(ctx, q, s, chats); err != nil {
		return nil, err
	}
	return &chats[0], nil
}

func scanChats(rows *sql.Rows) ([]model.Chat, error) {
	defer rows.Close()
	var chats []model.Chat
	for rows.Next() {
		var (
			c    model.Chat
			last sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Type, &last); err != nil {
			return nil, fmt.Errorf("storage: scan chat: %w", err)
		}
		if last.Valid {
			id := last.String
			c.LastMessageID = &id
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func loadRecipients(ctx context.Context, q querier, s *Store, chats []model.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	index := make(map[string]int, len(chats))
	ids := make([]string, len(chats))
	for i, c := range chats {
		index[c.ID] = i
		ids[i] = c.ID
		chats[i].Recipients = []model.Recipient{}
	}

	query := "SELECT chat_id, user_id FROM chat_recipients WHERE chat_id IN (" + placeholders(len(ids)) + ") ORDER BY chat_id, position"
	rows, err := q.QueryContext(ctx, s.rebind(query), stringArgs(ids)...)
	if err != nil {
		return fmt.Errorf("storage: list recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var chatID, userID string
		if err := rows.Scan(&chatID, &userID); err != nil {
			return fmt.Errorf("storage: scan recipient: %w", err)
		}
		i := index[chatID]
		chats[i].Recipients = append(chats[i].Recipients, model.Recipient{ID: userID})
	}
	return rows.Err()
}
