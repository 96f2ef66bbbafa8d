package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/idgen"
	"github.com/whisper/dm-server/internal/metrics"
	"github.com/whisper/dm-server/internal/model"
	"github.com/whisper/dm-server/internal/storage"
)

// Service reads and writes chat history with membership checks.
type Service struct {
	store *storage.Store
}

// NewService returns a Service backed by store.
func NewService(store *storage.Store) *Service {
	return &Service{store: store}
}

// GetMessages returns one page of chatID's history, newest first. Only chat
// recipients may read.
func (s *Service) GetMessages(ctx context.Context, userID, chatID string, page Page) ([]model.Message, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	chat, err := s.store.Chat(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierror.ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("message: load chat: %w", err)
	}
	if !chat.HasRecipient(userID) {
		return nil, apierror.ErrChatReadDenied
	}

	msgs, err := s.store.MessagesPage(ctx, chatID, page.Before, page.After, page.Limit)
	if err != nil {
		return nil, fmt.Errorf("message: page: %w", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// GetMessagesByID returns the messages with the given ids, newest first.
func (s *Service) GetMessagesByID(ctx context.Context, ids []string) ([]model.Message, error) {
	msgs, err := s.store.MessagesByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("message: by id: %w", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// SaveDirectMessage stores content from authorID in the direct chat chatID
// and advances the chat's last message. The author must be one of exactly two
// recipients and be mutual friends with the other.
func (s *Service) SaveDirectMessage(ctx context.Context, authorID, chatID, content string) (*model.Message, *model.Chat, error) {
	content, err := ValidateContent(content)
	if err != nil {
		return nil, nil, err
	}

	var (
		msg  *model.Message
		chat *model.Chat
	)
	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		chat, err = tx.Chat(ctx, chatID)
		if errors.Is(err, storage.ErrNotFound) {
			return apierror.ErrChatNotFound
		}
		if err != nil {
			return err
		}
		if chat.Type != model.ChatDirect || len(chat.Recipients) != 2 || !chat.HasRecipient(authorID) {
			return apierror.ErrChatWriteDenied
		}

		other := chat.Other(authorID)
		mine, err := tx.Relation(ctx, authorID, other)
		if err != nil {
			return err
		}
		theirs, err := tx.Relation(ctx, other, authorID)
		if err != nil {
			return err
		}
		if mine != model.RelationFriend || theirs != model.RelationFriend {
			return apierror.ErrChatWriteDenied
		}

		msg = &model.Message{ID: idgen.New(), ChatID: chatID, AuthorID: authorID, Content: content}
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		if err := tx.SetLastMessage(ctx, chatID, msg.ID); err != nil {
			return err
		}
		chat.LastMessageID = &msg.ID
		return nil
	})
	if err != nil {
		var apiErr *apierror.Error
		if errors.As(err, &apiErr) {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("message: save: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues("saved").Inc()
	return msg, chat, nil
}
