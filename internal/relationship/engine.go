// Package relationship implements the friend request state machine. Every
// transition writes both sides of the edge, and the direct chat on accept,
// in a single transaction. Callers push realtime events after commit.
package relationship

import (
	"context"
	"errors"
	"fmt"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/metrics"
	"github.com/whisper/dm-server/internal/model"
	"github.com/whisper/dm-server/internal/storage"
)

// Response messages.
const (
	MsgRequestSent     = "Friend request sent"
	MsgRequestAccepted = "Friend request accepted"
	MsgFriendRemoved   = "Friend removed."
	MsgRequestCanceled = "Friend request canceled."
	MsgRequestDeclined = "Friend request declined."
)

// Action names a committed transition.
type Action string

const (
	ActionRequest Action = "request"
	ActionAccept  Action = "accept"
	ActionRemove  Action = "remove"
	ActionCancel  Action = "cancel"
	ActionDecline Action = "decline"
)

// AddResult describes a committed addFriend.
type AddResult struct {
	User    model.PublicUser     // the target
	Action  Action               // ActionRequest or ActionAccept
	Status  model.RelationStatus // sender's new view of the target
	Chat    *model.Chat          // direct chat, set on accept
	Message string
}

// Accepted reports whether the call turned a pending request into a
// friendship.
func (r *AddResult) Accepted() bool { return r.Action == ActionAccept }

// RemoveResult describes a committed removeFriend.
type RemoveResult struct {
	UserID  string
	Action  Action               // ActionRemove, ActionCancel or ActionDecline
	Prior   model.RelationStatus // the target's view of the remover before removal
	ChatID  string               // the direct chat, set when a friendship ended
	Message string
}

// Engine runs relationship transitions against storage.
type Engine struct {
	store *storage.Store
}

// NewEngine returns an Engine backed by store.
func NewEngine(store *storage.Store) *Engine {
	return &Engine{store: store}
}

// planAdd decides the addFriend transition from the target's view of the
// sender.
func planAdd(status model.RelationStatus) (Action, error) {
	switch status {
	case model.RelationNone:
		return ActionRequest, nil
	case model.RelationOutgoing:
		return ActionAccept, nil
	case model.RelationFriend:
		return "", apierror.ErrAlreadyFriends
	case model.RelationIncoming:
		return "", apierror.ErrAlreadySentRequest
	case model.RelationBlocked:
		return "", apierror.ErrBlockedByOther
	case model.RelationBlockedByOther:
		return "", apierror.ErrBlockedUser
	}
	return "", fmt.Errorf("relationship: unknown status %q", status)
}

// planRemove decides the removeFriend transition from the target's view of
// the remover. Blocks are not lifted by removeFriend.
func planRemove(status model.RelationStatus) (Action, string, error) {
	switch status {
	case model.RelationFriend:
		return ActionRemove, MsgFriendRemoved, nil
	case model.RelationIncoming:
		return ActionCancel, MsgRequestCanceled, nil
	case model.RelationOutgoing:
		return ActionDecline, MsgRequestDeclined, nil
	case model.RelationNone:
		return "", "", apierror.ErrUserNotFound
	case model.RelationBlocked:
		return "", "", apierror.ErrBlockedByOther
	case model.RelationBlockedByOther:
		return "", "", apierror.ErrBlockedUser
	}
	return "", "", fmt.Errorf("relationship: unknown status %q", status)
}

// AddFriend sends or accepts a friend request from senderID to target, which
// is a user id when byID is set and a username otherwise.
func (e *Engine) AddFriend(ctx context.Context, senderID, target string, byID bool) (*AddResult, error) {
	if byID && target == senderID {
		return nil, apierror.ErrCantAddSelf
	}

	var (
		user *model.User
		err  error
	)
	if byID {
		user, err = e.store.UserByID(ctx, target)
	} else {
		user, err = e.store.UserByName(ctx, target)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierror.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relationship: resolve target: %w", err)
	}
	if user.ID == senderID {
		return nil, apierror.ErrCantAddSelf
	}

	res := &AddResult{User: model.PublicUser{ID: user.ID, Username: user.Username}}
	err = e.store.WithTx(ctx, func(tx *storage.Tx) error {
		n, err := tx.LockUsers(ctx, senderID, user.ID)
		if err != nil {
			return err
		}
		if n != 2 {
			return apierror.ErrUserNotFound
		}

		status, err := tx.Relation(ctx, user.ID, senderID)
		if err != nil {
			return err
		}
		action, err := planAdd(status)
		if err != nil {
			return err
		}
		res.Action = action

		switch action {
		case ActionRequest:
			res.Status = model.RelationOutgoing
			res.Message = MsgRequestSent
			if err := tx.PutRelation(ctx, user.ID, senderID, model.RelationIncoming); err != nil {
				return err
			}
			return tx.PutRelation(ctx, senderID, user.ID, model.RelationOutgoing)

		default:
			res.Status = model.RelationFriend
			res.Message = MsgRequestAccepted
			if err := tx.PutRelation(ctx, user.ID, senderID, model.RelationFriend); err != nil {
				return err
			}
			if err := tx.PutRelation(ctx, senderID, user.ID, model.RelationFriend); err != nil {
				return err
			}
			res.Chat, err = tx.FindOrCreateDirectChat(ctx, senderID, user.ID)
			return err
		}
	})
	if err != nil {
		return nil, wrap("add friend", err)
	}

	metrics.RelationshipTransitions.WithLabelValues(string(res.Action)).Inc()
	return res, nil
}

// RemoveFriend ends a friendship, cancels an outgoing request or declines an
// incoming one, depending on the current state of the edge.
func (e *Engine) RemoveFriend(ctx context.Context, removerID, targetID string) (*RemoveResult, error) {
	if removerID == targetID {
		return nil, apierror.ErrCantRemoveSelf
	}

	res := &RemoveResult{UserID: targetID}
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.LockUsers(ctx, removerID, targetID); err != nil {
			return err
		}

		status, err := tx.Relation(ctx, targetID, removerID)
		if err != nil {
			return err
		}
		action, msg, err := planRemove(status)
		if err != nil {
			return err
		}
		res.Action, res.Prior, res.Message = action, status, msg

		if err := tx.DeleteRelation(ctx, targetID, removerID); err != nil {
			return err
		}
		if err := tx.DeleteRelation(ctx, removerID, targetID); err != nil {
			return err
		}

		if action == ActionRemove {
			chat, err := tx.DirectChat(ctx, removerID, targetID)
			switch {
			case err == nil:
				res.ChatID = chat.ID
			case !errors.Is(err, storage.ErrNotFound):
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("remove friend", err)
	}

	metrics.RelationshipTransitions.WithLabelValues(string(res.Action)).Inc()
	return res, nil
}

// wrap passes domain failures through and annotates everything else.
func wrap(op string, err error) error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("relationship: %s: %w", op, err)
}
