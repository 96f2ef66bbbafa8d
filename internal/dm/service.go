// Package dm wires storage, the relationship engine and the presence hub into
// the operations exposed over HTTP and WebSocket. Every mutation commits to
// storage first and only then updates in-memory routing and pushes events.
package dm

import (
	"context"
	"log"

	"github.com/whisper/dm-server/internal/message"
	"github.com/whisper/dm-server/internal/metrics"
	"github.com/whisper/dm-server/internal/model"
	"github.com/whisper/dm-server/internal/presence"
	"github.com/whisper/dm-server/internal/protocol"
	"github.com/whisper/dm-server/internal/ratelimit"
	"github.com/whisper/dm-server/internal/relationship"
	"github.com/whisper/dm-server/internal/storage"
)

// Publisher exports domain events to out-of-process consumers.
// *messaging.NATSClient satisfies it; a nil client drops everything.
type Publisher interface {
	PublishMessage(chatID string, v any) error
	PublishRelationship(userID string, v any) error
	PublishPresence(userID string, v any) error
}

type nopPublisher struct{}

func (nopPublisher) PublishMessage(string, any) error      { return nil }
func (nopPublisher) PublishRelationship(string, any) error { return nil }
func (nopPublisher) PublishPresence(string, any) error     { return nil }

// RelationshipEvent is exported on every committed relationship change, once
// per affected user.
type RelationshipEvent struct {
	UserID string               `json:"userId"`
	PeerID string               `json:"peerId"`
	Status model.RelationStatus `json:"status"`
	Action relationship.Action  `json:"action"`
	ChatID string               `json:"chatId,omitempty"`
}

// PresenceEvent is exported when a user comes online or goes fully offline.
type PresenceEvent struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	LastSeen *int64 `json:"lastSeen,omitempty"`
}

// Service is the application layer shared by the HTTP and WebSocket fronts.
type Service struct {
	store    *storage.Store
	messages *message.Service
	engine   *relationship.Engine
	hub      *presence.Hub
	limiter  *ratelimit.Limiter
	events   Publisher
}

// NewService builds a Service. limiter and events may be nil.
func NewService(store *storage.Store, hub *presence.Hub, limiter *ratelimit.Limiter, events Publisher) *Service {
	if events == nil {
		events = nopPublisher{}
	}
	return &Service{
		store:    store,
		messages: message.NewService(store),
		engine:   relationship.NewEngine(store),
		hub:      hub,
		limiter:  limiter,
		events:   events,
	}
}

// Hub returns the presence hub.
func (s *Service) Hub() *presence.Hub {
	return s.hub
}

// ---------------------------------------------------------------------------
// Relationships
// ---------------------------------------------------------------------------

// AddFriend runs the addFriend transition for sender and notifies both
// parties. On accept the new direct chat joins both users' routing.
func (s *Service) AddFriend(ctx context.Context, sender model.PublicUser, target string, byID bool) (*relationship.AddResult, error) {
	if err := s.limiter.Check(ctx, sender.ID, ratelimit.RuleFriend); err != nil {
		return nil, err
	}
	res, err := s.engine.AddFriend(ctx, sender.ID, target, byID)
	if err != nil {
		return nil, err
	}

	senderStatus := res.Status
	targetStatus := res.Status.Mirror()
	s.hub.ToUser(sender.ID, protocol.UserUpdate(s.userPatch(res.User.ID, res.User.Username, senderStatus)))
	s.hub.ToUser(res.User.ID, protocol.UserUpdate(s.userPatch(sender.ID, sender.Username, targetStatus)))

	var chatID string
	if res.Accepted() && res.Chat != nil {
		chatID = res.Chat.ID
		s.hub.AttachChat(chatID, sender.ID, res.User.ID)
		update := protocol.ChatUpdate(*res.Chat)
		s.hub.ToUser(sender.ID, update)
		s.hub.ToUser(res.User.ID, update)
	}

	s.publishRelationship(RelationshipEvent{UserID: sender.ID, PeerID: res.User.ID, Status: senderStatus, Action: res.Action, ChatID: chatID})
	s.publishRelationship(RelationshipEvent{UserID: res.User.ID, PeerID: sender.ID, Status: targetStatus, Action: res.Action, ChatID: chatID})
	return res, nil
}

// RemoveFriend runs the removeFriend transition and notifies both parties.
// A former friendship's chat leaves both users' routing; its history stays.
func (s *Service) RemoveFriend(ctx context.Context, removerID, targetID string) (*relationship.RemoveResult, error) {
	if err := s.limiter.Check(ctx, removerID, ratelimit.RuleFriend); err != nil {
		return nil, err
	}
	res, err := s.engine.RemoveFriend(ctx, removerID, targetID)
	if err != nil {
		return nil, err
	}

	if res.ChatID != "" {
		s.hub.DetachChat(res.ChatID, removerID, targetID)
	}
	none := model.RelationNone
	s.hub.ToUser(removerID, protocol.UserUpdate(protocol.UserPatch{ID: targetID, Relationship: &none}))
	s.hub.ToUser(targetID, protocol.UserUpdate(protocol.UserPatch{ID: removerID, Relationship: &none}))

	s.publishRelationship(RelationshipEvent{UserID: removerID, PeerID: targetID, Status: none, Action: res.Action, ChatID: res.ChatID})
	s.publishRelationship(RelationshipEvent{UserID: targetID, PeerID: removerID, Status: none, Action: res.Action, ChatID: res.ChatID})
	return res, nil
}

// userPatch describes peer from the viewer's side, including live presence.
func (s *Service) userPatch(peerID, username string, status model.RelationStatus) protocol.UserPatch {
	p := s.hub.Presence(peerID)
	return protocol.UserPatch{
		ID:           peerID,
		Username:     username,
		Relationship: &status,
		Online:       &p.Online,
		LastSeen:     unixSeconds(p),
	}
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// GetMessages returns a page of chat history for userID.
func (s *Service) GetMessages(ctx context.Context, userID, chatID string, page message.Page) ([]model.Message, error) {
	return s.messages.GetMessages(ctx, userID, chatID, page)
}

// SendMessage stores a direct message and fans it out to the chat's online
// members. ackID, when set, is echoed so the author can reconcile its
// optimistic copy.
func (s *Service) SendMessage(ctx context.Context, authorID, chatID, content, ackID string) (*protocol.MessageData, error) {
	if err := message.ValidateAckID(ackID); err != nil {
		return nil, err
	}
	if err := s.limiter.Check(ctx, authorID, ratelimit.RuleMessage); err != nil {
		return nil, err
	}
	msg, _, err := s.messages.SaveDirectMessage(ctx, authorID, chatID, content)
	if err != nil {
		return nil, err
	}

	data := protocol.NewMessageData(*msg, ackID)
	s.hub.ToChat(chatID, protocol.NewMessage(*msg, ackID))
	metrics.MessagesTotal.WithLabelValues("delivered").Inc()

	if err := s.events.PublishMessage(chatID, data); err != nil {
		log.Printf("dm: publish message=%s chat=%s: %v", msg.ID, chatID, err)
	}
	return &data, nil
}

// ---------------------------------------------------------------------------
// Typing
// ---------------------------------------------------------------------------

// Typing relays a typing indicator from userID to the other online members of
// chatID. It reports false, sending nothing, when userID's cached routing
// does not include the chat.
func (s *Service) Typing(userID string, kind protocol.EventKind, chatID string) bool {
	if !s.hub.UserHasChatMembership(userID, chatID) {
		return false
	}
	s.hub.ToChatExcept(chatID, protocol.Typing(kind, chatID, userID), userID)
	return true
}

func (s *Service) publishRelationship(ev RelationshipEvent) {
	if err := s.events.PublishRelationship(ev.UserID, ev); err != nil {
		log.Printf("dm: publish relationship user=%s: %v", ev.UserID, err)
	}
}

func unixSeconds(p presence.Presence) *int64 {
	if p.LastSeen == nil {
		return nil
	}
	sec := p.LastSeen.Unix()
	return &sec
}
