package dm

import (
	"context"
	"fmt"
	"log"

	"github.com/whisper/dm-server/internal/auth"
	"github.com/whisper/dm-server/internal/model"
	"github.com/whisper/dm-server/internal/presence"
	"github.com/whisper/dm-server/internal/protocol"
)

// LoadReady assembles the Ready payload for an authenticated user: related
// users with live presence, chats, and the last message of each chat.
func (s *Service) LoadReady(ctx context.Context, id *auth.Identity) (*protocol.ReadyData, error) {
	relations, err := s.store.Relations(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("dm: ready relations: %w", err)
	}
	chats, err := s.store.ChatsOfUser(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("dm: ready chats: %w", err)
	}

	status := make(map[string]model.RelationStatus, len(relations))
	related := make([]string, 0, len(relations))
	for _, r := range relations {
		status[r.PeerID] = r.Status
		related = append(related, r.PeerID)
	}

	seen := make(map[string]struct{}, len(related))
	for _, peer := range related {
		seen[peer] = struct{}{}
	}
	var lastIDs []string
	for _, c := range chats {
		if c.LastMessageID != nil {
			lastIDs = append(lastIDs, *c.LastMessageID)
		}
		for _, r := range c.Recipients {
			if r.ID == id.UserID {
				continue
			}
			if _, ok := seen[r.ID]; !ok {
				seen[r.ID] = struct{}{}
				related = append(related, r.ID)
			}
		}
	}

	users, err := s.store.UsersByIDs(ctx, related)
	if err != nil {
		return nil, fmt.Errorf("dm: ready users: %w", err)
	}
	relatedUsers := make([]model.RelatedUser, 0, len(users))
	for _, u := range users {
		p := s.hub.Presence(u.ID)
		ru := model.RelatedUser{
			ID:       u.ID,
			Username: u.Username,
			Online:   p.Online,
			LastSeen: unixSeconds(p),
		}
		if st, ok := status[u.ID]; ok {
			ru.Relationship = &st
		}
		relatedUsers = append(relatedUsers, ru)
	}

	lastMessages, err := s.messages.GetMessagesByID(ctx, lastIDs)
	if err != nil {
		return nil, fmt.Errorf("dm: ready last messages: %w", err)
	}
	if chats == nil {
		chats = []model.Chat{}
	}

	return &protocol.ReadyData{
		ID:           id.UserID,
		Username:     id.Username,
		Users:        relatedUsers,
		Chats:        chats,
		LastMessages: lastMessages,
		SessionID:    id.SessionID,
	}, nil
}

// FriendIDs lists the friends named in a Ready payload.
func FriendIDs(ready *protocol.ReadyData) []string {
	var ids []string
	for _, u := range ready.Users {
		if u.Relationship != nil && *u.Relationship == model.RelationFriend {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

// RoutingChatIDs lists the chats that live events are routed through: those
// shared with at least one friend.
func RoutingChatIDs(ready *protocol.ReadyData) []string {
	friends := make(map[string]struct{})
	for _, id := range FriendIDs(ready) {
		friends[id] = struct{}{}
	}
	var ids []string
	for _, c := range ready.Chats {
		for _, r := range c.Recipients {
			if _, ok := friends[r.ID]; ok {
				ids = append(ids, c.ID)
				break
			}
		}
	}
	return ids
}

// Connect registers a new live channel for the user, loads its Ready payload
// and routing, and announces the user to its friends if it was offline.
//
// The channel exists before the payload is read, so events raised while
// loading are queued behind Ready instead of lost, and chats attached or
// detached in that window are merged into the routing snapshot.
func (s *Service) Connect(ctx context.Context, id *auth.Identity) (*protocol.ReadyData, *presence.Channel, error) {
	ch, first := s.hub.Connect(id.UserID)
	routing := s.hub.BeginSync(id.UserID)

	ready, err := s.LoadReady(ctx, id)
	if err != nil {
		routing.Abort()
		s.hub.Disconnect(id.UserID, ch)
		return nil, nil, err
	}
	routing.Finish(RoutingChatIDs(ready))

	if first {
		online := true
		s.hub.ToUsers(FriendIDs(ready), protocol.UserUpdate(protocol.UserPatch{ID: id.UserID, Online: &online}))
		if err := s.events.PublishPresence(id.UserID, PresenceEvent{UserID: id.UserID, Online: true}); err != nil {
			log.Printf("dm: publish presence user=%s: %v", id.UserID, err)
		}
	}
	return ready, ch, nil
}

// UserOffline removes ch. When it was the user's last channel the current
// friend list is re-read and told the user went offline.
func (s *Service) UserOffline(ctx context.Context, userID string, ch *presence.Channel) {
	last, lastSeen := s.hub.Disconnect(userID, ch)
	if !last {
		return
	}

	friends, err := s.store.FriendIDs(ctx, userID)
	if err != nil {
		log.Printf("dm: offline friends user=%s: %v", userID, err)
		return
	}
	online := false
	seen := lastSeen.Unix()
	s.hub.ToUsers(friends, protocol.UserUpdate(protocol.UserPatch{ID: userID, Online: &online, LastSeen: &seen}))

	if err := s.events.PublishPresence(userID, PresenceEvent{UserID: userID, Online: false, LastSeen: &seen}); err != nil {
		log.Printf("dm: publish presence user=%s: %v", userID, err)
	}
}
