package presence

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

type chatShard struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
}

// ChatIndex maps chat ids to the ids of their currently connected members.
// Chats with no members are removed.
type ChatIndex struct {
	shards [shardCount]*chatShard
}

// NewChatIndex returns an empty index.
func NewChatIndex() *ChatIndex {
	x := &ChatIndex{}
	for i := range x.shards {
		x.shards[i] = &chatShard{members: make(map[string]map[string]struct{})}
	}
	return x
}

func (x *ChatIndex) shard(chatID string) *chatShard {
	return x.shards[xxhash.Sum64String(chatID)%shardCount]
}

// AddMember records userID as a member of chatID.
func (x *ChatIndex) AddMember(chatID, userID string) {
	s := x.shard(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.members[chatID]
	if !ok {
		set = make(map[string]struct{}, 2)
		s.members[chatID] = set
	}
	set[userID] = struct{}{}
}

// RemoveMember drops userID from chatID, deleting the chat when it empties.
func (x *ChatIndex) RemoveMember(chatID, userID string) {
	s := x.shard(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.members[chatID]
	if !ok {
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(s.members, chatID)
	}
}

// MembersOf returns a copy of chatID's member ids.
func (x *ChatIndex) MembersOf(chatID string) []string {
	s := x.shard(chatID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return keys(s.members[chatID])
}

// HasChat reports whether chatID has any members.
func (x *ChatIndex) HasChat(chatID string) bool {
	s := x.shard(chatID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[chatID]
	return ok
}

// ReplaceUserChats adds userID to chats in newIDs but not oldIDs and removes
// it from chats in oldIDs but not newIDs.
func (x *ChatIndex) ReplaceUserChats(userID string, oldIDs, newIDs []string) {
	keep := make(map[string]struct{}, len(newIDs))
	for _, id := range newIDs {
		keep[id] = struct{}{}
	}
	for _, id := range oldIDs {
		if _, ok := keep[id]; !ok {
			x.RemoveMember(id, userID)
		}
	}

	prev := make(map[string]struct{}, len(oldIDs))
	for _, id := range oldIDs {
		prev[id] = struct{}{}
	}
	for _, id := range newIDs {
		if _, ok := prev[id]; !ok {
			x.AddMember(id, userID)
		}
	}
}

// Len returns the number of chats with at least one member.
func (x *ChatIndex) Len() int {
	n := 0
	for _, s := range x.shards {
		s.mu.RLock()
		n += len(s.members)
		s.mu.RUnlock()
	}
	return n
}
